package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/koustreak/edasync/internal/backend"
	"github.com/koustreak/edasync/internal/config"
	"github.com/koustreak/edasync/internal/controller"
	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
	"github.com/koustreak/edasync/internal/filestore/local"
	"github.com/koustreak/edasync/internal/filestore/minio"
	"github.com/koustreak/edasync/internal/logger"
	"github.com/koustreak/edasync/internal/transport"
	"github.com/koustreak/edasync/internal/view"
)

// app is everything a command needs, built once per invocation.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	store filestore.Store
	ctl   *controller.Controller
}

// newApp loads the config, applies flag overrides and then opts, and wires
// the controller.
func newApp(cmd *cobra.Command, opts ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(cfg.Logger())

	store, err := openStore(cmd.Context(), cfg.Filestore())
	if err != nil {
		return nil, err
	}

	tc, err := transport.New(&transport.Config{
		BaseURL:      cfg.Backend.BaseURL,
		Timeout:      cfg.Backend.Timeout,
		Connectivity: transport.InterfaceProbe,
		Logger:       log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	r := cfg.Backend.Retries
	api := backend.New(tc, backend.Retries{
		Summary: r.Summary,
		Upload:  r.Upload,
		Charts:  r.Charts,
		Report:  r.Report,
		Cleaned: r.Cleaned,
	})

	maxBytes, err := cfg.MaxUploadBytes()
	if err != nil {
		store.Close()
		return nil, err
	}

	ctlCfg := controller.DefaultConfig()
	ctlCfg.MaxUploadBytes = maxBytes
	ctlCfg.AllowedExtensions = cfg.Upload.AllowedExtensions
	ctlCfg.ChartLimit = cfg.Charts.Limit
	ctlCfg.AutoCharts = cfg.Charts.Auto
	ctlCfg.Bucket = cfg.Artifacts.Bucket
	ctlCfg.Logger = log

	ctl, err := controller.New(api, store, ctlCfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: log, store: store, ctl: ctl}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WarnWith("closing artifact store", err, nil)
	}
}

// openStore picks the artifact provider named in cfg.
func openStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	switch cfg.Provider {
	case filestore.ProviderLocal:
		d, err := local.New(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case filestore.ProviderMinIO:
		d, err := minio.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, errs.New(errs.ErrKindConfig, "unknown artifact provider "+string(cfg.Provider))
	}
}

// printSnapshot writes the controller state as text or JSON.
func (a *app) printSnapshot(opts view.TextOptions) error {
	snap := a.ctl.Snapshot()
	if jsonOutput {
		return printJSON(snap)
	}
	return view.WriteText(os.Stdout, snap.Page, opts)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
