package main

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/koustreak/edasync/internal/charts"
	"github.com/koustreak/edasync/internal/config"
	"github.com/koustreak/edasync/internal/controller"
	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
	"github.com/koustreak/edasync/internal/server"
	"github.com/koustreak/edasync/internal/view"
)

func newSummaryCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the summary the backend currently holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.ctl.LoadInitialSummary(cmd.Context()) == nil {
				return errs.New(errs.ErrKindNotFound, "The backend has no dataset summary yet. Upload a file first.")
			}
			a.ctl.SetTableFilter(filter)
			return a.printSnapshot(view.TextOptions{Table: true, Preview: true})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only show columns whose name or type contains this text")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var (
		filter   string
		noCharts bool
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a CSV or Excel file and print the new summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := controller.OpenLocal(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd, func(c *config.Config) {
				if noCharts {
					c.Charts.Auto = false
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			a.ctl.SetTableFilter(filter)
			if _, err := a.ctl.UploadAndRefresh(cmd.Context(), f); err != nil {
				return err
			}
			return a.printSnapshot(view.AllSections)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only show columns whose name or type contains this text")
	cmd.Flags().BoolVar(&noCharts, "no-charts", false, "do not fetch charts after the upload")
	return cmd
}

func newChartsCmd() *cobra.Command {
	var (
		refresh bool
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "charts [filename]",
		Short: "Fetch and list the selected charts for a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			filename := ""
			if len(args) == 1 {
				filename = args[0]
			} else if s := a.ctl.LoadInitialSummary(cmd.Context()); s != nil {
				filename = s.Filename()
			}

			fetch := a.ctl.FetchCharts
			if refresh {
				fetch = a.ctl.RefreshCharts
			}
			selected, err := fetch(cmd.Context(), filename)
			if err != nil {
				return err
			}

			if save {
				if err := saveCharts(cmd, a, filename, selected); err != nil {
					return err
				}
			}
			if jsonOutput {
				return printJSON(a.ctl.Snapshot().Page.Charts)
			}
			return view.WriteText(os.Stdout, a.ctl.Snapshot().Page, view.TextOptions{Charts: true})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "always re-request charts from the backend")
	cmd.Flags().BoolVar(&save, "save", false, "save the chart images to the artifact store")
	return cmd
}

// saveCharts stores each PNG under charts/<file>/<chart>.png.
func saveCharts(cmd *cobra.Command, a *app, filename string, selected []charts.Chart) error {
	bucket := a.cfg.Artifacts.Bucket
	prefix := filestore.ChartsDir + path.Base(filename) + "/"
	for _, ch := range selected {
		key := prefix + strings.ReplaceAll(ch.ID(), "/", "_") + ".png"
		info, err := a.store.PutObject(cmd.Context(), bucket, key, bytes.NewReader(ch.PNG),
			int64(len(ch.PNG)), filestore.DetectContentType(ch.PNG))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%s)\n", info.Key, humanize.Bytes(uint64(info.Size)))
	}
	return nil
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [filename]",
		Short: "Generate the HTML report for the current summary and save it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.ctl.LoadInitialSummary(cmd.Context()) == nil {
				return errs.New(errs.ErrKindNotFound, "The backend has no dataset summary yet. Upload a file first.")
			}
			filename := ""
			if len(args) == 1 {
				filename = args[0]
			}
			art, err := a.ctl.DownloadReport(cmd.Context(), nil, filename)
			if err != nil {
				return err
			}
			return printArtifact(art)
		},
	}
	return cmd
}

func newCleanedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleaned <filename>",
		Short: "Download the backend's cleaned copy of an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			art, err := a.ctl.DownloadCleaned(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printArtifact(art)
		},
	}
	return cmd
}

func printArtifact(art *controller.Artifact) error {
	if jsonOutput {
		return printJSON(art)
	}
	color.New(color.FgGreen).Printf("Saved %s/%s", art.Bucket, art.Object.Key)
	fmt.Printf(" (%s)\n", humanize.Bytes(uint64(art.Object.Size)))
	if art.URL != "" {
		fmt.Println(art.URL)
	}
	return nil
}

func newArtifactsCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List saved reports, cleaned files and charts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			objs, err := a.store.ListObjects(cmd.Context(), a.cfg.Artifacts.Bucket, filestore.ListOptions{
				Prefix:    prefix,
				Recursive: true,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(objs)
			}
			if len(objs) == 0 {
				fmt.Println("No artifacts saved yet.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tKIND\tSIZE\tCONTENT TYPE\tSAVED")
			for _, o := range objs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.Key, o.Artifact(),
					humanize.Bytes(uint64(o.Size)), o.ContentType, humanize.Time(o.LastModified))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list keys starting with this prefix")
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the controller over a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			maxBytes, err := a.cfg.MaxUploadBytes()
			if err != nil {
				return err
			}

			a.ctl.LoadInitialSummary(cmd.Context())

			srv := server.New(a.ctl, &server.Config{
				Addr:           addr,
				MaxUploadBytes: maxBytes,
				Logger:         a.log,
			})
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
