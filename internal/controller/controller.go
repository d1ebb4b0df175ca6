// Package controller keeps one authoritative dataset summary in sync with
// the EDA backend and with every presentation surface derived from it.
//
// The Controller is safe for concurrent use. A mutex guards the summary,
// the page and the state; network calls run without holding it.
//
// Usage:
//
//	ctl, err := controller.New(api, store, controller.DefaultConfig())
//	ctl.LoadInitialSummary(ctx)
//	s, err := ctl.UploadAndRefresh(ctx, file)
//	snap := ctl.Snapshot()
package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/koustreak/edasync/internal/backend"
	"github.com/koustreak/edasync/internal/charts"
	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
	"github.com/koustreak/edasync/internal/logger"
	"github.com/koustreak/edasync/internal/summary"
	"github.com/koustreak/edasync/internal/view"
)

// State is the lifecycle phase of the controller.
type State int

const (
	StateEmpty State = iota
	StateUploading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateUploading:
		return "uploading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "empty"
	}
}

// MarshalText lets State appear by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "empty":
		*s = StateEmpty
	case "uploading":
		*s = StateUploading
	case "ready":
		*s = StateReady
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Config tunes client-side checks and chart behaviour.
type Config struct {
	// MaxUploadBytes is the largest file UploadAndRefresh accepts.
	MaxUploadBytes int64

	// AllowedExtensions are matched case-insensitively, without the dot.
	AllowedExtensions []string

	// ChartLimit caps the chart panel; values above charts.MaxSelected
	// are clamped.
	ChartLimit int

	// AutoCharts fetches charts after every successful upload.
	AutoCharts bool

	// Bucket is where downloaded artifacts are saved.
	Bucket string

	// LinkTTL is the lifetime of presigned artifact URLs.
	LinkTTL time.Duration

	Logger *logger.Logger
}

// DefaultConfig: csv/xlsx up to 10 MiB, four charts fetched automatically.
func DefaultConfig() *Config {
	return &Config{
		MaxUploadBytes:    10 << 20,
		AllowedExtensions: []string{"csv", "xlsx"},
		ChartLimit:        charts.MaxSelected,
		AutoCharts:        true,
		Bucket:            "edasync",
		LinkTTL:           24 * time.Hour,
	}
}

// Controller is the summary sync controller.
type Controller struct {
	api   *backend.Client
	store filestore.Store
	cfg   Config
	log   *logger.Logger

	mu         sync.Mutex
	state      State
	current    *summary.DatasetSummary
	page       *view.Page
	generation uint64
	uploading  bool

	chartCalls singleflight.Group

	// seams for tests
	build func(*summary.DatasetSummary) rendered
	now   func() time.Time
	newID func() string
}

// New wires a controller. store may be nil, in which case downloads fail
// with a storage error.
func New(api *backend.Client, store filestore.Store, cfg *Config) (*Controller, error) {
	if api == nil {
		return nil, errs.New(errs.ErrKindConfig, "backend client is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxUploadBytes <= 0 {
		return nil, errs.New(errs.ErrKindConfig, "max upload size must be positive")
	}
	if len(c.AllowedExtensions) == 0 {
		return nil, errs.New(errs.ErrKindConfig, "at least one upload extension is required")
	}
	if c.ChartLimit <= 0 || c.ChartLimit > charts.MaxSelected {
		c.ChartLimit = charts.MaxSelected
	}
	if c.Bucket == "" {
		c.Bucket = "edasync"
	}
	if c.LinkTTL <= 0 {
		c.LinkTTL = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &Controller{
		api:   api,
		store: store,
		cfg:   c,
		log:   c.Logger.Component("controller"),
		state: StateEmpty,
		page:  view.NewPage(),
		build: buildViews,
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

// Current returns the authoritative summary, or nil.
func (c *Controller) Current() *summary.DatasetSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns the lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot is a read-only copy of the controller for adapters.
type Snapshot struct {
	State    State             `json:"state"`
	Filename string            `json:"filename,omitempty"`
	Page     view.PageSnapshot `json:"page"`
}

// Snapshot copies the state and every surface.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:    c.state,
		Filename: c.current.Filename(),
		Page:     c.page.Snapshot(),
	}
}

// SetTableFilter changes the column table filter. It survives re-renders.
func (c *Controller) SetTableFilter(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page.Table.SetFilter(query)
}

type rendered struct {
	cards   []view.Card
	rows    []view.ColumnRow
	preview view.Preview
}

func buildViews(s *summary.DatasetSummary) rendered {
	return rendered{
		cards:   view.BuildCards(s),
		rows:    view.BuildColumnRows(s),
		preview: view.BuildPreview(s),
	}
}

// RenderSummary replaces the cards, table and preview with views of s. A
// nil s shows placeholders. When deriving the views fails the previous
// content stays and an ErrKindRender error is returned; nothing panics out.
func (c *Controller) RenderSummary(s *summary.DatasetSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked(s)
}

func (c *Controller) renderLocked(s *summary.DatasetSummary) error {
	if s != nil {
		if verr := s.Validate(); verr != nil {
			c.log.WarnWith("summary violates structural invariants", verr, map[string]interface{}{
				"filename": s.Filename(),
			})
		}
	}

	r, err := c.safeBuild(s)
	if err != nil {
		c.log.ErrorWith("render failed, keeping previous view", err, map[string]interface{}{
			"filename": s.Filename(),
		})
		return err
	}

	c.page.Cards = r.cards
	c.page.Table.Replace(r.rows)
	c.page.Preview = r.preview
	return nil
}

func (c *Controller) safeBuild(s *summary.DatasetSummary) (r rendered, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.Wrap(errs.ErrKindRender, "Could not display the dataset summary.", fmt.Errorf("panic: %v", p))
		}
	}()
	return c.build(s), nil
}

func (c *Controller) setStatusLocked(level view.Level, msg string) {
	c.page.Status = view.Status{Level: level, Message: msg}
}

func (c *Controller) setStatus(level view.Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(level, msg)
}

// fail records err in the status region and returns it.
func (c *Controller) fail(err error) error {
	c.setStatus(view.LevelError, errs.UserMessage(err))
	return err
}
