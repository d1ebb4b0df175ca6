package controller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/summary"
	"github.com/koustreak/edasync/internal/view"
)

// FileHandle is a file the user picked for upload.
type FileHandle interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// LocalFile is a FileHandle backed by a path on disk.
type LocalFile struct {
	path string
	size int64
}

// OpenLocal stats path and returns a handle to it.
func OpenLocal(path string) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation, "Cannot read "+filepath.Base(path)+".", err)
	}
	if info.IsDir() {
		return nil, errs.New(errs.ErrKindValidation, filepath.Base(path)+" is a directory.")
	}
	return &LocalFile{path: path, size: info.Size()}, nil
}

func (f *LocalFile) Name() string { return filepath.Base(f.path) }
func (f *LocalFile) Size() int64  { return f.size }

func (f *LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// MemoryFile is a FileHandle over bytes already in memory, such as a
// multipart part received by the HTTP adapter.
type MemoryFile struct {
	name string
	data []byte
}

func NewMemoryFile(name string, data []byte) *MemoryFile {
	return &MemoryFile{name: name, data: data}
}

func (f *MemoryFile) Name() string { return f.name }
func (f *MemoryFile) Size() int64  { return int64(len(f.data)) }

func (f *MemoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// ValidateFile applies the extension and size checks. It never touches
// the network.
func (c *Controller) ValidateFile(f FileHandle) error {
	if f == nil {
		return errs.New(errs.ErrKindValidation, "No file selected.")
	}
	name := f.Name()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")

	allowed := false
	for _, a := range c.cfg.AllowedExtensions {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			allowed = true
			break
		}
	}
	if !allowed || ext == "" {
		return errs.New(errs.ErrKindValidation, fmt.Sprintf(
			"Unsupported file type for %s. Allowed: %s.", name, c.extensionList()))
	}

	if f.Size() > c.cfg.MaxUploadBytes {
		return errs.New(errs.ErrKindValidation, fmt.Sprintf(
			"%s is %s; the limit is %s.", name,
			humanize.IBytes(uint64(f.Size())), humanize.IBytes(uint64(c.cfg.MaxUploadBytes))))
	}
	return nil
}

func (c *Controller) extensionList() string {
	exts := make([]string, len(c.cfg.AllowedExtensions))
	for i, e := range c.cfg.AllowedExtensions {
		exts[i] = "." + strings.TrimPrefix(strings.ToLower(e), ".")
	}
	return strings.Join(exts, ", ")
}

// UploadAndRefresh validates f, uploads it and makes the returned summary
// authoritative. On failure the previous summary and views are kept, the
// status region shows the error and the error is returned.
func (c *Controller) UploadAndRefresh(ctx context.Context, f FileHandle) (*summary.DatasetSummary, error) {
	if err := c.ValidateFile(f); err != nil {
		c.log.WarnWith("upload rejected", err, nil)
		return nil, c.fail(err)
	}

	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		err := errs.New(errs.ErrKindBusy, "An upload is already in progress.")
		c.log.Warn("upload rejected while another is in flight")
		return nil, err
	}
	c.uploading = true
	c.state = StateUploading
	c.setStatusLocked(view.LevelInfo, "Uploading "+f.Name()+"...")
	c.mu.Unlock()

	id := c.newID()
	log := c.log.ForRequest(id).With().Str("file", f.Name()).Logger()

	s, err := c.upload(ctx, id, f)
	if err != nil {
		c.mu.Lock()
		c.uploading = false
		c.state = StateError
		c.setStatusLocked(view.LevelError, errs.UserMessage(err))
		c.mu.Unlock()
		log.ErrorWith("upload failed", err, map[string]interface{}{"kind": errs.KindOf(err).String()})
		return nil, err
	}

	c.mu.Lock()
	c.current = s
	c.generation++
	_ = c.renderLocked(s)
	c.page.Charts.Clear()
	c.uploading = false
	c.state = StateReady
	c.setStatusLocked(view.LevelSuccess, fmt.Sprintf("Uploaded %s: %s rows, %s columns.",
		f.Name(), humanize.Comma(s.RowCount()), humanize.Comma(s.ColumnCount())))
	c.mu.Unlock()

	log.InfoWith("upload complete", map[string]interface{}{
		"rows":    s.RowCount(),
		"columns": s.ColumnCount(),
	})

	if c.cfg.AutoCharts {
		filename := s.Filename()
		if filename == "" {
			filename = f.Name()
		}
		if _, err := c.fetchCharts(ctx, filename, false); err != nil {
			c.setStatus(view.LevelWarning, "Upload succeeded but charts are unavailable: "+errs.UserMessage(err))
		}
	}
	return s, nil
}

func (c *Controller) upload(ctx context.Context, id string, f FileHandle) (*summary.DatasetSummary, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation, "Cannot read "+f.Name()+".", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, c.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation, "Cannot read "+f.Name()+".", err)
	}
	if int64(len(data)) > c.cfg.MaxUploadBytes {
		return nil, errs.New(errs.ErrKindValidation, fmt.Sprintf(
			"%s is larger than %s.", f.Name(), humanize.IBytes(uint64(c.cfg.MaxUploadBytes))))
	}

	return c.api.Upload(ctx, id, f.Name(), data)
}

// LoadInitialSummary fetches the summary the backend already holds. It
// returns nil when there is none or the request fails; failures are only
// logged. A result that arrives after an upload replaced the summary is
// discarded.
func (c *Controller) LoadInitialSummary(ctx context.Context) *summary.DatasetSummary {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	id := c.newID()
	log := c.log.ForRequest(id)

	s, err := c.api.Summary(ctx, id)
	if err != nil {
		if errs.IsNotFound(err) {
			log.Info("backend has no summary yet")
		} else {
			log.WarnWith("initial summary load failed", err, nil)
		}
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		log.Debug("discarding stale initial summary")
		return nil
	}
	c.current = s
	c.generation++
	// A render failure keeps the previous view but the summary is still
	// accepted, as after an upload.
	_ = c.renderLocked(s)
	if c.state != StateUploading {
		c.state = StateReady
	}
	log.InfoWith("initial summary loaded", map[string]interface{}{
		"filename": s.Filename(),
		"rows":     s.RowCount(),
	})
	return s
}
