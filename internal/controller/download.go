package controller

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
	"github.com/koustreak/edasync/internal/summary"
	"github.com/koustreak/edasync/internal/transport"
	"github.com/koustreak/edasync/internal/view"
)

// Artifact is a downloaded file saved to the artifact store.
type Artifact struct {
	Bucket string                `json:"bucket"`
	Object *filestore.ObjectInfo `json:"object"`
	URL    string                `json:"url,omitempty"`
}

// DownloadReport asks the backend for an HTML report of s (the current
// summary when nil) and saves it.
func (c *Controller) DownloadReport(ctx context.Context, s *summary.DatasetSummary, filename string) (*Artifact, error) {
	if s == nil {
		s = c.Current()
	}
	if s == nil {
		return nil, c.fail(errs.New(errs.ErrKindValidation, "Upload a file before generating a report."))
	}
	if filename == "" {
		filename = s.Filename()
	}

	id := c.newID()
	c.setStatus(view.LevelInfo, "Generating report...")
	blob, err := c.api.Report(ctx, id, s, filename)
	if err != nil {
		c.log.ErrorWith("report download failed", err, map[string]interface{}{"request_id": id})
		return nil, c.fail(err)
	}

	fallback := filestore.ReportPrefix + c.now().Format("20060102_150405") + ".html"
	return c.saveArtifact(ctx, id, blob, fallback)
}

// DownloadCleaned fetches the backend's cleaned copy of filename (the
// current file when empty) and saves it.
func (c *Controller) DownloadCleaned(ctx context.Context, filename string) (*Artifact, error) {
	if filename == "" {
		filename = c.Current().Filename()
	}
	if filename == "" {
		return nil, c.fail(errs.New(errs.ErrKindValidation, "Upload a file before downloading cleaned data."))
	}

	id := c.newID()
	c.setStatus(view.LevelInfo, "Downloading cleaned "+filename+"...")
	blob, err := c.api.Cleaned(ctx, id, filename)
	if err != nil {
		c.log.ErrorWith("cleaned download failed", err, map[string]interface{}{"request_id": id})
		return nil, c.fail(err)
	}
	return c.saveArtifact(ctx, id, blob, filestore.CleanedPrefix+safeName(filename, "data.csv"))
}

func (c *Controller) saveArtifact(ctx context.Context, id string, blob transport.Blob, fallback string) (*Artifact, error) {
	if c.store == nil {
		return nil, c.fail(errs.New(errs.ErrKindStorage, "No artifact store is configured."))
	}

	key := safeName(blob.Filename, fallback)
	contentType := blob.ContentType
	if contentType == "" {
		contentType = filestore.DetectContentType(blob.Data)
	}

	info, err := c.store.PutObject(ctx, c.cfg.Bucket, key, bytes.NewReader(blob.Data), int64(len(blob.Data)), contentType)
	if err != nil {
		c.log.ErrorWith("saving artifact failed", err, map[string]interface{}{"request_id": id, "key": key})
		return nil, c.fail(err)
	}

	art := &Artifact{Bucket: c.cfg.Bucket, Object: info}
	if url, err := c.store.URL(ctx, c.cfg.Bucket, key, c.cfg.LinkTTL); err == nil {
		art.URL = url
	} else {
		c.log.WarnWith("could not build artifact link", err, map[string]interface{}{"key": key})
	}

	c.setStatus(view.LevelSuccess, "Saved "+key+".")
	c.log.InfoWith("artifact saved", map[string]interface{}{
		"request_id": id,
		"key":        key,
		"size":       info.Size,
	})
	return art, nil
}

// safeName keeps only the last path element of a server-supplied name.
func safeName(name, fallback string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return fallback
	}
	return name
}
