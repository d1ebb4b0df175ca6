package filestore

import (
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Key layout shared by the controller and the CLI.
const (
	ReportPrefix  = "EDA_Report_"
	CleanedPrefix = "cleaned_"
	ChartsDir     = "charts/"
)

// ObjectInfo describes one saved artifact.
type ObjectInfo struct {
	Key          string    `json:"key"` // e.g. "charts/sales.csv/correlation_heatmap.png"
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"` // empty for the local provider
	LastModified time.Time `json:"last_modified"`
	IsDir        bool      `json:"is_dir,omitempty"`
}

// Artifact classifies the object by key: "report", "cleaned", "chart",
// "dir" or "file".
func (o ObjectInfo) Artifact() string {
	switch {
	case o.IsDir:
		return "dir"
	case strings.HasPrefix(o.Key, ChartsDir):
		return "chart"
	}
	switch base := path.Base(o.Key); {
	case strings.HasPrefix(base, ReportPrefix):
		return "report"
	case strings.HasPrefix(base, CleanedPrefix):
		return "cleaned"
	}
	return "file"
}

// Object streams an artifact's content. Callers must Close it.
type Object interface {
	io.ReadCloser
	Info() *ObjectInfo
}

// ListOptions filters ListObjects.
type ListOptions struct {
	Prefix    string
	Recursive bool // false groups keys by "/" into IsDir entries
	Limit     int  // 0 means no limit
}

// DetectContentType sniffs data when the producer did not name a type.
func DetectContentType(data []byte) string {
	return mimetype.Detect(data).String()
}
