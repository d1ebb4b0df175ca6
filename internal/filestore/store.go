// Package filestore is where edasync keeps what the backend hands back:
// HTML reports, cleaned datasets and chart images.
//
// Providers live in sub-packages (local, minio) and implement Store. The
// controller and CLI only see this interface.
//
// Usage:
//
//	store, err := local.New(filestore.DefaultConfig("./downloads"))
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.PutObject(ctx, "edasync", "EDA_Report.html", r, size, "text/html")
package filestore

import (
	"context"
	"io"
	"time"
)

// Store saves and lists artifacts in buckets.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// PutObject replaces key with size bytes read from r. size may be -1.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*ObjectInfo, error)

	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// GetObject fails with ErrKindNotFound before returning a handle when
	// key does not exist.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// URL is where the user can open the artifact: a presigned link valid
	// for ttl, or a file:// URL for the local provider.
	URL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
