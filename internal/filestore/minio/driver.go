// Package minio saves edasync artifacts (reports, cleaned files, chart
// images) to a MinIO or S3-compatible bucket.
//
// Usage:
//
//	cfg := filestore.MinIOConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
package minio

import (
	"context"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
)

// metaSource tags every object this client writes.
const metaSource = "edasync"

// Driver is safe for concurrent use.
type Driver struct {
	client *miniogo.Client
	bucket string // default bucket, probed by Ping
	region string
}

// New connects and creates cfg.DefaultBucket when it is missing.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, errs.New(errs.ErrKindConfig, "minio endpoint is required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfig, "invalid minio endpoint "+cfg.Endpoint, err)
	}

	d := &Driver{client: client, bucket: cfg.DefaultBucket, region: cfg.Region}
	if d.bucket != "" {
		if err := d.ensureBucket(ctx, d.bucket); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Ping checks the default bucket. Without one it falls back to listing
// buckets, which needs broader credentials.
func (d *Driver) Ping(ctx context.Context) error {
	if d.bucket == "" {
		if _, err := d.client.ListBuckets(ctx); err != nil {
			return mapError(err, "artifact store unreachable")
		}
		return nil
	}
	ok, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return mapError(err, "artifact store unreachable")
	}
	if !ok {
		return errs.New(errs.ErrKindNotFound, "artifact bucket "+d.bucket+" does not exist")
	}
	return nil
}

// Close is a no-op; the SDK keeps no connections that need releasing.
func (d *Driver) Close() error {
	return nil
}

// PutObject stores an artifact with a Content-Disposition so browsers
// download it under its own name.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*filestore.ObjectInfo, error) {
	up, err := d.client.PutObject(ctx, bucket, key, r, size, miniogo.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: attachment(key),
		UserMetadata:       map[string]string{"source": metaSource},
	})
	if err != nil {
		return nil, mapError(err, "could not save "+key)
	}

	return &filestore.ObjectInfo{
		Key:          up.Key,
		Size:         up.Size,
		ContentType:  contentType,
		ETag:         up.ETag,
		LastModified: up.LastModified,
	}, nil
}

// ListObjects lists saved artifacts; directory markers are reported with
// IsDir set.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []filestore.ObjectInfo
	for obj := range d.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Recursive,
	}) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "could not list artifacts")
		}
		out = append(out, toInfo(obj))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// GetObject stats before streaming so a missing key fails here rather than
// on the first Read.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	info, err := d.StatObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "could not open "+key)
	}
	return &object{ReadCloser: obj, info: info}, nil
}

func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "could not stat "+key)
	}
	info := toInfo(stat)
	return &info, nil
}

// URL presigns a GET that downloads the artifact as an attachment.
func (d *Driver) URL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", attachment(key))
	u, err := d.client.PresignedGetObject(ctx, bucket, key, ttl, params)
	if err != nil {
		return "", mapError(err, "could not create a download link for "+key)
	}
	return u.String(), nil
}

func (d *Driver) ensureBucket(ctx context.Context, bucket string) error {
	ok, err := d.client.BucketExists(ctx, bucket)
	if err != nil {
		return mapError(err, "artifact store unreachable")
	}
	if ok {
		return nil
	}
	err = d.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: d.region})
	if err != nil && miniogo.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return mapError(err, "could not create artifact bucket "+bucket)
	}
	return nil
}

func toInfo(o miniogo.ObjectInfo) filestore.ObjectInfo {
	return filestore.ObjectInfo{
		Key:          o.Key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		LastModified: o.LastModified,
		IsDir:        strings.HasSuffix(o.Key, "/"),
	}
}

// attachment builds a Content-Disposition naming the last key element.
func attachment(key string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)})
}

type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
