// Package local provides a directory-backed implementation of
// filestore.Store. Buckets are sub-directories of the configured root.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
)

// Driver saves artifacts as plain files under a root directory.
type Driver struct {
	root string
}

// New creates the root directory and the default bucket if needed.
func New(cfg *filestore.Config) (*Driver, error) {
	if cfg.Dir == "" {
		return nil, errs.New(errs.ErrKindConfig, "local store needs a directory")
	}
	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, mapError(err, "failed to resolve store directory")
	}

	d := &Driver{root: root}
	dir := root
	if cfg.DefaultBucket != "" {
		dir = filepath.Join(root, cfg.DefaultBucket)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mapError(err, "failed to create store directory")
	}
	return d, nil
}

// Ping checks that the root directory is still there.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := os.Stat(d.root); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (d *Driver) Close() error {
	return nil
}

// PutObject writes to a temporary file and renames it into place so that
// readers never see a partial artifact.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*filestore.ObjectInfo, error) {
	dst, err := d.path(bucket, key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, mapError(err, "failed to create object directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return nil, mapError(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, mapError(err, "failed to write object")
	}
	if size >= 0 && n != size {
		return nil, errs.New(errs.ErrKindStorage, "short write: object size does not match")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, mapError(err, "failed to move object into place")
	}

	info, err := d.StatObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		info.ContentType = contentType
	}
	return info, nil
}

// ListObjects returns objects under bucket sorted by key.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	base, err := d.path(bucket, "")
	if err != nil {
		return nil, err
	}

	var results []filestore.ObjectInfo
	walkErr := filepath.WalkDir(base, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == base || strings.HasPrefix(entry.Name(), ".put-") {
			return nil
		}

		rel, _ := filepath.Rel(base, p)
		key := filepath.ToSlash(rel)
		if entry.IsDir() {
			key += "/"
		}
		if !strings.HasPrefix(key, opts.Prefix) && !strings.HasPrefix(opts.Prefix, key) {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if opts.Recursive {
				return nil
			}
			if strings.HasPrefix(key, opts.Prefix) {
				results = append(results, filestore.ObjectInfo{Key: key, Size: -1, IsDir: true})
				return fs.SkipDir
			}
			return nil
		}

		if !strings.HasPrefix(key, opts.Prefix) {
			return nil
		}
		fi, err := entry.Info()
		if err != nil {
			return err
		}
		results = append(results, filestore.ObjectInfo{
			Key:          key,
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, mapError(walkErr, "failed to list objects")
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// GetObject opens the file at key inside bucket.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	info, err := d.StatObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	p, _ := d.path(bucket, key)
	f, err := os.Open(p)
	if err != nil {
		return nil, mapError(err, "failed to open object")
	}
	return &object{ReadCloser: f, info: info}, nil
}

// StatObject returns size, modification time and sniffed content type.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	p, err := d.path(bucket, key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	if fi.IsDir() {
		return nil, errs.New(errs.ErrKindNotFound, "object is a directory")
	}

	contentType := ""
	if mt, err := mimetype.DetectFile(p); err == nil {
		contentType = mt.String()
	}
	return &filestore.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  contentType,
		LastModified: fi.ModTime(),
	}, nil
}

// URL returns a file:// URL; ttl is ignored.
func (d *Driver) URL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	p, err := d.path(bucket, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", mapError(err, "failed to stat object")
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return u.String(), nil
}

// path resolves bucket/key under root and rejects anything that escapes it.
func (d *Driver) path(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", errs.New(errs.ErrKindValidation, "invalid bucket name")
	}
	clean := path.Clean("/" + filepath.ToSlash(key))
	if key != "" && clean == "/" {
		return "", errs.New(errs.ErrKindValidation, "invalid object key")
	}
	return filepath.Join(d.root, bucket, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func mapError(err error, msg string) *errs.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, fs.ErrNotExist):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case errors.Is(err, fs.ErrPermission):
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	default:
		return errs.Wrap(errs.ErrKindStorage, msg, err)
	}
}

type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
