package fetch

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/logger"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// storage drivers for links that are not pre-signed HTTP URLs
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobDownloader reads chunks addressed by object storage URLs such as
// s3://bucket/key, gs://bucket/key or file:///dir/key. Buckets are opened
// once and kept until Close.
type BlobDownloader struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
	log     *logger.DBSQLLogger
}

var _ Downloader = (*BlobDownloader)(nil)

func NewBlobDownloader(log *logger.DBSQLLogger) *BlobDownloader {
	if log == nil {
		log = logger.Logger
	}
	return &BlobDownloader{buckets: make(map[string]*blob.Bucket), log: log}
}

func (d *BlobDownloader) Download(ctx context.Context, link backend.ChunkLink) ([]byte, error) {
	bucketURL, key, err := splitBlobURL(link.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid link for chunk %d", link.ChunkIndex)
	}

	bucket, err := d.bucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}

	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = errors.Wrapf(err, "reading %s", key)
		switch gcerrors.Code(err) {
		case gcerrors.NotFound, gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.Unimplemented:
			return nil, err
		default:
			return nil, Transient(err)
		}
	}

	return data, nil
}

func (d *BlobDownloader) bucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.buckets[bucketURL]; ok {
		return b, nil
	}

	d.log.Debug().Msgf("databricks: opening bucket %s", bucketURL)
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bucket %s", bucketURL)
	}
	d.buckets[bucketURL] = b
	return b, nil
}

// Close closes every bucket opened so far.
func (d *BlobDownloader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for k, b := range d.buckets {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.buckets, k)
	}
	return firstErr
}

// splitBlobURL separates an object URL into the URL of its bucket and the object key.
func splitBlobURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	if u.Scheme == "file" {
		dir, key := path.Split(u.Path)
		if key == "" {
			return "", "", errors.Errorf("no object key in %q", raw)
		}
		return "file://" + strings.TrimSuffix(dir, "/"), key, nil
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.Errorf("expected <scheme>://<bucket>/<key>, got %q", raw)
	}

	bucketURL := u.Scheme + "://" + u.Host
	if u.RawQuery != "" {
		bucketURL += "?" + u.RawQuery
	}
	return bucketURL, key, nil
}
