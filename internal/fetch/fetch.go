// Package fetch downloads chunk payloads from the locations named by chunk links.
package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/internal/config"
	"github.com/databricks/databricks-sql-stream/logger"
	"github.com/pkg/errors"
)

// Downloader reads the complete payload behind a link.
//
// Errors wrapped with Transient may succeed when retried. Errors matching
// errors.ErrLinkExpired mean the link must be re-resolved before retrying.
// Any other error is permanent.
type Downloader interface {
	Download(ctx context.Context, link backend.ChunkLink) ([]byte, error)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether any error in err's chain was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Router dispatches downloads by URL scheme: http and https links go to an
// HTTP downloader, every other scheme to object storage.
type Router struct {
	http *HTTPDownloader
	blob *BlobDownloader

	closeOnce sync.Once
}

var _ Downloader = (*Router)(nil)

func NewRouter(cfg *config.Config, log *logger.DBSQLLogger) *Router {
	return &Router{
		http: NewHTTPDownloader(cfg, log),
		blob: NewBlobDownloader(log),
	}
}

func (r *Router) Download(ctx context.Context, link backend.ChunkLink) ([]byte, error) {
	u, err := url.Parse(link.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid link for chunk %d", link.ChunkIndex)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return r.http.Download(ctx, link)
	case "":
		return nil, errors.Errorf("link for chunk %d has no scheme", link.ChunkIndex)
	default:
		return r.blob.Download(ctx, link)
	}
}

// Close releases open storage buckets.
func (r *Router) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.blob.Close()
	})
	return err
}
