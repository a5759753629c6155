package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/databricks/databricks-sql-stream/backend"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	"github.com/databricks/databricks-sql-stream/internal/config"
	"github.com/databricks/databricks-sql-stream/logger"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

var errCloudFetchDownloadFailure = "cloud fetch download failed"

// HTTPDownloader fetches pre-signed URLs. It makes exactly one request per
// call; retrying is left to the caller, which may need to refresh the link
// between attempts.
type HTTPDownloader struct {
	client *retryablehttp.Client
	log    *logger.DBSQLLogger
}

var _ Downloader = (*HTTPDownloader)(nil)

func NewHTTPDownloader(cfg *config.Config, log *logger.DBSQLLogger) *HTTPDownloader {
	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if log == nil {
		log = logger.Logger
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = noRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = &leveledLogger{log: log}
	client.HTTPClient.Timeout = cfg.DownloadTimeout

	return &HTTPDownloader{client: client, log: log}
}

func (d *HTTPDownloader) Download(ctx context.Context, link backend.ChunkLink) ([]byte, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, link.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid link for chunk %d", link.ChunkIndex)
	}
	req = req.WithContext(ctx)
	for k, v := range link.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if retry, _ := RetryPolicy(ctx, nil, err); retry {
			return nil, Transient(errors.Wrap(err, errCloudFetchDownloadFailure))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, errCloudFetchDownloadFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain a little of the body so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if isExpiredLinkStatus(resp.StatusCode) {
			return nil, errors.WithMessagef(dbsqlerr.ErrLinkExpired, "%s: HTTP %s", errCloudFetchDownloadFailure, resp.Status)
		}

		statusErr := errors.Errorf("%s: HTTP %s", errCloudFetchDownloadFailure, resp.Status)
		if retry, _ := RetryPolicy(ctx, resp, nil); retry {
			return nil, Transient(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(errors.Wrap(err, "reading chunk payload"))
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, Transient(fmt.Errorf("partial chunk payload: read %d of %d bytes", len(body), resp.ContentLength))
	}

	return body, nil
}

// the outcome is classified by RetryPolicy after Do returns
func noRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	return false, nil
}

// leveledLogger routes retryablehttp's request logging to zerolog.
type leveledLogger struct {
	log *logger.DBSQLLogger
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Fields(keysAndValues).Msg(msg)
}

// request level chatter is only interesting when tracing
func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}
