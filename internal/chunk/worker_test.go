package chunk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/databricks/databricks-sql-stream/backend"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	"github.com/databricks/databricks-sql-stream/internal/config"
	"github.com/databricks/databricks-sql-stream/internal/fetch"
	"github.com/databricks/databricks-sql-stream/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(cfg *config.Config, links *LinkService, d fetch.Downloader) *fetchWorker {
	return &fetchWorker{
		links:       links,
		downloader:  d,
		decoder:     arrowDecoder,
		maxAttempts: cfg.MaxDownloadAttempts,
		waitMin:     cfg.RetryWaitMin,
		waitMax:     cfg.RetryWaitMax,
	}
}

// singleChunk is one chunk of 4 rows with a link attached.
func singleChunk(t *testing.T) (*Chunk, *LinkService, []byte) {
	m, payloads := testResult(t, []int64{4}, true)
	c := newChunk(Descriptor{
		Index:     0,
		RowOffset: 0,
		RowCount:  m.Chunks[0].RowCount,
		ByteCount: m.Chunks[0].ByteCount,
	})
	c.SetLink(m.Links[0])
	unused := newFakeLinks(func(ctx context.Context, i int) ([]backend.ChunkLink, error) {
		return nil, errors.New("unexpected link resolution")
	})
	ls := NewLinkService(context.Background(), backend.StatementHandle("stmt"), unused, []*Chunk{c}, 0, nil, nil)
	return c, ls, payloads[0]
}

func TestFetchWorker(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	transient := fetch.Transient(errors.New("connection reset"))

	t.Run("transient failures within the bound", func(t *testing.T) {
		c, ls, payload := singleChunk(t)
		d := newFakeDownloader(func(ctx context.Context, l backend.ChunkLink, attempt int) ([]byte, error) {
			if attempt < cfg.MaxDownloadAttempts {
				return nil, transient
			}
			return payload, nil
		})

		ev := newTestWorker(cfg, ls, d).run(ctx, c)
		assert.Equal(t, Succeeded, ev.state)
		assert.Equal(t, cfg.MaxDownloadAttempts, ev.attempts)
		assert.Equal(t, cfg.MaxDownloadAttempts, c.Attempts())

		rows, err := c.Result()
		require.NoError(t, err)
		assert.Equal(t, int64(4), rows.NumRows())
		v, err := rows.Value(3, 1)
		require.NoError(t, err)
		assert.Equal(t, testutil.Name(3), v)
	})

	t.Run("transient failures beyond the bound", func(t *testing.T) {
		c, ls, _ := singleChunk(t)
		d := newFakeDownloader(func(ctx context.Context, l backend.ChunkLink, attempt int) ([]byte, error) {
			return nil, transient
		})

		ev := newTestWorker(cfg, ls, d).run(ctx, c)
		assert.Equal(t, Failed, ev.state)
		assert.Equal(t, cfg.MaxDownloadAttempts, d.Calls(0))

		_, err := c.Result()
		require.Error(t, err)
		assert.ErrorIs(t, err, dbsqlerr.ChunkError)
		var chunkErr dbsqlerr.DBChunkError
		require.True(t, errors.As(err, &chunkErr))
		assert.Equal(t, 0, chunkErr.ChunkIndex())
		assert.Equal(t, cfg.MaxDownloadAttempts, chunkErr.Attempts())
		assert.ErrorIs(t, chunkErr.Cause(), transient)
	})

	t.Run("permanent download failure is not retried", func(t *testing.T) {
		c, ls, _ := singleChunk(t)
		d := newFakeDownloader(func(ctx context.Context, l backend.ChunkLink, attempt int) ([]byte, error) {
			return nil, errors.New("bucket does not exist")
		})

		ev := newTestWorker(cfg, ls, d).run(ctx, c)
		assert.Equal(t, Failed, ev.state)
		assert.Equal(t, 1, d.Calls(0))
		_, err := c.Result()
		assert.ErrorContains(t, err, "failed to download chunk 0")
	})

	t.Run("corrupt payload is not retried", func(t *testing.T) {
		c, ls, _ := singleChunk(t)
		c.ByteCount = 0
		d := newFakeDownloader(func(ctx context.Context, l backend.ChunkLink, attempt int) ([]byte, error) {
			return []byte("not an arrow stream"), nil
		})

		ev := newTestWorker(cfg, ls, d).run(ctx, c)
		assert.Equal(t, Failed, ev.state)
		assert.Equal(t, 1, d.Calls(0))
		_, err := c.Result()
		assert.ErrorIs(t, err, dbsqlerr.ChunkError)
		assert.ErrorContains(t, err, "failed to decode chunk 0")
	})

	t.Run("row count mismatch fails the chunk", func(t *testing.T) {
		c, ls, _ := singleChunk(t)
		short := testutil.ArrowStream(t, 0, 3)
		c.ByteCount = int64(len(short))
		d := newFakeDownloader(func(ctx context.Context, l backend.ChunkLink, attempt int) ([]byte, error) {
			return short, nil
		})

		ev := newTestWorker(cfg, ls, d).run(ctx, c)
		assert.Equal(t, Failed, ev.state)
		_, err := c.Result()
		assert.ErrorContains(t, err, "expected 4 rows, decoded 3")
	})

	t.Run("truncated payload is retried", func(t *testing.T) {
		c, ls, payload := singleChunk(t)
		d := newFakeDownloader(func(ctx context.Context, l backend.ChunkLink, attempt int) ([]byte, error) {
			if attempt == 1 {
				return payload[:len(payload)/2], nil
			}
			return payload, nil
		})

		ev := newTestWorker(cfg, ls, d).run(ctx, c)
		assert.Equal(t, Succeeded, ev.state)
		assert.Equal(t, 2, ev.attempts)
		assert.Equal(t, len(payload)/2+len(payload), ev.bytes)
	})

	t.Run("expired link is refreshed", func(t *testing.T) {
		payload := testutil.ArrowStream(t, 0, 4)
		var served atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/fresh" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			served.Add(1)
			_, _ = w.Write(payload)
		}))
		defer server.Close()

		c := newChunk(Descriptor{Index: 0, RowCount: 4, ByteCount: int64(len(payload))})
		c.SetLink(backend.ChunkLink{ChunkIndex: 0, URL: server.URL + "/stale"})
		links := newFakeLinks(func(ctx context.Context, i int) ([]backend.ChunkLink, error) {
			return []backend.ChunkLink{{ChunkIndex: i, URL: server.URL + "/fresh"}}, nil
		})
		ls := NewLinkService(ctx, backend.StatementHandle("stmt"), links, []*Chunk{c}, 0, nil, nil)

		ev := newTestWorker(cfg, ls, fetch.NewHTTPDownloader(cfg, nil)).run(ctx, c)
		assert.Equal(t, Succeeded, ev.state)
		assert.Equal(t, 2, ev.attempts)
		assert.Equal(t, 1, links.Total())
		assert.Equal(t, int32(1), served.Load())
	})

	t.Run("link resolution failure fails the chunk", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 0, RowCount: 4})
		boom := errors.New("statement expired")
		links := newFakeLinks(func(ctx context.Context, i int) ([]backend.ChunkLink, error) {
			return nil, boom
		})
		ls := NewLinkService(ctx, backend.StatementHandle("stmt"), links, []*Chunk{c}, 0, nil, nil)
		d := newFakeDownloader(nil)

		ev := newTestWorker(cfg, ls, d).run(ctx, c)
		assert.Equal(t, Failed, ev.state)
		assert.Equal(t, 0, d.Calls(0))
		_, err := c.Result()
		assert.ErrorIs(t, err, dbsqlerr.RequestError)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled download is aborted", func(t *testing.T) {
		c, ls, _ := singleChunk(t)
		cctx, cancel := context.WithCancel(ctx)
		d := newFakeDownloader(func(ctx context.Context, l backend.ChunkLink, attempt int) ([]byte, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		})

		ev := newTestWorker(cfg, ls, d).run(cctx, c)
		assert.Equal(t, FailedAborted, ev.state)
		assert.Equal(t, 1, d.Calls(0))
		_, err := c.Result()
		assert.ErrorIs(t, err, dbsqlerr.ErrChunkAborted)
	})
}
