package chunk

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/databricks/databricks-sql-stream/backend"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	dbsqlerrint "github.com/databricks/databricks-sql-stream/internal/errors"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	"github.com/databricks/databricks-sql-stream/internal/fetch"
	"github.com/databricks/databricks-sql-stream/internal/metrics"
	"github.com/databricks/databricks-sql-stream/logger"
	"github.com/pkg/errors"
)

// event is posted by a worker when a chunk leaves the pool.
type event struct {
	index    int
	state    State
	err      error
	attempts int
	bytes    int
	elapsed  time.Duration
}

type task struct {
	ctx   context.Context
	chunk *Chunk
}

// fetchWorker performs the complete download of one chunk: link resolution,
// bounded retries of transient failures, decompression and decoding.
type fetchWorker struct {
	links       *LinkService
	downloader  fetch.Downloader
	decoder     func(backend.CompressionCodec) decode.Decoder
	maxAttempts int
	waitMin     time.Duration
	waitMax     time.Duration
	metrics     *metrics.Collector
	log         *logger.DBSQLLogger
}

func (w *fetchWorker) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.waitMin
	exp.MaxInterval = w.waitMax
	exp.MaxElapsedTime = 0

	retries := w.maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// run drives c to a terminal state and reports the outcome.
func (w *fetchWorker) run(ctx context.Context, c *Chunk) event {
	start := time.Now()
	ev := event{index: c.Index}

	link, err := w.links.EnsureLink(ctx, c.Index)
	if err != nil {
		ev.err = w.fail(ctx, c, err, 0)
		ev.state = c.State()
		ev.elapsed = time.Since(start)
		return ev
	}

	if err := c.StartDownload(); err != nil {
		// aborted while the link was being resolved
		ev.state = c.State()
		ev.elapsed = time.Since(start)
		return ev
	}

	attempts := 0
	rows, err := backoff.RetryNotifyWithData(func() (decode.RowSet, error) {
		attempts++
		rs, n, next, aerr := w.attempt(ctx, c, link)
		link = next
		ev.bytes += n
		w.metrics.Attempt(n)
		return rs, aerr
	}, w.newBackOff(ctx), func(err error, wait time.Duration) {
		w.log.Debug().Err(err).Msgf("databricks: chunk %d attempt %d failed, retrying in %v", c.Index, attempts, wait)
	})

	ev.attempts = attempts
	ev.elapsed = time.Since(start)
	if err != nil {
		ev.err = w.fail(ctx, c, err, attempts)
		ev.state = c.State()
		return ev
	}

	c.Succeed(rows, attempts)
	ev.state = c.State()
	return ev
}

// attempt makes one download of c. Transient failures are returned as is so
// the backoff retries them; everything else is wrapped as permanent.
func (w *fetchWorker) attempt(ctx context.Context, c *Chunk, link backend.ChunkLink) (decode.RowSet, int, backend.ChunkLink, error) {
	if ctx.Err() != nil {
		return nil, 0, link, backoff.Permanent(ctx.Err())
	}

	if w.links.isExpired(link) {
		fresh, err := w.links.Refresh(ctx, c.Index, link)
		if err != nil {
			return nil, 0, link, backoff.Permanent(err)
		}
		link = fresh
	}

	data, err := w.downloader.Download(ctx, link)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, 0, link, backoff.Permanent(ctx.Err())
		case errors.Is(err, dbsqlerr.ErrLinkExpired):
			fresh, rerr := w.links.Refresh(ctx, c.Index, link)
			if rerr != nil {
				return nil, 0, link, backoff.Permanent(rerr)
			}
			return nil, 0, fresh, err
		case fetch.IsTransient(err):
			return nil, 0, link, err
		default:
			return nil, 0, link, backoff.Permanent(downloadError{err})
		}
	}

	if c.ByteCount > 0 && int64(len(data)) != c.ByteCount {
		return nil, len(data), link, fmt.Errorf("partial chunk payload: read %d of %d bytes", len(data), c.ByteCount)
	}

	rows, err := w.decoder(c.Codec).Decode(bytes.NewReader(data))
	if err != nil {
		return nil, len(data), link, backoff.Permanent(decodeError{err})
	}
	if rows.NumRows() != c.RowCount {
		rows.Release()
		return nil, len(data), link, backoff.Permanent(decodeError{
			fmt.Errorf("expected %d rows, decoded %d", c.RowCount, rows.NumRows()),
		})
	}

	return rows, len(data), link, nil
}

// fail moves c to its terminal failure state. If the chunk's context was
// cancelled the chunk is being abandoned and is aborted instead.
func (w *fetchWorker) fail(ctx context.Context, c *Chunk, err error, attempts int) error {
	if ctx.Err() != nil {
		abortErr := dbsqlerrint.NewDriverError(ctx, fmt.Sprintf("%s %d", dbsqlerrint.ErrChunkAborted, c.Index), dbsqlerr.ErrChunkAborted)
		c.Abort(abortErr)
		return abortErr
	}

	var de decodeError
	var dl downloadError
	switch {
	case errors.As(err, &de):
		err = dbsqlerrint.NewChunkError(ctx, c.Index, attempts, dbsqlerrint.ErrChunkDecode, de.err)
	case errors.As(err, &dl):
		err = dbsqlerrint.NewChunkError(ctx, c.Index, attempts, dbsqlerrint.ErrChunkDownload, dl.err)
	case !dbsqlerrint.IsDBError(err):
		err = dbsqlerrint.NewChunkError(ctx, c.Index, attempts, dbsqlerrint.ErrChunkDownload, err)
	}

	w.log.Err(err).Msgf("databricks: chunk %d failed after %d attempts", c.Index, attempts)
	c.Fail(err, attempts)
	return err
}

type decodeError struct{ err error }

func (e decodeError) Error() string { return e.err.Error() }

type downloadError struct{ err error }

func (e downloadError) Error() string { return e.err.Error() }

// workerPool runs a fixed number of fetch workers over a task queue. The
// queue is sized so submitting never blocks.
type workerPool struct {
	tasks  chan task
	events chan<- event
	worker *fetchWorker
	wg     sync.WaitGroup
}

func newWorkerPool(size, capacity int, w *fetchWorker, events chan<- event) *workerPool {
	p := &workerPool{
		tasks:  make(chan task, capacity),
		events: events,
		worker: w,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

func (p *workerPool) loop() {
	defer p.wg.Done()
	for t := range p.tasks {
		if t.ctx.Err() != nil {
			// abandoned before a worker picked it up
			p.events <- event{index: t.chunk.Index, state: t.chunk.State()}
			continue
		}
		p.events <- p.worker.run(t.ctx, t.chunk)
	}
}

func (p *workerPool) submit(t task) {
	p.tasks <- t
}

// stop waits for all workers to exit. Pending tasks are still drained, so
// callers cancel task contexts first.
func (p *workerPool) stop() {
	close(p.tasks)
	p.wg.Wait()
}
