package chunk

import (
	"context"
	"fmt"
	"sync"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	"github.com/databricks/databricks-sql-stream/internal/config"
	dbsqlerrint "github.com/databricks/databricks-sql-stream/internal/errors"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	"github.com/databricks/databricks-sql-stream/internal/fetch"
	"github.com/databricks/databricks-sql-stream/internal/metrics"
	"github.com/databricks/databricks-sql-stream/logger"
)

// Options are the collaborators of a Scheduler.
type Options struct {
	Handle     backend.Handle
	Links      backend.LinkFetcher
	Downloader fetch.Downloader
	// Decoder returns the decoder for a chunk's compression codec.
	Decoder func(backend.CompressionCodec) decode.Decoder
	Config  *config.Config
	Metrics *metrics.Collector
	Logger  *logger.DBSQLLogger
}

// Stats is a snapshot of a Scheduler's bookkeeping.
type Stats struct {
	// Chunks handed to the worker pool so far.
	Scheduled int
	// Chunks scheduled and not yet released.
	Resident int
	// Highest Resident seen.
	MaxResident int
	// Chunks whose worker has finished.
	Completed int
	// Index of the chunk being read, -1 before the first Advance.
	Cursor int
}

// Scheduler owns the chunks of one result set. It downloads them in index
// order with at most Window chunks resident at once, and hands them to the
// reader in order regardless of the order downloads complete in.
type Scheduler struct {
	chunks    []*Chunk
	window    int
	totalRows int64

	ctx    context.Context
	cancel context.CancelFunc

	links    *LinkService
	pool     *workerPool
	events   chan event
	loopDone chan struct{}

	metrics *metrics.Collector
	log     *logger.DBSQLLogger

	mu          sync.Mutex
	next        int
	resident    int
	maxResident int
	completed   int
	cursor      int
	closed      bool

	closeOnce sync.Once
}

// NewScheduler validates the manifest, builds the chunk index and starts
// downloading the first chunks. ctx supplies the ids used in logs and
// errors; cancelling it does not stop the downloads, Close does.
func NewScheduler(ctx context.Context, m *backend.Manifest, opts Options) (*Scheduler, error) {
	if err := validateManifest(m); err != nil {
		return nil, dbsqlerrint.NewDriverError(ctx, err.Error(), dbsqlerr.ErrInvalidManifest)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrInvalidConfig, err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Logger
	}

	n := *m.TotalChunkCount
	chunks := make([]*Chunk, n)
	for i, ci := range m.Chunks {
		chunks[i] = newChunk(Descriptor{
			Index:     ci.Index,
			RowOffset: ci.RowOffset,
			RowCount:  ci.RowCount,
			ByteCount: ci.ByteCount,
			Codec:     m.Compression,
		})
	}
	for _, l := range m.Links {
		chunks[l.ChunkIndex].SetLink(l)
	}

	window := cfg.MaxDownloadThreads
	if window > n {
		window = n
	}

	sctx, cancel := context.WithCancel(driverctx.NewContextFromBackground(ctx))
	s := &Scheduler{
		chunks:    chunks,
		window:    window,
		totalRows: *m.TotalRowCount,
		ctx:       sctx,
		cancel:    cancel,
		events:    make(chan event, n),
		loopDone:  make(chan struct{}),
		metrics:   opts.Metrics,
		log:       log,
		cursor:    -1,
	}

	s.links = NewLinkService(sctx, opts.Handle, opts.Links, chunks, cfg.MinTimeToExpiry, opts.Metrics, log)

	worker := &fetchWorker{
		links:       s.links,
		downloader:  opts.Downloader,
		decoder:     opts.Decoder,
		maxAttempts: cfg.MaxDownloadAttempts,
		waitMin:     cfg.RetryWaitMin,
		waitMax:     cfg.RetryWaitMax,
		metrics:     opts.Metrics,
		log:         log,
	}
	s.pool = newWorkerPool(window, n, worker, s.events)

	go s.eventLoop()

	log.Debug().Msgf("databricks: scheduling %d chunks, %d rows, window %d", n, s.totalRows, window)

	s.mu.Lock()
	s.scheduleLocked()
	s.mu.Unlock()

	return s, nil
}

// ChunkCount is the number of chunks in the result set.
func (s *Scheduler) ChunkCount() int {
	return len(s.chunks)
}

// TotalRows is the number of rows declared by the manifest.
func (s *Scheduler) TotalRows() int64 {
	return s.totalRows
}

// Window is the maximum number of resident chunks.
func (s *Scheduler) Window() int {
	return s.window
}

// Chunk returns the chunk at index i.
func (s *Scheduler) Chunk(i int) *Chunk {
	return s.chunks[i]
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Scheduled:   s.next,
		Resident:    s.resident,
		MaxResident: s.maxResident,
		Completed:   s.completed,
		Cursor:      s.cursor,
	}
}

// CurrentChunk waits until the chunk at the cursor is terminal and returns
// its rows. A failed chunk returns the error it failed with, every time it
// is asked. Close unblocks waiters with an aborted error.
func (s *Scheduler) CurrentChunk(ctx context.Context) (decode.RowSet, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.closedError(ctx)
	}
	if s.cursor < 0 || s.cursor >= len(s.chunks) {
		cursor := s.cursor
		s.mu.Unlock()
		return nil, dbsqlerrint.NewDriverError(ctx, fmt.Sprintf("%s: chunk cursor at %d", dbsqlerrint.ErrInvalidCursorPosition, cursor), dbsqlerr.ErrInvalidPosition)
	}
	c := s.chunks[s.cursor]
	s.mu.Unlock()

	select {
	case <-c.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	rows, err := c.Result()
	if err != nil {
		return nil, err
	}
	if rows == nil {
		// released by a concurrent Close
		return nil, s.closedError(ctx)
	}
	return rows, nil
}

// Advance releases the chunk at the cursor, schedules the next chunks that
// fit in the window and moves the cursor forward. It returns false once the
// cursor has passed the last chunk or the scheduler is closed.
func (s *Scheduler) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cursor >= len(s.chunks) {
		return false
	}

	if s.cursor >= 0 {
		s.releaseLocked(s.cursor)
	}
	s.cursor++
	s.scheduleLocked()

	return s.cursor < len(s.chunks)
}

// Close cancels outstanding downloads, releases every chunk and waits for
// the workers to exit. It is safe to call more than once and concurrently
// with CurrentChunk.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cancel()
		for i := range s.chunks {
			s.releaseLocked(i)
		}
		s.mu.Unlock()

		s.links.Shutdown()
		s.pool.stop()
		close(s.events)
		<-s.loopDone

		s.log.Debug().Msg("databricks: chunk scheduler closed")
	})
}

func (s *Scheduler) scheduleLocked() {
	for s.resident < s.window && s.next < len(s.chunks) {
		c := s.chunks[s.next]
		s.next++

		if c.State().Terminal() {
			continue
		}

		ctx, cancel := context.WithCancel(s.ctx)
		c.setCancel(cancel)

		s.resident++
		if s.resident > s.maxResident {
			s.maxResident = s.resident
		}
		s.metrics.ResidentDelta(1)

		s.pool.submit(task{ctx: ctx, chunk: c})
	}
}

func (s *Scheduler) releaseLocked(i int) {
	c := s.chunks[i]
	var abortErr error
	if !c.State().Terminal() {
		abortErr = dbsqlerrint.NewDriverError(s.ctx, fmt.Sprintf("%s %d", dbsqlerrint.ErrChunkAborted, i), dbsqlerr.ErrChunkAborted)
	}
	if c.Release(abortErr) && i < s.next {
		s.resident--
		s.metrics.ResidentDelta(-1)
	}
}

func (s *Scheduler) closedError(ctx context.Context) error {
	return dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrResultClosed, dbsqlerr.ErrResultClosed)
}

// eventLoop is the only reader of worker completions.
func (s *Scheduler) eventLoop() {
	defer close(s.loopDone)

	for ev := range s.events {
		outcome := metrics.OutcomeSucceeded
		switch ev.state {
		case Failed:
			outcome = metrics.OutcomeFailed
		case FailedAborted:
			outcome = metrics.OutcomeAborted
		}
		s.metrics.ChunkDone(outcome, ev.elapsed)

		s.log.Debug().Msgf("databricks: chunk %d %v after %d attempts, %d bytes, %v", ev.index, ev.state, ev.attempts, ev.bytes, ev.elapsed)

		s.mu.Lock()
		s.completed++
		s.mu.Unlock()
	}
}

func validateManifest(m *backend.Manifest) error {
	if m == nil {
		return fmt.Errorf("missing manifest")
	}
	if m.TotalChunkCount == nil || m.TotalRowCount == nil {
		return fmt.Errorf("manifest is missing the total row or chunk count")
	}

	n := *m.TotalChunkCount
	if n < 0 || *m.TotalRowCount < 0 {
		return fmt.Errorf("manifest declares %d chunks and %d rows", n, *m.TotalRowCount)
	}
	if len(m.Chunks) != n {
		return fmt.Errorf("manifest declares %d chunks but describes %d", n, len(m.Chunks))
	}

	var rows int64
	for i, ci := range m.Chunks {
		if ci.Index != i {
			return fmt.Errorf("chunk at position %d has index %d", i, ci.Index)
		}
		if ci.RowCount < 0 {
			return fmt.Errorf("chunk %d has %d rows", i, ci.RowCount)
		}
		if i > 0 {
			prev := m.Chunks[i-1]
			if ci.RowOffset != prev.RowOffset+prev.RowCount {
				return fmt.Errorf("chunk %d starts at row %d, expected %d", i, ci.RowOffset, prev.RowOffset+prev.RowCount)
			}
		}
		rows += ci.RowCount
	}
	if rows != *m.TotalRowCount {
		return fmt.Errorf("chunks hold %d rows, manifest declares %d", rows, *m.TotalRowCount)
	}

	for _, l := range m.Links {
		if l.ChunkIndex < 0 || l.ChunkIndex >= n {
			return fmt.Errorf("link for chunk %d is outside the manifest", l.ChunkIndex)
		}
	}
	return nil
}
