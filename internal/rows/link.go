package rows

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/databricks/databricks-sql-stream/driverctx"
	"github.com/databricks/databricks-sql-stream/internal/chunk"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	"github.com/databricks/databricks-sql-stream/internal/fetch"
	dbsqllog "github.com/databricks/databricks-sql-stream/logger"
	dbsqlrows "github.com/databricks/databricks-sql-stream/rows"
)

// LinkCursor reads a link addressed result set chunk by chunk from a Scheduler.
type LinkCursor struct {
	sched      *chunk.Scheduler
	downloader fetch.Downloader

	// carries the ids of the result set for errors
	ctx context.Context

	// guards current, row and onChunk; not held while waiting for a chunk
	mu      sync.Mutex
	current decode.RowSet
	// index of the current row in current, -1 before its first row
	row int64
	// the scheduler cursor is on a chunk that has not been read yet
	onChunk bool

	delivered atomic.Int64
	closed    atomic.Bool

	logger_ *dbsqllog.DBSQLLogger
}

var _ dbsqlrows.Cursor = (*LinkCursor)(nil)

// NewLinkCursor takes ownership of sched. The downloader is closed with the
// cursor when it implements io.Closer.
func NewLinkCursor(ctx context.Context, sched *chunk.Scheduler, downloader fetch.Downloader, logger *dbsqllog.DBSQLLogger) *LinkCursor {
	if logger == nil {
		logger = dbsqllog.Logger
	}
	return &LinkCursor{
		sched:      sched,
		downloader: downloader,
		ctx:        driverctx.NewContextFromBackground(ctx),
		row:        -1,
		logger_:    logger,
	}
}

func (c *LinkCursor) Next(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.closed.Load() {
			return false, closedError(c.ctx)
		}

		if c.current != nil {
			if c.row+1 < c.current.NumRows() {
				c.row++
				c.delivered.Add(1)
				return true, nil
			}
			c.current = nil
			c.onChunk = false
		}

		if !c.onChunk {
			if !c.sched.Advance() {
				if c.closed.Load() {
					return false, closedError(c.ctx)
				}
				return false, nil
			}
			c.onChunk = true
		}

		// Close must be able to interrupt the wait
		c.mu.Unlock()
		rs, err := c.sched.CurrentChunk(ctx)
		c.mu.Lock()

		if c.closed.Load() {
			return false, closedError(c.ctx)
		}
		// on failure the cursor stays on the chunk, so the next call
		// reports the same error instead of skipping rows
		if err != nil {
			c.logger_.Err(err).Msg("databricks: failed to read chunk")
			return false, err
		}
		c.current = rs
		c.row = -1
	}
}

func (c *LinkCursor) Value(col int) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, closedError(c.ctx)
	}
	if c.current == nil || c.row < 0 {
		return nil, positionError(c.ctx)
	}

	v, err := c.current.Value(c.row, col)
	if err != nil {
		return nil, columnError(c.ctx, col, err)
	}
	return v, nil
}

func (c *LinkCursor) HasMore() bool {
	return !c.closed.Load() && c.delivered.Load() < c.sched.TotalRows()
}

func (c *LinkCursor) RowCount() int64 {
	return c.sched.TotalRows()
}

func (c *LinkCursor) ChunkCount() int {
	return c.sched.ChunkCount()
}

func (c *LinkCursor) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	// wait for a Value or Next in progress to let go of the current chunk
	c.mu.Lock()
	c.current = nil
	c.row = -1
	c.mu.Unlock()

	c.logger_.Debug().Msgf("databricks: closing link cursor after %d of %d rows", c.delivered.Load(), c.sched.TotalRows())
	c.sched.Close()

	if closer, ok := c.downloader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger_.Err(err).Msg(errRowsCloseFailed)
			return err
		}
	}
	return nil
}
