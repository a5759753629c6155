package rows

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
	dbsqllog "github.com/databricks/databricks-sql-stream/logger"
	dbsqlrows "github.com/databricks/databricks-sql-stream/rows"
)

// TextCursor holds a small textual result that was read completely when
// the cursor was created.
type TextCursor struct {
	mu    sync.Mutex
	rows  decode.RowSet
	row   int64
	total int64

	ctx    context.Context
	closed bool
}

var _ dbsqlrows.Cursor = (*TextCursor)(nil)

// NewTextCursor reads first and every chunk that follows it. It fails if
// the combined size exceeds cfg.InlineResultMaxBytes.
func NewTextCursor(
	ctx context.Context,
	fetcher backend.TextChunkFetcher,
	h backend.Handle,
	first *backend.TextChunk,
	schema *backend.Schema,
	cfg *config.Config,
	logger *dbsqllog.DBSQLLogger,
) (*TextCursor, error) {
	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if logger == nil {
		logger = dbsqllog.Logger
	}
	defer logger.Duration(logger.Track("databricks: reading inline text result"))

	var all [][]*string
	var size int64

	for tc := first; tc != nil; {
		n := tc.ByteCount
		if n <= 0 {
			n = decode.TextSize(tc.Rows)
		}
		size += n
		if size > cfg.InlineResultMaxBytes {
			msg := fmt.Sprintf("%s: %d bytes read, limit %d", dbsqlerrint.ErrInlineTooLarge, size, cfg.InlineResultMaxBytes)
			logger.Error().Msg(msg)
			return nil, dbsqlerrint.NewDriverError(ctx, msg, dbsqlerr.ErrInlineResultTooLarge)
		}
		all = append(all, tc.Rows...)

		if tc.NextChunkIndex == nil {
			break
		}
		next := *tc.NextChunkIndex
		if next <= tc.ChunkIndex {
			return nil, dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrFetchTextChunk,
				fmt.Errorf("chunk %d points back to chunk %d", tc.ChunkIndex, next))
		}

		logger.Debug().Msgf("databricks: fetching inline text chunk %d", next)
		var err error
		tc, err = fetcher.FetchTextChunk(ctx, h, next)
		if err != nil {
			return nil, dbsqlerrint.NewRequestError(ctx, fmt.Sprintf("%s %d", dbsqlerrint.ErrFetchTextChunk, next), err)
		}
	}

	return &TextCursor{
		rows:  decode.NewTextRowSet(all, schema, cfg.Location),
		row:   -1,
		total: int64(len(all)),
		ctx:   driverctx.NewContextFromBackground(ctx),
	}, nil
}

func (c *TextCursor) Next(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, closedError(c.ctx)
	}
	if c.row+1 >= c.total {
		c.row = c.total
		return false, nil
	}
	c.row++
	return true, nil
}

func (c *TextCursor) Value(col int) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, closedError(c.ctx)
	}
	if c.row < 0 || c.row >= c.total {
		return nil, positionError(c.ctx)
	}

	v, err := c.rows.Value(c.row, col)
	if err != nil {
		return nil, columnError(c.ctx, col, err)
	}
	return v, nil
}

func (c *TextCursor) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.row+1 < c.total
}

func (c *TextCursor) RowCount() int64 {
	return c.total
}

func (c *TextCursor) ChunkCount() int {
	return 0
}

func (c *TextCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.rows.Release()
	}
	return nil
}
