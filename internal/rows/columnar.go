package rows

import (
	"context"
	"sync"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/driverctx"
	"github.com/databricks/databricks-sql-stream/internal/config"
	dbsqlerrint "github.com/databricks/databricks-sql-stream/internal/errors"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	dbsqllog "github.com/databricks/databricks-sql-stream/logger"
	dbsqlrows "github.com/databricks/databricks-sql-stream/rows"
)

// ColumnarCursor reads inline Arrow pages, fetching the next page when the
// current one is exhausted and the backend reported more rows. An optional
// row limit caps the rows returned across pages.
type ColumnarCursor struct {
	fetcher backend.PageFetcher
	handle  backend.Handle
	decoder *decode.ArrowDecoder

	// Maximum number of rows requested per page
	maxPageSize int
	rowLimit    int64
	useLz4      bool

	ctx context.Context

	mu sync.Mutex

	schemaBytes []byte
	page        decode.RowSet
	row         int64
	positioned  bool
	hasMoreRows bool

	delivered int64
	fetched   int64
	totalRows *int64
	closed    bool

	logger_ *dbsqllog.DBSQLLogger
}

var _ dbsqlrows.Cursor = (*ColumnarCursor)(nil)

// NewColumnarCursor starts from first when the execution returned one,
// otherwise the first page is fetched by the first call to Next.
func NewColumnarCursor(
	ctx context.Context,
	fetcher backend.PageFetcher,
	h backend.Handle,
	first *backend.ResultPage,
	totalRows *int64,
	cfg *config.Config,
	logger *dbsqllog.DBSQLLogger,
) (*ColumnarCursor, error) {
	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if logger == nil {
		logger = dbsqllog.Logger
	}

	c := &ColumnarCursor{
		fetcher:     fetcher,
		handle:      h,
		decoder:     decode.NewArrowDecoder(cfg.Location),
		maxPageSize: cfg.MaxRows,
		rowLimit:    cfg.RowLimit,
		useLz4:      cfg.UseLz4Compression,
		ctx:         driverctx.NewContextFromBackground(ctx),
		hasMoreRows: true,
		totalRows:   totalRows,
		row:         -1,
		logger_:     logger,
	}

	logger.Debug().Msgf("databricks: creating columnar cursor, pageSize: %d, rowLimit: %d", c.maxPageSize, c.rowLimit)

	if first != nil {
		if err := c.loadPage(first); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ColumnarCursor) Next(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, closedError(c.ctx)
	}

	if c.limitReached() {
		c.positioned = false
		c.releasePage()
		return false, nil
	}

	for {
		if c.page != nil && c.row+1 < c.page.NumRows() {
			c.row++
			c.delivered++
			c.positioned = true
			return true, nil
		}

		c.positioned = false
		c.releasePage()
		if !c.hasMoreRows {
			return false, nil
		}

		if err := c.fetchPage(ctx); err != nil {
			return false, err
		}
	}
}

func (c *ColumnarCursor) Value(col int) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, closedError(c.ctx)
	}
	if !c.positioned {
		return nil, positionError(c.ctx)
	}

	v, err := c.page.Value(c.row, col)
	if err != nil {
		return nil, columnError(c.ctx, col, err)
	}
	return v, nil
}

// HasMore is false once the row limit has been reached, even when the
// backend still has rows.
func (c *ColumnarCursor) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.limitReached() {
		return false
	}
	if c.page != nil && c.row+1 < c.page.NumRows() {
		return true
	}
	return c.hasMoreRows
}

// RowCount is the backend's total when it reported one, otherwise the rows
// fetched so far, capped by the row limit.
func (c *ColumnarCursor) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.fetched
	if c.totalRows != nil {
		n = *c.totalRows
	}
	if c.rowLimit > 0 && c.rowLimit < n {
		n = c.rowLimit
	}
	return n
}

func (c *ColumnarCursor) ChunkCount() int {
	return 0
}

func (c *ColumnarCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.positioned = false
	c.releasePage()
	return nil
}

func (c *ColumnarCursor) limitReached() bool {
	return c.rowLimit > 0 && c.delivered >= c.rowLimit
}

func (c *ColumnarCursor) releasePage() {
	if c.page != nil {
		c.page.Release()
		c.page = nil
	}
}

func (c *ColumnarCursor) fetchPage(ctx context.Context) error {
	c.logger_.Debug().Msgf("databricks: fetching next page of up to %d rows after row %d", c.maxPageSize, c.fetched)

	page, err := c.fetcher.FetchResults(ctx, c.handle, c.maxPageSize)
	if err != nil {
		c.logger_.Err(err).Msg("databricks: columnar cursor failed to retrieve results")
		return dbsqlerrint.NewRequestError(c.ctx, dbsqlerrint.ErrFetchResults, err)
	}
	if page == nil {
		c.hasMoreRows = false
		return nil
	}
	return c.loadPage(page)
}

func (c *ColumnarCursor) loadPage(page *backend.ResultPage) error {
	if len(page.ArrowSchema) > 0 {
		c.schemaBytes = page.ArrowSchema
	}
	if c.schemaBytes == nil && len(page.Batches) > 0 {
		return dbsqlerrint.NewDriverError(c.ctx, dbsqlerrint.ErrDecodePage, errMissingSchema)
	}

	codec := page.Compression
	if codec == backend.CodecNone && c.useLz4 {
		codec = backend.CodecLZ4Frame
	}

	rs, err := c.decoder.DecodeBatches(c.schemaBytes, page.Batches, codec)
	if err != nil {
		return dbsqlerrint.NewDriverError(c.ctx, dbsqlerrint.ErrDecodePage, err)
	}

	c.page = rs
	c.row = -1
	c.hasMoreRows = page.HasMoreRows
	c.fetched += rs.NumRows()
	if page.TotalRowCount != nil {
		c.totalRows = page.TotalRowCount
	}

	c.logger_.Debug().Msgf("databricks: new result page startRow: %d, nRows: %v, hasMoreRows: %v", page.StartRowOffset, rs.NumRows(), page.HasMoreRows)
	return nil
}
