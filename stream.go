package dbsql

import (
	"context"
	"database/sql/driver"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	"github.com/databricks/databricks-sql-stream/internal/chunk"
	"github.com/databricks/databricks-sql-stream/internal/config"
	dbsqlerrint "github.com/databricks/databricks-sql-stream/internal/errors"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	"github.com/databricks/databricks-sql-stream/internal/fetch"
	"github.com/databricks/databricks-sql-stream/internal/metrics"
	internalrows "github.com/databricks/databricks-sql-stream/internal/rows"
	dbsqllog "github.com/databricks/databricks-sql-stream/logger"
	"github.com/databricks/databricks-sql-stream/rows"
	"github.com/google/uuid"
)

// NewCursor returns a cursor over res. The cursor variant is chosen by the
// result's disposition; client serves the follow up calls the variant needs.
// ctx supplies the connection and correlation ids used in logs and errors.
func NewCursor(ctx context.Context, client backend.Client, res *backend.ExecutionResult, opts ...ResultOption) (rows.Cursor, error) {
	if res == nil {
		return nil, dbsqlerrint.NewDriverError(ctx, errMissingResult, dbsqlerr.ErrInvalidManifest)
	}

	ctx, log := resultContext(ctx, res.Handle)
	return openCursor(ctx, log, client, res, opts)
}

// NewRows is NewCursor exposed as database/sql/driver.Rows.
func NewRows(ctx context.Context, client backend.Client, res *backend.ExecutionResult, opts ...ResultOption) (driver.Rows, error) {
	if res == nil {
		return nil, dbsqlerrint.NewDriverError(ctx, errMissingResult, dbsqlerr.ErrInvalidManifest)
	}

	ctx, log := resultContext(ctx, res.Handle)
	cursor, err := openCursor(ctx, log, client, res, opts)
	if err != nil {
		return nil, err
	}

	r, err := internalrows.NewRows(ctx, cursor, res.Schema, log)
	if err != nil {
		_ = cursor.Close()
		return nil, err
	}
	return r, nil
}

var errMissingResult = "missing execution result"

func openCursor(ctx context.Context, log *dbsqllog.DBSQLLogger, client backend.Client, res *backend.ExecutionResult, opts []ResultOption) (rows.Cursor, error) {
	cfg, err := newResultConfig(opts)
	if err != nil {
		return nil, dbsqlerrint.NewDriverError(ctx, "invalid result configuration", err)
	}

	log.Debug().Msgf("databricks: opening %v result", res.Disposition)

	switch res.Disposition {
	case backend.DispositionExternalLinks:
		return newLinkCursor(ctx, client, res, cfg, log)
	case backend.DispositionInlineArrow:
		c, err := internalrows.NewColumnarCursor(ctx, client, res.Handle, res.FirstPage, res.TotalRowCount, cfg, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case backend.DispositionInlineText:
		c, err := internalrows.NewTextCursor(ctx, client, res.Handle, res.FirstTextChunk, res.Schema, cfg, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		log.Error().Msgf("databricks: %s %v", dbsqlerrint.ErrUnknownDisposition, res.Disposition)
		return nil, dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrUnknownDisposition, dbsqlerr.ErrNotSupported)
	}
}

func newLinkCursor(ctx context.Context, client backend.Client, res *backend.ExecutionResult, cfg *config.Config, log *dbsqllog.DBSQLLogger) (rows.Cursor, error) {
	var m *metrics.Collector
	if cfg.MetricsRegisterer != nil {
		m = metrics.New(cfg.MetricsRegisterer)
	}

	router := fetch.NewRouter(cfg, log)
	loc := cfg.Location

	sched, err := chunk.NewScheduler(ctx, res.Manifest, chunk.Options{
		Handle:     res.Handle,
		Links:      client,
		Downloader: router,
		Decoder: func(codec backend.CompressionCodec) decode.Decoder {
			return decode.WithCodec(codec, decode.NewArrowDecoder(loc))
		},
		Config:  cfg,
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		_ = router.Close()
		log.Err(err).Msg("databricks: failed to open chunked result")
		return nil, err
	}

	return internalrows.NewLinkCursor(ctx, sched, router, log), nil
}

// resultContext tags ctx with the statement id, or a generated one when the
// handle has none, and returns a logger carrying the same ids.
func resultContext(ctx context.Context, h backend.Handle) (context.Context, *dbsqllog.DBSQLLogger) {
	queryId := driverctx.QueryIdFromContext(ctx)
	if h != nil && h.Id() != "" {
		queryId = h.Id()
	}
	if queryId == "" {
		queryId = uuid.NewString()
	}
	if queryId != driverctx.QueryIdFromContext(ctx) {
		ctx = driverctx.NewContextWithQueryId(ctx, queryId)
	}

	log := dbsqllog.WithContext(driverctx.ConnIdFromContext(ctx), driverctx.CorrelationIdFromContext(ctx), queryId)
	return ctx, log
}
