package errors

import (
	"context"
	"fmt"

	"github.com/databricks/databricks-sql-stream/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	"github.com/pkg/errors"
)

// Error messages
const (
	ErrInvalidManifest       = "result manifest is invalid"
	ErrInvalidConfig         = "result configuration is invalid"
	ErrResultClosed          = "result set is closed"
	ErrInvalidCursorPosition = "no current row"
	ErrInvalidColumnIndex    = "invalid column index"
	ErrInlineTooLarge        = "inline result exceeds the configured size limit"
	ErrLinkResolution        = "failed to resolve chunk link"
	ErrChunkDownload         = "failed to download chunk"
	ErrChunkDecode           = "failed to decode chunk"
	ErrChunkAborted          = "chunk download was aborted"
	ErrFetchResults          = "failed to fetch result page"
	ErrDecodePage            = "failed to decode result page"
	ErrFetchTextChunk        = "failed to fetch inline result chunk"
	ErrUnknownDisposition    = "unknown result disposition"
	ErrNotImplemented        = "not implemented"
)

type databricksError struct {
	err           error
	cause         error
	correlationId string
	connectionId  string
	queryId       string
	errType       string
}

var _ error = (*databricksError)(nil)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newDatabricksError(ctx context.Context, msg string, err error) databricksError {
	cause := err

	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.WithMessage(err, msg)
	}

	// keep the innermost stack trace
	var st stackTracer
	if ok := errors.As(err, &st); !ok {
		err = errors.WithStack(err)
	}

	return databricksError{
		err:           err,
		cause:         cause,
		correlationId: driverctx.CorrelationIdFromContext(ctx),
		connectionId:  driverctx.ConnIdFromContext(ctx),
		queryId:       driverctx.QueryIdFromContext(ctx),
		errType:       "unknown",
	}
}

func (e databricksError) Error() string {
	return fmt.Sprintf("databricks: %s: %s", e.errType, e.err.Error())
}

// Cause returns the error that was passed to the constructor, unmodified.
// When the error was created without a cause the wrapped message is returned.
func (e databricksError) Cause() error {
	if e.cause != nil {
		return e.cause
	}
	return e.err
}

func (e databricksError) StackTrace() errors.StackTrace {
	var st stackTracer
	if ok := errors.As(e.err, &st); ok {
		return st.StackTrace()
	}

	return nil
}

func (e databricksError) CorrelationId() string {
	return e.correlationId
}

func (e databricksError) ConnectionId() string {
	return e.connectionId
}

func (e databricksError) QueryId() string {
	return e.queryId
}

// driverError are failures detected by the driver itself, e.g. invalid manifests or use after close
type driverError struct {
	databricksError
}

var _ dbsqlerr.DBDriverError = (*driverError)(nil)

func (e driverError) Is(err error) bool {
	return err == dbsqlerr.DriverError
}

func (e driverError) Unwrap() error {
	return e.err
}

func NewDriverError(ctx context.Context, msg string, err error) *driverError {
	dbErr := newDatabricksError(ctx, msg, err)
	dbErr.errType = "driver error"
	return &driverError{databricksError: dbErr}
}

// requestError are errors returned by the backend, e.g. a refused link resolution
type requestError struct {
	databricksError
}

var _ dbsqlerr.DBRequestError = (*requestError)(nil)

func (e requestError) Is(err error) bool {
	return err == dbsqlerr.RequestError
}

func (e requestError) Unwrap() error {
	return e.err
}

func NewRequestError(ctx context.Context, msg string, err error) *requestError {
	dbErr := newDatabricksError(ctx, msg, err)
	dbErr.errType = "request error"
	return &requestError{databricksError: dbErr}
}

// chunkError are download or decode failures of a single chunk
type chunkError struct {
	databricksError
	chunkIndex int
	attempts   int
}

var _ dbsqlerr.DBChunkError = (*chunkError)(nil)

func (e chunkError) Is(err error) bool {
	return err == dbsqlerr.ChunkError
}

func (e chunkError) Unwrap() error {
	return e.err
}

func (e chunkError) ChunkIndex() int {
	return e.chunkIndex
}

func (e chunkError) Attempts() int {
	return e.attempts
}

func NewChunkError(ctx context.Context, chunkIndex, attempts int, msg string, err error) *chunkError {
	dbErr := newDatabricksError(ctx, fmt.Sprintf("%s %d", msg, chunkIndex), err)
	dbErr.errType = "chunk error"
	return &chunkError{databricksError: dbErr, chunkIndex: chunkIndex, attempts: attempts}
}

// IsDBError reports whether err was already produced by one of the constructors in this package.
func IsDBError(err error) bool {
	var dbErr dbsqlerr.DBError
	return errors.As(err, &dbErr)
}

// WrapErr prefixes err with msg. A stack trace is recorded unless err already carries one.
func WrapErr(err error, msg string) error {
	var st stackTracer
	if errors.As(err, &st) {
		return errors.WithMessage(err, msg)
	}
	return errors.Wrap(err, msg)
}

// WrapErrf is WrapErr with a formatted message.
func WrapErrf(err error, format string, args ...interface{}) error {
	var st stackTracer
	if errors.As(err, &st) {
		return errors.WithMessagef(err, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
