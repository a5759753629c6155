package errors

import "github.com/pkg/errors"

// value to be used with errors.Is() to determine if an error chain contains a driver error
var DriverError error = errors.New("Driver Error")

// value to be used with errors.Is() to determine if an error chain contains a request error
var RequestError error = errors.New("Request Error")

// value to be used with errors.Is() to determine if an error chain contains a chunk download error
var ChunkError error = errors.New("Chunk Error")

// Conditions that can appear in the cause chain of a driver, request or chunk error.
var (
	ErrResultClosed         = errors.New("result set is closed")
	ErrInvalidPosition      = errors.New("cursor is not positioned on a row")
	ErrInvalidManifest      = errors.New("invalid result manifest")
	ErrInlineResultTooLarge = errors.New("inline result exceeds size limit")
	ErrLinkExpired          = errors.New("link has expired")
	ErrLinkServiceShutdown  = errors.New("link service is shut down")
	ErrChunkAborted         = errors.New("chunk download aborted")
	ErrNotSupported         = errors.New("operation not supported")
)

// Base interface for driver errors
type DBError interface {
	// Descriptive message describing the error
	Error() string

	// User specified id to track what happens under a request. Useful to track multiple connections in the same request.
	// Appears in log messages as field corrId.  See driverctx.NewContextWithCorrelationId()
	CorrelationId() string

	// Internal id to track what happens under a connection.
	// Appears in log messages as field connId.
	ConnectionId() string

	// Id of the statement whose result is being streamed.
	// Appears in log messages as field queryId.
	QueryId() string

	// Stack trace associated with the error.  May be nil.
	StackTrace() errors.StackTrace

	// Underlying causative error, exactly as it was reported. May be nil.
	Cause() error
}

// A failure inside the driver: invalid manifests, closed results, capacity limits.
type DBDriverError interface {
	DBError
}

// The backend refused or could not serve a request, e.g. a link could not be resolved.
type DBRequestError interface {
	DBError
}

// A chunk could not be downloaded or decoded.
type DBChunkError interface {
	DBError

	// Index of the chunk within the result set.
	ChunkIndex() int

	// Number of download attempts made before giving up.
	Attempts() int
}
