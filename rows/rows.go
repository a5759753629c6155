package rows

import (
	"context"
)

// Cursor is a forward only cursor over a result set. All result encodings
// are read through this interface.
//
// A cursor starts before the first row. Next moves it onto the next row;
// Value reads a column of the current row. Once closed, Next and Value fail
// with an error matching errors.ErrResultClosed.
type Cursor interface {
	// Next advances to the next row. It returns false with a nil error when
	// the result is exhausted. A failed chunk or page is reported as an error
	// at the row where it would have been read.
	Next(ctx context.Context) (bool, error)

	// Value returns the value of column col in the current row. Nil is SQL NULL.
	Value(col int) (any, error)

	// HasMore reports whether a subsequent Next may return a row.
	HasMore() bool

	// RowCount is the number of rows the cursor will return, as far as it is known.
	RowCount() int64

	// ChunkCount is the number of link addressed chunks, or 0 for inline results.
	ChunkCount() int

	// Close releases all resources. It is safe to call more than once and
	// concurrently with a Next that is waiting for a chunk.
	Close() error
}
