package rows

import (
	"context"
	"fmt"

	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	dbsqlerrint "github.com/databricks/databricks-sql-stream/internal/errors"
	"github.com/pkg/errors"
)

var errRowsNilRows = "databricks: nil Rows instance"
var errRowsNoCursor = "databricks: instance of Rows missing cursor"
var errRowsCloseFailed = "databricks: Rows instance Close operation failed"

var errMissingSchema = errors.New("page has batches but no arrow schema")

func errRowsInvalidColumnIndex(index int) string {
	return fmt.Sprintf("%s: %d", dbsqlerrint.ErrInvalidColumnIndex, index)
}

func closedError(ctx context.Context) error {
	return dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrResultClosed, dbsqlerr.ErrResultClosed)
}

func positionError(ctx context.Context) error {
	return dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrInvalidCursorPosition, dbsqlerr.ErrInvalidPosition)
}

func columnError(ctx context.Context, col int, err error) error {
	return dbsqlerrint.NewDriverError(ctx, errRowsInvalidColumnIndex(col), err)
}
