package rows

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/driverctx"
	dbsqllog "github.com/databricks/databricks-sql-stream/logger"
	dbsqlrows "github.com/databricks/databricks-sql-stream/rows"
	"github.com/pkg/errors"
)

// rows exposes a Cursor as driver.Rows, with column type metadata taken
// from the result schema.
type rows struct {
	cursor dbsqlrows.Cursor

	schema *backend.Schema

	// driver.Rows.Next has no context; reads use this one, which carries
	// the connection and correlation ids
	ctx context.Context

	logger_ *dbsqllog.DBSQLLogger
}

var _ driver.Rows = (*rows)(nil)
var _ driver.RowsColumnTypeScanType = (*rows)(nil)
var _ driver.RowsColumnTypeDatabaseTypeName = (*rows)(nil)
var _ driver.RowsColumnTypeNullable = (*rows)(nil)
var _ driver.RowsColumnTypeLength = (*rows)(nil)

// NewRows exposes cursor as database/sql rows. Closing the rows closes the cursor.
func NewRows(ctx context.Context, cursor dbsqlrows.Cursor, schema *backend.Schema, logger *dbsqllog.DBSQLLogger) (driver.Rows, error) {
	if logger == nil {
		logger = dbsqllog.Logger
	}
	if cursor == nil {
		logger.Error().Msg(errRowsNoCursor)
		return nil, errors.New(errRowsNoCursor)
	}
	if schema == nil {
		schema = &backend.Schema{}
	}

	logger.Debug().Msgf("databricks: creating Rows, columns: %d, rows: %d, chunks: %d", len(schema.Columns), cursor.RowCount(), cursor.ChunkCount())

	return &rows{
		cursor:  cursor,
		schema:  schema,
		ctx:     driverctx.NewContextFromBackground(ctx),
		logger_: logger,
	}, nil
}

// Columns returns the column names in schema order. database/sql sizes
// the destination slice passed to Next from its length.
func (r *rows) Columns() []string {
	if err := isValidRows(r); err != nil {
		return []string{}
	}

	colNames := make([]string, len(r.schema.Columns))
	for i := range colNames {
		colNames[i] = r.schema.Columns[i].Name
	}
	return colNames
}

// Close releases the cursor. Later calls are no-ops.
func (r *rows) Close() error {
	if r == nil || r.cursor == nil {
		return nil
	}

	r.logger_.Debug().Msg("databricks: closing Rows")
	if err := r.cursor.Close(); err != nil {
		r.logger_.Err(err).Msg(errRowsCloseFailed)
		return err
	}
	return nil
}

// Next copies the next row into dest, which has one slot per column.
//
// Next returns io.EOF when there are no more rows.
func (r *rows) Next(dest []driver.Value) error {
	if err := isValidRows(r); err != nil {
		return err
	}

	ok, err := r.cursor.Next(r.ctx)
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}

	for i := range dest {
		v, err := r.cursor.Value(i)
		if err != nil {
			return err
		}
		dest[i] = v
	}
	return nil
}

// ColumnTypeScanType returns the Go type values of the column are converted to.
func (r *rows) ColumnTypeScanType(index int) reflect.Type {
	column, err := r.getColumnMetadataByIndex(index)
	if err != nil {
		return scanTypeUnknown
	}
	return getScanType(column)
}

// ColumnTypeDatabaseTypeName returns the SQL type name reported by the schema.
func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	column, err := r.getColumnMetadataByIndex(index)
	if err != nil {
		return ""
	}
	return column.TypeName
}

// ColumnTypeNullable reports the nullability recorded in the schema; ok is false for an unknown column.
func (r *rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	column, err := r.getColumnMetadataByIndex(index)
	if err != nil {
		return false, false
	}
	return column.Nullable, true
}

func (r *rows) ColumnTypeLength(index int) (length int64, ok bool) {
	column, err := r.getColumnMetadataByIndex(index)
	if err != nil {
		return 0, false
	}

	switch column.TypeName {
	case "STRING", "VARCHAR", "BINARY", "ARRAY", "MAP", "STRUCT":
		return math.MaxInt64, true
	default:
		return 0, false
	}
}

var (
	scanTypeNull     = reflect.TypeOf(nil)
	scanTypeBoolean  = reflect.TypeOf(true)
	scanTypeFloat32  = reflect.TypeOf(float32(0))
	scanTypeFloat64  = reflect.TypeOf(float64(0))
	scanTypeInt8     = reflect.TypeOf(int8(0))
	scanTypeInt16    = reflect.TypeOf(int16(0))
	scanTypeInt32    = reflect.TypeOf(int32(0))
	scanTypeInt64    = reflect.TypeOf(int64(0))
	scanTypeString   = reflect.TypeOf("")
	scanTypeDateTime = reflect.TypeOf(time.Time{})
	scanTypeRawBytes = reflect.TypeOf(sql.RawBytes{})
	scanTypeUnknown  = reflect.TypeOf(new(any))
)

func getScanType(column *backend.ColumnInfo) reflect.Type {
	// DECIMAL(10,2) and similar carry parameters
	typeName, _, _ := strings.Cut(strings.ToUpper(column.TypeName), "(")

	switch typeName {
	case "BOOLEAN":
		return scanTypeBoolean
	case "TINYINT", "BYTE":
		return scanTypeInt8
	case "SMALLINT", "SHORT":
		return scanTypeInt16
	case "INT", "INTEGER":
		return scanTypeInt32
	case "BIGINT", "LONG":
		return scanTypeInt64
	case "FLOAT":
		return scanTypeFloat32
	case "DOUBLE":
		return scanTypeFloat64
	case "NULL", "VOID":
		return scanTypeNull
	case "STRING", "CHAR", "VARCHAR", "DECIMAL",
		"INTERVAL", "INTERVAL_DAY_TIME", "INTERVAL_YEAR_MONTH":
		return scanTypeString
	case "TIMESTAMP", "TIMESTAMP_NTZ", "DATE":
		return scanTypeDateTime
	case "BINARY", "ARRAY", "STRUCT", "MAP":
		return scanTypeRawBytes
	default:
		return scanTypeUnknown
	}
}

// isValidRows rejects a nil receiver or one without a cursor.
func isValidRows(r *rows) error {
	if r == nil {
		return errors.New(errRowsNilRows)
	}

	if r.cursor == nil {
		r.logger_.Error().Msg(errRowsNoCursor)
		return errors.New(errRowsNoCursor)
	}

	return nil
}

func (r *rows) getColumnMetadataByIndex(index int) (*backend.ColumnInfo, error) {
	if err := isValidRows(r); err != nil {
		return nil, err
	}

	columns := r.schema.Columns
	if index < 0 || index >= len(columns) {
		return nil, errors.New(errRowsInvalidColumnIndex(index))
	}

	return &columns[index], nil
}
