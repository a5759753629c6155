package decode

import (
	"strconv"
	"strings"
	"time"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/pkg/errors"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// TextRowSet holds textual rows and converts cells by the column type name.
type TextRowSet struct {
	rows     [][]*string
	columns  []backend.ColumnInfo
	location *time.Location
}

var _ RowSet = (*TextRowSet)(nil)

// NewTextRowSet wraps rows. Columns without schema information are returned as strings.
func NewTextRowSet(rows [][]*string, schema *backend.Schema, loc *time.Location) *TextRowSet {
	if loc == nil {
		loc = time.UTC
	}
	var columns []backend.ColumnInfo
	if schema != nil {
		columns = schema.Columns
	}
	return &TextRowSet{rows: rows, columns: columns, location: loc}
}

func (t *TextRowSet) NumRows() int64 {
	return int64(len(t.rows))
}

func (t *TextRowSet) NumColumns() int {
	if len(t.columns) > 0 {
		return len(t.columns)
	}
	if len(t.rows) > 0 {
		return len(t.rows[0])
	}
	return 0
}

func (t *TextRowSet) Value(row int64, col int) (any, error) {
	if err := checkPosition(row, t.NumRows(), col, t.NumColumns()); err != nil {
		return nil, err
	}

	r := t.rows[row]
	if col >= len(r) || r[col] == nil {
		return nil, nil
	}

	var typeName string
	if col < len(t.columns) {
		typeName = t.columns[col].TypeName
	}

	v, err := convertText(*r[col], typeName, t.location)
	if err != nil {
		return nil, errors.Wrapf(err, "row %d column %d", row, col)
	}
	return v, nil
}

func (t *TextRowSet) Release() {
	t.rows = nil
}

// TextSize is the number of bytes held by the cells of rows.
func TextSize(rows [][]*string) int64 {
	var n int64
	for _, r := range rows {
		for _, c := range r {
			if c != nil {
				n += int64(len(*c))
			}
		}
	}
	return n
}

func convertText(s, typeName string, loc *time.Location) (any, error) {
	// DECIMAL(10,2) and similar carry parameters
	base, _, _ := strings.Cut(strings.ToUpper(typeName), "(")

	switch base {
	case "BOOLEAN":
		return strconv.ParseBool(s)
	case "TINYINT", "BYTE":
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), err
	case "SMALLINT", "SHORT":
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), err
	case "INT", "INTEGER":
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	case "BIGINT", "LONG":
		return strconv.ParseInt(s, 10, 64)
	case "FLOAT", "REAL":
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case "DOUBLE":
		return strconv.ParseFloat(s, 64)
	case "DATE":
		return time.ParseInLocation(time.DateOnly, s, loc)
	case "TIMESTAMP", "TIMESTAMP_NTZ":
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
				return ts.In(loc), nil
			}
		}
		return nil, errors.Errorf("invalid timestamp %q", s)
	case "BINARY":
		return []byte(s), nil
	default:
		return s, nil
	}
}
