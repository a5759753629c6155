package decode

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/pkg/errors"
)

// ArrowDecoder decodes Arrow IPC streams.
type ArrowDecoder struct {
	// Location applied to DATE and TIMESTAMP values.
	Location  *time.Location
	Allocator memory.Allocator
}

var _ Decoder = (*ArrowDecoder)(nil)

func NewArrowDecoder(loc *time.Location) *ArrowDecoder {
	if loc == nil {
		loc = time.UTC
	}
	return &ArrowDecoder{Location: loc, Allocator: memory.NewGoAllocator()}
}

// Decode reads every record of the stream in r.
func (d *ArrowDecoder) Decode(r io.Reader) (RowSet, error) {
	ipcReader, err := ipc.NewReader(r, ipc.WithAllocator(d.Allocator))
	if err != nil {
		return nil, errors.Wrap(err, "reading arrow schema")
	}
	defer ipcReader.Release()

	rs := &arrowRowSet{schema: ipcReader.Schema(), location: d.Location}
	for ipcReader.Next() {
		rec := ipcReader.Record()
		rec.Retain()
		rs.records = append(rs.records, rec)
		rs.rows += rec.NumRows()
		rs.ends = append(rs.ends, rs.rows)
	}

	if err := ipcReader.Err(); err != nil {
		rs.Release()
		return nil, errors.Wrap(err, "reading arrow records")
	}

	return rs, nil
}

// DecodeBatches decodes inline batches that share one serialized schema.
// Every batch is checked against its declared row count.
func (d *ArrowDecoder) DecodeBatches(schemaBytes []byte, batches []backend.ArrowBatch, codec backend.CompressionCodec) (RowSet, error) {
	sets := make([]RowSet, 0, len(batches))
	release := func() {
		for _, s := range sets {
			s.Release()
		}
	}

	for i := range batches {
		b := batches[i]
		br, err := NewReader(codec, bytes.NewReader(b.Data))
		if err != nil {
			release()
			return nil, err
		}

		rs, err := d.Decode(io.MultiReader(bytes.NewReader(schemaBytes), br))
		br.Close()
		if err != nil {
			release()
			return nil, errors.WithMessagef(err, "batch %d", i)
		}
		if rs.NumRows() != b.RowCount {
			rs.Release()
			release()
			return nil, fmt.Errorf("batch %d: expected %d rows, decoded %d", i, b.RowCount, rs.NumRows())
		}
		sets = append(sets, rs)
	}

	return Concat(sets...), nil
}

// SchemaBytes serializes schema as an IPC schema message without the end of stream marker.
func SchemaBytes(schema *arrow.Schema) ([]byte, error) {
	if schema == nil {
		return nil, errors.New("nil arrow schema")
	}

	var output bytes.Buffer
	w := ipc.NewWriter(&output, ipc.WithSchema(schema))
	if err := w.Close(); err != nil {
		return nil, err
	}

	b := output.Bytes()
	return b[:len(b)-8], nil
}

type arrowRowSet struct {
	schema   *arrow.Schema
	records  []arrow.Record
	ends     []int64
	rows     int64
	location *time.Location
}

var _ RowSet = (*arrowRowSet)(nil)

func (rs *arrowRowSet) NumRows() int64 {
	return rs.rows
}

func (rs *arrowRowSet) NumColumns() int {
	return len(rs.schema.Fields())
}

func (rs *arrowRowSet) Value(row int64, col int) (any, error) {
	if err := checkPosition(row, rs.rows, col, rs.NumColumns()); err != nil {
		return nil, err
	}

	i := sort.Search(len(rs.ends), func(i int) bool { return rs.ends[i] > row })
	start := int64(0)
	if i > 0 {
		start = rs.ends[i-1]
	}

	return columnValue(rs.records[i].Column(col), int(row-start), rs.location)
}

func (rs *arrowRowSet) Release() {
	for _, r := range rs.records {
		r.Release()
	}
	rs.records = nil
}

func columnValue(arr arrow.Array, i int, loc *time.Location) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}

	switch c := arr.(type) {
	case *array.Boolean:
		return c.Value(i), nil
	case *array.Int8:
		return c.Value(i), nil
	case *array.Int16:
		return c.Value(i), nil
	case *array.Int32:
		return c.Value(i), nil
	case *array.Int64:
		return c.Value(i), nil
	case *array.Float32:
		return c.Value(i), nil
	case *array.Float64:
		return c.Value(i), nil
	case *array.String:
		return c.Value(i), nil
	case *array.Binary:
		v := c.Value(i)
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case *array.Date32:
		y, m, d := c.Value(i).ToTime().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(i).ToTime(unit).In(loc), nil
	case *array.Decimal128:
		scale := c.DataType().(*arrow.Decimal128Type).Scale
		return c.Value(i).ToString(scale), nil
	default:
		return arr.ValueStr(i), nil
	}
}
