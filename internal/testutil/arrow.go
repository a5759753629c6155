// Package testutil builds result payloads for tests.
package testutil

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

// Schema of every payload built by this package: a sequential id and a name derived from it.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// BackendSchema describes Schema to the cursors.
var BackendSchema = &backend.Schema{Columns: []backend.ColumnInfo{
	{Name: "id", TypeName: "BIGINT"},
	{Name: "name", TypeName: "STRING", Nullable: true},
}}

// Name is the value of the name column for id.
func Name(id int64) string {
	return fmt.Sprintf("row-%d", id)
}

func record(firstID int64, n int) arrow.Record {
	builder := array.NewRecordBuilder(memory.NewGoAllocator(), Schema)
	defer builder.Release()

	for i := 0; i < n; i++ {
		id := firstID + int64(i)
		builder.Field(0).(*array.Int64Builder).Append(id)
		builder.Field(1).(*array.StringBuilder).Append(Name(id))
	}
	return builder.NewRecord()
}

// ArrowStream is an IPC stream holding rows firstID..firstID+n-1 in a single record.
func ArrowStream(t testing.TB, firstID int64, n int) []byte {
	t.Helper()

	rec := record(firstID, n)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(Schema))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// InlinePage builds an inline columnar page with one batch per entry of batchSizes.
func InlinePage(t testing.TB, firstID int64, batchSizes []int, codec backend.CompressionCodec, hasMore bool) *backend.ResultPage {
	t.Helper()

	schemaBytes, err := decode.SchemaBytes(Schema)
	require.NoError(t, err)

	page := &backend.ResultPage{
		StartRowOffset: firstID,
		ArrowSchema:    schemaBytes,
		Compression:    codec,
		HasMoreRows:    hasMore,
	}

	id := firstID
	for _, n := range batchSizes {
		stream := ArrowStream(t, id, n)
		page.Batches = append(page.Batches, backend.ArrowBatch{
			RowCount: int64(n),
			Data:     Compress(t, codec, stream[len(schemaBytes):]),
		})
		id += int64(n)
	}
	return page
}

// Compress encodes b with codec.
func Compress(t testing.TB, codec backend.CompressionCodec, b []byte) []byte {
	t.Helper()

	switch codec {
	case backend.CodecLZ4Frame:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		_, err := w.Write(b)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	case backend.CodecZstd:
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		defer enc.Close()
		return enc.EncodeAll(b, nil)
	default:
		return b
	}
}

// TextRows builds n textual rows matching BackendSchema.
func TextRows(firstID int64, n int) [][]*string {
	rows := make([][]*string, n)
	for i := range rows {
		id := fmt.Sprint(firstID + int64(i))
		name := Name(firstID + int64(i))
		rows[i] = []*string{&id, &name}
	}
	return rows
}
