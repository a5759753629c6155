package main

import (
	"bytes"
	"context"
	"testing"

	dbsql "github.com/databricks/databricks-sql-stream"
	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintRows(t *testing.T) {
	one, a, two := "1", "a", "2"
	res := &backend.ExecutionResult{
		Handle:      backend.StatementHandle("stmt"),
		Disposition: backend.DispositionInlineText,
		Schema: &backend.Schema{Columns: []backend.ColumnInfo{
			{Name: "id", TypeName: "INT", Nullable: true},
			{Name: "name", TypeName: "STRING", Nullable: true},
		}},
		FirstTextChunk: &backend.TextChunk{
			Rows: [][]*string{{&one, &a}, {&two, nil}},
		},
	}

	rows, err := dbsql.NewRows(context.Background(), &backend.TestClient{}, res)
	require.NoError(t, err)
	defer rows.Close()

	var buf bytes.Buffer
	require.NoError(t, printRows(&buf, rows))
	assert.Equal(t, "id\tname\n1\ta\n2\tNULL\n", buf.String())
}
