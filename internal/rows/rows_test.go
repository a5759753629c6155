package rows

import (
	"context"
	"database/sql/driver"
	"io"
	"math"
	"testing"

	"github.com/databricks/databricks-sql-stream/backend"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	"github.com/databricks/databricks-sql-stream/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRows(t *testing.T) {
	ctx := context.Background()

	newRows := func(t *testing.T) driver.Rows {
		first := testutil.InlinePage(t, 0, []int{2}, backend.CodecNone, false)
		c, err := NewColumnarCursor(ctx, &backend.TestClient{}, backend.StatementHandle("stmt"), first, nil, nil, nil)
		require.NoError(t, err)

		r, err := NewRows(ctx, c, testutil.BackendSchema, nil)
		require.NoError(t, err)
		return r
	}

	t.Run("missing cursor", func(t *testing.T) {
		_, err := NewRows(ctx, nil, nil, nil)
		assert.EqualError(t, err, errRowsNoCursor)

		var r *rows
		assert.Equal(t, []string{}, r.Columns())
		assert.NoError(t, r.Close())
		assert.EqualError(t, r.Next(nil), errRowsNilRows)
	})

	t.Run("iteration", func(t *testing.T) {
		r := newRows(t)
		assert.Equal(t, []string{"id", "name"}, r.Columns())

		dest := make([]driver.Value, 2)
		for i := int64(0); i < 2; i++ {
			require.NoError(t, r.Next(dest))
			assert.Equal(t, i, dest[0])
			assert.Equal(t, testutil.Name(i), dest[1])
		}
		assert.Equal(t, io.EOF, r.Next(dest))

		require.NoError(t, r.Close())
		assert.ErrorIs(t, r.Next(dest), dbsqlerr.ErrResultClosed)
	})

	t.Run("column metadata", func(t *testing.T) {
		r := newRows(t).(*rows)

		assert.Equal(t, scanTypeInt64, r.ColumnTypeScanType(0))
		assert.Equal(t, scanTypeString, r.ColumnTypeScanType(1))
		assert.Equal(t, scanTypeUnknown, r.ColumnTypeScanType(5))

		assert.Equal(t, "BIGINT", r.ColumnTypeDatabaseTypeName(0))
		assert.Equal(t, "", r.ColumnTypeDatabaseTypeName(-1))

		nullable, ok := r.ColumnTypeNullable(0)
		assert.True(t, ok)
		assert.False(t, nullable)
		nullable, ok = r.ColumnTypeNullable(1)
		assert.True(t, ok)
		assert.True(t, nullable)
		_, ok = r.ColumnTypeNullable(2)
		assert.False(t, ok)

		length, ok := r.ColumnTypeLength(1)
		assert.True(t, ok)
		assert.Equal(t, int64(math.MaxInt64), length)
		_, ok = r.ColumnTypeLength(0)
		assert.False(t, ok)
	})

	t.Run("scan types", func(t *testing.T) {
		testCases := []struct {
			typeName string
			want     any
		}{
			{"BOOLEAN", scanTypeBoolean},
			{"TINYINT", scanTypeInt8},
			{"SMALLINT", scanTypeInt16},
			{"INT", scanTypeInt32},
			{"BIGINT", scanTypeInt64},
			{"FLOAT", scanTypeFloat32},
			{"DOUBLE", scanTypeFloat64},
			{"decimal(10,2)", scanTypeString},
			{"TIMESTAMP", scanTypeDateTime},
			{"DATE", scanTypeDateTime},
			{"BINARY", scanTypeRawBytes},
			{"VOID", scanTypeNull},
			{"GEOGRAPHY", scanTypeUnknown},
		}
		for _, tc := range testCases {
			assert.Equal(t, tc.want, getScanType(&backend.ColumnInfo{TypeName: tc.typeName}), tc.typeName)
		}
	})
}
