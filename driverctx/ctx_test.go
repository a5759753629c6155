package driverctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextIds(t *testing.T) {
	t.Run("ids round trip", func(t *testing.T) {
		ctx := NewContextWithConnId(context.Background(), "conn-1")
		ctx = NewContextWithCorrelationId(ctx, "corr-1")
		ctx = NewContextWithQueryId(ctx, "query-1")

		assert.Equal(t, "conn-1", ConnIdFromContext(ctx))
		assert.Equal(t, "corr-1", CorrelationIdFromContext(ctx))
		assert.Equal(t, "query-1", QueryIdFromContext(ctx))
	})

	t.Run("missing ids are empty", func(t *testing.T) {
		assert.Equal(t, "", ConnIdFromContext(context.Background()))
		var nilCtx context.Context
		assert.Equal(t, "", QueryIdFromContext(nilCtx))
	})

	t.Run("query id callback", func(t *testing.T) {
		var got string
		ctx := NewContextWithQueryIdCallback(context.Background(), func(id string) { got = id })
		_ = NewContextWithQueryId(ctx, "query-2")
		assert.Equal(t, "query-2", got)
	})

	t.Run("background context keeps ids but not cancellation", func(t *testing.T) {
		parent, cancel := context.WithCancel(NewContextWithConnId(context.Background(), "conn-3"))
		parent = NewContextWithQueryId(parent, "query-3")
		cancel()

		bg := NewContextFromBackground(parent)
		assert.NoError(t, bg.Err())
		assert.Equal(t, "conn-3", ConnIdFromContext(bg))
		assert.Equal(t, "query-3", QueryIdFromContext(bg))
	})
}
