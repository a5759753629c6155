package chunk

import (
	"context"
	"errors"
	"testing"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkState(t *testing.T) {
	t.Run("download lifecycle", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 1, RowCount: 2})
		assert.Equal(t, Pending, c.State())

		_, ok := c.Link()
		assert.False(t, ok)
		assert.Error(t, c.StartDownload())

		require.True(t, c.SetLink(linkFor(1)))
		assert.Equal(t, LinkResolved, c.State())

		require.NoError(t, c.StartDownload())
		assert.Equal(t, Downloading, c.State())
		require.NoError(t, c.StartDownload())

		rows := &countingRowSet{rows: 2}
		require.True(t, c.Succeed(rows, 2))
		waitDone(t, c)
		assert.Equal(t, Succeeded, c.State())
		assert.Equal(t, 2, c.Attempts())

		got, err := c.Result()
		require.NoError(t, err)
		assert.Same(t, rows, got)

		assert.False(t, c.SetLink(linkFor(1)))
		assert.False(t, c.Fail(errors.New("late"), 1))
		assert.Equal(t, Succeeded, c.State())
	})

	t.Run("link can be replaced before download", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 0})
		require.True(t, c.SetLink(backend.ChunkLink{URL: "a"}))
		require.True(t, c.SetLink(backend.ChunkLink{URL: "b"}))
		l, ok := c.Link()
		require.True(t, ok)
		assert.Equal(t, "b", l.URL)
		assert.Equal(t, LinkResolved, c.State())
	})

	t.Run("failure from pending", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 4})
		boom := errors.New("boom")
		require.True(t, c.Fail(boom, 0))
		waitDone(t, c)
		assert.Equal(t, Failed, c.State())

		for i := 0; i < 2; i++ {
			rows, err := c.Result()
			assert.Nil(t, rows)
			assert.Same(t, boom, err)
		}
	})

	t.Run("abort cancels the download", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 0})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c.setCancel(cancel)
		c.SetLink(linkFor(0))
		require.NoError(t, c.StartDownload())

		require.True(t, c.Abort(errors.New("aborted")))
		assert.Equal(t, FailedAborted, c.State())
		assert.Error(t, ctx.Err())
		assert.False(t, c.Abort(errors.New("again")))
	})

	t.Run("rows arriving after abort are released", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 0})
		c.Abort(errors.New("aborted"))

		rows := &countingRowSet{rows: 1}
		assert.False(t, c.Succeed(rows, 1))
		assert.Equal(t, int32(1), rows.released.Load())
		assert.Equal(t, FailedAborted, c.State())
	})

	t.Run("release happens once", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 0})
		c.SetLink(linkFor(0))
		require.NoError(t, c.StartDownload())
		rows := &countingRowSet{rows: 1}
		c.Succeed(rows, 1)

		assert.True(t, c.Release(errors.New("unused")))
		assert.False(t, c.Release(errors.New("unused")))
		assert.True(t, c.Released())
		assert.Equal(t, int32(1), rows.released.Load())
		assert.Equal(t, Succeeded, c.State())

		got, err := c.Result()
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("release of an unfinished chunk aborts it", func(t *testing.T) {
		c := newChunk(Descriptor{Index: 0})
		abortErr := errors.New("aborted")
		assert.True(t, c.Release(abortErr))
		waitDone(t, c)
		assert.Equal(t, FailedAborted, c.State())
		_, err := c.Result()
		assert.Same(t, abortErr, err)
	})

	t.Run("state names", func(t *testing.T) {
		assert.Equal(t, "PENDING", Pending.String())
		assert.Equal(t, "FAILED_ABORTED", FailedAborted.String())
		assert.Equal(t, "State(42)", State(42).String())
		assert.False(t, Downloading.Terminal())
		assert.True(t, Failed.Terminal())
	})
}
