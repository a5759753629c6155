package chunk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/internal/config"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	"github.com/databricks/databricks-sql-stream/internal/testutil"
	"github.com/stretchr/testify/require"
)

type downloadFunc func(ctx context.Context, link backend.ChunkLink, attempt int) ([]byte, error)

// fakeDownloader counts calls per chunk and delegates to fn.
type fakeDownloader struct {
	mu    sync.Mutex
	calls map[int]int
	fn    downloadFunc
}

func newFakeDownloader(fn downloadFunc) *fakeDownloader {
	return &fakeDownloader{calls: map[int]int{}, fn: fn}
}

func (d *fakeDownloader) Download(ctx context.Context, link backend.ChunkLink) ([]byte, error) {
	d.mu.Lock()
	d.calls[link.ChunkIndex]++
	n := d.calls[link.ChunkIndex]
	d.mu.Unlock()
	return d.fn(ctx, link, n)
}

func (d *fakeDownloader) Calls(index int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[index]
}

// fakeLinks resolves links through fn and counts calls per start index.
type fakeLinks struct {
	mu    sync.Mutex
	calls map[int]int
	fn    func(ctx context.Context, startIndex int) ([]backend.ChunkLink, error)
}

func newFakeLinks(fn func(ctx context.Context, startIndex int) ([]backend.ChunkLink, error)) *fakeLinks {
	return &fakeLinks{calls: map[int]int{}, fn: fn}
}

func (f *fakeLinks) GetChunkLinks(ctx context.Context, h backend.Handle, startIndex int) ([]backend.ChunkLink, error) {
	f.mu.Lock()
	f.calls[startIndex]++
	f.mu.Unlock()
	return f.fn(ctx, startIndex)
}

func (f *fakeLinks) Calls(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[index]
}

func (f *fakeLinks) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func linkFor(index int) backend.ChunkLink {
	return backend.ChunkLink{ChunkIndex: index, URL: fmt.Sprintf("mem://chunks/%d", index)}
}

// testResult builds a manifest and the arrow payload of each chunk. Chunk i
// holds the ids RowOffset..RowOffset+RowCount-1.
func testResult(t testing.TB, rowCounts []int64, withLinks bool) (*backend.Manifest, [][]byte) {
	t.Helper()

	m := &backend.Manifest{}
	payloads := make([][]byte, len(rowCounts))

	var offset int64
	for i, n := range rowCounts {
		payloads[i] = testutil.ArrowStream(t, offset, int(n))
		m.Chunks = append(m.Chunks, backend.ChunkInfo{
			Index:     i,
			RowOffset: offset,
			RowCount:  n,
			ByteCount: int64(len(payloads[i])),
		})
		if withLinks {
			m.Links = append(m.Links, linkFor(i))
		}
		offset += n
	}

	count := len(rowCounts)
	m.TotalRowCount = &offset
	m.TotalChunkCount = &count
	return m, payloads
}

func servePayloads(payloads [][]byte) downloadFunc {
	return func(ctx context.Context, link backend.ChunkLink, attempt int) ([]byte, error) {
		return payloads[link.ChunkIndex], nil
	}
}

func testConfig() *config.Config {
	cfg := config.WithDefaults()
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 2 * time.Millisecond
	cfg.MaxDownloadAttempts = 3
	return cfg
}

func arrowDecoder(codec backend.CompressionCodec) decode.Decoder {
	return decode.WithCodec(codec, decode.NewArrowDecoder(time.UTC))
}

// countingRowSet records Release calls.
type countingRowSet struct {
	rows     int64
	released atomic.Int32
}

func (r *countingRowSet) NumRows() int64  { return r.rows }
func (r *countingRowSet) NumColumns() int { return 1 }
func (r *countingRowSet) Value(row int64, col int) (any, error) {
	return row, nil
}
func (r *countingRowSet) Release() { r.released.Add(1) }

func waitDone(t *testing.T, c *Chunk) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "chunk did not finish", "chunk %d in state %v", c.Index, c.State())
	}
}
