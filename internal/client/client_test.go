package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	sqlexec "github.com/databricks/databricks-sdk-go/service/sql"
	"github.com/databricks/databricks-sql-stream/backend"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	"github.com/databricks/databricks-sql-stream/internal/decode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers requests with JSON bodies keyed by "METHOD path".
type fakeAPI struct {
	mu       sync.Mutex
	executed []sqlexec.ExecuteStatementRequest
	calls    map[string]int

	routes map[string]func(call int) (string, error)
}

func (f *fakeAPI) Do(ctx context.Context, method, path string, request, response any, visitors ...func(*http.Request) error) error {
	key := method + " " + path

	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[key]++
	call := f.calls[key]
	if req, ok := request.(sqlexec.ExecuteStatementRequest); ok {
		f.executed = append(f.executed, req)
	}
	f.mu.Unlock()

	route, ok := f.routes[key]
	if !ok {
		return fmt.Errorf("unexpected request %s", key)
	}
	body, err := route(call)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), response)
}

func (f *fakeAPI) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func respond(body string) func(int) (string, error) {
	return func(int) (string, error) { return body, nil }
}

func testRestClient(links bool, api restAPI) *RestClient {
	return newRestClient(Config{
		WarehouseId:     "/sql/1.0/warehouses/abc123",
		Links:           links,
		PollIntervalMin: time.Millisecond,
		PollIntervalMax: 2 * time.Millisecond,
	}, api)
}

const (
	executePath = "POST /api/2.0/sql/statements"

	linkManifest = `{
		"format": "ARROW_STREAM",
		"total_row_count": 5,
		"total_chunk_count": 2,
		"chunks": [
			{"chunk_index": 0, "row_offset": 0, "row_count": 3, "byte_count": 100},
			{"chunk_index": 1, "row_offset": 3, "row_count": 2, "byte_count": 80}
		],
		"schema": {"columns": [
			{"name": "id", "type_name": "INT"},
			{"name": "name", "type_name": "STRING"}
		]}
	}`
)

func TestRestClientExecute(t *testing.T) {
	t.Run("external links", func(t *testing.T) {
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath: respond(`{
				"statement_id": "stmt-1",
				"status": {"state": "SUCCEEDED"},
				"manifest": ` + linkManifest + `,
				"result": {"external_links": [
					{"chunk_index": 0, "external_link": "https://storage/0", "expiration": "2030-01-02T03:04:05Z"}
				]}
			}`),
		}}

		res, err := testRestClient(true, api).Execute(context.Background(), "select 1")
		require.NoError(t, err)

		require.Len(t, api.executed, 1)
		req := api.executed[0]
		assert.Equal(t, "abc123", req.WarehouseId)
		assert.Equal(t, sqlexec.DispositionExternalLinks, req.Disposition)
		assert.Equal(t, sqlexec.FormatArrowStream, req.Format)
		assert.Equal(t, "10s", req.WaitTimeout)

		assert.Equal(t, "stmt-1", res.Handle.Id())
		assert.Equal(t, backend.DispositionExternalLinks, res.Disposition)
		require.NotNil(t, res.Manifest)
		assert.Equal(t, int64(5), *res.Manifest.TotalRowCount)
		assert.Equal(t, 2, *res.Manifest.TotalChunkCount)
		assert.Equal(t, []backend.ChunkInfo{
			{Index: 0, RowOffset: 0, RowCount: 3, ByteCount: 100},
			{Index: 1, RowOffset: 3, RowCount: 2, ByteCount: 80},
		}, res.Manifest.Chunks)
		require.Len(t, res.Manifest.Links, 1)
		assert.Equal(t, "https://storage/0", res.Manifest.Links[0].URL)
		assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), res.Manifest.Links[0].Expiry.UTC())
		assert.Equal(t, []backend.ColumnInfo{
			{Name: "id", TypeName: "INT", Nullable: true},
			{Name: "name", TypeName: "STRING", Nullable: true},
		}, res.Schema.Columns)
	})

	t.Run("inline text", func(t *testing.T) {
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath: respond(`{
				"statement_id": "stmt-2",
				"status": {"state": "SUCCEEDED"},
				"manifest": {"format": "JSON_ARRAY", "total_row_count": 2},
				"result": {
					"chunk_index": 0,
					"next_chunk_index": 1,
					"byte_count": 12,
					"data_array": [["1", "a"], ["2", "b"]]
				}
			}`),
		}}

		res, err := testRestClient(false, api).Execute(context.Background(), "select 1")
		require.NoError(t, err)

		assert.Equal(t, sqlexec.DispositionInline, api.executed[0].Disposition)
		assert.Equal(t, backend.DispositionInlineText, res.Disposition)
		require.NotNil(t, res.FirstTextChunk)
		assert.Equal(t, int64(12), res.FirstTextChunk.ByteCount)
		require.NotNil(t, res.FirstTextChunk.NextChunkIndex)
		assert.Equal(t, 1, *res.FirstTextChunk.NextChunkIndex)
		require.Len(t, res.FirstTextChunk.Rows, 2)
		assert.Equal(t, "b", *res.FirstTextChunk.Rows[1][1])
	})

	t.Run("null cells stay null", func(t *testing.T) {
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath: respond(`{
				"statement_id": "stmt-n",
				"status": {"state": "SUCCEEDED"},
				"manifest": {
					"format": "JSON_ARRAY",
					"total_row_count": 1,
					"schema": {"columns": [
						{"name": "id", "type_name": "BIGINT"},
						{"name": "amount", "type_name": "BIGINT"}
					]}
				},
				"result": {"data_array": [["1", null]]}
			}`),
		}}

		res, err := testRestClient(false, api).Execute(context.Background(), "select 1, null")
		require.NoError(t, err)
		require.Len(t, res.FirstTextChunk.Rows, 1)
		assert.Nil(t, res.FirstTextChunk.Rows[0][1])
		assert.Nil(t, res.FirstTextChunk.NextChunkIndex)

		rs := decode.NewTextRowSet(res.FirstTextChunk.Rows, res.Schema, time.UTC)
		v, err := rs.Value(0, 1)
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = rs.Value(0, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("polls until terminal", func(t *testing.T) {
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath: respond(`{"statement_id": "stmt-3", "status": {"state": "PENDING"}}`),
			"GET /api/2.0/sql/statements/stmt-3": func(call int) (string, error) {
				if call < 3 {
					return `{"statement_id": "stmt-3", "status": {"state": "RUNNING"}}`, nil
				}
				return `{"statement_id": "stmt-3", "status": {"state": "SUCCEEDED"}, "manifest": ` + linkManifest + `}`, nil
			},
		}}

		res, err := testRestClient(true, api).Execute(context.Background(), "select 1")
		require.NoError(t, err)
		assert.Equal(t, 3, api.Calls("GET /api/2.0/sql/statements/stmt-3"))
		assert.Equal(t, backend.DispositionExternalLinks, res.Disposition)
		assert.Empty(t, res.Manifest.Links)
	})

	t.Run("failed statement", func(t *testing.T) {
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath: respond(`{
				"statement_id": "stmt-4",
				"status": {"state": "FAILED", "error": {"message": "table not found"}}
			}`),
		}}

		_, err := testRestClient(true, api).Execute(context.Background(), "select 1")
		require.Error(t, err)
		assert.ErrorIs(t, err, dbsqlerr.RequestError)
		assert.Contains(t, err.Error(), "statement failed")
		assert.Contains(t, err.Error(), "table not found")
	})

	t.Run("execute error", func(t *testing.T) {
		boom := errors.New("connection refused")
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath: func(int) (string, error) { return "", boom },
		}}

		_, err := testRestClient(true, api).Execute(context.Background(), "select 1")
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, dbsqlerr.RequestError)
	})

	t.Run("poll error stops waiting", func(t *testing.T) {
		boom := errors.New("unavailable")
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath:                          respond(`{"statement_id": "stmt-5", "status": {"state": "RUNNING"}}`),
			"GET /api/2.0/sql/statements/stmt-5": func(int) (string, error) { return "", boom },
		}}

		_, err := testRestClient(true, api).Execute(context.Background(), "select 1")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, api.Calls("GET /api/2.0/sql/statements/stmt-5"))
	})

	t.Run("context cancels polling", func(t *testing.T) {
		running := `{"statement_id": "stmt-6", "status": {"state": "RUNNING"}}`
		api := &fakeAPI{routes: map[string]func(int) (string, error){
			executePath:                          respond(running),
			"GET /api/2.0/sql/statements/stmt-6": respond(running),
		}}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := testRestClient(true, api).Execute(ctx, "select 1")
		assert.Error(t, err)
	})
}

func TestRestClientChunks(t *testing.T) {
	api := &fakeAPI{routes: map[string]func(int) (string, error){
		"GET /api/2.0/sql/statements/stmt/result/chunks/9": func(int) (string, error) {
			return "", errors.New("no such chunk")
		},
		"GET /api/2.0/sql/statements/stmt/result/chunks/2": respond(`{"external_links": [
			{"chunk_index": 2, "external_link": "https://storage/2"},
			{"chunk_index": 3, "external_link": "https://storage/3", "expiration": "not a time"}
		]}`),
		"GET /api/2.0/sql/statements/stmt/result/chunks/5": respond(`{"external_links": [
			{"chunk_index": 5, "external_link": "https://storage/5", "expiration": "2030-01-02T03:04:05Z"},
			{"chunk_index": 6, "external_link": "https://storage/6"}
		]}`),
		"GET /api/2.0/sql/statements/stmt/result/chunks/4": respond(`{
			"chunk_index": 4,
			"row_offset": 10,
			"next_chunk_index": 5,
			"data_array": [["x", null]]
		}`),
	}}
	rc := testRestClient(true, api)
	h := backend.StatementHandle("stmt")
	ctx := context.Background()

	t.Run("links", func(t *testing.T) {
		links, err := rc.GetChunkLinks(ctx, h, 9)
		assert.Error(t, err)
		assert.Nil(t, links)

		_, err = rc.GetChunkLinks(ctx, h, 2)
		assert.ErrorContains(t, err, "invalid expiration for chunk 3")

		links, err = rc.GetChunkLinks(ctx, h, 5)
		require.NoError(t, err)
		require.Len(t, links, 2)
		assert.Equal(t, 6, links[1].ChunkIndex)
		assert.True(t, links[1].Expiry.IsZero())
	})

	t.Run("text chunk", func(t *testing.T) {
		tc, err := rc.FetchTextChunk(ctx, h, 4)
		require.NoError(t, err)
		assert.Equal(t, 4, tc.ChunkIndex)
		assert.Equal(t, int64(10), tc.RowOffset)
		require.NotNil(t, tc.NextChunkIndex)
		assert.Equal(t, 5, *tc.NextChunkIndex)
		assert.Equal(t, "x", *tc.Rows[0][0])
		assert.Nil(t, tc.Rows[0][1])
	})

	t.Run("columnar pages are not served", func(t *testing.T) {
		_, err := rc.FetchResults(ctx, h, 100)
		assert.ErrorIs(t, err, dbsqlerr.ErrNotSupported)
		assert.ErrorIs(t, err, dbsqlerr.DriverError)
	})
}
