// Package client executes statements through the SQL Statement Execution
// REST API and serves the follow up calls of the result cursors.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	dbclient "github.com/databricks/databricks-sdk-go/client"
	sdkcfg "github.com/databricks/databricks-sdk-go/config"
	sqlexec "github.com/databricks/databricks-sdk-go/service/sql"
	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/databricks/databricks-sql-stream/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-stream/errors"
	dbsqlerrint "github.com/databricks/databricks-sql-stream/internal/errors"
	dbsqllog "github.com/databricks/databricks-sql-stream/logger"
	"github.com/pkg/errors"
)

const (
	warehousePathPrefix = "/sql/1.0/warehouses/"
	statementsPath      = "/api/2.0/sql/statements"
)

// Config for a RestClient.
type Config struct {
	Host        string
	AccessToken string
	// Warehouse id, or the http path of the warehouse.
	WarehouseId string
	Catalog     string
	Schema      string

	// Links returns chunked Arrow results; otherwise results are inline JSON arrays.
	Links bool

	// How long ExecuteStatement waits before returning a running statement.
	WaitTimeout time.Duration
	// Bounds of the polling interval while the statement runs.
	PollIntervalMin time.Duration
	PollIntervalMax time.Duration
}

// restAPI sends one authenticated request to the workspace and decodes the
// JSON response into response. Implemented by the sdk's DatabricksClient.
type restAPI interface {
	Do(ctx context.Context, method, path string, request, response any, visitors ...func(*http.Request) error) error
}

// statementResponse is the body of the execute and get statement calls.
type statementResponse struct {
	StatementId string                   `json:"statement_id"`
	Status      *sqlexec.StatementStatus `json:"status,omitempty"`
	Manifest    *sqlexec.ResultManifest  `json:"manifest,omitempty"`
	Result      *resultData              `json:"result,omitempty"`
}

// resultData mirrors sqlexec.ResultData with nullable cells, which the sdk
// type flattens to empty strings.
type resultData struct {
	ChunkIndex     int                    `json:"chunk_index,omitempty"`
	RowOffset      int64                  `json:"row_offset,omitempty"`
	ByteCount      int64                  `json:"byte_count,omitempty"`
	NextChunkIndex *int                   `json:"next_chunk_index,omitempty"`
	DataArray      [][]*string            `json:"data_array,omitempty"`
	ExternalLinks  []sqlexec.ExternalLink `json:"external_links,omitempty"`
}

// RestClient implements backend.Client on the REST API.
type RestClient struct {
	cfg Config
	api restAPI
}

var _ backend.Client = (*RestClient)(nil)

func NewRestClient(cfg Config) (*RestClient, error) {
	c, err := dbclient.New(&sdkcfg.Config{
		Host:  cfg.Host,
		Token: cfg.AccessToken,
	})
	if err != nil {
		return nil, dbsqlerrint.WrapErr(err, "creating databricks client")
	}
	return newRestClient(cfg, c), nil
}

func newRestClient(cfg Config, api restAPI) *RestClient {
	cfg.WarehouseId = strings.TrimPrefix(cfg.WarehouseId, warehousePathPrefix)
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if cfg.PollIntervalMin == 0 {
		cfg.PollIntervalMin = 100 * time.Millisecond
	}
	if cfg.PollIntervalMax == 0 {
		cfg.PollIntervalMax = 5 * time.Second
	}
	return &RestClient{cfg: cfg, api: api}
}

// Execute runs statement and waits until its result is available.
func (rc *RestClient) Execute(ctx context.Context, statement string) (*backend.ExecutionResult, error) {
	log := dbsqllog.WithContext(driverctx.ConnIdFromContext(ctx), driverctx.CorrelationIdFromContext(ctx), "")
	defer log.Duration(log.Track("databricks: execute statement"))

	disposition, format := sqlexec.DispositionInline, sqlexec.FormatJsonArray
	if rc.cfg.Links {
		disposition, format = sqlexec.DispositionExternalLinks, sqlexec.FormatArrowStream
	}

	var resp statementResponse
	err := rc.api.Do(ctx, http.MethodPost, statementsPath, sqlexec.ExecuteStatementRequest{
		Catalog:       rc.cfg.Catalog,
		Schema:        rc.cfg.Schema,
		Disposition:   disposition,
		Format:        format,
		OnWaitTimeout: sqlexec.TimeoutActionContinue,
		WaitTimeout:   fmt.Sprintf("%ds", int(rc.cfg.WaitTimeout.Seconds())),
		WarehouseId:   rc.cfg.WarehouseId,
		Statement:     statement,
	}, &resp)
	if err != nil {
		return nil, dbsqlerrint.NewRequestError(ctx, "failed to execute statement", err)
	}

	ctx = driverctx.NewContextWithQueryId(ctx, resp.StatementId)
	st := stmtState{
		id:       resp.StatementId,
		status:   resp.Status,
		manifest: resp.Manifest,
		result:   resp.Result,
	}

	if !isTerminal(st.status) {
		st, err = rc.wait(ctx, st.id)
		if err != nil {
			return nil, err
		}
	}

	if err := checkStatus(ctx, st.status); err != nil {
		log.Err(err).Msgf("databricks: statement %s did not succeed", st.id)
		return nil, err
	}

	return toExecutionResult(st)
}

// wait polls the statement until it reaches a terminal state.
func (rc *RestClient) wait(ctx context.Context, id string) (stmtState, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = rc.cfg.PollIntervalMin
	exp.MaxInterval = rc.cfg.PollIntervalMax
	exp.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (stmtState, error) {
		var resp statementResponse
		err := rc.api.Do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", statementsPath, id), nil, &resp)
		if err != nil {
			return stmtState{}, backoff.Permanent(dbsqlerrint.NewRequestError(ctx, "failed to get statement status", err))
		}
		st := stmtState{id: id, status: resp.Status, manifest: resp.Manifest, result: resp.Result}
		if !isTerminal(st.status) {
			return st, errStillRunning
		}
		return st, nil
	}, backoff.WithContext(exp, ctx))
}

func (rc *RestClient) GetChunkLinks(ctx context.Context, h backend.Handle, startIndex int) ([]backend.ChunkLink, error) {
	data, err := rc.resultChunk(ctx, h, startIndex)
	if err != nil {
		return nil, err
	}
	return toChunkLinks(data.ExternalLinks)
}

func (rc *RestClient) FetchTextChunk(ctx context.Context, h backend.Handle, chunkIndex int) (*backend.TextChunk, error) {
	data, err := rc.resultChunk(ctx, h, chunkIndex)
	if err != nil {
		return nil, err
	}
	return toTextChunk(data), nil
}

func (rc *RestClient) resultChunk(ctx context.Context, h backend.Handle, chunkIndex int) (*resultData, error) {
	var data resultData
	path := fmt.Sprintf("%s/%s/result/chunks/%d", statementsPath, h.Id(), chunkIndex)
	if err := rc.api.Do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FetchResults is not offered by the REST API; its inline results are textual.
func (rc *RestClient) FetchResults(ctx context.Context, h backend.Handle, maxRows int) (*backend.ResultPage, error) {
	return nil, dbsqlerrint.NewDriverError(ctx, dbsqlerrint.ErrNotImplemented, dbsqlerr.ErrNotSupported)
}

var errStillRunning = errors.New("statement is still running")

type stmtState struct {
	id       string
	status   *sqlexec.StatementStatus
	manifest *sqlexec.ResultManifest
	result   *resultData
}

func isTerminal(s *sqlexec.StatementStatus) bool {
	if s == nil {
		return false
	}
	switch string(s.State) {
	case "PENDING", "RUNNING":
		return false
	default:
		return true
	}
}

func checkStatus(ctx context.Context, s *sqlexec.StatementStatus) error {
	if s == nil {
		return dbsqlerrint.NewRequestError(ctx, "statement has no status", nil)
	}
	if string(s.State) == "SUCCEEDED" {
		return nil
	}

	msg := fmt.Sprintf("statement %s", strings.ToLower(string(s.State)))
	if s.Error != nil {
		return dbsqlerrint.NewRequestError(ctx, msg, errors.New(s.Error.Message))
	}
	return dbsqlerrint.NewRequestError(ctx, msg, nil)
}

func toExecutionResult(st stmtState) (*backend.ExecutionResult, error) {
	res := &backend.ExecutionResult{
		Handle: backend.StatementHandle(st.id),
	}

	m := st.manifest
	if m == nil {
		m = &sqlexec.ResultManifest{}
	}
	res.Schema = toSchema(m.Schema)

	totalRows := int64(m.TotalRowCount)
	res.TotalRowCount = &totalRows

	if string(m.Format) == string(sqlexec.FormatArrowStream) {
		res.Disposition = backend.DispositionExternalLinks
		manifest, err := toManifest(m, st.result)
		if err != nil {
			return nil, err
		}
		res.Manifest = manifest
		return res, nil
	}

	res.Disposition = backend.DispositionInlineText
	if st.result != nil {
		res.FirstTextChunk = toTextChunk(st.result)
	}
	return res, nil
}

func toManifest(m *sqlexec.ResultManifest, first *resultData) (*backend.Manifest, error) {
	totalRows := int64(m.TotalRowCount)
	totalChunks := int(m.TotalChunkCount)

	manifest := &backend.Manifest{
		TotalRowCount:   &totalRows,
		TotalChunkCount: &totalChunks,
		Compression:     backend.CodecNone,
		Schema:          toSchema(m.Schema),
	}
	for _, c := range m.Chunks {
		manifest.Chunks = append(manifest.Chunks, backend.ChunkInfo{
			Index:     int(c.ChunkIndex),
			RowOffset: int64(c.RowOffset),
			RowCount:  int64(c.RowCount),
			ByteCount: int64(c.ByteCount),
		})
	}

	if first != nil {
		links, err := toChunkLinks(first.ExternalLinks)
		if err != nil {
			return nil, err
		}
		manifest.Links = links
	}
	return manifest, nil
}

func toChunkLinks(links []sqlexec.ExternalLink) ([]backend.ChunkLink, error) {
	out := make([]backend.ChunkLink, 0, len(links))
	for _, l := range links {
		cl := backend.ChunkLink{
			ChunkIndex: int(l.ChunkIndex),
			URL:        l.ExternalLink,
		}
		if l.Expiration != "" {
			expiry, err := time.Parse(time.RFC3339, l.Expiration)
			if err != nil {
				return nil, dbsqlerrint.WrapErrf(err, "invalid expiration for chunk %d", cl.ChunkIndex)
			}
			cl.Expiry = expiry
		}
		out = append(out, cl)
	}
	return out, nil
}

func toTextChunk(data *resultData) *backend.TextChunk {
	return &backend.TextChunk{
		ChunkIndex:     data.ChunkIndex,
		RowOffset:      data.RowOffset,
		ByteCount:      data.ByteCount,
		Rows:           data.DataArray,
		NextChunkIndex: data.NextChunkIndex,
	}
}

func toSchema(s *sqlexec.ResultSchema) *backend.Schema {
	schema := &backend.Schema{}
	if s == nil {
		return schema
	}
	for _, c := range s.Columns {
		schema.Columns = append(schema.Columns, backend.ColumnInfo{
			Name:     c.Name,
			TypeName: strings.ToUpper(string(c.TypeName)),
			Nullable: true,
		})
	}
	return schema
}
