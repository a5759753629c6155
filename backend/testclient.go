package backend

import (
	"context"

	"github.com/pkg/errors"
)

var ErrNotImplemented = errors.New("databricks: not implemented")

// TestClient is a Client whose behaviour is supplied by function fields.
// Unset functions return ErrNotImplemented.
type TestClient struct {
	GetChunkLinksFn  func(ctx context.Context, h Handle, startIndex int) ([]ChunkLink, error)
	FetchResultsFn   func(ctx context.Context, h Handle, maxRows int) (*ResultPage, error)
	FetchTextChunkFn func(ctx context.Context, h Handle, chunkIndex int) (*TextChunk, error)
}

var _ Client = (*TestClient)(nil)

func (c *TestClient) GetChunkLinks(ctx context.Context, h Handle, startIndex int) ([]ChunkLink, error) {
	if c.GetChunkLinksFn != nil {
		return c.GetChunkLinksFn(ctx, h, startIndex)
	}
	return nil, ErrNotImplemented
}

func (c *TestClient) FetchResults(ctx context.Context, h Handle, maxRows int) (*ResultPage, error) {
	if c.FetchResultsFn != nil {
		return c.FetchResultsFn(ctx, h, maxRows)
	}
	return nil, ErrNotImplemented
}

func (c *TestClient) FetchTextChunk(ctx context.Context, h Handle, chunkIndex int) (*TextChunk, error) {
	if c.FetchTextChunkFn != nil {
		return c.FetchTextChunkFn(ctx, h, chunkIndex)
	}
	return nil, ErrNotImplemented
}
