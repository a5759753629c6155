// Package backend holds the contracts between the result streaming core and
// the RPC layer that talks to the SQL warehouse. The RPC layer produces
// manifests, links and inline pages; the core consumes them.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Handle identifies a statement execution on the backend.
type Handle interface {
	Id() string
}

// StatementHandle is a Handle backed by a statement id.
type StatementHandle string

func (h StatementHandle) Id() string {
	return string(h)
}

// CompressionCodec identifies how a chunk or batch payload is compressed.
type CompressionCodec int

const (
	CodecNone CompressionCodec = iota
	CodecLZ4Frame
	CodecZstd
)

func (c CompressionCodec) String() string {
	switch c {
	case CodecNone:
		return "NONE"
	case CodecLZ4Frame:
		return "LZ4_FRAME"
	case CodecZstd:
		return "ZSTD"
	default:
		return fmt.Sprintf("CompressionCodec(%d)", int(c))
	}
}

// ParseCompressionCodec maps a backend codec name to a CompressionCodec.
// An empty name means no compression.
func ParseCompressionCodec(name string) (CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "NONE":
		return CodecNone, nil
	case "LZ4_FRAME", "LZ4":
		return CodecLZ4Frame, nil
	case "ZSTD":
		return CodecZstd, nil
	default:
		return CodecNone, fmt.Errorf("unknown compression codec %q", name)
	}
}

// Disposition is the encoding in which a result set is delivered.
type Disposition int

const (
	// Arrow IPC chunks fetched through time limited links.
	DispositionExternalLinks Disposition = iota
	// Arrow batches returned in the body of each fetch call.
	DispositionInlineArrow
	// Textual rows returned in the body of each fetch call.
	DispositionInlineText
)

func (d Disposition) String() string {
	switch d {
	case DispositionExternalLinks:
		return "EXTERNAL_LINKS"
	case DispositionInlineArrow:
		return "INLINE_ARROW"
	case DispositionInlineText:
		return "INLINE_TEXT"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// ChunkInfo describes one chunk of a link addressed result.
type ChunkInfo struct {
	Index     int
	RowOffset int64
	RowCount  int64
	// Size of the payload served by the chunk's link. Zero when unknown.
	ByteCount int64
}

// ChunkLink is a time limited location a chunk can be downloaded from.
type ChunkLink struct {
	ChunkIndex int
	URL        string
	// Zero when the link does not expire.
	Expiry time.Time
	// Extra headers required by the storage service.
	Headers map[string]string
}

// Manifest describes the chunk layout of a link addressed result.
type Manifest struct {
	TotalRowCount   *int64
	TotalChunkCount *int
	Compression     CompressionCodec
	Chunks          []ChunkInfo
	// Links already known when the statement finished. May be empty.
	Links  []ChunkLink
	Schema *Schema
}

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name     string
	TypeName string
	Nullable bool
}

type Schema struct {
	Columns []ColumnInfo
}

// ArrowBatch is one inline Arrow record batch, without its schema message.
type ArrowBatch struct {
	RowCount int64
	Data     []byte
}

// ResultPage is one round trip of the inline columnar protocol.
type ResultPage struct {
	StartRowOffset int64
	// Serialized Arrow schema prepended to every batch before decoding.
	ArrowSchema []byte
	Batches     []ArrowBatch
	Compression CompressionCodec
	HasMoreRows bool
	// Total rows in the result when the backend reports it.
	TotalRowCount *int64
}

// TextChunk is one batch of textual rows. Nil cells are SQL NULL.
type TextChunk struct {
	ChunkIndex int
	RowOffset  int64
	Rows       [][]*string
	// Size of the batch as reported by the backend. Zero when unknown.
	ByteCount      int64
	NextChunkIndex *int
}

// ExecutionResult is everything the RPC layer knows about a finished statement.
type ExecutionResult struct {
	Handle      Handle
	Disposition Disposition
	Schema      *Schema

	// Set for DispositionExternalLinks.
	Manifest *Manifest
	// Set for DispositionInlineArrow.
	FirstPage *ResultPage
	// Set for DispositionInlineText.
	FirstTextChunk *TextChunk
	// Total rows for inline results when known.
	TotalRowCount *int64
}

// LinkFetcher resolves links for chunks starting at startIndex.
// It may return links for more than one chunk.
type LinkFetcher interface {
	GetChunkLinks(ctx context.Context, h Handle, startIndex int) ([]ChunkLink, error)
}

// PageFetcher returns the next page of an inline columnar result.
type PageFetcher interface {
	FetchResults(ctx context.Context, h Handle, maxRows int) (*ResultPage, error)
}

// TextChunkFetcher returns a chunk of an inline textual result.
type TextChunkFetcher interface {
	FetchTextChunk(ctx context.Context, h Handle, chunkIndex int) (*TextChunk, error)
}

// Client is implemented by RPC layers that can serve every disposition.
type Client interface {
	LinkFetcher
	PageFetcher
	TextChunkFetcher
}
