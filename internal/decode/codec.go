package decode

import (
	"fmt"
	"io"

	"github.com/databricks/databricks-sql-stream/backend"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// NewReader wraps r with a decompressor for codec.
func NewReader(codec backend.CompressionCodec, r io.Reader) (io.ReadCloser, error) {
	switch codec {
	case backend.CodecNone:
		return io.NopCloser(r), nil
	case backend.CodecLZ4Frame:
		return io.NopCloser(lz4.NewReader(r)), nil
	case backend.CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec %v", codec)
	}
}

// WithCodec returns a Decoder that decompresses its input before handing it to inner.
func WithCodec(codec backend.CompressionCodec, inner Decoder) Decoder {
	if codec == backend.CodecNone {
		return inner
	}
	return &codecDecoder{codec: codec, inner: inner}
}

type codecDecoder struct {
	codec backend.CompressionCodec
	inner Decoder
}

func (d *codecDecoder) Decode(r io.Reader) (RowSet, error) {
	cr, err := NewReader(d.codec, r)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	return d.inner.Decode(cr)
}
