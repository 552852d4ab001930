package serialisation

import (
	"fmt"

	"github.com/always-cache/dejavu/operation"
	"github.com/klauspost/compress/zstd"
)

// CompressionTag identifies zstd-compressed payloads.
const CompressionTag = "COMPRESS"

// CompressionDecorator compresses payloads with zstd.
// It applies to operations that ask for compression.
type CompressionDecorator struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressionDecorator creates a decorator with the default zstd level.
func NewCompressionDecorator() (*CompressionDecorator, error) {
	// zero frames so that empty payloads still round-trip through a valid frame
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, fmt.Errorf("could not create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd decoder: %w", err)
	}
	return &CompressionDecorator{encoder: encoder, decoder: decoder}, nil
}

func (c *CompressionDecorator) Tag() string { return CompressionTag }

func (c *CompressionDecorator) Applies(op operation.Cache) bool {
	return op.ShouldCompress()
}

func (c *CompressionDecorator) Encode(b []byte) ([]byte, error) {
	return c.encoder.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

func (c *CompressionDecorator) Decode(b []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Tag: CompressionTag, Err: err}
	}
	return out, nil
}
