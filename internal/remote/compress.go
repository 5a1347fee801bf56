package remote

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	encodingZstd = "zstd"
	// minCompressSize skips bodies too small to benefit.
	minCompressSize = 128
)

type compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCompressor() (*compressor, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &compressor{encoder: encoder, decoder: decoder}, nil
}

// compress reports false when data is left as is.
func (c *compressor) compress(data []byte) ([]byte, bool) {
	if len(data) < minCompressSize {
		return data, false
	}
	out := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(out) >= len(data) {
		return data, false
	}
	return out, true
}

func (c *compressor) decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *compressor) close() {
	c.encoder.Close()
	c.decoder.Close()
}
