package s3provider

import (
	"fmt"

	"ledgervault/pkg/status"

	"github.com/klauspost/compress/zstd"
)

// codec 压缩上传到云端的负载。Encoder/Decoder 的 EncodeAll/DecodeAll 可以并发调用。
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) compress(data []byte) []byte {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/2+16))
}

func (c *codec) decompress(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, status.Wrap(status.ParseError, err, "failed to decompress cloud payload")
	}
	return out, nil
}

func (c *codec) close() {
	_ = c.enc.Close()
	c.dec.Close()
}
