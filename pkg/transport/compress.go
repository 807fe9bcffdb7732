package transport

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressFrame and decompressFrame wrap a frame payload in zstd,
// adapted from the teacher's compressZstd/decompressZstd helpers
// (pkg/remote/compress.go) with the HTTP content-encoding plumbing
// stripped: frame.go only ever needs one-shot encode/decode of an
// in-memory payload, never a streaming body.
func compressFrame(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressFrame(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: zstd decode: %w", err)
	}
	return out, nil
}
