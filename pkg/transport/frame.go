package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame kinds exchanged over a streaming transport (tcp/ssh). A session
// is a sequence of request frames, each answered by exactly one
// response frame, mirroring the request/response shape of the
// teacher's pkg/remote/client.go HTTP endpoints (list-refs, batch
// objects, push, update-refs) collapsed onto a single connection.
type frameKind byte

const (
	frameListRefsReq frameKind = iota + 1
	frameListRefsResp
	frameFetchReq
	frameFetchResp
	framePushReq
	framePushResp
	frameError
)

// writeFrame writes a length-prefixed, zstd-compressed frame: kind byte,
// 4-byte big-endian compressed length, compressed payload.
func writeFrame(w io.Writer, kind frameKind, payload []byte) error {
	compressed, err := compressFrame(payload)
	if err != nil {
		return fmt.Errorf("transport: frame: %w", err)
	}

	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(compressed)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: frame: write header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("transport: frame: write payload: %w", err)
	}
	return nil
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader) (frameKind, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	kind := frameKind(header[0])
	n := binary.BigEndian.Uint32(header[1:])

	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return 0, nil, fmt.Errorf("transport: frame: read payload: %w", err)
	}

	payload, err := decompressFrame(compressed)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: frame: %w", err)
	}
	return kind, payload, nil
}
