package rpc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// RPC codes understood by a Wukong proxy.
const (
	CodeConnect    uint32 = 0x7000
	CodeInfo       uint32 = 0x7001
	CodeSparql     uint32 = 0x7002
	CodeString     uint32 = 0x7003
	CodeDisconnect uint32 = 0x7004
)

// ProtocolVersion is sent with CONNECT. Proxies reject other versions by default.
const ProtocolVersion = "1"

const maxFrameSize = 64 << 20

var errFrameTooLarge = errors.New("frame exceeds size limit")

type request struct {
	ID      uint64   `json:"id"`
	Code    uint32   `json:"code"`
	Session string   `json:"session,omitempty"`
	Args    []string `json:"args,omitempty"`
}

type reply struct {
	ID     uint64 `json:"id"`
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// encodeFrame renders v as one length-prefixed frame.
func encodeFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return nil, errFrameTooLarge
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return buf, nil
}

// writeFrame writes v as one frame and reports how many bytes hit the wire.
func writeFrame(w io.Writer, v any) (int, error) {
	buf, err := encodeFrame(v)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// readFrame decodes one frame into v. started is true once any byte of the
// frame was consumed, which means a later error leaves the stream torn.
func readFrame(r io.Reader, v any) (started bool, err error) {
	var hdr [4]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return n > 0, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return true, errFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return true, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return true, fmt.Errorf("decode frame: %w", err)
	}
	return true, nil
}
