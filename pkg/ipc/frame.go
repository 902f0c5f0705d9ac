package ipc

import (
	"encoding/binary"

	"github.com/nexuscore/nexus/pkg/errs"
)

// Frame is the per-service wire envelope: {magic, version, op-code, length}
// followed by payload. Each service picks its own Magic; the header shape is
// shared so every service's codec looks the same to a reader.
type Frame struct {
	Magic   uint16
	Version uint8
	OpCode  uint8
	Body    []byte
}

const frameHeaderSize = 2 + 1 + 1 + 4 // magic + version + opcode + uint32 length

// Encode serializes f into its wire form: a fixed 8-byte header followed by
// Body. Encoding is deterministic — encode, decode, encode again yields the
// same bytes.
func (f Frame) Encode() []byte {
	out := make([]byte, frameHeaderSize+len(f.Body))
	binary.BigEndian.PutUint16(out[0:2], f.Magic)
	out[2] = f.Version
	out[3] = f.OpCode
	binary.BigEndian.PutUint32(out[4:8], uint32(len(f.Body)))
	copy(out[8:], f.Body)
	return out
}

// DecodeFrame parses a wire frame produced by Encode. A truncated or
// over-declared body length yields INVALID_ARG — the caller should never
// trust a length field past the bytes actually present.
func DecodeFrame(buf []byte, wantMagic uint16) (Frame, error) {
	if len(buf) < frameHeaderSize {
		return Frame{}, errs.New(errs.InvalidArg, "ipc.DecodeFrame", nil)
	}
	magic := binary.BigEndian.Uint16(buf[0:2])
	if magic != wantMagic {
		return Frame{}, errs.New(errs.InvalidArg, "ipc.DecodeFrame", nil)
	}
	version := buf[2]
	opcode := buf[3]
	length := binary.BigEndian.Uint32(buf[4:8])
	if int(length) != len(buf)-frameHeaderSize {
		return Frame{}, errs.New(errs.InvalidArg, "ipc.DecodeFrame", nil)
	}
	body := make([]byte, length)
	copy(body, buf[8:])
	return Frame{Magic: magic, Version: version, OpCode: opcode, Body: body}, nil
}
