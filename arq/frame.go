package arq

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed frame header: 4 bytes sequence, 1 byte type.
const HeaderSize = 5

type FrameType uint8

const (
	FrameFilename FrameType = iota
	FrameData
	FrameEOF
	FrameAck
)

func (t FrameType) String() string {
	switch t {
	case FrameFilename:
		return "FILENAME"
	case FrameData:
		return "DATA"
	case FrameEOF:
		return "EOF"
	case FrameAck:
		return "ACK"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Frame is the unit exchanged over the datagram transport. The payload
// length is not transmitted; it is whatever follows the header in the
// datagram.
type Frame struct {
	Seq     uint32    `desc:"sequence number, network byte order on the wire"`
	Type    FrameType `desc:"one of FILENAME, DATA, EOF, ACK"`
	Payload []byte    `desc:"basename for FILENAME, chunk for DATA, empty otherwise"`
}

// Encode produces be32(seq) || u8(typ) || payload.
func Encode(seq uint32, typ FrameType, payload []byte) []byte {
	var buffer bytes.Buffer
	buffer.Grow(HeaderSize + len(payload))

	var store [4]byte
	binary.BigEndian.PutUint32(store[:], seq)
	buffer.Write(store[:])
	buffer.WriteByte(byte(typ))
	buffer.Write(payload)

	return buffer.Bytes()
}

func (f *Frame) Encode() []byte {
	return Encode(f.Seq, f.Type, f.Payload)
}

// Decode parses a datagram. Datagrams shorter than HeaderSize fail with
// ErrMalformedFrame. The returned payload does not alias data.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if len(data) < HeaderSize {
		return f, fmt.Errorf("decode %d bytes: %w", len(data), ErrMalformedFrame)
	}
	f.Seq = binary.BigEndian.Uint32(data)
	f.Type = FrameType(data[4])
	if rest := data[HeaderSize:]; len(rest) > 0 {
		f.Payload = append([]byte(nil), rest...)
	}
	return f, nil
}

func (f Frame) String() string {
	return fmt.Sprintf("%s seq=%d len=%d", f.Type, f.Seq, len(f.Payload))
}
