// Package frame implements the on-wire envelope carried by every ring
// datagram: a fixed 8-byte header followed by an opaque body.
package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic identifies the protocol; serialized big-endian.
	Magic = 0x4D455348

	// Version is the compiled-in protocol version. Frames carrying any
	// other version are dropped.
	Version = 0x01

	// HeaderSize is the fixed envelope size in bytes.
	HeaderSize = 8

	// PingBodySize is the body carried by PING and PONG frames: an
	// 8-byte seconds field plus an 8-byte nanoseconds field, both
	// big-endian, holding the sender's clock reading.
	PingBodySize = 16

	// PingSize is the total size of a PING or PONG datagram.
	PingSize = HeaderSize + PingBodySize

	// MaxDatagram bounds the total size of any ring datagram.
	MaxDatagram = 131072

	// MaxPayload is the largest DATA body that fits in one datagram.
	MaxPayload = MaxDatagram - HeaderSize
)

// Type classifies a frame.
type Type byte

const (
	TypeData Type = 0x01
	TypePing Type = 0x02
	TypePong Type = 0x03
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// PutHeader stamps the envelope at the start of buf. buf must be at least
// HeaderSize bytes.
func PutHeader(buf []byte, typ Type) {
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = byte(typ)
	buf[6] = 0
	buf[7] = 0
}

// SetType rewrites the type byte in place, leaving the rest of the frame
// untouched. Used to reflect a PING back as a PONG.
func SetType(buf []byte, typ Type) {
	buf[5] = byte(typ)
}

// ParseHeader validates the envelope of a received datagram and returns its
// type. The returned error classifies why the frame must be dropped.
func ParseHeader(buf []byte) (Type, error) {
	if len(buf) < HeaderSize {
		return 0, ErrShortFrame
	}
	if binary.BigEndian.Uint32(buf[0:4]) != Magic {
		return 0, ErrBadMagic
	}
	if buf[4] != Version {
		return 0, ErrBadVersion
	}
	return Type(buf[5]), nil
}

// Body returns the frame body following the header.
func Body(buf []byte) []byte {
	return buf[HeaderSize:]
}

// PutPingBody writes the clock reading carried by a PING frame into the
// body slots of buf. buf must be at least PingSize bytes.
func PutPingBody(buf []byte, sec, nsec int64) {
	binary.BigEndian.PutUint64(buf[HeaderSize:HeaderSize+8], uint64(sec))
	binary.BigEndian.PutUint64(buf[HeaderSize+8:PingSize], uint64(nsec))
}

// PingBody extracts the clock reading echoed in a PING or PONG frame.
func PingBody(buf []byte) (sec, nsec int64, err error) {
	if len(buf) < PingSize {
		return 0, 0, ErrShortFrame
	}
	sec = int64(binary.BigEndian.Uint64(buf[HeaderSize : HeaderSize+8]))
	nsec = int64(binary.BigEndian.Uint64(buf[HeaderSize+8 : PingSize]))
	return sec, nsec, nil
}
