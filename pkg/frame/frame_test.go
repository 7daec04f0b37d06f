package frame_test

import (
	"encoding/binary"
	"testing"

	"github.com/meshring/meshring/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestFrame_HeaderRoundTrip(t *testing.T) {
	t.Parallel()

	buf := make([]byte, frame.HeaderSize)
	frame.PutHeader(buf, frame.TypeData)

	require.Equal(t, uint32(frame.Magic), binary.BigEndian.Uint32(buf[0:4]))
	require.Equal(t, byte(frame.Version), buf[4])
	require.Equal(t, byte(frame.TypeData), buf[5])
	require.Equal(t, byte(0), buf[6])
	require.Equal(t, byte(0), buf[7])

	typ, err := frame.ParseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, frame.TypeData, typ)
}

func TestFrame_SetType(t *testing.T) {
	t.Parallel()

	buf := make([]byte, frame.PingSize)
	frame.PutHeader(buf, frame.TypePing)
	frame.PutPingBody(buf, 42, 99)

	frame.SetType(buf, frame.TypePong)

	typ, err := frame.ParseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, frame.TypePong, typ)

	// Body must survive the rewrite untouched.
	sec, nsec, err := frame.PingBody(buf)
	require.NoError(t, err)
	require.Equal(t, int64(42), sec)
	require.Equal(t, int64(99), nsec)
}

func TestFrame_ParseHeaderRejects(t *testing.T) {
	t.Parallel()

	valid := make([]byte, frame.HeaderSize)
	frame.PutHeader(valid, frame.TypeData)

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "empty",
			mutate:  func(b []byte) []byte { return nil },
			wantErr: frame.ErrShortFrame,
		},
		{
			name:    "truncated",
			mutate:  func(b []byte) []byte { return b[:frame.HeaderSize-1] },
			wantErr: frame.ErrShortFrame,
		},
		{
			name: "bad magic",
			mutate: func(b []byte) []byte {
				b[0] ^= 0xFF
				return b
			},
			wantErr: frame.ErrBadMagic,
		},
		{
			name: "bad version",
			mutate: func(b []byte) []byte {
				b[4] = frame.Version + 1
				return b
			},
			wantErr: frame.ErrBadVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := tt.mutate(append([]byte(nil), valid...))
			_, err := frame.ParseHeader(buf)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFrame_UnknownTypeParses(t *testing.T) {
	t.Parallel()

	// An unknown type is not a validation failure; the dispatcher decides
	// to ignore it.
	buf := make([]byte, frame.HeaderSize)
	frame.PutHeader(buf, frame.Type(0x7F))

	typ, err := frame.ParseHeader(buf)
	require.NoError(t, err)
	require.Equal(t, frame.Type(0x7F), typ)
	require.Contains(t, typ.String(), "unknown")
}

func TestFrame_PingBodyTooShort(t *testing.T) {
	t.Parallel()

	buf := make([]byte, frame.PingSize-1)
	frame.PutHeader(buf, frame.TypePong)
	_, _, err := frame.PingBody(buf)
	require.ErrorIs(t, err, frame.ErrShortFrame)
}
