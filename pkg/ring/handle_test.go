//go:build linux

package ring

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestHandle_Lifecycle(t *testing.T) {
	t.Parallel()

	h, err := New(nil)
	require.NoError(t, err)

	require.GreaterOrEqual(t, h.FD(), 0)

	// The application-side descriptor is a connected SEQPACKET socket.
	sotype, err := unix.GetsockoptInt(h.FD(), unix.SOL_SOCKET, unix.SO_TYPE)
	require.NoError(t, err)
	require.Equal(t, unix.SOCK_SEQPACKET, sotype)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "close must be idempotent")
}

func TestHandle_OperationsAfterClose(t *testing.T) {
	t.Parallel()

	h, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.AddHost(1)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, h.RemoveHost(1), ErrClosed)
	_, err = h.AddListener(netip.MustParseAddrPort("127.0.0.1:0"))
	require.Error(t, err)
}

func TestHandle_ListenerBindsEphemeralPort(t *testing.T) {
	t.Parallel()

	h := newTestHandle(t, nil)

	lis, err := h.AddListener(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	require.NotZero(t, lis.Addr().Port())
	require.Equal(t, netip.MustParseAddr("127.0.0.1"), lis.Addr().Addr())

	// A second listener on the same port must fail cleanly.
	_, err = h.AddListener(lis.Addr())
	require.Error(t, err)
}

func TestHandle_RejectsInvalidListenAddr(t *testing.T) {
	t.Parallel()

	h := newTestHandle(t, nil)
	_, err := h.AddListener(netip.AddrPort{})
	require.ErrorIs(t, err, ErrInvalid)
}
