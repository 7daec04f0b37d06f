//go:build linux

package ring

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/meshring/meshring/pkg/frame"
)

// udpReceiver is a plain UDP socket standing in for a remote peer.
func udpReceiver(t *testing.T) (*net.UDPConn, netip.AddrPort) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, netip.MustParseAddrPort(conn.LocalAddr().String())
}

func TestHeartbeat_EmitsPing(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	h := newTestHandle(t, &Config{Clock: clk})

	lis, err := h.AddListener(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	host, err := h.AddHost(1)
	require.NoError(t, err)

	rc, raddr := udpReceiver(t)

	link := host.Link(0)
	require.NoError(t, link.SetRemote(lis, raddr, LinkConfig{
		PingInterval: 100 * time.Millisecond,
		PongTimeout:  400 * time.Millisecond,
	}))

	// A never-pinged link probes on the first pass.
	h.heartbeatTick()

	require.NoError(t, rc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, frame.MaxDatagram)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, frame.PingSize, n)

	typ, err := frame.ParseHeader(buf[:n])
	require.NoError(t, err)
	require.Equal(t, frame.TypePing, typ)

	sec, nsec, err := frame.PingBody(buf[:n])
	require.NoError(t, err)
	require.Equal(t, clk.Now().Unix(), sec)
	require.Equal(t, int64(clk.Now().Nanosecond()), nsec)

	// Within the interval no further ping goes out.
	h.heartbeatTick()
	require.NoError(t, rc.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err = rc.Read(buf)
	require.Error(t, err)

	// Past the interval it does.
	clk.Advance(150 * time.Millisecond)
	h.heartbeatTick()
	require.NoError(t, rc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err = rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, frame.PingSize, n)
}

func TestHeartbeat_DisablesLinkAfterPongTimeout(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	h := newTestHandle(t, &Config{Clock: clk})

	lis, err := h.AddListener(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	host, err := h.AddHost(2)
	require.NoError(t, err)
	_, raddr := udpReceiver(t)

	link := host.Link(0)
	require.NoError(t, link.SetRemote(lis, raddr, LinkConfig{
		PingInterval: time.Hour,
		PongTimeout:  300 * time.Millisecond,
	}))
	link.pingLast.Store(clk.Now().UnixNano())

	link.SetEnabled(true)
	link.pongLast.Store(clk.Now().Add(-200 * time.Millisecond).UnixNano())
	h.heartbeatTick()
	require.True(t, link.Enabled(), "pong still within the timeout window")

	link.pongLast.Store(clk.Now().Add(-400 * time.Millisecond).UnixNano())
	h.heartbeatTick()
	require.False(t, link.Enabled(), "pong timeout must disable the link")
}

func TestHeartbeat_SkipsUnconfiguredLinks(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	h := newTestHandle(t, &Config{Clock: clk})
	_, err := h.AddHost(3)
	require.NoError(t, err)

	// Must not probe or crash on hosts whose links have no remote.
	h.heartbeatTick()
}

func TestHeartbeat_WorkerDrivenByClock(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	h := newTestHandle(t, &Config{Clock: clk})

	lis, err := h.AddListener(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	host, err := h.AddHost(4)
	require.NoError(t, err)
	_, raddr := udpReceiver(t)

	link := host.Link(0)
	require.NoError(t, link.SetRemote(lis, raddr, LinkConfig{}))

	// Wait for the worker's ticker, then advance one resolution period
	// and watch the worker stamp the probe.
	require.NoError(t, clk.BlockUntilContext(t.Context(), 1))
	clk.Advance(heartbeatResolution)
	require.Eventually(t, func() bool {
		return link.pingLast.Load() != 0
	}, 2*time.Second, 10*time.Millisecond)
}
