//go:build linux

package ring

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Listener is a bound inbound socket serving any peer. Its descriptor is
// registered with the readiness reactor and is also lent to links as their
// outbound socket, so replies return to a watched address.
type Listener struct {
	addr netip.AddrPort
	sock int
}

// Addr returns the bound local address, with the concrete port when the
// requested one was zero.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// AddListener binds a UDP socket on addr, registers it for read readiness
// and installs it in the listener set. The socket is closed when the
// handle is.
func (h *Handle) AddListener(addr netip.AddrPort) (*Listener, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("listen address is required: %w", ErrInvalid)
	}

	family := unix.AF_INET
	if addr.Addr().Unmap().Is6() {
		family = unix.AF_INET6
	}

	sock, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("listener socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(sock)
		}
	}()

	// Best effort; heavy inbound bursts are the normal case for a ring
	// carrying several peers over one socket.
	_ = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_RCVBUF, h.cfg.ListenerRecvBuffer)

	if err := unix.Bind(sock, sockaddrFromAddrPort(addr)); err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	sa, err := unix.Getsockname(sock)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	bound := addrPortFromSockaddr(sa)

	if err := h.poller.add(sock); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.poller.del(sock)
		return nil, ErrClosed
	}
	lis := &Listener{addr: bound, sock: sock}
	h.listeners = append(h.listeners, lis)

	ok = true
	h.log.Info("listener added", "address", bound.String())
	return lis, nil
}
