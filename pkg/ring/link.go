//go:build linux

package ring

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/meshring/meshring/internal/metrics"
	"github.com/meshring/meshring/pkg/frame"
)

const (
	// DefaultPingInterval is how often a configured link is probed.
	DefaultPingInterval = 1 * time.Second

	// DefaultPongTimeout is how long a link stays enabled without a pong.
	DefaultPongTimeout = 5 * time.Second

	defaultLatencyExp = 7
	defaultLatencyFix = 8
)

// LinkConfig tunes a single link's probing cadence and latency smoothing.
type LinkConfig struct {
	PingInterval time.Duration // defaulted if zero
	PongTimeout  time.Duration // defaulted if zero

	// Latency smoothing weights: each new sample contributes
	// (LatencyFix-LatencyExp)/LatencyFix of the estimate. Both defaulted
	// if zero; must satisfy 0 <= LatencyExp < LatencyFix.
	LatencyExp int64
	LatencyFix int64
}

func (c *LinkConfig) Validate() error {
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("ping interval must be greater than 0")
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.PongTimeout < 0 {
		return fmt.Errorf("pong timeout must be greater than 0")
	}
	if c.LatencyExp == 0 && c.LatencyFix == 0 {
		c.LatencyExp = defaultLatencyExp
		c.LatencyFix = defaultLatencyFix
	}
	if c.LatencyExp < 0 || c.LatencyExp >= c.LatencyFix {
		return fmt.Errorf("latency weights must satisfy 0 <= exp < fix, got %d/%d", c.LatencyExp, c.LatencyFix)
	}
	return nil
}

// Link is one of a host's parallel network paths. Its id is fixed at the
// slot index for the lifetime of the host.
//
// Addressing and socket fields are written under the registry's exclusive
// lock and read under the shared lock by the dispatch and heartbeat
// workers. Liveness state is atomic so snapshots taken from Hosts remain
// readable after the lock is released.
type Link struct {
	id   uint8
	host *Host

	remote netip.AddrPort
	raddr  unix.Sockaddr
	sock   int // borrowed listener fd; -1 while unconfigured

	pingInterval time.Duration
	pongTimeout  time.Duration
	latencyExp   int64
	latencyFix   int64

	enabled  atomic.Bool
	pingLast atomic.Int64 // clock nanos
	pongLast atomic.Int64 // clock nanos
	latency  atomic.Int64 // smoothed microseconds
}

// ID returns the link's slot index within its host.
func (l *Link) ID() uint8 { return l.id }

// Enabled reports whether the link is eligible for outbound traffic.
func (l *Link) Enabled() bool { return l.enabled.Load() }

// SetEnabled overrides the link's liveness state. The workers continue to
// manage it: a pong timeout seen by the heartbeat worker disables the link
// again and a valid pong processed by the dispatch worker re-enables it.
func (l *Link) SetEnabled(enabled bool) { l.enabled.Store(enabled) }

// Latency returns the smoothed round-trip estimate.
func (l *Link) Latency() time.Duration {
	return time.Duration(l.latency.Load()) * time.Microsecond
}

// Remote returns the link's configured remote address, or the zero
// AddrPort while unconfigured.
func (l *Link) Remote() netip.AddrPort {
	h := l.host.h
	h.mu.RLock()
	defer h.mu.RUnlock()
	return l.remote
}

// SetRemote points the link at a remote endpoint, sending and receiving
// through the given listener's socket. Reconfiguring resets the link's
// liveness state; the link is re-enabled once the remote answers a
// heartbeat ping with a pong.
func (l *Link) SetRemote(lis *Listener, remote netip.AddrPort, cfg LinkConfig) error {
	if lis == nil {
		return fmt.Errorf("listener is required: %w", ErrInvalid)
	}
	if !remote.IsValid() {
		return fmt.Errorf("remote address is required: %w", ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())

	h := l.host.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	l.remote = remote
	l.raddr = sockaddrFromAddrPort(remote)
	l.sock = lis.sock
	l.pingInterval = cfg.PingInterval
	l.pongTimeout = cfg.PongTimeout
	l.latencyExp = cfg.LatencyExp
	l.latencyFix = cfg.LatencyFix

	l.enabled.Store(false)
	l.pingLast.Store(0)
	l.pongLast.Store(0)
	l.latency.Store(0)

	h.lookup.DeleteAll()

	h.log.Debug("link configured",
		"node", l.host.id, "link", l.id, "remote", remote.String(),
		"ping_interval", cfg.PingInterval, "pong_timeout", cfg.PongTimeout)
	return nil
}

// processPong folds a pong's echoed clock reading into the link state.
// Runs on the dispatch worker under the shared registry lock.
func (l *Link) processPong(now time.Time, sec, nsec int64) {
	sample := now.Sub(time.Unix(sec, nsec)).Microseconds()
	if sample < 0 {
		sample = 0
	}

	l.pongLast.Store(now.UnixNano())

	cur := l.latency.Load()
	l.latency.Store((cur*l.latencyExp + sample*(l.latencyFix-l.latencyExp)) / l.latencyFix)

	if l.enabled.CompareAndSwap(false, true) {
		l.host.h.log.Info("link enabled",
			"node", l.host.id, "link", l.id, "remote", l.remote.String(),
			"latency", l.Latency())
	}
	metrics.PongsReceived.Inc()
}

// heartbeat runs one probing pass: emit a ping when the interval elapsed,
// disable the link when the pong window expired. Runs on the heartbeat
// worker under the shared registry lock; pingbuf is that worker's scratch
// frame, already stamped as a PING.
func (l *Link) heartbeat(now time.Time, pingbuf []byte) {
	if now.UnixNano()-l.pingLast.Load() >= int64(l.pingInterval) {
		l.pingLast.Store(now.UnixNano())
		frame.PutPingBody(pingbuf, now.Unix(), int64(now.Nanosecond()))
		if err := unix.Sendto(l.sock, pingbuf[:frame.PingSize], unix.MSG_DONTWAIT, l.raddr); err != nil {
			metrics.SendErrors.Inc()
			l.host.h.log.Debug("ping send failed", "node", l.host.id, "link", l.id, "error", err)
		} else {
			metrics.PingsSent.Inc()
		}
	}

	if l.enabled.Load() && now.UnixNano()-l.pongLast.Load() >= int64(l.pongTimeout) {
		l.enabled.Store(false)
		metrics.LinksDisabled.Inc()
		l.host.h.log.Info("link disabled after pong timeout",
			"node", l.host.id, "link", l.id, "remote", l.remote.String())
	}
}
