//go:build linux

// Package ring implements a multi-path peer-to-peer datagram ring: opaque
// application payloads written to a local endpoint fan out to remote peer
// nodes over redundant UDP paths, while background workers probe each
// path's liveness and latency to keep routing on the best links.
package ring

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sys/unix"

	"github.com/meshring/meshring/pkg/frame"
)

const (
	defaultListenerRecvBuffer = 1 << 20
	defaultLookupCacheTTL     = 1 * time.Second
)

// Config configures a Handle. The zero value is usable.
type Config struct {
	Logger *slog.Logger    // defaults to slog.Default()
	Clock  clockwork.Clock // defaults to the real clock

	// ListenerRecvBuffer is the SO_RCVBUF requested for each listener
	// socket; defaulted if zero.
	ListenerRecvBuffer int

	// LookupCacheTTL bounds how long a source-address lookup stays
	// cached; defaulted if zero.
	LookupCacheTTL time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ListenerRecvBuffer == 0 {
		c.ListenerRecvBuffer = defaultListenerRecvBuffer
	}
	if c.LookupCacheTTL == 0 {
		c.LookupCacheTTL = defaultLookupCacheTTL
	}
	return nil
}

// Handle is the process-wide root of a ring node. It owns the local
// endpoint socket pair, the readiness reactor, the host registry and the
// listener set, and runs the dispatch and heartbeat workers.
type Handle struct {
	log   *slog.Logger
	clock clockwork.Clock
	cfg   *Config

	// mu is the registry lock: it guards the host chain, the host index,
	// the listener set, link addressing and the closed flag. The workers
	// take the shared side for one event at a time; mutators take the
	// exclusive side.
	mu        sync.RWMutex
	hostHead  *Host
	hostIndex []*Host
	listeners []*Listener
	closed    bool

	// lookup caches source address to link resolution on the receive
	// path; purged whenever link addressing changes.
	lookup *ttlcache.Cache[netip.AddrPort, *Link]

	sock   [2]int // [0] core side, [1] application side
	poller *poller

	// Worker-owned scratch frames: databuf belongs to the dispatch
	// worker, pingbuf to the heartbeat worker.
	databuf []byte
	pingbuf []byte

	sendClosed bool // dispatch-worker private: local endpoint hit EOF

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New constructs a handle and starts its workers. Construction is
// all-or-nothing: any failure unwinds already-acquired resources in
// reverse order.
func New(cfg *Config) (*Handle, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handle{
		log:       cfg.Logger,
		clock:     cfg.Clock,
		cfg:       cfg,
		hostIndex: make([]*Host, SeqMax+1),
		databuf:   make([]byte, frame.MaxDatagram),
		pingbuf:   make([]byte, frame.PingSize),
		sock:      [2]int{-1, -1},
		stop:      make(chan struct{}),
	}
	frame.PutHeader(h.pingbuf, frame.TypePing)

	h.lookup = ttlcache.New(
		ttlcache.WithTTL[netip.AddrPort, *Link](cfg.LookupCacheTTL),
		ttlcache.WithDisableTouchOnHit[netip.AddrPort, *Link](),
	)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	h.sock = fds
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(h.sock[0])
			_ = unix.Close(h.sock[1])
		}
	}()

	// The core side must never block the dispatch worker: reads are
	// readiness-driven and delivery writes are best-effort.
	if err := unix.SetNonblock(h.sock[0], true); err != nil {
		return nil, err
	}

	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	h.poller = p
	defer func() {
		if !ok {
			p.close()
		}
	}()

	if err := p.add(h.sock[0]); err != nil {
		return nil, err
	}

	h.wg.Add(2)
	go h.dispatchLoop()
	go h.heartbeatLoop()

	ok = true
	return h, nil
}

// FD returns the application-side endpoint descriptor. The application
// reads and writes whole payloads on it; message boundaries are preserved.
func (h *Handle) FD() int {
	return h.sock[1]
}

// Close stops the workers, waits for them, then releases every socket.
// Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		listeners := append([]*Listener(nil), h.listeners...)
		h.mu.Unlock()

		close(h.stop)
		h.poller.wake()
		h.wg.Wait()

		for _, lis := range listeners {
			h.poller.del(lis.sock)
			_ = unix.Close(lis.sock)
		}
		h.poller.close()
		_ = unix.Close(h.sock[0])
		_ = unix.Close(h.sock[1])

		h.log.Debug("handle closed")
	})
	return nil
}
