//go:build linux

package ring

import (
	"errors"
	"net/netip"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sys/unix"

	"github.com/meshring/meshring/internal/metrics"
	"github.com/meshring/meshring/pkg/frame"
)

const (
	maxEvents = 8

	// A positive wait bounds shutdown latency without spinning; the
	// eventfd wake cuts it short.
	dispatchWaitMillis = 100
)

// dispatchLoop is the readiness-driven worker servicing the local endpoint
// outbound and every listener inbound.
func (h *Handle) dispatchLoop() {
	defer h.wg.Done()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		n, err := h.poller.wait(events, dispatchWaitMillis)
		if err != nil {
			h.log.Error("dispatch wait failed", "error", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case h.poller.wakefd:
				h.poller.drainWake()
			case h.sock[0]:
				h.sendData()
			default:
				h.recvFrame(fd)
			}
		}
	}
}

// sendData drains one payload from the local endpoint and fans it out:
// first enabled link per host, or every enabled link when the host is
// active. Individual send errors are swallowed; the overall send is
// best-effort.
func (h *Handle) sendData() {
	if h.sendClosed {
		return
	}

	n, err := unix.Read(h.sock[0], h.databuf[frame.HeaderSize:])
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			h.log.Error("local endpoint read failed", "error", err)
		}
		return
	}
	if n == 0 {
		// Application closed its end; outbound service stops for good.
		// The descriptor stays open (closed at teardown) so its number
		// cannot be reused while the worker still runs.
		h.log.Error("local endpoint EOF, outbound service stopped")
		h.poller.del(h.sock[0])
		h.sendClosed = true
		return
	}

	frame.PutHeader(h.databuf, frame.TypeData)
	total := frame.HeaderSize + n

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.forEachLocked(func(host *Host) bool {
		active := host.active.Load()
		for i := range host.link {
			l := &host.link[i]
			if l.sock < 0 || !l.enabled.Load() {
				continue
			}
			if err := unix.Sendto(l.sock, h.databuf[:total], unix.MSG_DONTWAIT, l.raddr); err != nil {
				metrics.SendErrors.Inc()
				h.log.Debug("link send failed", "node", host.id, "link", l.id, "error", err)
				continue
			}
			if !active {
				break
			}
		}
		return true
	})
}

// recvFrame services one inbound datagram: validate the envelope, resolve
// the sending link by source address, then dispatch by frame type.
func (h *Handle) recvFrame(fd int) {
	n, sa, err := unix.Recvfrom(fd, h.databuf, unix.MSG_DONTWAIT)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			h.log.Debug("listener recv failed", "error", err)
		}
		return
	}

	src := addrPortFromSockaddr(sa)

	typ, err := frame.ParseHeader(h.databuf[:n])
	if err != nil {
		metrics.FramesDropped.WithLabelValues(dropReason(err)).Inc()
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	link := h.lookupLink(src)
	if link == nil {
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonUnknownSource).Inc()
		h.log.Debug("frame from unknown source", "source", src.String())
		return
	}

	switch typ {
	case frame.TypeData:
		if h.sendClosed {
			return
		}
		if _, err := unix.Write(h.sock[0], h.databuf[frame.HeaderSize:n]); err != nil {
			h.log.Debug("local endpoint write failed", "error", err)
			return
		}
		metrics.PayloadsDelivered.Inc()

	case frame.TypePing:
		frame.SetType(h.databuf, frame.TypePong)
		if err := unix.Sendto(link.sock, h.databuf[:n], unix.MSG_DONTWAIT, link.raddr); err != nil {
			metrics.SendErrors.Inc()
		}

	case frame.TypePong:
		sec, nsec, err := frame.PingBody(h.databuf[:n])
		if err != nil {
			metrics.FramesDropped.WithLabelValues(metrics.DropReasonShortFrame).Inc()
			return
		}
		link.processPong(h.clock.Now(), sec, nsec)

	default:
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonUnknownType).Inc()
	}
}

// lookupLink resolves the link whose configured remote equals the source
// address, via the TTL cache first and a registry scan on miss. Called
// under the shared registry lock.
func (h *Handle) lookupLink(src netip.AddrPort) *Link {
	if item := h.lookup.Get(src); item != nil {
		return item.Value()
	}

	var found *Link
	h.forEachLocked(func(host *Host) bool {
		for i := range host.link {
			l := &host.link[i]
			if l.sock >= 0 && l.remote == src {
				found = l
				return false
			}
		}
		return true
	})

	if found != nil {
		h.lookup.Set(src, found, ttlcache.DefaultTTL)
	}
	return found
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrShortFrame):
		return metrics.DropReasonShortFrame
	case errors.Is(err, frame.ErrBadMagic):
		return metrics.DropReasonBadMagic
	case errors.Is(err, frame.ErrBadVersion):
		return metrics.DropReasonBadVersion
	}
	return metrics.DropReasonUnknownType
}
