//go:build linux

package ring

import "time"

// heartbeatResolution is the worker's sleep period; each wake-up walks
// every configured link and lets its own ping interval decide whether a
// probe goes out.
const heartbeatResolution = 200 * time.Millisecond

// heartbeatLoop periodically advances every link's probing state machine.
func (h *Handle) heartbeatLoop() {
	defer h.wg.Done()

	ticker := h.clock.NewTicker(heartbeatResolution)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.Chan():
		}
		h.heartbeatTick()
	}
}

func (h *Handle) heartbeatTick() {
	now := h.clock.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.forEachLocked(func(host *Host) bool {
		for i := range host.link {
			l := &host.link[i]
			if l.sock < 0 {
				continue
			}
			l.heartbeat(now, h.pingbuf)
		}
		return true
	})
}
