//go:build linux

package ring

import "fmt"

// AddHost registers a new host under the given node id and returns it.
// Fails with ErrExists if the id is already registered. The new host is
// prepended to the traversal chain; no ordering is promised.
func (h *Handle) AddHost(nodeID uint16) (*Host, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.hostIndex[nodeID] != nil {
		return nil, fmt.Errorf("node %d: %w", nodeID, ErrExists)
	}

	host := &Host{id: nodeID, h: h}
	for i := range host.link {
		host.link[i].id = uint8(i)
		host.link[i].host = host
		host.link[i].sock = -1
	}
	host.ucast, _ = NewFilter(DefaultWindowSize)
	host.bcast, _ = NewFilter(DefaultWindowSize)

	host.next = h.hostHead
	h.hostHead = host
	h.hostIndex[nodeID] = host

	h.log.Info("host added", "node", nodeID)
	return host, nil
}

// RemoveHost unregisters the host with the given node id, unconfiguring
// its links. Fails with ErrInvalid if the id is not registered.
func (h *Handle) RemoveHost(nodeID uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	host := h.hostIndex[nodeID]
	if host == nil {
		return fmt.Errorf("node %d: %w", nodeID, ErrInvalid)
	}

	if h.hostHead == host {
		h.hostHead = host.next
	} else {
		for cur := h.hostHead; cur.next != nil; cur = cur.next {
			if cur.next == host {
				cur.next = host.next
				break
			}
		}
	}
	h.hostIndex[nodeID] = nil

	// A snapshot may still hold this host; leave it readable but inert.
	for i := range host.link {
		host.link[i].sock = -1
		host.link[i].enabled.Store(false)
	}
	h.lookup.DeleteAll()

	h.log.Info("host removed", "node", nodeID)
	return nil
}

// Host returns the host registered under the given node id, or ErrNotFound.
func (h *Handle) Host(nodeID uint16) (*Host, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	host := h.hostIndex[nodeID]
	if host == nil {
		return nil, fmt.Errorf("node %d: %w", nodeID, ErrNotFound)
	}
	return host, nil
}

// Hosts returns a snapshot of the registered hosts in chain order.
func (h *Handle) Hosts() []*Host {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var hosts []*Host
	for host := h.hostHead; host != nil; host = host.next {
		hosts = append(hosts, host)
	}
	return hosts
}

// ForEach invokes fn for each registered host in chain order, stopping
// early when fn returns false. The registry's shared lock is held for the
// duration; fn must not call registry mutators.
func (h *Handle) ForEach(fn func(*Host) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.forEachLocked(fn)
}

// forEachLocked is the traversal entry point for callers already holding
// the registry lock, such as the worker loops.
func (h *Handle) forEachLocked(fn func(*Host) bool) {
	for host := h.hostHead; host != nil; host = host.next {
		if !fn(host) {
			return
		}
	}
}
