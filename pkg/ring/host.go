//go:build linux

package ring

import (
	"sync"
	"sync/atomic"

	"github.com/meshring/meshring/internal/metrics"
)

// MaxLinks is the fixed number of link slots per host.
const MaxLinks = 8

// Host is one remote peer node, keyed by its 16-bit node id, owning a
// fixed array of parallel links. Hosts are created by AddHost and live on
// the registry's traversal chain until removed.
type Host struct {
	id   uint16
	h    *Handle
	next *Host // chain pointer, guarded by the registry lock

	// active selects the fan-out policy: false sends each payload via the
	// first enabled link only, true via every enabled link.
	active atomic.Bool

	link [MaxLinks]Link

	// Per-direction delivery filters, serialized independently of the
	// registry lock so the application can gate payloads without
	// touching registry state.
	filtMu sync.Mutex
	ucast  *Filter
	bcast  *Filter
}

// ID returns the host's node id.
func (hs *Host) ID() uint16 { return hs.id }

// Active reports whether payloads fan out over every enabled link.
func (hs *Host) Active() bool { return hs.active.Load() }

// SetActive selects the fan-out policy for subsequent payloads.
func (hs *Host) SetActive(active bool) { hs.active.Store(active) }

// Link returns the slot with the given id. Link ids equal their slot index
// and never change.
func (hs *Host) Link(id int) *Link {
	return &hs.link[id]
}

// ShouldDeliver reports whether a payload from this host carrying seq
// should be handed to the application, for the broadcast or unicast stream.
// It does not record delivery; call HasBeenDelivered once the payload is
// accepted.
func (hs *Host) ShouldDeliver(bcast bool, seq uint16) bool {
	hs.filtMu.Lock()
	defer hs.filtMu.Unlock()
	ok := hs.filter(bcast).ShouldDeliver(seq)
	if !ok {
		metrics.DuplicatesDropped.Inc()
	}
	return ok
}

// HasBeenDelivered records that the payload carrying seq was accepted by
// the application.
func (hs *Host) HasBeenDelivered(bcast bool, seq uint16) {
	hs.filtMu.Lock()
	defer hs.filtMu.Unlock()
	hs.filter(bcast).Mark(seq)
}

func (hs *Host) filter(bcast bool) *Filter {
	if bcast {
		return hs.bcast
	}
	return hs.ucast
}
