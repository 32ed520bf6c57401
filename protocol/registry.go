package protocol

import (
	"sort"
	"sync"

	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

// Registry tracks which node identifiers have ever replied and drives the
// incremental discovery probe: after a group poll the engine probes one id
// beyond the highest known one, stops once a probe times out, and resumes
// when a new node registers through any path.
type Registry struct {
	mu        sync.Mutex
	known     map[int]mesh.Addr
	probeDone bool
	maxNodes  int
}

func NewRegistry() *Registry {
	return &Registry{
		known:    make(map[int]mesh.Addr),
		maxNodes: mesh.MaxNodes,
	}
}

// Register records a replying unicast address. Registering a new node
// re-arms the discovery probe. Group sources and addresses outside the node
// range are rejected; a full registry rejects further ids.
func (r *Registry) Register(addr mesh.Addr) (int, bool, error) {
	id, ok := addr.NodeID()
	if !ok {
		return 0, false, ErrMalformedReply
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.known[id]; exists {
		return id, false, nil
	}
	if len(r.known) >= r.maxNodes {
		return 0, false, ErrRegistryFull
	}

	r.known[id] = addr
	r.probeDone = false
	return id, true, nil
}

func (r *Registry) Lookup(id int) (mesh.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.known[id]
	return addr, ok
}

// Known returns the registered ids in ascending order.
func (r *Registry) Known() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.known))
	for id := range r.known {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}

// NextProbe returns the next address to probe, one beyond the highest known
// id. Probing is disabled after a timed-out probe until a new node appears.
func (r *Registry) NextProbe() (mesh.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.probeDone {
		return 0, false
	}

	next := 0
	for id := range r.known {
		if id+1 > next {
			next = id + 1
		}
	}
	if next >= r.maxNodes {
		return 0, false
	}
	return mesh.NodeAddr(next), true
}

// ProbeTimedOut marks discovery complete when the probed address lies beyond
// every known node. A probe to an address that has since registered is
// ignored.
func (r *Registry) ProbeTimedOut(addr mesh.Addr) {
	id, ok := addr.NodeID()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.known[id]; exists {
		return
	}
	r.probeDone = true
}
