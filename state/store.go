// Package state holds the per-node bookkeeping shared between the protocol
// engine (telemetry fields) and the power balancer (duty fields). Readers
// only ever see copies.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// NodeState is the last known state of one mesh node.
//
// Ownership: the protocol engine writes the telemetry fields through
// ApplyReading; the balancer writes TargetDuty and CommandedDuty.
// CommandedDuty is only ever advanced after the matching unicast command was
// confirmed by a reply.
type NodeState struct {
	ID            int
	Duty          int // last measured duty percent
	TargetDuty    int // user ceiling, frozen at balancing-enable time
	CommandedDuty int // last duty the node confirmed receiving
	Voltage       float64
	Current       float64
	Power         float64
	LastSeen      time.Time
	Responsive    bool
	PollGen       uint64
}

// Reading is one accepted telemetry sample, fanned out to subscribers
// (websocket stream, Kafka exporter).
type Reading struct {
	NodeID  int       `json:"nodeId"`
	Duty    int       `json:"duty"`
	Voltage float64   `json:"voltage"`
	Current float64   `json:"current"`
	Power   float64   `json:"power"`
	At      time.Time `json:"at"`
}

type Store struct {
	mu    sync.RWMutex
	nodes map[int]*NodeState
	subs  []chan Reading
	gen   atomic.Uint64

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		nodes: make(map[int]*NodeState),
		now:   time.Now,
	}
}

// ApplyReading updates a node's telemetry from an accepted reply. A reply
// from an unknown identifier creates its state (discovery); a stale node
// becomes responsive again automatically.
func (s *Store) ApplyReading(id, duty int, voltage, current, power float64) {
	s.mu.Lock()
	ns, ok := s.nodes[id]
	if !ok {
		ns = &NodeState{ID: id}
		s.nodes[id] = ns
	}
	ns.Duty = duty
	ns.Voltage = voltage
	ns.Current = current
	ns.Power = power
	ns.LastSeen = s.now()
	ns.Responsive = true
	ns.PollGen = s.gen.Load()
	at := ns.LastSeen
	subs := s.subs
	s.mu.Unlock()

	r := Reading{NodeID: id, Duty: duty, Voltage: voltage, Current: current, Power: power, At: at}
	for _, sub := range subs {
		select {
		case sub <- r:
		default:
		}
	}
}

func (s *Store) Get(id int) (NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.nodes[id]
	if !ok {
		return NodeState{}, false
	}
	return *ns, true
}

// Snapshot returns copies of all node states, ordered by id.
func (s *Store) Snapshot() []NodeState {
	s.mu.RLock()
	out := make([]NodeState, 0, len(s.nodes))
	for _, ns := range s.nodes {
		out = append(out, *ns)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) SetCommandedDuty(id, duty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.nodes[id]; ok {
		ns.CommandedDuty = duty
	}
}

// SetTargetDuty records an explicit user duty request. The commanded value
// is synced too so the balancer's mW-per-percent estimate tracks what the
// node was actually told.
func (s *Store) SetTargetDuty(id, duty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.nodes[id]
	if !ok {
		ns = &NodeState{ID: id, Responsive: true, LastSeen: s.now()}
		s.nodes[id] = ns
	}
	ns.TargetDuty = duty
	ns.CommandedDuty = duty
}

// FreezeTargets snapshots every node's measured duty into its target duty.
// Called once on the balancing disabled→enabled transition; never
// re-snapshotted while balancing stays active.
func (s *Store) FreezeTargets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var frozen []int
	for id, ns := range s.nodes {
		if ns.Duty > 0 {
			ns.TargetDuty = ns.Duty
			frozen = append(frozen, id)
		}
	}
	sort.Ints(frozen)
	return frozen
}

// BumpGeneration starts a new poll cycle; readings applied from now on are
// stamped with the new generation.
func (s *Store) BumpGeneration() uint64 {
	return s.gen.Add(1)
}

func (s *Store) Generation() uint64 {
	return s.gen.Load()
}

// AllFresh reports whether every responsive node has reported in the given
// poll generation. False when no nodes are known.
func (s *Store) AllFresh(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.nodes) == 0 {
		return false
	}
	for _, ns := range s.nodes {
		if ns.Responsive && ns.PollGen != gen {
			return false
		}
	}
	return true
}

// MarkStale flips nodes unheard-from for longer than the timeout to
// non-responsive and returns the ids that changed. State is never deleted;
// the next accepted reply revives the node.
func (s *Store) MarkStale(timeout time.Duration) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stale []int
	for id, ns := range s.nodes {
		if ns.Responsive && now.Sub(ns.LastSeen) > timeout {
			ns.Responsive = false
			stale = append(stale, id)
		}
	}
	sort.Ints(stale)
	return stale
}

func (s *Store) ResponsiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ns := range s.nodes {
		if ns.Responsive {
			n++
		}
	}
	return n
}

// Subscribe registers a reading fan-out channel. Slow subscribers miss
// readings rather than blocking the engine. The subscriber list is
// copy-on-write so ApplyReading can fan out without holding the lock.
func (s *Store) Subscribe() <-chan Reading {
	ch := make(chan Reading, 16)
	s.mu.Lock()
	subs := make([]chan Reading, len(s.subs), len(s.subs)+1)
	copy(subs, s.subs)
	s.subs = append(subs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a fan-out channel. The channel is never closed; an
// in-flight fan-out may still deliver to it once.
func (s *Store) Unsubscribe(ch <-chan Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]chan Reading, 0, len(s.subs))
	for _, sub := range s.subs {
		if (<-chan Reading)(sub) != ch {
			subs = append(subs, sub)
		}
	}
	s.subs = subs
}
