// Package balancer implements equilibrium power control: it polls the
// group, compares total measured power against the configured threshold
// minus headroom, and corrects per-node duty cycles toward proportional
// shares of the budget.
package balancer

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/justinkk04/BLE-mesh-networking-sub001/common"
	"github.com/justinkk04/BLE-mesh-networking-sub001/metrics"
	"github.com/justinkk04/BLE-mesh-networking-sub001/protocol"
	"github.com/justinkk04/BLE-mesh-networking-sub001/state"
)

// commandSender is the slice of the protocol engine the balancer uses.
type commandSender interface {
	Send(ctx context.Context, id int, cmd protocol.Command) (*protocol.Response, error)
	SendGroup(ctx context.Context, cmd protocol.Command, window time.Duration) (<-chan *protocol.Response, error)
}

// NoPriority marks the priority slot as unassigned.
const NoPriority = -1

type Balancer struct {
	eng   commandSender
	store *state.Store
	cfg   common.BalancerConfig
	log   *slog.Logger
	met   *metrics.Metrics

	mu          sync.Mutex
	thresholdMW float64
	priority    int
	force       bool
	lastAdjust  time.Time
	running     bool
	cancel      context.CancelFunc
	loopDone    chan struct{}

	ctx context.Context
	now func() time.Time
}

type Option func(*Balancer)

func WithLogger(log *slog.Logger) Option {
	return func(b *Balancer) { b.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Balancer) { b.met = m }
}

func New(eng commandSender, store *state.Store, cfg common.BalancerConfig, opts ...Option) *Balancer {
	b := &Balancer{
		eng:      eng,
		store:    store,
		cfg:      cfg,
		log:      slog.Default(),
		priority: NoPriority,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "balancer")
	return b
}

// Start records the lifecycle context. The poll loop itself only runs while
// a threshold is set.
func (b *Balancer) Start(ctx context.Context) error {
	b.ctx = ctx
	return nil
}

// SetThreshold enables balancing against the given power ceiling in mW. The
// first disabled-to-enabled transition freezes every active node's measured
// duty as its per-node ceiling; later threshold changes keep those targets.
// A threshold of zero or less disables balancing.
func (b *Balancer) SetThreshold(ctx context.Context, mw float64) {
	if mw <= 0 {
		b.Disable(ctx)
		return
	}

	b.mu.Lock()
	wasEnabled := b.thresholdMW > 0
	b.thresholdMW = mw
	b.force = true
	if !wasEnabled {
		frozen := b.store.FreezeTargets()
		b.log.Info("balancing enabled", "thresholdMW", mw, "frozenTargets", frozen)
	} else {
		b.log.Info("threshold changed", "thresholdMW", mw)
	}
	b.startLoopLocked()
	b.mu.Unlock()
}

// SetPriority grants one node a weighted share of the budget and forces a
// fresh evaluation.
func (b *Balancer) SetPriority(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.priority = id
	b.force = true
	b.log.Info("priority set", "node", id)
	if b.thresholdMW > 0 {
		b.startLoopLocked()
	}
}

func (b *Balancer) ClearPriority() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.priority = NoPriority
	b.force = true
	b.log.Info("priority cleared")
	if b.thresholdMW > 0 {
		b.startLoopLocked()
	}
}

// Disable stops the poll loop and, after a settle delay, restores every
// responsive node to its frozen target duty. Restores follow the same
// confirm-before-record rule as adjustments.
func (b *Balancer) Disable(ctx context.Context) {
	b.mu.Lock()
	if b.thresholdMW <= 0 && !b.running {
		b.mu.Unlock()
		return
	}
	b.thresholdMW = 0
	done := b.loopDone
	b.stopLoopLocked()
	b.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(b.cfg.RestartWait):
		}
	}
	b.log.Info("balancing disabled, restoring targets")

	select {
	case <-time.After(b.cfg.SettleDelay):
	case <-ctx.Done():
		return
	}

	for _, ns := range b.store.Snapshot() {
		if !ns.Responsive || ns.TargetDuty <= 0 || ns.CommandedDuty == ns.TargetDuty {
			continue
		}
		if _, err := b.eng.Send(ctx, ns.ID, protocol.Duty(ns.TargetDuty)); err != nil {
			b.log.Warn("restore failed", "node", ns.ID, "error", err)
			continue
		}
		b.store.SetCommandedDuty(ns.ID, ns.TargetDuty)
	}
}

// Status is the externally visible balancer state.
type Status struct {
	Enabled        bool      `json:"enabled"`
	ThresholdMW    float64   `json:"thresholdMw"`
	PriorityNode   int       `json:"priorityNode"`
	LastAdjustment time.Time `json:"lastAdjustment"`
	TotalPowerMW   float64   `json:"totalPowerMw"`
	Responsive     int       `json:"responsiveNodes"`
}

func (b *Balancer) Status() Status {
	b.mu.Lock()
	st := Status{
		Enabled:        b.thresholdMW > 0,
		ThresholdMW:    b.thresholdMW,
		PriorityNode:   b.priority,
		LastAdjustment: b.lastAdjust,
	}
	b.mu.Unlock()

	for _, ns := range b.store.Snapshot() {
		if ns.Responsive {
			st.TotalPowerMW += ns.Power
			st.Responsive++
		}
	}
	return st
}

// startLoopLocked (re)starts the poll loop. A replacement loop waits,
// bounded, for the cancelled one to exit so two generations never poll
// concurrently.
func (b *Balancer) startLoopLocked() {
	var prev chan struct{}
	if b.running {
		b.cancel()
		prev = b.loopDone
	}

	parent := b.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	b.cancel = cancel
	b.loopDone = done
	b.running = true

	go func() {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-time.After(b.cfg.RestartWait):
				b.log.Warn("previous poll loop slow to exit")
			}
		}
		b.run(ctx)
	}()
}

func (b *Balancer) stopLoopLocked() {
	if !b.running {
		return
	}
	b.cancel()
	b.running = false
}

func (b *Balancer) run(ctx context.Context) {
	b.log.Info("poll loop started")
	for {
		b.pollOnce(ctx)
		if ctx.Err() != nil {
			b.log.Info("poll loop stopped")
			return
		}
		select {
		case <-ctx.Done():
			b.log.Info("poll loop stopped")
			return
		case <-time.After(b.cfg.PollInterval):
		}
	}
}

// pollOnce runs one cycle: group-read everyone, collect until the window
// closes or all responsive nodes reported, write off silent nodes, settle,
// then evaluate.
func (b *Balancer) pollOnce(ctx context.Context) {
	gen := b.store.BumpGeneration()

	ch, err := b.eng.SendGroup(ctx, protocol.Read(), b.cfg.CollectWindow)
	if err != nil {
		b.log.Warn("group poll failed", "error", err)
		return
	}

collect:
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				break collect
			}
			if b.store.AllFresh(gen) {
				break collect
			}
		}
	}

	for _, id := range b.store.MarkStale(b.cfg.StaleTimeout) {
		b.log.Warn("node went stale, excluded from balancing", "node", id)
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(b.cfg.SettleDelay):
	}

	b.evaluate(ctx)
	b.met.PollCycle()
}

// mwPerPct estimates a node's power per duty percent from its own last
// confirmed command and measurement. Estimates are never borrowed across
// nodes; without a usable pair the configured default applies.
func (b *Balancer) mwPerPct(ns state.NodeState) float64 {
	if ns.CommandedDuty > 0 && ns.Power > 0 {
		return ns.Power / float64(ns.CommandedDuty)
	}
	return b.cfg.DefaultMWPerPct
}

// evaluate compares total power to the budget and issues duty corrections.
// CommandedDuty only advances on a confirmed reply, so a lost command is
// retried naturally on the next cycle.
func (b *Balancer) evaluate(ctx context.Context) {
	b.mu.Lock()
	threshold := b.thresholdMW
	priority := b.priority
	forced := b.force
	b.force = false
	last := b.lastAdjust
	b.mu.Unlock()

	if threshold <= 0 {
		return
	}

	var active []state.NodeState
	total := 0.0
	responsive := 0
	for _, ns := range b.store.Snapshot() {
		if !ns.Responsive {
			continue
		}
		responsive++
		total += ns.Power
		if ns.TargetDuty > 0 {
			active = append(active, ns)
		}
	}
	b.met.Observe(total, responsive)

	if len(active) == 0 {
		return
	}

	if !forced && b.now().Sub(last) < b.cfg.Cooldown {
		return
	}

	budget := threshold - b.cfg.HeadroomMW
	if budget <= 0 {
		b.log.Warn("threshold below headroom, nothing to allocate", "thresholdMW", threshold)
		return
	}

	if !forced && math.Abs(total-budget) < b.cfg.DeadBandFrac*budget {
		return
	}

	// Under budget with every node already at its ceiling and in sync
	// there is nothing left to give.
	if !forced && total < budget && b.allAtCeiling(active) {
		return
	}

	if forced {
		// Re-anchor commanded duty to what the nodes actually measure so
		// the per-node estimates restart from reality.
		for i := range active {
			b.store.SetCommandedDuty(active[i].ID, active[i].Duty)
			active[i].CommandedDuty = active[i].Duty
		}
	}

	shares := b.shares(active, priority, budget)

	adjusted := false
	for _, ns := range active {
		duty := int(math.Round(shares[ns.ID] / b.mwPerPct(ns)))
		if duty < 0 {
			duty = 0
		}
		if duty > ns.TargetDuty {
			duty = ns.TargetDuty
		}
		// Skip only when the bookkeeping agrees with the node itself.
		// A node whose measured duty drifted from its commanded duty is
		// re-commanded rather than trusted.
		if duty == ns.CommandedDuty && abs(ns.Duty-ns.CommandedDuty) <= b.cfg.SyncTolerance {
			continue
		}

		if _, err := b.eng.Send(ctx, ns.ID, protocol.Duty(duty)); err != nil {
			b.log.Warn("adjustment unconfirmed", "node", ns.ID, "duty", duty, "error", err)
			continue
		}
		b.store.SetCommandedDuty(ns.ID, duty)
		b.met.Adjustment()
		b.log.Info("duty adjusted", "node", ns.ID, "duty", duty, "shareMW", shares[ns.ID])
		adjusted = true
	}

	if adjusted {
		b.mu.Lock()
		b.lastAdjust = b.now()
		b.mu.Unlock()
	}
}

func (b *Balancer) allAtCeiling(active []state.NodeState) bool {
	for _, ns := range active {
		if ns.CommandedDuty < ns.TargetDuty {
			return false
		}
		if abs(ns.Duty-ns.CommandedDuty) > b.cfg.SyncTolerance {
			return false
		}
	}
	return true
}

// shares splits the budget across active nodes: equal by default, weighted
// toward the priority node when one is set. A share beyond what a node can
// physically absorb at its ceiling is redistributed to the others.
func (b *Balancer) shares(active []state.NodeState, priority int, budget float64) map[int]float64 {
	n := float64(len(active))
	out := make(map[int]float64, len(active))

	prioActive := false
	for _, ns := range active {
		if ns.ID == priority {
			prioActive = true
			break
		}
	}

	if !prioActive || len(active) == 1 {
		for _, ns := range active {
			out[ns.ID] = budget / n
		}
	} else {
		w := b.cfg.PriorityWeight
		prioShare := budget * w / (w + n - 1)
		rest := (budget - prioShare) / (n - 1)
		for _, ns := range active {
			if ns.ID == priority {
				out[ns.ID] = prioShare
			} else {
				out[ns.ID] = rest
			}
		}
	}

	// Cap shares at each node's ceiling and hand the surplus to the
	// uncapped nodes.
	surplus := 0.0
	capped := make(map[int]bool, len(active))
	for _, ns := range active {
		ceiling := float64(ns.TargetDuty) * b.mwPerPct(ns)
		if out[ns.ID] > ceiling {
			surplus += out[ns.ID] - ceiling
			out[ns.ID] = ceiling
			capped[ns.ID] = true
		}
	}
	if surplus > 0 && len(capped) < len(active) {
		extra := surplus / float64(len(active)-len(capped))
		for _, ns := range active {
			if !capped[ns.ID] {
				out[ns.ID] += extra
			}
		}
	}

	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
