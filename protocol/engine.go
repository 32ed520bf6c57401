// Package protocol implements the command/response engine for the DC-load
// mesh: command encoding, reply correlation, chunk reassembly, node
// discovery, and serialized radio access.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/justinkk04/BLE-mesh-networking-sub001/common"
	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
	"github.com/justinkk04/BLE-mesh-networking-sub001/metrics"
	"github.com/justinkk04/BLE-mesh-networking-sub001/state"
)

// Engine is the single object other components use to talk to the mesh.
//
// A unicast send suspends the caller until the reply from that exact address
// arrives or the reply timeout elapses; a second request to the same address
// fails fast with ErrBusy. A group send returns immediately and replies fan
// in asynchronously for a bounded collection window. Every accepted reply
// updates the node state store regardless of who asked.
type Engine struct {
	tr    mesh.Transport
	reg   *Registry
	store *state.Store
	corr  *Correlator
	ra    *Reassembler
	cfg   common.EngineConfig
	log   *slog.Logger
	met   *metrics.Metrics

	ctx context.Context

	monMu   sync.Mutex
	monitor monitor
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.met = m }
}

func NewEngine(tr mesh.Transport, reg *Registry, store *state.Store, cfg common.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		tr:    tr,
		reg:   reg,
		store: store,
		corr:  NewCorrelator(),
		ra:    NewReassembler(),
		cfg:   cfg,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	return e
}

func (e *Engine) Registry() *Registry {
	return e.reg
}

// Start launches the receive loop. It returns immediately; the loop runs
// until the context is cancelled or the transport closes its frame channel.
func (e *Engine) Start(ctx context.Context) error {
	if e.ctx != nil {
		return errors.New("engine already started")
	}
	e.ctx = ctx
	go e.run(ctx)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	frames := e.tr.Frames()
	resets := e.tr.Resets()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resets:
			e.ra.Reset()
			e.log.Info("transport reset, reassembly buffers cleared")
		case f, ok := <-frames:
			if !ok {
				return
			}
			e.handleFrame(f)
		}
	}
}

func (e *Engine) handleFrame(f mesh.Frame) {
	// A node never "is" a group: a reply claiming a group source violates
	// the addressing contract and is discarded before any buffering.
	if f.Source.IsGroup() {
		e.log.Warn("rejected reply with group source", "source", f.Source.String())
		e.met.Malformed()
		return
	}

	payload, done := e.ra.Feed(f)
	if !done {
		return
	}

	resp, err := DecodeReply(f.Source, payload)
	if err != nil {
		e.log.Warn("discarding malformed reply", "source", f.Source.String(), "error", err)
		e.met.Malformed()
		return
	}

	_, added, err := e.reg.Register(f.Source)
	if err != nil {
		e.log.Warn("rejecting reply from unregistrable source", "source", f.Source.String(), "error", err)
		return
	}
	if added {
		e.log.Info("discovered node", "node", resp.Node, "addr", f.Source.String())
	}

	if resp.Telemetry != nil {
		t := resp.Telemetry
		e.store.ApplyReading(resp.Node, t.Duty, t.Voltage, t.Current, t.Power)
		e.met.Reply()
	}

	e.corr.Dispatch(f.Source, resp)
}

func (e *Engine) sendFrames(ctx context.Context, to mesh.Addr, payload string) error {
	for _, frame := range mesh.SplitFrames([]byte(payload)) {
		if err := e.tr.Send(ctx, to, frame); err != nil {
			return err
		}
	}
	return nil
}

// Send issues a unicast command and waits for the reply from that node.
// While the request is outstanding, further sends to the same node fail
// fast with ErrBusy; the reply timeout force-clears the slot.
func (e *Engine) Send(ctx context.Context, id int, cmd Command) (*Response, error) {
	native, err := cmd.Native()
	if err != nil {
		return nil, err
	}

	addr := mesh.NodeAddr(id)
	ch, err := e.corr.Acquire(addr)
	if err != nil {
		e.met.Busy()
		return nil, fmt.Errorf("node %d: %w", id, err)
	}

	if err := e.sendFrames(ctx, addr, native); err != nil {
		e.corr.Release(addr, ch)
		return nil, fmt.Errorf("send to %s: %w", addr, err)
	}
	e.met.Send("unicast")

	timer := time.NewTimer(e.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		e.corr.Release(addr, ch)
		return resp, nil
	case <-timer.C:
		e.corr.Release(addr, ch)
		e.met.Timeout()
		return nil, fmt.Errorf("node %d: %w", id, ErrTimeout)
	case <-ctx.Done():
		e.corr.Release(addr, ch)
		return nil, ctx.Err()
	}
}

// SendGroup issues one command to the group address and returns a channel
// of fan-in replies. The channel closes when the collection window elapses;
// replies arriving later are plain telemetry updates, not errors. Group
// sends never raise timeouts and never hold the unicast busy gate.
func (e *Engine) SendGroup(ctx context.Context, cmd Command, window time.Duration) (<-chan *Response, error) {
	native, err := cmd.Native()
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = e.cfg.GroupWindow
	}

	w := e.corr.OpenWindow(mesh.MaxNodes)
	if err := e.sendFrames(ctx, mesh.GroupAddr, native); err != nil {
		w.Close()
		return nil, fmt.Errorf("group send: %w", err)
	}
	e.met.Send("group")

	go func() {
		select {
		case <-time.After(window):
		case <-ctx.Done():
		}
		w.Close()
		e.probe(ctx)
	}()

	return w.C, nil
}

// probe address-scans one id beyond the highest known node after a group
// poll. A timed-out probe stops further probing until a new node registers
// through any path.
func (e *Engine) probe(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	addr, ok := e.reg.NextProbe()
	if !ok {
		return
	}
	id, _ := addr.NodeID()

	_, err := e.Send(ctx, id, Read())
	switch {
	case err == nil:
		// Reply already registered the node and re-armed probing.
	case errors.Is(err, ErrTimeout):
		e.reg.ProbeTimedOut(addr)
		e.log.Debug("discovery probe timed out", "addr", addr.String())
	case errors.Is(err, ErrBusy):
		// Someone else is talking to that address; try again next poll.
	default:
		e.log.Debug("discovery probe failed", "addr", addr.String(), "error", err)
	}
}

// Execute dispatches a parsed request: MONITOR toggles the engine's own
// poller, group targets fan in for the default window, unicast targets
// return a single response. Any non-MONITOR command first stops an active
// monitor and waits for its in-flight request to settle.
func (e *Engine) Execute(ctx context.Context, target mesh.Target, cmd Command) ([]*Response, error) {
	if cmd.Verb == VerbMonitor {
		return nil, e.StartMonitor(target)
	}

	if err := e.settleMonitor(ctx); err != nil {
		return nil, err
	}

	if target.All {
		ch, err := e.SendGroup(ctx, cmd, e.cfg.GroupWindow)
		if err != nil {
			return nil, err
		}
		var out []*Response
		for resp := range ch {
			out = append(out, resp)
		}
		return out, nil
	}

	resp, err := e.Send(ctx, target.ID, cmd)
	if err != nil {
		return nil, err
	}
	return []*Response{resp}, nil
}
