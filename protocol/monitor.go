package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/justinkk04/BLE-mesh-networking-sub001/common"
	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

// monitor is the engine's continuous poller for one node. It lives entirely
// on the gateway side: the wire only ever carries ordinary read commands,
// the mesh has no monitor verb.
type monitor struct {
	ticker *common.Ticker
	addr   mesh.Addr
	active bool
}

// StartMonitor begins polling the target once per monitor interval. An ALL
// target falls back to the lowest known node; monitoring with an empty
// registry is an error. Starting a monitor replaces any previous one.
func (e *Engine) StartMonitor(target mesh.Target) error {
	if e.ctx == nil {
		return errors.New("engine not started")
	}

	id := target.ID
	if target.All {
		known := e.reg.Known()
		if len(known) == 0 {
			return &RejectError{Reason: ReasonNotReady}
		}
		id = known[0]
	} else if _, ok := e.reg.Lookup(id); !ok {
		return &RejectError{Reason: ReasonInvalidNode}
	}

	if err := e.settleMonitor(e.ctx); err != nil {
		return err
	}

	addr := mesh.NodeAddr(id)
	t := &common.Ticker{}

	e.monMu.Lock()
	e.monitor = monitor{ticker: t, addr: addr, active: true}
	e.monMu.Unlock()
	e.log.Info("monitor started", "node", id, "interval", e.cfg.MonitorInterval)

	t.Start(e.cfg.MonitorInterval, func() {
		// Skip the tick while the previous read (or anyone else's
		// request to this node) is still in flight.
		if e.corr.HasPending(addr) {
			return
		}
		go func() {
			if _, err := e.Send(e.ctx, id, Read()); err != nil && !errors.Is(err, ErrBusy) {
				e.log.Debug("monitor poll failed", "node", id, "error", err)
			}
		}()
	})

	return nil
}

// StopMonitor halts the poller without waiting for an in-flight read.
func (e *Engine) StopMonitor() {
	e.monMu.Lock()
	defer e.monMu.Unlock()
	e.stopMonitorLocked()
}

func (e *Engine) stopMonitorLocked() {
	if !e.monitor.active {
		return
	}
	e.monitor.ticker.Stop()
	e.monitor.active = false
	e.log.Info("monitor stopped")
}

// settleMonitor stops an active monitor and waits, bounded by the settle
// grace period, for its in-flight read to clear the correlator. On expiry
// the slot is force-cleared so the next command cannot be starved.
func (e *Engine) settleMonitor(ctx context.Context) error {
	e.monMu.Lock()
	if !e.monitor.active {
		e.monMu.Unlock()
		return nil
	}
	addr := e.monitor.addr
	e.stopMonitorLocked()
	e.monMu.Unlock()

	deadline := time.Now().Add(e.cfg.MonitorSettle)
	for e.corr.HasPending(addr) {
		if time.Now().After(deadline) {
			e.log.Warn("monitor settle timed out, clearing slot", "addr", addr.String())
			e.corr.ForceRelease(addr)
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}
