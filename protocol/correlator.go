package protocol

import (
	"sync"

	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

// Correlator matches inbound replies to outstanding requests. Unicast
// requests are single-flight per target: Acquire fails fast with ErrBusy
// while a request is outstanding, and a reply is attributed to the most
// recent outstanding request for its source. Group requests open fan-in
// windows; every reply is delivered to all open windows without blocking
// the dispatcher.
type Correlator struct {
	mu      sync.Mutex
	pending map[mesh.Addr]chan *Response
	windows map[*Window]struct{}
}

func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[mesh.Addr]chan *Response),
		windows: make(map[*Window]struct{}),
	}
}

// Acquire claims the single-flight slot for a unicast address. The returned
// channel receives at most one response.
func (c *Correlator) Acquire(addr mesh.Addr) (chan *Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.pending[addr]; busy {
		return nil, ErrBusy
	}
	ch := make(chan *Response, 1)
	c.pending[addr] = ch
	return ch, nil
}

// Release frees the slot, but only if it is still held by the given channel.
// A timed-out caller releasing late must not evict a newer request.
func (c *Correlator) Release(addr mesh.Addr, ch chan *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.pending[addr]; ok && cur == ch {
		delete(c.pending, addr)
	}
}

// ForceRelease evicts whatever request is outstanding for addr. Used when a
// stopped monitor's in-flight read refuses to settle inside its grace
// period; the evicted waiter still times out on its own channel.
func (c *Correlator) ForceRelease(addr mesh.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, addr)
}

// HasPending reports whether a unicast request is outstanding for addr.
func (c *Correlator) HasPending(addr mesh.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.pending[addr]
	return busy
}

// Window is one caller's fan-in collection of group replies. Replies
// arriving after Close are not errors; they remain plain telemetry updates.
type Window struct {
	C    chan *Response
	corr *Correlator
	once sync.Once
}

// OpenWindow registers a fan-in window. The buffer should cover the largest
// expected burst of replies; overflow replies are dropped from the window
// (never from the state store).
func (c *Correlator) OpenWindow(buffer int) *Window {
	w := &Window{C: make(chan *Response, buffer), corr: c}
	c.mu.Lock()
	c.windows[w] = struct{}{}
	c.mu.Unlock()
	return w
}

func (w *Window) Close() {
	w.once.Do(func() {
		w.corr.mu.Lock()
		delete(w.corr.windows, w)
		w.corr.mu.Unlock()
		close(w.C)
	})
}

// Dispatch routes one decoded reply: to the outstanding unicast request for
// its source, if any, and to every open group window. Never blocks.
func (c *Correlator) Dispatch(src mesh.Addr, r *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.pending[src]; ok {
		select {
		case ch <- r:
		default:
		}
		delete(c.pending, src)
	}

	for w := range c.windows {
		select {
		case w.C <- r:
		default:
		}
	}
}
