package protocol

import (
	"sync"

	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

// Reassembler rebuilds logical payloads from chunked frames, buffering
// continuation frames per source address and flushing on the first frame
// without the marker.
type Reassembler struct {
	mu  sync.Mutex
	buf map[mesh.Addr][]byte
}

func NewReassembler() *Reassembler {
	return &Reassembler{buf: make(map[mesh.Addr][]byte)}
}

// Feed consumes one frame. It returns the complete payload once the final
// chunk arrives, and (nil, false) while buffering continuations.
func (ra *Reassembler) Feed(f mesh.Frame) ([]byte, bool) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	if mesh.IsContinuation(f.Payload) {
		ra.buf[f.Source] = append(ra.buf[f.Source], f.Payload[1:]...)
		return nil, false
	}

	payload := append(ra.buf[f.Source], f.Payload...)
	delete(ra.buf, f.Source)
	return payload, true
}

// Reset drops all partial state. Called on transport-level disconnect so
// stale buffers never leak into the next session.
func (ra *Reassembler) Reset() {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.buf = make(map[mesh.Addr][]byte)
}
