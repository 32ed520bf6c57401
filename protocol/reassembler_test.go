package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

func feedAll(ra *Reassembler, src mesh.Addr, chunks [][]byte) ([]byte, bool) {
	var payload []byte
	var done bool
	for _, c := range chunks {
		payload, done = ra.Feed(mesh.Frame{Source: src, Payload: c})
	}
	return payload, done
}

func TestReassemblerSingleFrame(t *testing.T) {
	ra := NewReassembler()
	payload, done := ra.Feed(mesh.Frame{Source: mesh.NodeAddr(1), Payload: []byte("stopped")})
	require.True(t, done)
	assert.Equal(t, "stopped", string(payload))
}

func TestReassemblerChunkedPayload(t *testing.T) {
	ra := NewReassembler()
	full := []byte("D:55%,V:12.100V,I:250.0mA,P:3025.0mW")
	payload, done := feedAll(ra, mesh.NodeAddr(2), mesh.SplitFrames(full))
	require.True(t, done)
	assert.Equal(t, full, payload)
}

func TestReassemblerInterleavedSources(t *testing.T) {
	ra := NewReassembler()
	a := []byte("D:10%,V:12.000V,I:100.0mA,P:1200.0mW")
	b := []byte("D:90%,V:11.800V,I:900.0mA,P:10620.0mW")
	chunksA := mesh.SplitFrames(a)
	chunksB := mesh.SplitFrames(b)

	// Interleave: continuations from both before either completes.
	_, done := ra.Feed(mesh.Frame{Source: mesh.NodeAddr(0), Payload: chunksA[0]})
	assert.False(t, done)
	_, done = ra.Feed(mesh.Frame{Source: mesh.NodeAddr(1), Payload: chunksB[0]})
	assert.False(t, done)

	payload, done := ra.Feed(mesh.Frame{Source: mesh.NodeAddr(0), Payload: chunksA[1]})
	require.True(t, done)
	assert.Equal(t, a, payload)

	payload, done = ra.Feed(mesh.Frame{Source: mesh.NodeAddr(1), Payload: chunksB[1]})
	require.True(t, done)
	assert.Equal(t, b, payload)
}

func TestReassemblerResetDropsPartials(t *testing.T) {
	ra := NewReassembler()
	full := []byte("D:55%,V:12.100V,I:250.0mA,P:3025.0mW")
	chunks := mesh.SplitFrames(full)
	require.Greater(t, len(chunks), 1)

	ra.Feed(mesh.Frame{Source: mesh.NodeAddr(3), Payload: chunks[0]})
	ra.Reset()

	// The final chunk alone is now the whole payload; the stale prefix is gone.
	payload, done := ra.Feed(mesh.Frame{Source: mesh.NodeAddr(3), Payload: chunks[len(chunks)-1]})
	require.True(t, done)
	assert.Equal(t, chunks[len(chunks)-1], payload)
}
