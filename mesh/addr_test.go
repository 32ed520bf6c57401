package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrClassification(t *testing.T) {
	assert.False(t, NodeAddr(0).IsGroup())
	assert.False(t, NodeAddr(MaxNodes-1).IsGroup())
	assert.True(t, GroupAddr.IsGroup())
	assert.True(t, Addr(0xFFFF).IsGroup())
}

func TestAddrNodeID(t *testing.T) {
	id, ok := NodeAddr(3).NodeID()
	require.True(t, ok)
	assert.Equal(t, 3, id)

	_, ok = GroupAddr.NodeID()
	assert.False(t, ok, "group address must never map to a node id")

	_, ok = Addr(0x0001).NodeID()
	assert.False(t, ok, "addresses below the node base are not nodes")
}

func TestParseTarget(t *testing.T) {
	tgt, err := ParseTarget("ALL")
	require.NoError(t, err)
	assert.True(t, tgt.All)
	assert.Equal(t, GroupAddr, tgt.Addr())

	tgt, err = ParseTarget("all")
	require.NoError(t, err)
	assert.True(t, tgt.All)

	tgt, err = ParseTarget("2")
	require.NoError(t, err)
	assert.False(t, tgt.All)
	assert.Equal(t, NodeAddr(2), tgt.Addr())

	for _, bad := range []string{"", "-1", "10", "x", "0xC000"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, "target %q should be rejected", bad)
	}
}
