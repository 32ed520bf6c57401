package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

func TestSendTopic(t *testing.T) {
	assert.Equal(t, "dcmesh/node/0005", sendTopic("dcmesh", mesh.NodeAddr(0)))
	assert.Equal(t, "dcmesh/node/0008", sendTopic("dcmesh", mesh.NodeAddr(3)))
	assert.Equal(t, "dcmesh/group/c000", sendTopic("dcmesh", mesh.GroupAddr))
}

func TestReplyTopicRoundTrip(t *testing.T) {
	for id := 0; id < mesh.MaxNodes; id++ {
		addr := mesh.NodeAddr(id)
		got, err := parseReplyTopic("dcmesh", replyTopic("dcmesh", addr))
		require.NoError(t, err)
		assert.Equal(t, addr, got)
	}
}

func TestParseReplyTopicRejects(t *testing.T) {
	_, err := parseReplyTopic("dcmesh", "dcmesh/node/0005")
	assert.Error(t, err)

	_, err = parseReplyTopic("dcmesh", "other/reply/0005")
	assert.Error(t, err)

	_, err = parseReplyTopic("dcmesh", "dcmesh/reply/xyz")
	assert.Error(t, err)

	_, err = parseReplyTopic("dcmesh", "dcmesh/reply/10005")
	assert.Error(t, err, "address wider than 16 bits")
}
