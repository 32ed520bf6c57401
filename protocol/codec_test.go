package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
)

func TestNativeVerbMapping(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{Command{Verb: VerbRamp}, "r"},
		{Command{Verb: VerbOn}, "r"},
		{Command{Verb: VerbStop}, "s"},
		{Command{Verb: VerbOff}, "s"},
		{Command{Verb: VerbRead}, "read"},
		{Command{Verb: VerbStatus}, "read"},
		{Duty(75), "duty:75"},
	}
	for _, c := range cases {
		got, err := c.cmd.Native()
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestNativeDutyDefaultAndClamp(t *testing.T) {
	got, err := Command{Verb: VerbDuty}.Native()
	require.NoError(t, err)
	assert.Equal(t, "duty:50", got, "duty without value defaults to 50")

	got, _ = Duty(150).Native()
	assert.Equal(t, "duty:100", got)

	got, _ = Duty(-10).Native()
	assert.Equal(t, "duty:0", got)
}

func TestNativeMonitorHasNoWireForm(t *testing.T) {
	_, err := Command{Verb: VerbMonitor}.Native()
	assert.Error(t, err)
}

func TestParseRequest(t *testing.T) {
	target, cmd, err := ParseRequest("1:READ")
	require.NoError(t, err)
	assert.Equal(t, mesh.NodeTarget(1), target)
	assert.Equal(t, VerbRead, cmd.Verb)

	target, cmd, err = ParseRequest("2:DUTY:50")
	require.NoError(t, err)
	assert.Equal(t, 2, target.ID)
	assert.True(t, cmd.HasValue)
	assert.Equal(t, 50, cmd.Value)

	target, _, err = ParseRequest("all:ramp")
	require.NoError(t, err)
	assert.True(t, target.All)
}

func TestParseRequestErrors(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "ERROR:NO_NODE_ID"},
		{"99:READ", "ERROR:INVALID_NODE"},
		{"x:READ", "ERROR:INVALID_NODE"},
		{"1", "ERROR:NO_COMMAND"},
		{"1:", "ERROR:NO_COMMAND"},
		{"1:FROB", "ERROR:UNKNOWN_CMD:FROB"},
	}
	for _, c := range cases {
		_, _, err := ParseRequest(c.in)
		require.Error(t, err, "input %q", c.in)
		assert.Equal(t, c.want, err.Error(), "input %q", c.in)
	}
}

func TestDecodeReplyTelemetry(t *testing.T) {
	resp, err := DecodeReply(mesh.NodeAddr(3), []byte("D:55%,V:12.100V,I:250.0mA,P:3025.0mW"))
	require.NoError(t, err)
	require.NotNil(t, resp.Telemetry)
	assert.Equal(t, 3, resp.Node)
	assert.Equal(t, 55, resp.Telemetry.Duty)
	assert.InDelta(t, 12.1, resp.Telemetry.Voltage, 1e-9)
	assert.InDelta(t, 250.0, resp.Telemetry.Current, 1e-9)
	assert.InDelta(t, 3025.0, resp.Telemetry.Power, 1e-9)
	assert.Equal(t, "NODE3:DATA:D:55%,V:12.100V,I:250.0mA,P:3025.0mW", resp.String())
}

func TestDecodeReplyCaseInsensitiveUnits(t *testing.T) {
	resp, err := DecodeReply(mesh.NodeAddr(0), []byte("d:10%,v:11.9v,i:50.0ma,p:595.0mw"))
	require.NoError(t, err)
	require.NotNil(t, resp.Telemetry)
	assert.Equal(t, 10, resp.Telemetry.Duty)
}

func TestDecodeReplyStatus(t *testing.T) {
	resp, err := DecodeReply(mesh.NodeAddr(1), []byte("stopped"))
	require.NoError(t, err)
	assert.Nil(t, resp.Telemetry)
	assert.Equal(t, "stopped", resp.Status)
	assert.Equal(t, "NODE1:stopped", resp.String())
}

func TestDecodeReplyRejectsGroupSourceAndEmpty(t *testing.T) {
	_, err := DecodeReply(mesh.GroupAddr, []byte("D:10%,V:12.0V,I:1.0mA,P:12.0mW"))
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = DecodeReply(mesh.NodeAddr(1), []byte("  "))
	assert.ErrorIs(t, err, ErrMalformedReply)
}
