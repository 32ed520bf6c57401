package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinkk04/BLE-mesh-networking-sub001/balancer"
	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
	"github.com/justinkk04/BLE-mesh-networking-sub001/protocol"
	"github.com/justinkk04/BLE-mesh-networking-sub001/state"
)

type fakeExecutor struct {
	target mesh.Target
	cmd    protocol.Command
	out    []*protocol.Response
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, target mesh.Target, cmd protocol.Command) ([]*protocol.Response, error) {
	f.target = target
	f.cmd = cmd
	return f.out, f.err
}

type fakeBalancer struct {
	threshold float64
	priority  int
	cleared   bool
}

func (f *fakeBalancer) SetThreshold(_ context.Context, mw float64) { f.threshold = mw }
func (f *fakeBalancer) SetPriority(id int)                         { f.priority = id }
func (f *fakeBalancer) ClearPriority()                             { f.cleared = true }
func (f *fakeBalancer) Status() balancer.Status {
	return balancer.Status{Enabled: f.threshold > 0, ThresholdMW: f.threshold, PriorityNode: f.priority}
}

func newTestServer(exec *fakeExecutor, bal *fakeBalancer, store *state.Store) *Server {
	if store == nil {
		store = state.NewStore()
	}
	return NewServer(exec, bal, store, nil, slog.Default())
}

func TestNodesEndpoint(t *testing.T) {
	store := state.NewStore()
	store.ApplyReading(1, 55, 12.1, 250.0, 3025.0)
	s := newTestServer(&fakeExecutor{}, &fakeBalancer{}, store)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var nodes []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.EqualValues(t, 1, nodes[0]["id"])
	assert.EqualValues(t, 55, nodes[0]["duty"])
	assert.EqualValues(t, true, nodes[0]["responsive"])
}

func TestCommandEndpoint(t *testing.T) {
	exec := &fakeExecutor{out: []*protocol.Response{{
		Node:      1,
		Telemetry: &protocol.Telemetry{Duty: 55, Voltage: 12.1, Current: 250, Power: 3025},
	}}}
	s := newTestServer(exec, &fakeBalancer{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`{"command":"1:READ"}`))
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, mesh.NodeTarget(1), exec.target)
	assert.Equal(t, protocol.VerbRead, exec.cmd.Verb)

	var out commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Replies, 1)
	assert.Equal(t, "NODE1:DATA:D:55%,V:12.100V,I:250.0mA,P:3025.0mW", out.Replies[0])
}

func TestCommandEndpointRejectsMalformed(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, &fakeBalancer{}, nil)

	cases := []struct {
		body string
		want string
	}{
		{`{"command":""}`, "ERROR:NO_NODE_ID"},
		{`{"command":"99:READ"}`, "ERROR:INVALID_NODE"},
		{`{"command":"1:FROB"}`, "ERROR:UNKNOWN_CMD:FROB"},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(c.body))
		s.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), c.want)
	}
}

func TestCommandEndpointMapsEngineErrors(t *testing.T) {
	exec := &fakeExecutor{err: protocol.ErrBusy}
	s := newTestServer(exec, &fakeBalancer{}, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`{"command":"1:READ"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	exec.err = protocol.ErrTimeout
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(`{"command":"1:READ"}`)))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestThresholdEndpoint(t *testing.T) {
	bal := &fakeBalancer{}
	s := newTestServer(&fakeExecutor{}, bal, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/power/threshold", strings.NewReader(`{"thresholdMw":5000}`))
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 5000.0, bal.threshold, 1e-9)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/power/threshold", strings.NewReader(`{"thresholdMw":-1}`))
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriorityEndpoints(t *testing.T) {
	bal := &fakeBalancer{}
	s := newTestServer(&fakeExecutor{}, bal, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/power/priority", strings.NewReader(`{"node":2}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, bal.priority)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/power/priority", strings.NewReader(`{"node":99}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/power/priority", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bal.cleared)
}
