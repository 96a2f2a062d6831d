package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biped/internal/actuator"
	"biped/internal/control"
	"biped/internal/core"
	"biped/pkg/types"
)

type torqueCall struct {
	on     bool
	target string
}

type fakeRobot struct {
	mu    sync.Mutex
	calls []torqueCall
}

func (f *fakeRobot) Snapshot() actuator.Pose {
	return actuator.Pose{Joints: []actuator.JointState{
		{Name: "L_KNEE", ID: 8, Current: 4, Next: 5, HasTarget: true},
		{Name: "R_KNEE", ID: 7, Current: 1, Next: 2, HasTarget: true},
	}}
}

func (f *fakeRobot) SetTorqueTarget(_ context.Context, on bool, target string) error {
	if target == "NOPE" {
		return actuator.ErrInvalidActuator
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, torqueCall{on: on, target: target})
	return nil
}

func (f *fakeRobot) torqueCalls() []torqueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]torqueCall(nil), f.calls...)
}

type fakeCycle struct {
	mu     sync.Mutex
	paused bool
}

func (f *fakeCycle) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeCycle) Start() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeCycle) Status() control.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return control.Status{Paused: f.paused, Ticks: 42}
}

type fakeWorkers struct{}

func (fakeWorkers) Status() []core.WorkerStatus {
	return []core.WorkerStatus{{Task: "legs_control", Priority: types.PriorityLegs, State: "paused", Units: 3}}
}

func newTestServer(t *testing.T) (*Server, *fakeRobot, *fakeCycle, *httptest.Server) {
	t.Helper()
	robot, cycle := &fakeRobot{}, &fakeCycle{}
	s := NewServer(types.StatusServerConfig{Address: "127.0.0.1:0"}, robot, cycle, fakeWorkers{})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, robot, cycle, srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatus(t *testing.T) {
	_, _, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var report StatusReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, uint64(42), report.Cycle.Ticks)
	require.Len(t, report.Workers, 1)
	assert.Equal(t, "legs_control", report.Workers[0].Task)
	assert.Len(t, report.Pose.Joints, 2)
}

func TestActuator(t *testing.T) {
	_, _, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/actuators/R_KNEE")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var joint actuator.JointState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joint))
	assert.Equal(t, actuator.JointState{Name: "R_KNEE", ID: 7, Current: 1, Next: 2, HasTarget: true}, joint)

	missing, err := http.Get(srv.URL + "/api/actuators/TAIL")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestTorque(t *testing.T) {
	_, robot, _, srv := newTestServer(t)

	resp := post(t, srv.URL+"/api/torque", `{"on": true, "target": "LEFT_LEG"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, srv.URL+"/api/torque", `{"on": false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []torqueCall{{on: true, target: "LEFT_LEG"}, {on: false, target: "ALL_MOTORS"}}, robot.torqueCalls())

	resp = post(t, srv.URL+"/api/torque", `{"on": true, "target": "NOPE"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = post(t, srv.URL+"/api/torque", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get, err := http.Get(srv.URL + "/api/torque")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestPauseStart(t *testing.T) {
	_, _, cycle, srv := newTestServer(t)

	var st control.Status
	resp := post(t, srv.URL+"/api/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Paused)
	assert.True(t, cycle.Status().Paused)

	resp = post(t, srv.URL+"/api/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, cycle.Status().Paused)
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func TestWebsocketStreamsPoses(t *testing.T) {
	s, _, cycle, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg frame
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, time.Millisecond)

	s.Observe(actuator.Pose{Joints: []actuator.JointState{{Name: "HEAD_PAN", Current: 9}}})
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pose", msg.Type)
	var pose actuator.Pose
	require.NoError(t, json.Unmarshal(msg.Data, &pose))
	assert.Equal(t, 9.0, pose.Joints[0].Current)

	require.NoError(t, conn.WriteJSON(Command{Command: "pause"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "ack", msg.Type)
	assert.True(t, cycle.Status().Paused)

	require.NoError(t, conn.WriteJSON(Command{Command: "dance"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)

	conn.Close()
	require.Eventually(t, func() bool { return s.Clients() == 0 }, time.Second, time.Millisecond)
}
