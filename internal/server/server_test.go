package server

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/config"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
)

type fakeController struct {
	cancelled []string
	advanced  []string
	cancelErr error
	startErr  error
}

func (f *fakeController) Status() Status { return Status{State: StateIdle} }

func (f *fakeController) StartSession() (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "s1", nil
}

func (f *fakeController) CancelSession(id string) (*capture.Result, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return &capture.Result{SessionID: "s1", Reason: capture.ReasonCancelled, Elapsed: 2400 * time.Millisecond}, nil
}

func (f *fakeController) AdvanceCalibration(id string) error {
	f.advanced = append(f.advanced, id)
	return nil
}

func (f *fakeController) Devices() ([]device.Device, error) {
	return []device.Device{{ID: "hw:0", Name: "USB Mic"}}, nil
}

func newTestHandler(t *testing.T) (*CommandHandler, *fakeController, *config.Config) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	ctrl := &fakeController{}
	return NewCommandHandler(cfg, ctrl), ctrl, cfg
}

func run(t *testing.T, h *CommandHandler, typ, data string) Response {
	t.Helper()
	cmd := WSCommand{Type: typ, ID: "req-1"}
	if data != "" {
		cmd.Data = json.RawMessage(data)
	}
	send := make(chan any, 4)
	triggered := false
	h.Handle(cmd, send, func() { triggered = true })
	assert.True(t, triggered)

	require.Len(t, send, 1)
	resp, ok := (<-send).(Response)
	require.True(t, ok)
	assert.Equal(t, typ+"_result", resp.Type)
	assert.Equal(t, "req-1", resp.ID)
	return resp
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "example.com", true},
		{"localhost", "http://localhost:3000", "10.0.0.5:8090", true},
		{"same host", "http://studio.local:8090", "studio.local:8090", true},
		{"private ip", "http://192.168.1.20", "studio.local:8090", true},
		{"loopback ip", "http://127.0.0.1:9999", "studio.local:8090", true},
		{"foreign", "https://evil.example", "studio.local:8090", false},
		{"malformed", "://bad", "studio.local:8090", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r))
		})
	}
}

func TestSessionCancel(t *testing.T) {
	h, ctrl, _ := newTestHandler(t)

	resp := run(t, h, "session/cancel", `{"session_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`)
	require.True(t, resp.Success)
	res, ok := resp.Data.(CancelResult)
	require.True(t, ok)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "cancelled", res.Reason)
	assert.Equal(t, "2.4s", res.Duration)
	assert.Equal(t, []string{"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}, ctrl.cancelled)
}

func TestSessionStart(t *testing.T) {
	h, ctrl, _ := newTestHandler(t)

	resp := run(t, h, "session/start", "")
	require.True(t, resp.Success)
	assert.Equal(t, map[string]string{"session_id": "s1"}, resp.Data)

	ctrl.startErr = ErrBusy
	resp = run(t, h, "session/start", "")
	assert.False(t, resp.Success)
	assert.Equal(t, ErrBusy.Error(), resp.Error)
}

func TestSessionCancelNoActiveSession(t *testing.T) {
	h, ctrl, _ := newTestHandler(t)
	ctrl.cancelErr = ErrNoActiveSession

	resp := run(t, h, "session/cancel", "")
	assert.False(t, resp.Success)
	assert.Equal(t, ErrNoActiveSession.Error(), resp.Error)
}

func TestSessionCancelRejectsBadID(t *testing.T) {
	h, ctrl, _ := newTestHandler(t)

	resp := run(t, h, "session/cancel", `{"session_id":"not-a-uuid"}`)
	assert.False(t, resp.Success)
	verr, ok := resp.Error.(*ValidationError)
	require.True(t, ok)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "session_id", verr.Errors[0].Field)
	assert.Empty(t, ctrl.cancelled)
}

func TestInvalidJSON(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := run(t, h, "calibration/advance", `{`)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid JSON")
}

func TestCalibrationAdvance(t *testing.T) {
	h, ctrl, _ := newTestHandler(t)
	resp := run(t, h, "calibration/advance", "")
	assert.True(t, resp.Success)
	assert.Equal(t, []string{""}, ctrl.advanced)
}

func TestSilenceUpdatePersists(t *testing.T) {
	h, _, cfg := newTestHandler(t)

	resp := run(t, h, "silence/update", `{"threshold":0.04,"duration_seconds":1.5}`)
	require.True(t, resp.Success, "error: %v", resp.Error)
	assert.Equal(t, SilenceView{Threshold: 0.04, DurationSeconds: 1.5}, resp.Data)

	snap := cfg.Snapshot()
	assert.InDelta(t, 0.04, snap.SilenceThreshold, 1e-12)
	assert.Equal(t, 1500*time.Millisecond, snap.SilenceDuration)

	reloaded := config.New(cfg.Path())
	require.NoError(t, reloaded.Load())
	assert.InDelta(t, 0.04, reloaded.Snapshot().SilenceThreshold, 1e-12)
}

func TestSilenceUpdateOutOfRange(t *testing.T) {
	h, _, cfg := newTestHandler(t)
	before := cfg.Snapshot().SilenceThreshold

	resp := run(t, h, "silence/update", `{"threshold":1.5}`)
	assert.False(t, resp.Success)
	assert.IsType(t, &ValidationError{}, resp.Error)
	assert.InDelta(t, before, cfg.Snapshot().SilenceThreshold, 1e-12)
}

func TestDevicesListAndSelect(t *testing.T) {
	h, _, cfg := newTestHandler(t)

	resp := run(t, h, "devices/list", "")
	require.True(t, resp.Success)
	assert.Equal(t, []device.Device{{ID: "hw:0", Name: "USB Mic"}}, resp.Data)

	resp = run(t, h, "devices/select", `{"device":"hw:0"}`)
	require.True(t, resp.Success)
	assert.Equal(t, "hw:0", cfg.Snapshot().AudioDevice)

	resp = run(t, h, "devices/select", `{}`)
	assert.False(t, resp.Success)
}

func TestConfigGetOmitsSecrets(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := run(t, h, "config/get", "")
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"api_key"`)
	assert.Contains(t, string(data), `"has_api_key":false`)
}

func TestEventsRecentWithoutLog(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := run(t, h, "events/recent", `{"limit":5}`)
	require.True(t, resp.Success)
	assert.Empty(t, resp.Data)
}

func TestUnknownCommand(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := run(t, h, "outputs/add", "")
	assert.False(t, resp.Success)
}

func TestTrySendDropsWhenFull(t *testing.T) {
	send := make(chan any, 1)
	cmd := WSCommand{Type: "status/get"}
	SendSuccess(send, cmd, nil)
	SendSuccess(send, cmd, nil)
	assert.Len(t, send, 1)
}
