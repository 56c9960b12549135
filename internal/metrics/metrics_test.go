package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-dictation/internal/calibrate"
	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/transcribe"
)

var (
	_ capture.Observer    = (*Metrics)(nil)
	_ calibrate.Observer  = (*Metrics)(nil)
	_ transcribe.Observer = (*Metrics)(nil)
)

func TestRecordingMetrics(t *testing.T) {
	m := New()
	m.BlockProcessed(0.2)
	m.BlockProcessed(0.4)
	m.StatusDropped(3)
	m.SessionStopped(string(capture.ReasonSilence), 4*time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(m.BlocksProcessed), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.DroppedStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sessions.WithLabelValues("silence")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.InputLevel), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.SessionDuration))
}

func TestCalibrationAndTranscriptionMetrics(t *testing.T) {
	m := New()
	m.CalibrationFinished(calibrate.OutcomeAdvisory)
	m.TranscriptionFinished(transcribe.BackendAPI, time.Second, nil)
	m.TranscriptionFinished(transcribe.BackendAPI, time.Second, errors.New("boom"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Calibrations.WithLabelValues("advisory")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.TranscriptionRequests.WithLabelValues("api")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues("api")), 0)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.BlockProcessed(0.1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // Test cleanup
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dictation_blocks_processed_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
