package server

import (
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/config"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// Application states reported in Status.
const (
	StateIdle         = "idle"
	StateRecording    = "recording"
	StateCalibrating  = "calibrating"
	StateTranscribing = "transcribing"
)

// Status is the periodic application status sent to every client.
type Status struct {
	Type            string  `json:"type"`
	State           string  `json:"state"`
	SessionID       string  `json:"session_id,omitempty"`
	CalibrationID   string  `json:"calibration_id,omitempty"`
	Waiting         bool    `json:"waiting,omitempty"` // calibration waits for calibration/advance
	Elapsed         string  `json:"elapsed,omitempty"`
	Level           float64 `json:"level"`
	Version         string  `json:"version"`
	UpdateAvailable bool    `json:"update_available,omitempty"`
	Clients         int     `json:"clients"`
}

// LevelMessage carries one capture status update to clients.
type LevelMessage struct {
	Type string `json:"type"`
	capture.StatusEvent
}

// NewLevelMessage wraps a capture status update for the wire.
func NewLevelMessage(ev capture.StatusEvent) LevelMessage {
	return LevelMessage{Type: "level", StatusEvent: ev}
}

// CalibrationMessage carries calibration progress to clients.
type CalibrationMessage struct {
	Type          string  `json:"type"`
	CalibrationID string  `json:"calibration_id"`
	Phase         string  `json:"phase"`
	Elapsed       float64 `json:"elapsed"`
	Window        float64 `json:"window"`
	Level         float64 `json:"level"`
	Waiting       bool    `json:"waiting,omitempty"`
}

// TranscriptMessage announces the text of a finished dictation.
type TranscriptMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CancelResult is the reply payload for session/cancel.
type CancelResult struct {
	SessionID string  `json:"session_id"`
	Reason    string  `json:"reason"`
	Elapsed   float64 `json:"elapsed"`
	Duration  string  `json:"duration"`
}

// NewCancelResult builds the reply for a cancelled session.
func NewCancelResult(r *capture.Result) CancelResult {
	return CancelResult{
		SessionID: r.SessionID,
		Reason:    string(r.Reason),
		Elapsed:   r.Elapsed.Seconds(),
		Duration:  util.FormatDuration(r.Elapsed),
	}
}

// SilenceView is the client view of the silence settings.
type SilenceView struct {
	Threshold       float64 `json:"threshold"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ConfigView is the client view of the configuration. Secrets are omitted.
type ConfigView struct {
	Backend          string      `json:"backend"`
	Device           string      `json:"device"`
	SampleRate       int         `json:"sample_rate"`
	Channels         int         `json:"channels"`
	ChunkSize        int         `json:"chunk_size"`
	Silence          SilenceView `json:"silence"`
	MaxRecordingTime float64     `json:"max_recording_time"`
	Transcriber      string      `json:"transcriber"`
	HasAPIKey        bool        `json:"has_api_key"`
}

// NewConfigView builds the client view of a configuration snapshot.
func NewConfigView(s config.Snapshot) ConfigView {
	return ConfigView{
		Backend:    s.AudioBackend,
		Device:     s.AudioDevice,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		ChunkSize:  s.ChunkSize,
		Silence: SilenceView{
			Threshold:       s.SilenceThreshold,
			DurationSeconds: s.SilenceDuration.Seconds(),
		},
		MaxRecordingTime: s.MaxRecordingTime.Seconds(),
		Transcriber:      s.Transcription.Backend,
		HasAPIKey:        s.Transcription.APIKey != "",
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
