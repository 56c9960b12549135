package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of lifecycle event.
type EventType string

const (
	EventStarted     EventType = "started"
	EventStopped     EventType = "stopped"
	EventCalibrated  EventType = "calibrated"
	EventAdvisory    EventType = "calibration_advisory"
	EventTranscribed EventType = "transcribed"
	EventFailed      EventType = "transcription_failed"
)

// Event is a single line of the event log.
type Event struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id,omitempty"`
	Event     EventType `json:"event"`
	Message   string    `json:"msg,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`

	// Recording details, set on stopped events.
	DurationSec    float64 `json:"duration_sec,omitempty"`
	Samples        int     `json:"samples,omitempty"`
	DroppedUpdates uint64  `json:"dropped_updates,omitempty"`

	// Calibration details.
	Threshold       float64 `json:"threshold,omitempty"`
	SilenceDuration float64 `json:"silence_duration,omitempty"`
	AmbientPeak     float64 `json:"ambient_peak,omitempty"`
	SpeechMean      float64 `json:"speech_mean,omitempty"`
}

// Logger writes events to a JSON lines file.
// A nil *Logger discards events. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger appending to filePath.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// ReadLast reads the last n events from the log file, newest first.
func ReadLast(filePath string, n int) ([]Event, error) {
	if n <= 0 {
		return []Event{}, nil
	}
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	// Keep a window of the last n lines.
	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(lines) == n {
			lines = append(lines[:0], lines[1:]...)
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	return events, nil
}
