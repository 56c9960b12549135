// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/calibrate"
	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/transcribe"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultSampleRate       = 16000
	DefaultChannels         = 1
	DefaultChunkSize        = 2048
	DefaultSilenceThreshold = 0.015
	DefaultSilenceDuration  = 2.0   // seconds
	DefaultMaxRecordingTime = 120.0 // seconds
	DefaultStatusBuffer     = capture.DefaultStatusBuffer

	DefaultAmbientSeconds = 3.0
	DefaultSpeechSeconds  = 9.0

	DefaultTimeoutSeconds = 30
	DefaultMaxRetries     = transcribe.DefaultMaxRetries

	// APIKeyEnv overrides transcription.api_key without being persisted.
	APIKeyEnv = "OPENAI_API_KEY"

	appDir = "zwfm-dictation"
)

// AudioConfig holds capture and silence detection settings.
type AudioConfig struct {
	Backend          string  `json:"backend" validate:"omitempty,oneof=portaudio command"` // Device backend
	Device           string  `json:"device"`                                               // Input device (empty = default)
	FFmpegPath       string  `json:"ffmpeg_path"`                                          // FFmpeg binary for the command backend (empty = PATH)
	SampleRate       int     `json:"sample_rate" validate:"gte=8000,lte=192000"`           // Hz
	Channels         int     `json:"channels" validate:"gte=1,lte=8"`                      // Interleaved channels
	ChunkSize        int     `json:"chunk_size" validate:"gte=64,lte=65536"`               // Frames per block
	SilenceThreshold float64 `json:"silence_threshold" validate:"gt=0,lt=1"`               // Normalized RMS
	SilenceDuration  float64 `json:"silence_duration" validate:"gt=0"`                     // Seconds of silence before stopping
	MaxRecordingTime float64 `json:"max_recording_time" validate:"gt=0"`                   // Seconds
	StatusBuffer     int     `json:"status_buffer" validate:"gte=1"`                       // Status events kept for slow consumers
}

// CalibrationConfig holds calibration windows and recommendation tuning.
type CalibrationConfig struct {
	AmbientSeconds float64 `json:"ambient_seconds" validate:"gt=0"`
	SpeechSeconds  float64 `json:"speech_seconds" validate:"gt=0"`
	Bias           float64 `json:"bias" validate:"gt=0,lt=1"`
	MinRatio       float64 `json:"min_ratio" validate:"gte=1"`
	MinMargin      float64 `json:"min_margin" validate:"gte=0"`
}

// TranscriptionConfig holds speech-to-text backend settings.
type TranscriptionConfig struct {
	Backend        string `json:"backend" validate:"oneof=api command"`
	Endpoint       string `json:"endpoint" validate:"omitempty,url"`
	APIKey         string `json:"api_key,omitempty"`
	Model          string `json:"model"`
	Language       string `json:"language"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"gte=1"`
	MaxRetries     int    `json:"max_retries" validate:"gte=0,lte=10"`
	Command        string `json:"command"`
	ModelPath      string `json:"model_path" validate:"required_if=Backend command"`
	Threads        int    `json:"threads" validate:"gte=0"`
}

// ServerConfig holds the optional status server settings.
type ServerConfig struct {
	Listen string `json:"listen" validate:"omitempty,hostname_port"` // Empty disables the server
}

// LogConfig holds event log settings.
type LogConfig struct {
	EventsPath string `json:"events_path"` // JSON lines event log (empty = disabled)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Audio         AudioConfig         `json:"audio"`
	Calibration   CalibrationConfig   `json:"calibration"`
	Transcription TranscriptionConfig `json:"transcription"`
	Server        ServerConfig        `json:"server"`
	Log           LogConfig           `json:"log"`

	mu       sync.RWMutex
	filePath string
	envKey   string
}

// DefaultPath returns the per-user configuration file path.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", util.WrapError("locate config directory", err)
	}
	return filepath.Join(dir, appDir, "config.json"), nil
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.Transcription.MaxRetries = DefaultMaxRetries
	c.applyDefaults()
	return c
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.envKey = os.Getenv(APIKeyEnv)

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	return nil
}

// Validate checks all configuration fields for correctness.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if err := util.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid config %s: %w", c.filePath, err)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// Audio defaults
	c.Audio.Backend = cmp.Or(c.Audio.Backend, device.BackendPortAudio)
	c.Audio.SampleRate = cmp.Or(c.Audio.SampleRate, DefaultSampleRate)
	c.Audio.Channels = cmp.Or(c.Audio.Channels, DefaultChannels)
	c.Audio.ChunkSize = cmp.Or(c.Audio.ChunkSize, DefaultChunkSize)
	c.Audio.SilenceThreshold = cmp.Or(c.Audio.SilenceThreshold, DefaultSilenceThreshold)
	c.Audio.SilenceDuration = cmp.Or(c.Audio.SilenceDuration, DefaultSilenceDuration)
	c.Audio.MaxRecordingTime = cmp.Or(c.Audio.MaxRecordingTime, DefaultMaxRecordingTime)
	c.Audio.StatusBuffer = cmp.Or(c.Audio.StatusBuffer, DefaultStatusBuffer)
	// Calibration defaults
	c.Calibration.AmbientSeconds = cmp.Or(c.Calibration.AmbientSeconds, DefaultAmbientSeconds)
	c.Calibration.SpeechSeconds = cmp.Or(c.Calibration.SpeechSeconds, DefaultSpeechSeconds)
	c.Calibration.Bias = cmp.Or(c.Calibration.Bias, calibrate.DefaultBias)
	c.Calibration.MinRatio = cmp.Or(c.Calibration.MinRatio, calibrate.DefaultMinRatio)
	c.Calibration.MinMargin = cmp.Or(c.Calibration.MinMargin, calibrate.DefaultMinMargin)
	// Transcription defaults
	c.Transcription.Backend = cmp.Or(c.Transcription.Backend, transcribe.BackendAPI)
	c.Transcription.Endpoint = cmp.Or(c.Transcription.Endpoint, transcribe.DefaultEndpoint)
	c.Transcription.Model = cmp.Or(c.Transcription.Model, transcribe.DefaultModel)
	c.Transcription.TimeoutSeconds = cmp.Or(c.Transcription.TimeoutSeconds, DefaultTimeoutSeconds)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Setters for individual settings ---

// UpdateSilence stores a calibrated threshold and silence duration and saves
// the configuration.
func (c *Config) UpdateSilence(threshold float64, duration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.Audio
	c.Audio.SilenceThreshold = threshold
	if duration > 0 {
		c.Audio.SilenceDuration = duration.Seconds()
	}
	if err := c.validate(); err != nil {
		c.Audio = prev
		return err
	}
	return c.saveLocked()
}

// SetAudioDevice updates the input device and saves the configuration.
func (c *Config) SetAudioDevice(dev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Device = dev
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// Audio
	AudioBackend     string
	AudioDevice      string
	FFmpegPath       string
	SampleRate       int
	Channels         int
	ChunkSize        int
	SilenceThreshold float64
	SilenceDuration  time.Duration
	MaxRecordingTime time.Duration
	StatusBuffer     int

	// Calibration
	AmbientWindow time.Duration
	SpeechWindow  time.Duration
	Bias          float64
	MinRatio      float64
	MinMargin     float64

	// Transcription
	Transcription TranscriptionConfig

	// Server and logging
	ListenAddr    string
	EventsPath    string
	APIKeyFromEnv bool
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tr := c.Transcription
	tr.APIKey = cmp.Or(c.envKey, tr.APIKey)

	return Snapshot{
		// Audio
		AudioBackend:     c.Audio.Backend,
		AudioDevice:      c.Audio.Device,
		FFmpegPath:       c.Audio.FFmpegPath,
		SampleRate:       c.Audio.SampleRate,
		Channels:         c.Audio.Channels,
		ChunkSize:        c.Audio.ChunkSize,
		SilenceThreshold: c.Audio.SilenceThreshold,
		SilenceDuration:  seconds(c.Audio.SilenceDuration),
		MaxRecordingTime: seconds(c.Audio.MaxRecordingTime),
		StatusBuffer:     c.Audio.StatusBuffer,

		// Calibration
		AmbientWindow: seconds(c.Calibration.AmbientSeconds),
		SpeechWindow:  seconds(c.Calibration.SpeechSeconds),
		Bias:          c.Calibration.Bias,
		MinRatio:      c.Calibration.MinRatio,
		MinMargin:     c.Calibration.MinMargin,

		// Transcription
		Transcription: tr,

		// Server and logging
		ListenAddr:    c.Server.Listen,
		EventsPath:    c.Log.EventsPath,
		APIKeyFromEnv: c.envKey != "",
	}
}

// HasServer reports whether the status server is enabled.
func (s Snapshot) HasServer() bool {
	return s.ListenAddr != ""
}

// HasEventLog reports whether an event log path is configured.
func (s Snapshot) HasEventLog() bool {
	return s.EventsPath != ""
}

// SessionConfig returns the immutable configuration for one recording.
func (s Snapshot) SessionConfig() capture.SessionConfig {
	return capture.SessionConfig{
		Device:           s.AudioDevice,
		SampleRate:       s.SampleRate,
		Channels:         s.Channels,
		ChunkSize:        s.ChunkSize,
		SilenceThreshold: s.SilenceThreshold,
		SilenceDuration:  s.SilenceDuration,
		MaxRecordingTime: s.MaxRecordingTime,
		StatusBuffer:     s.StatusBuffer,
	}
}

// CalibrationConfig returns the calibration engine configuration.
func (s Snapshot) CalibrationConfig() calibrate.Config {
	sc := s.SessionConfig()
	return calibrate.Config{
		Device:  sc.DeviceConfig(),
		Ambient: s.AmbientWindow,
		Speech:  s.SpeechWindow,
		Options: calibrate.Options{
			Bias:            s.Bias,
			MinRatio:        s.MinRatio,
			MinMargin:       s.MinMargin,
			SilenceDuration: s.SilenceDuration,
		},
	}
}

// TranscriberConfig returns the transcription backend configuration.
func (s Snapshot) TranscriberConfig() transcribe.Config {
	t := s.Transcription
	return transcribe.Config{
		Backend:    t.Backend,
		Endpoint:   t.Endpoint,
		APIKey:     t.APIKey,
		Model:      t.Model,
		Language:   t.Language,
		Timeout:    time.Duration(t.TimeoutSeconds) * time.Second,
		MaxRetries: t.MaxRetries,
		Command:    t.Command,
		ModelPath:  t.ModelPath,
		Threads:    t.Threads,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// CheckPaths verifies the files the configuration points at: the event log
// directory must be writable and a local transcription model must exist.
func (s Snapshot) CheckPaths() error {
	if s.HasEventLog() {
		if err := util.ValidatePath("log.events_path", s.EventsPath); err != nil {
			return err
		}
		if err := util.CheckPathWritable(filepath.Dir(s.EventsPath)); err != nil {
			return fmt.Errorf("log.events_path: %w", err)
		}
	}

	if s.Transcription.Backend == transcribe.BackendCommand {
		if err := util.ValidatePath("transcription.model_path", s.Transcription.ModelPath); err != nil {
			return err
		}
		if _, err := os.Stat(s.Transcription.ModelPath); err != nil {
			return fmt.Errorf("transcription.model_path: %w", err)
		}
	}
	return nil
}
