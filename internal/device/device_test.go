package device

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceErrorMatchesKindSentinel(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want error
	}{
		{KindNoDevice, ErrNoDevice},
		{KindUnsupportedFormat, ErrUnsupportedFormat},
		{KindBusy, ErrDeviceBusy},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("start: %w", newDeviceError(tt.kind, "hw:1", errors.New("boom")))
			assert.ErrorIs(t, err, tt.want)

			var de *DeviceError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, "hw:1", de.Device)
		})
	}

	unknown := newDeviceError(KindUnknown, "", nil)
	assert.NotErrorIs(t, unknown, ErrNoDevice)
	assert.Contains(t, unknown.Error(), "default")
}

func TestStreamErrorUnwraps(t *testing.T) {
	err := NewStreamError(ErrOverrun)
	assert.ErrorIs(t, err, ErrOverrun)
	assert.Contains(t, err.Error(), "audio stream failed")
}

func TestClassifyCaptureError(t *testing.T) {
	tests := []struct {
		stderr string
		want   ErrorKind
	}{
		{"arecord: main:831: audio open error: Device or resource busy", KindBusy},
		{"Device is already in use", KindBusy},
		{"arecord: main:831: audio open error: No such file or directory", KindNoDevice},
		{"Could not find audio only device with name [Mic]", KindNoDevice},
		{"arecord: set_params:1339: Sample format non available", KindUnsupportedFormat},
		{"Channels count non available", KindUnsupportedFormat},
		{"Rate doesn't match (requested 16000Hz, got 44100Hz)", KindUnsupportedFormat},
		{"", KindUnknown},
		{"segmentation fault", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCaptureError(tt.stderr))
		})
	}
}

func TestParseDeviceOutput(t *testing.T) {
	cfg := DeviceListConfig{
		AudioStartMarker: "audio devices:",
		AudioStopMarker:  "video devices:",
		DevicePattern:    regexp.MustCompile(`\[(\d+)\]\s+(.+)$`),
		ParseDevice: func(m []string) *Device {
			return &Device{ID: m[1], Name: m[2]}
		},
		FallbackDevices: []Device{{ID: "default", Name: "System default"}},
	}

	output := "noise [9] Ignored\naudio devices:\n[0] Built-in Microphone\n[1] USB Mic\nvideo devices:\n[2] Camera\n"
	assert.Equal(t, []Device{
		{ID: "0", Name: "Built-in Microphone"},
		{ID: "1", Name: "USB Mic"},
	}, parseDeviceOutput(output, cfg))

	assert.Equal(t, cfg.FallbackDevices, parseDeviceOutput("nothing here", cfg))
}

func TestConfigBlockSamples(t *testing.T) {
	cfg := Config{SampleRate: 16000, Channels: 2, ChunkSize: 1024}
	assert.Equal(t, 2048, cfg.BlockSamples())
	assert.Equal(t, 16000, cfg.Format().SampleRate)
	assert.Equal(t, 2, cfg.Format().Channels)
}

func TestNewBackend(t *testing.T) {
	op, err := New(BackendCommand, "")
	require.NoError(t, err)
	assert.IsType(t, &Command{}, op)

	op, err = New("", "")
	require.NoError(t, err)
	assert.IsType(t, &PortAudio{}, op)

	_, err = New("jack", "")
	require.Error(t, err)
}
