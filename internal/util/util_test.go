package util

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{2400 * time.Millisecond, "2.4s"},
		{45 * time.Second, "45s"},
		{154 * time.Second, "2m 34s"},
		{83 * time.Minute, "1h 23m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"trailing blank lines", "first\nsecond\n\n  ", "second"},
		{"progress rewrites", "size=1kB\rsize=2kB\rarecord: device busy\r\n", "arecord: device busy"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LastLine(tt.in))
		})
	}
	assert.Len(t, LastLine(strings.Repeat("x", 500)), maxErrorLineLength+3)
}

func TestResolveExecutable(t *testing.T) {
	assert.Empty(t, ResolveExecutable("/nonexistent/ffmpeg", "ffmpeg"))
	assert.Empty(t, ResolveExecutable("", "no-such-tool-zwfm"))
}

func TestWrapError(t *testing.T) {
	base := errors.New("boom")
	err := WrapError("open file", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "failed to open file: boom", err.Error())
	assert.NoError(t, WrapError("noop", nil))
}
