//go:build windows

package device

import (
	"regexp"
	"strings"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		DefaultDevice: "", // Auto-detect, no safe default on Windows
		UsesFFmpeg:    true,
		BuildArgs: func(device string, cfg Config) []string {
			return buildFFmpegCaptureArgs("dshow", device, cfg)
		},
		ListDevices: DeviceListConfig{
			Command: []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
			// FFmpeg versions differ in section headers, so match lines ending with "(audio)".
			DevicePattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
			ParseDevice: func(matches []string) *Device {
				if len(matches) < 2 {
					return nil
				}
				name := strings.TrimSpace(matches[1])
				return &Device{ID: "audio=" + name, Name: name}
			},
		},
	}
}
