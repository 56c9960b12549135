//go:build linux

package device

import (
	"regexp"
	"strconv"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
		ListDevices:   linuxDeviceList(),
	}
}

func buildLinuxArgs(device string, cfg Config) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"-t", "raw",
		"-q",
		"-",
	}
}

func linuxDeviceList() DeviceListConfig {
	return DeviceListConfig{
		Command:       []string{"arecord", "-l"},
		DevicePattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		ParseDevice: func(matches []string) *Device {
			if len(matches) < 4 {
				return nil
			}
			return &Device{
				ID:   "default:CARD=" + matches[2],
				Name: matches[3],
			}
		},
		FallbackDevices: []Device{
			{ID: "default", Name: "System default"},
		},
	}
}
