//go:build darwin

package device

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments for raw PCM capture to stdout.
func buildFFmpegCaptureArgs(inputFormat, device string, cfg Config) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"pipe:1",
	}
}
