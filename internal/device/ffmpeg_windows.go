//go:build windows

package device

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments for raw PCM capture on Windows.
// -nostdin is omitted so FFmpeg keeps accepting the 'q' quit command.
func buildFFmpegCaptureArgs(inputFormat, device string, cfg Config) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"pipe:1",
	}
}
