//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that cancel a running recording or
// calibration.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal stops a capture or transcription process. Windows cannot
// deliver SIGINT to a child, and raw PCM output has no trailer to flush, so
// the process is killed.
func GracefulSignal(p *os.Process) error {
	return p.Kill()
}
