//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that cancel a running recording or
// calibration. SIGHUP covers a closed terminal.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}

// GracefulSignal asks a capture or transcription process to exit.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
