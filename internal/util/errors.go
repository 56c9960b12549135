package util

import (
	"fmt"
	"strings"
)

// maxErrorLineLength caps the tool output quoted in error messages.
const maxErrorLineLength = 200

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// LastLine returns the last non-empty line a child process wrote to stderr.
// Progress output rewritten with carriage returns counts as separate lines.
func LastLine(stderr string) string {
	lines := strings.FieldsFunc(stderr, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}
