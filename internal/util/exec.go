package util

import "os/exec"

// ResolveExecutable returns the path of a helper binary. A configured path
// must resolve; otherwise name is looked up in PATH. It returns an empty
// string when nothing is found.
func ResolveExecutable(configured, name string) string {
	if configured != "" {
		name = configured
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
