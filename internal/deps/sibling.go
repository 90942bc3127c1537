package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveSibling locates command, preferring a copy installed next to the
// anchor executable.
//
// yolo and label-studio are Python console scripts and usually live in the
// same virtualenv bin directory. When only one of them is on PATH (or
// configured with an absolute path) the other is still found there. Falls
// back to the bare command so PATH lookup errors stay readable.
func ResolveSibling(anchor, command string) string {
	command = strings.TrimSpace(command)
	if command == "" || strings.ContainsRune(command, filepath.Separator) {
		return command
	}
	if _, err := exec.LookPath(command); err == nil {
		return command
	}
	anchor = strings.TrimSpace(anchor)
	if anchor == "" {
		return command
	}
	resolved, err := exec.LookPath(anchor)
	if err != nil {
		return command
	}
	name := command
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}
	candidate := filepath.Join(filepath.Dir(resolved), name)
	if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
		return candidate
	}
	return command
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
