package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile records the current process id at path, refusing when the
// file already names a live process.
func WritePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil && ProcessRunning(pid) {
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// RemovePIDFile removes the PID file. A missing file is fine.
func RemovePIDFile(path string) {
	_ = os.Remove(path)
}

// ReadPIDFile returns the process id recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID %d in %s", pid, path)
	}
	return pid, nil
}

// ProcessRunning reports whether a process with the given id exists.
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// FindProcess always succeeds on Unix; probe with signal 0.
	return process.Signal(syscall.Signal(0)) == nil
}
