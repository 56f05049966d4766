// Package app wires the bot's services and manages the server lifecycle.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ReadPID reads a PID from the given file and returns it if the process is alive, or 0 otherwise.
func ReadPID(pidFile string) int {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	if process.Signal(syscall.Signal(0)) != nil {
		return 0
	}

	return pid
}

func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write pid file: mkdir: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// StopProcess sends SIGTERM to the server recorded in pidFile. It returns the
// PID signalled, or 0 if no live server was found.
func StopProcess(pidFile string) (int, error) {
	pid := ReadPID(pidFile)
	if pid == 0 {
		return 0, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return 0, fmt.Errorf("signal process %d: %w", pid, err)
	}

	return pid, nil
}
