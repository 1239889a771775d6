//go:build !windows

package process

import (
	"os"
	"syscall"
)

// terminate asks the worker's process group to shut down gracefully.
func terminate(p *os.Process) error { return signalGroup(p.Pid, syscall.SIGTERM) }

// forceKill kills the worker's process group.
func forceKill(p *os.Process) error { return signalGroup(p.Pid, syscall.SIGKILL) }

// signalGroup signals the process group led by pid and falls back to the
// single pid when the group is already gone.
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// processExists checks if a process exists
func processExists(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}
