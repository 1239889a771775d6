package process

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePIDFile writes pid on the first line followed by the JSON-encoded spec.
func WritePIDFile(path string, pid int, spec Spec) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	b, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	data := strconv.Itoa(pid) + "\n" + string(b) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile reads a PID file written by WritePIDFile.
// It returns the PID and, if present, the JSON-encoded Spec that follows.
// For files that contain only the PID, spec will be nil.
func ReadPIDFile(path string) (int, *Spec, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, nil, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, err
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var spec Spec
	if err := json.Unmarshal([]byte(rest), &spec); err != nil {
		// Return PID even if spec cannot be parsed
		return pid, nil, nil
	}
	return pid, &spec, nil
}

// PIDFileAlive reads path and reports whether the recorded PID is alive.
func PIDFileAlive(path string) (int, bool, error) {
	pid, _, err := ReadPIDFile(path)
	if err != nil {
		return 0, false, err
	}
	return pid, processExists(pid), nil
}

// RemovePIDFile best-effort
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
