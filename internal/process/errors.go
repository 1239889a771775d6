package process

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyRunning is returned by Start while a live worker handle exists.
var ErrAlreadyRunning = errors.New("worker process already running")

// SpawnError reports that the launcher could not be invoked (missing runtime,
// bad working directory, permission denied ...).
type SpawnError struct {
	Launcher   string
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	cmd := strings.TrimSpace(e.Launcher + " " + e.Executable)
	return fmt.Sprintf("failed to start process %q: %v", cmd, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is (or wraps) a *SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
