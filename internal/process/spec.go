package process

import (
	"os/exec"
	"strings"
)

// DefaultLauncher is the interpreter used to run the worker executable.
const DefaultLauncher = "node"

// Spec describes how the supervised worker is launched.
// The worker is started as "<Launcher> [LaunchArgs...] <Executable>".
type Spec struct {
	Name       string   `json:"name"`        // label used in logs, metrics and history
	Launcher   string   `json:"launcher"`    // interpreter/launcher command (default "node")
	LaunchArgs []string `json:"launch_args"` // optional launcher flags placed before the executable
	Executable string   `json:"executable"`  // path passed to the launcher as the worker argument
	WorkDir    string   `json:"work_dir"`    // optional working dir
	Env        []string `json:"env"`         // optional extra env appended to the supervisor env
	PIDFile    string   `json:"pid_file"`    // optional pidfile path, written on start and removed on exit
}

// BuildCommand constructs the *exec.Cmd for the worker. It never goes through a
// shell: the launcher is resolved via PATH and the executable is passed verbatim.
func (s *Spec) BuildCommand() *exec.Cmd {
	launcher := strings.TrimSpace(s.Launcher)
	if launcher == "" {
		launcher = DefaultLauncher
	}
	args := make([]string, 0, len(s.LaunchArgs)+1)
	for _, a := range s.LaunchArgs {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	if s.Executable != "" {
		args = append(args, s.Executable)
	}
	// #nosec G204 -- launcher and executable come from the operator's own configuration
	cmd := exec.Command(launcher, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd
}

// DisplayName returns Name, falling back to the executable path.
func (s *Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Executable != "" {
		return s.Executable
	}
	return "worker"
}
