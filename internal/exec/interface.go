// Package exec provides an interface for command execution.
package exec

import (
	"context"
	"fmt"
	"strings"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns its stdout. On failure the error
	// is a *CommandError carrying stderr and the exit code.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (stdout []byte, err error)

	// LookPath reports whether the named binary can be found.
	LookPath(name string) bool
}

// CommandError describes a command that exited unsuccessfully or could not
// be started.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int // -1 when the process never ran
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.Name, strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }
