package exec

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecRunner_Run(t *testing.T) {
	r := NewRunner()
	if !r.LookPath("sh") {
		t.Skip("sh not available")
	}

	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "out" {
		t.Errorf("stdout = %q, want only stdout", out)
	}
}

func TestExecRunner_RunFailure(t *testing.T) {
	r := NewRunner()
	if !r.LookPath("sh") {
		t.Skip("sh not available")
	}

	_, err := r.Run(context.Background(), "", "sh", "-c", "echo boom >&2; exit 3")
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("Run() error = %v, want *CommandError", err)
	}
	if ce.ExitCode != 3 || strings.TrimSpace(ce.Stderr) != "boom" {
		t.Errorf("CommandError = %+v, want exit 3 with stderr boom", ce)
	}
	if !strings.Contains(ce.Error(), "boom") {
		t.Errorf("Error() = %q, want stderr in message", ce.Error())
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "", "taskq-definitely-not-a-binary")
	var ce *CommandError
	if !errors.As(err, &ce) || ce.ExitCode != -1 {
		t.Errorf("Run() error = %v, want CommandError with exit -1", err)
	}
	if r.LookPath("taskq-definitely-not-a-binary") {
		t.Error("LookPath found a missing binary")
	}
}
