package metastore

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/taskq/internal/git"
	"github.com/ShayCichocki/taskq/pkg/models"
)

// hookRunner runs beforeUpdate ahead of the first UpdateRef and fails Push.
type hookRunner struct {
	git.Runner
	beforeUpdate func()
	updates      int
	pushErr      error
}

func (h *hookRunner) UpdateRef(ref, newValue, oldValue, reason string) error {
	h.updates++
	if h.beforeUpdate != nil {
		f := h.beforeUpdate
		h.beforeUpdate = nil
		f()
	}
	return h.Runner.UpdateRef(ref, newValue, oldValue, reason)
}

func (h *hookRunner) Push(remote, ref string) error {
	return h.pushErr
}

func requireGit(t *testing.T) string {
	t.Helper()
	repo := initGitRepo(t)
	if repo == "" {
		t.Skip("git not available")
	}
	return repo
}

func TestGitBranchStore_LeavesWorkingTreeAlone(t *testing.T) {
	repo := requireGit(t)
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewGitBranchStore(git.NewRunner(repo), "meta-branch")
	if _, err := s.Put(context.Background(), "projects/demo.json", []byte("{}"), ""); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	out, err := exec.Command("git", "-C", repo, "status", "--porcelain").CombinedOutput()
	if err != nil {
		t.Fatalf("git status failed: %v: %s", err, out)
	}
	if strings.TrimSpace(string(out)) != "?? README.md" {
		t.Errorf("git status = %q, want only the untracked README", out)
	}

	out, err = exec.Command("git", "-C", repo, "show", "meta-branch:projects/demo.json").CombinedOutput()
	if err != nil || string(out) != "{}" {
		t.Errorf("git show = (%q, %v), want document on branch", out, err)
	}
}

func TestGitBranchStore_RebuildsWhenAnotherKeyMovesBranch(t *testing.T) {
	repo := requireGit(t)
	ctx := context.Background()
	runner := git.NewRunner(repo)
	other := NewGitBranchStore(runner, "")
	if _, err := other.Put(ctx, "a", []byte("a1"), ""); err != nil {
		t.Fatal(err)
	}

	h := &hookRunner{Runner: runner}
	h.beforeUpdate = func() {
		if _, err := other.Put(ctx, "b", []byte("b1"), ""); err != nil {
			t.Errorf("racing Put failed: %v", err)
		}
	}
	s := NewGitBranchStore(h, "")

	rec, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "a", []byte("a2"), rec.Version); err != nil {
		t.Fatalf("Put() error = %v, want success after rebuilding on the new tip", err)
	}
	if h.updates != 2 {
		t.Errorf("UpdateRef calls = %d, want 2", h.updates)
	}

	for key, want := range map[string]string{"a": "a2", "b": "b1"} {
		rec, err := s.Get(ctx, key)
		if err != nil || string(rec.Data) != want {
			t.Errorf("Get(%s) = (%q, %v), want %q", key, rec.Data, err, want)
		}
	}
}

func TestGitBranchStore_SameKeyRaceIsConflict(t *testing.T) {
	repo := requireGit(t)
	ctx := context.Background()
	runner := git.NewRunner(repo)
	other := NewGitBranchStore(runner, "")
	v1, err := other.Put(ctx, "a", []byte("a1"), "")
	if err != nil {
		t.Fatal(err)
	}

	h := &hookRunner{Runner: runner}
	h.beforeUpdate = func() {
		if _, err := other.Put(ctx, "a", []byte("theirs"), v1); err != nil {
			t.Errorf("racing Put failed: %v", err)
		}
	}
	s := NewGitBranchStore(h, "")

	_, err = s.Put(ctx, "a", []byte("ours"), v1)
	var ce *models.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("Put() error = %v, want ConflictError", err)
	}
	if ce.Expected != v1 || ce.Actual == v1 || ce.Actual == "" {
		t.Errorf("ConflictError = %+v, want expected %s and the racing version", ce, v1)
	}
}

func TestGitBranchStore_PushFailureKeepsLocalWrite(t *testing.T) {
	repo := requireGit(t)
	ctx := context.Background()
	h := &hookRunner{Runner: git.NewRunner(repo), pushErr: errors.New("network down")}
	s := NewGitBranchStore(h, "", WithRemote("origin"))

	v, err := s.Put(ctx, "k", []byte("x"), "")
	if !errors.Is(err, models.ErrExternalService) {
		t.Fatalf("Put() error = %v, want ErrExternalService", err)
	}
	if models.IsTransient(err) {
		t.Error("push failure after a local commit must not be retried as transient")
	}
	if v == "" {
		t.Error("Put returned no version for the committed write")
	}

	rec, err := s.Get(ctx, "k")
	if err != nil || rec.Version != v {
		t.Errorf("Get() = (%+v, %v), want local write at %s", rec, err, v)
	}
}

func TestGitBranchStore_Branch(t *testing.T) {
	if got := NewGitBranchStore(nil, "").Branch(); got != DefaultMetadataBranch {
		t.Errorf("Branch() = %q, want %q", got, DefaultMetadataBranch)
	}
	if got := NewGitBranchStore(nil, "custom").Branch(); got != "custom" {
		t.Errorf("Branch() = %q, want custom", got)
	}
}

func TestGitBranchStore_CommitIdentity(t *testing.T) {
	tests := []struct {
		name string
		id   git.Identity
		want string
	}{
		{"configured", git.Identity{Name: "Release Bot", Email: "bot@example.com"}, "Release Bot <bot@example.com>"},
		{"name only", git.Identity{Name: "Release Bot"}, "Release Bot <" + git.DefaultIdentity.Email + ">"},
		{"unset", git.Identity{}, git.DefaultIdentity.Name + " <" + git.DefaultIdentity.Email + ">"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := requireGit(t)
			s := NewGitBranchStore(git.NewRunner(repo).WithIdentity(tt.id), "meta-branch")
			if _, err := s.Put(context.Background(), "k", []byte("x"), ""); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			out, err := exec.Command("git", "-C", repo, "log", "-1", "--format=%an <%ae>|%cn <%ce>", "meta-branch").CombinedOutput()
			if err != nil {
				t.Fatalf("git log failed: %v: %s", err, out)
			}
			want := tt.want + "|" + tt.want
			if got := strings.TrimSpace(string(out)); got != want {
				t.Errorf("commit identity = %q, want %q", got, want)
			}
		})
	}
}
