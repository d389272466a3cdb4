package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"

	"github.com/ShayCichocki/taskq/internal/capacity"
	"github.com/ShayCichocki/taskq/internal/config"
	"github.com/ShayCichocki/taskq/internal/github"
	"github.com/ShayCichocki/taskq/internal/metastore"
	"github.com/ShayCichocki/taskq/internal/orchestrator"
	"github.com/ShayCichocki/taskq/internal/specdoc"
	"github.com/ShayCichocki/taskq/pkg/models"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

const testSpec = `# Auth

- [x] Setup CI
- [ ] Add auth
- [ ] Add logout
`

func decide(t *testing.T, limits capacity.Limits, prs ...models.PullRequestRef) *orchestrator.Decision {
	t.Helper()
	o, err := orchestrator.New(orchestrator.Config{LabelPrefix: "taskq", Project: "auth", Limits: limits})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	d, err := o.Decide(testSpec, prs)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	return d
}

func openPR(number int, branch string, assignees ...string) models.PullRequestRef {
	return models.PullRequestRef{
		Number:     number,
		State:      models.PRStateOpen,
		BranchName: branch,
		Assignees:  assignees,
		CreatedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func branchFor(description string) string {
	return models.FormatBranchName("taskq", "auth", models.HashIdentity(specdoc.IdentityHash(description)))
}

type fakeBranches struct {
	sha       string
	shaErr    error
	createErr error
	created   []string
}

func (f *fakeBranches) BranchSHA(_ context.Context, branch string) (string, error) {
	return f.sha, f.shaErr
}

func (f *fakeBranches) CreateBranch(_ context.Context, name, sha string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, name+"@"+sha)
	return nil
}

func TestClaimBranch(t *testing.T) {
	tests := []struct {
		name        string
		gh          *fakeBranches
		wantClaimed bool
		wantErr     bool
	}{
		{"created", &fakeBranches{sha: "abc"}, true, false},
		{"already exists", &fakeBranches{sha: "abc", createErr: github.ErrBranchExists}, false, false},
		{"create fails", &fakeBranches{sha: "abc", createErr: errors.New("boom")}, false, true},
		{"base missing", &fakeBranches{shaErr: &models.NotFoundError{Kind: "branch", Key: "main"}}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claimed, err := claimBranch(context.Background(), tt.gh, "main", "taskq-auth-0a1b2c3d")
			if claimed != tt.wantClaimed || (err != nil) != tt.wantErr {
				t.Errorf("claimBranch() = (%v, %v), want (%v, err=%v)", claimed, err, tt.wantClaimed, tt.wantErr)
			}
		})
	}

	gh := &fakeBranches{sha: "abc"}
	if _, err := claimBranch(context.Background(), gh, "main", "b"); err != nil || len(gh.created) != 1 || gh.created[0] != "b@abc" {
		t.Errorf("created = %v, err = %v", gh.created, err)
	}
}

func TestRenderDecision(t *testing.T) {
	var buf bytes.Buffer
	d := decide(t, capacity.Limits{}, openPR(7, "taskq-auth-deadbeef"))
	renderDecision(&buf, d)

	out := buf.String()
	for _, want := range []string{
		"Next task #2: Add auth",
		"Branch:   " + branchFor("Add auth"),
		"Orphaned PR #7 (taskq-auth-deadbeef)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderDecision_NoCapacity(t *testing.T) {
	var buf bytes.Buffer
	limits := capacity.Limits{Reviewers: []capacity.ReviewerLimit{{Username: "alice", MaxOpenPRs: 1}}}
	d := decide(t, limits, openPR(3, branchFor("Add auth"), "alice"))
	renderDecision(&buf, d)

	if !strings.Contains(buf.String(), "No reviewer capacity") || !strings.Contains(buf.String(), "  alice") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestWriteDecisionJSON(t *testing.T) {
	var buf bytes.Buffer
	d := decide(t, capacity.Limits{})
	if err := writeDecisionJSON(&buf, d); err != nil {
		t.Fatal(err)
	}

	var got struct {
		Outcome    string `json:"outcome"`
		BranchName string `json:"branch_name"`
		Statuses   []any  `json:"statuses"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if got.Outcome != "dispatch" || got.BranchName != branchFor("Add auth") || len(got.Statuses) != 3 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestRenderStatusReport(t *testing.T) {
	var buf bytes.Buffer
	d := decide(t, capacity.Limits{}, openPR(4, branchFor("Add auth")))
	renderStatusReport(&buf, "auth", d)

	out := buf.String()
	for _, want := range []string{
		"Project auth: 3 tasks, 1 pending, 1 in progress, 1 completed",
		specdoc.IdentityHash("Add logout"),
		"in_progress",
		"#4",
		"No reviewers configured",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Orphaned") {
		t.Errorf("unexpected orphan section:\n%s", out)
	}
}

func TestIndent(t *testing.T) {
	if got := indent("a\n\nb\n"); got != "  a\n\n  b\n" {
		t.Errorf("indent() = %q", got)
	}
}

func TestJSONToYAML(t *testing.T) {
	m := metastore.NewMetadata("auth")
	m.UpsertTask(metastore.TaskRecord{IdentityHash: "0a1b2c3d", Description: "Add auth", Status: models.TaskStatusInProgress})

	var buf bytes.Buffer
	if err := writeMetadata(&buf, m, "yaml"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "{") || !strings.Contains(out, "projectName: auth") || !strings.Contains(out, "identityHash: 0a1b2c3d") {
		t.Errorf("yaml output:\n%s", out)
	}
	if strings.Index(out, "schemaVersion") > strings.Index(out, "projectName") {
		t.Errorf("key order not preserved:\n%s", out)
	}
}

func TestShowMetadata(t *testing.T) {
	ctx := context.Background()
	repo := metastore.NewRepository(metastore.NewMemoryStore(), config.Default().ConflictPolicy())

	var buf bytes.Buffer
	if err := showMetadata(ctx, &buf, repo, "auth", "yaml", false); err != nil {
		t.Fatalf("showMetadata on an empty store: %v", err)
	}
	if !strings.Contains(buf.String(), "projectName: auth") || !strings.Contains(buf.String(), "tasks: []") {
		t.Errorf("empty document output:\n%s", buf.String())
	}
	buf.Reset()
	if err := showMetadata(ctx, &buf, repo, "auth", "json", true); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "\n" {
		t.Errorf("version of a missing document = %q, want empty", buf.String())
	}

	if _, err := repo.Update(ctx, "auth", func(m *metastore.Metadata) error {
		m.UpsertTask(metastore.TaskRecord{IdentityHash: "0a1b2c3d", Description: "Add auth", Status: models.TaskStatusInProgress})
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := showMetadata(ctx, &buf, repo, "auth", "json", true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) == "" {
		t.Error("version of a stored document should not be empty")
	}
	buf.Reset()
	if err := showMetadata(ctx, &buf, repo, "auth", "json", false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"identityHash": "0a1b2c3d"`) {
		t.Errorf("stored document output:\n%s", buf.String())
	}
}

func TestResolveTask(t *testing.T) {
	doc, err := specdoc.ParseDocument(testSpec)
	if err != nil {
		t.Fatal(err)
	}
	hash := specdoc.IdentityHash("Add logout")

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{hash, hash, false},
		{"3", hash, false},
		{"0", "", true},
		{"4", "", true},
		{"ffffffff", "", true},
	}
	for _, tt := range tests {
		got, err := resolveTask(doc, tt.ref)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("resolveTask(%q) = (%q, %v), want %q", tt.ref, got, err, tt.want)
		}
		if tt.wantErr && !errors.Is(err, models.ErrNotFound) {
			t.Errorf("resolveTask(%q) error = %v, want ErrNotFound", tt.ref, err)
		}
	}
}

func TestParseReviewer(t *testing.T) {
	got, err := parseReviewer("alice=2")
	if err != nil || got != (capacity.ReviewerLimit{Username: "alice", MaxOpenPRs: 2}) {
		t.Errorf("parseReviewer() = (%+v, %v)", got, err)
	}
	for _, bad := range []string{"alice", "=2", "alice=two"} {
		if _, err := parseReviewer(bad); err == nil {
			t.Errorf("parseReviewer(%q) succeeded", bad)
		}
	}
}

func TestBuildInitConfig(t *testing.T) {
	cfg, err := buildInitConfig("auth", config.BackendSQLite, "SPEC.md", []string{"alice=2", "bob=3"})
	if err != nil {
		t.Fatalf("buildInitConfig: %v", err)
	}
	if cfg.Metadata.Path != filepath.Join(".taskq", "metadata.db") || len(cfg.Reviewers) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := buildInitConfig("", config.BackendFile, "SPEC.md", nil); err == nil {
		t.Error("expected error for empty project name")
	}
	if _, err := buildInitConfig("auth", config.BackendFile, "SPEC.md", []string{"alice=1", "alice=2"}); err == nil {
		t.Error("expected error for duplicate reviewer")
	}
}

func TestWriteProjectFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/repo"
	if err := afero.WriteFile(fs, root+"/.gitignore", []byte("bin/"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := buildInitConfig("auth", config.BackendFile, "docs/SPEC.md", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := writeProjectFiles(fs, root, cfg, false); err != nil {
		t.Fatalf("writeProjectFiles: %v", err)
	}

	data, err := afero.ReadFile(fs, root+"/"+config.ProjectConfigName)
	if err != nil || !strings.Contains(string(data), "name: auth") {
		t.Errorf("config = %s, err = %v", data, err)
	}
	if ok, _ := afero.Exists(fs, root+"/docs/SPEC.md"); !ok {
		t.Error("spec template not created")
	}
	if ok, _ := afero.DirExists(fs, root+"/.taskq/logs"); !ok {
		t.Error(".taskq/logs not created")
	}
	ignore, _ := afero.ReadFile(fs, root+"/.gitignore")
	if !strings.HasPrefix(string(ignore), "bin/\n") || !strings.Contains(string(ignore), ".taskq/logs/") {
		t.Errorf(".gitignore = %q", ignore)
	}

	// A second run leaves user edits and .gitignore alone.
	if err := afero.WriteFile(fs, root+"/"+config.ProjectConfigName, []byte("edited"), 0644); err != nil {
		t.Fatal(err)
	}
	done, err := writeProjectFiles(fs, root, cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	data, _ = afero.ReadFile(fs, root+"/"+config.ProjectConfigName)
	if string(data) != "edited" {
		t.Errorf("config overwritten without --force: %q", data)
	}
	for _, msg := range done {
		if strings.Contains(msg, ".gitignore") {
			t.Errorf("gitignore updated twice: %v", done)
		}
	}

	if _, err := writeProjectFiles(fs, root, cfg, true); err != nil {
		t.Fatal(err)
	}
	data, _ = afero.ReadFile(fs, root+"/"+config.ProjectConfigName)
	if string(data) == "edited" {
		t.Error("--force did not overwrite config")
	}
}

func TestOpenStore(t *testing.T) {
	root := t.TempDir()
	for _, backend := range []string{config.BackendMemory, config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Project.Name = "auth"
			cfg.Metadata.Backend = backend
			cfg.Metadata.Path = filepath.Join(".taskq", backend)
			a := &app{cfg: cfg, root: root, fs: afero.NewOsFs()}

			store, closeStore, err := a.openStore()
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer closeStore()

			ctx := context.Background()
			if _, err := store.Put(ctx, "projects/auth.json", []byte("{}"), ""); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if _, err := store.Get(ctx, "projects/auth.json"); err != nil {
				t.Fatalf("Get: %v", err)
			}
		})
	}

	a := &app{cfg: config.Default(), root: root}
	a.cfg.Metadata.Backend = "s3"
	if _, closeStore, err := a.openStore(); !errors.Is(err, models.ErrValidation) || closeStore == nil {
		t.Errorf("openStore() error = %v, want ErrValidation and a close func", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := loadDotEnv(dir); err != nil {
		t.Fatalf("missing .env: %v", err)
	}

	t.Setenv("TASKQ_PROJECT_NAME", "")
	os.Unsetenv("TASKQ_PROJECT_NAME")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TASKQ_PROJECT_NAME=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loadDotEnv(dir); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("TASKQ_PROJECT_NAME"); got != "from-dotenv" {
		t.Errorf("TASKQ_PROJECT_NAME = %q", got)
	}
}

func TestWatchSpec(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "SPEC.md")
	if err := os.WriteFile(spec, []byte(testSpec), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var renders atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchSpec(ctx, spec, func() {
			if renders.Add(1) == 2 {
				cancel()
			}
		})
	}()

	// The first render happens after the watch is armed.
	deadline := time.After(4 * time.Second)
	wrote := false
	for renders.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("renders = %d, want 2", renders.Load())
		case <-time.After(50 * time.Millisecond):
			if !wrote && renders.Load() >= 1 {
				if err := os.WriteFile(spec, []byte(testSpec+"- [ ] More\n"), 0644); err != nil {
					t.Fatal(err)
				}
				wrote = true
			}
		}
	}
	if err := <-done; err != nil {
		t.Errorf("watchSpec() = %v", err)
	}
}
