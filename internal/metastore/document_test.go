package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/taskq/internal/retry"
	"github.com/ShayCichocki/taskq/pkg/models"
)

func TestDecodeMetadata_MigratesV1(t *testing.T) {
	v1 := `{
		"schemaVersion": 1,
		"project": "auth",
		"lastUpdated": "2024-03-01T10:00:00Z",
		"tasks": [{"identityHash": "0a1b2c3d", "description": "Add auth", "status": "in_progress"}],
		"pullRequests": [{"number": 7, "branch": "taskq-auth-0a1b2c3d", "state": "open", "createdAt": "2024-03-01T09:00:00Z", "cost": 1.25}]
	}`

	m, err := DecodeMetadata([]byte(v1))
	if err != nil {
		t.Fatalf("DecodeMetadata failed: %v", err)
	}
	if m.SchemaVersion != MetadataSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", m.SchemaVersion, MetadataSchemaVersion)
	}
	if m.ProjectName != "auth" {
		t.Errorf("ProjectName = %q, want auth", m.ProjectName)
	}
	if len(m.Tasks) != 1 || m.Tasks[0].Status != models.TaskStatusInProgress {
		t.Errorf("Tasks = %+v, want one in_progress task", m.Tasks)
	}
	pr, ok := m.PullRequest(7)
	if !ok {
		t.Fatal("PR 7 missing after migration")
	}
	if pr.Cost.USD != 1.25 {
		t.Errorf("Cost = %+v, want USD 1.25", pr.Cost)
	}

	out, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatalf("encoded document is not JSON: %v", err)
	}
	if _, ok := raw["project"]; ok {
		t.Error("encoded document still has the v1 project key")
	}
	if raw["projectName"] != "auth" {
		t.Errorf("projectName = %v, want auth", raw["projectName"])
	}
}

func TestDecodeMetadata_Unversioned(t *testing.T) {
	m, err := DecodeMetadata([]byte(`{"project": "legacy"}`))
	if err != nil {
		t.Fatalf("DecodeMetadata failed: %v", err)
	}
	if m.ProjectName != "legacy" || m.Tasks == nil || m.PullRequests == nil {
		t.Errorf("got %+v, want migrated document with empty lists", m)
	}
}

func TestDecodeMetadata_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"future schema", `{"schemaVersion": 3}`},
		{"wrong type", `{"schemaVersion": 2, "tasks": "nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMetadata([]byte(tt.data)); !errors.Is(err, models.ErrValidation) {
				t.Errorf("DecodeMetadata() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestMetadata_EncodeHasNoVersionToken(t *testing.T) {
	out, err := NewMetadata("demo").Encode()
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"schemaVersion", "projectName", "lastUpdated", "tasks", "pullRequests"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("encoded document missing %q", k)
		}
	}
	if len(raw) != 5 {
		t.Errorf("encoded document has %d keys, want 5: %s", len(raw), out)
	}
}

func TestMetadata_Upserts(t *testing.T) {
	m := NewMetadata("demo")
	m.UpsertTask(TaskRecord{IdentityHash: "aaaaaaaa", Status: models.TaskStatusPending})
	m.UpsertTask(TaskRecord{IdentityHash: "aaaaaaaa", Status: models.TaskStatusInProgress})
	if len(m.Tasks) != 1 || m.Tasks[0].Status != models.TaskStatusInProgress {
		t.Errorf("Tasks = %+v, want one in_progress record", m.Tasks)
	}

	m.UpsertPullRequest(PRRecord{Number: 9, Cost: Cost{USD: 2}})
	m.UpsertPullRequest(PRRecord{Number: 3, Cost: Cost{USD: 0.5, InputTokens: 10}})
	m.UpsertPullRequest(PRRecord{Number: 9, State: models.PRStateMerged})
	if len(m.PullRequests) != 2 || m.PullRequests[0].Number != 3 {
		t.Fatalf("PullRequests = %+v, want [3 9]", m.PullRequests)
	}
	pr, _ := m.PullRequest(9)
	if pr.State != models.PRStateMerged || pr.Cost.USD != 2 {
		t.Errorf("PR 9 = %+v, want merged with cost kept", pr)
	}
	if total := m.TotalCost(); total.USD != 2.5 || total.InputTokens != 10 {
		t.Errorf("TotalCost() = %+v, want USD 2.5 / 10 input tokens", total)
	}
}

func TestRepository_UpdateAndLoad(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := NewRepository(NewMemoryStore(), retry.Immediate("conflict", 3)).WithClock(func() time.Time { return now })

	if _, _, err := repo.Load(ctx, "demo"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
	m, v, err := repo.LoadOrNew(ctx, "demo")
	if err != nil || v != "" || m.ProjectName != "demo" {
		t.Fatalf("LoadOrNew() = (%+v, %q, %v), want empty demo document", m, v, err)
	}

	_, err = repo.Update(ctx, "demo", func(m *Metadata) error {
		m.UpsertTask(TaskRecord{IdentityHash: "0a1b2c3d", Description: "Add auth", Status: models.TaskStatusInProgress})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	loaded, version, err := repo.Load(ctx, "demo")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if version == "" {
		t.Error("Load returned empty version")
	}
	if !loaded.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", loaded.LastUpdated, now)
	}
	if _, ok := loaded.Task("0a1b2c3d"); !ok {
		t.Error("task record missing after update")
	}

	projects, err := repo.Projects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || projects[0] != "demo" {
		t.Errorf("Projects() = %v, want [demo]", projects)
	}
}

func TestRepository_UpdateNoChangeSkipsWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := NewRepository(store, retry.Immediate("conflict", 3))

	if _, err := repo.Update(ctx, "demo", func(*Metadata) error { return ErrNoChange }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if keys, _ := store.List(ctx, ""); len(keys) != 0 {
		t.Errorf("keys = %v, want nothing written", keys)
	}
}

func TestRepository_Projects_IgnoresOtherKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, k := range []string{"projects/a.json", "projects/b.json", "projects/notes.txt", "projects/x/y.json", "other/c.json"} {
		if _, err := store.Put(ctx, k, []byte("{}"), ""); err != nil {
			t.Fatal(err)
		}
	}
	projects, err := NewRepository(store, retry.Immediate("conflict", 1)).Projects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(projects, ",") != "a,b" {
		t.Errorf("Projects() = %v, want [a b]", projects)
	}
}
