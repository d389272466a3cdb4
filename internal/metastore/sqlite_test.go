package metastore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSQLite_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b")
	path := filepath.Join(nested, "meta.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for i := 0; i < 2; i++ {
		if err := s.Migrate(); err != nil {
			t.Fatalf("Migrate #%d failed: %v", i+1, err)
		}
	}

	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("schema_version rows = %d, want 1", count)
	}
}

func TestSQLiteStore_SharedFileSeesWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")

	a, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	v1, err := a.Put(ctx, "k", []byte("one"), "")
	if err != nil {
		t.Fatalf("Put via a failed: %v", err)
	}
	// b migrates independently; the documents table already exists.
	if _, err := b.Put(ctx, "k", []byte("two"), ""); err == nil {
		t.Fatal("create via b succeeded on an existing key")
	}
	if _, err := b.Put(ctx, "k", []byte("two"), v1); err != nil {
		t.Fatalf("Put via b failed: %v", err)
	}

	rec, err := a.Get(ctx, "k")
	if err != nil || string(rec.Data) != "two" {
		t.Errorf("Get via a = (%q, %v), want two", rec.Data, err)
	}
}

func TestSQLiteStore_ListNonASCIIPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for _, k := range []string{"projects/café/a.json", "projects/café/b.json", "projects/cafe/c.json", "projects/日本/d.json"} {
		if _, err := s.Put(ctx, k, []byte("{}"), ""); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"projects/café/", []string{"projects/café/a.json", "projects/café/b.json"}},
		{"projects/日本", []string{"projects/日本/d.json"}},
		{"projects/cafe/", []string{"projects/cafe/c.json"}},
		{"", []string{"projects/cafe/c.json", "projects/café/a.json", "projects/café/b.json", "projects/日本/d.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := s.List(ctx, tt.prefix)
			if err != nil {
				t.Fatalf("List(%q) failed: %v", tt.prefix, err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("List(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}
