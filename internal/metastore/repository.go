package metastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/taskq/internal/retry"
	"github.com/ShayCichocki/taskq/pkg/models"
)

const (
	projectsPrefix = "projects/"
	metadataSuffix = ".json"
)

// MetadataKey returns the store key of a project's metadata document.
func MetadataKey(project string) string {
	return projectsPrefix + project + metadataSuffix
}

// Repository reads and writes typed Metadata documents on any Store.
type Repository struct {
	store  Store
	policy retry.Policy
	now    func() time.Time
}

// NewRepository creates a repository using policy for conflict retries.
func NewRepository(store Store, policy retry.Policy) *Repository {
	return &Repository{store: store, policy: policy, now: time.Now}
}

// WithClock returns a copy of the repository that stamps LastUpdated using now.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	cp := *r
	cp.now = now
	return &cp
}

// Store returns the underlying store.
func (r *Repository) Store() Store {
	return r.store
}

// Load returns a project's metadata and its version token. An absent
// document yields a *models.NotFoundError.
func (r *Repository) Load(ctx context.Context, project string) (*Metadata, string, error) {
	rec, err := r.store.Get(ctx, MetadataKey(project))
	if err != nil {
		return nil, "", err
	}
	m, err := DecodeMetadata(rec.Data)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", project, err)
	}
	if m.ProjectName == "" {
		m.ProjectName = project
	}
	return m, rec.Version, nil
}

// LoadOrNew is Load, returning an empty document when none exists yet.
func (r *Repository) LoadOrNew(ctx context.Context, project string) (*Metadata, string, error) {
	m, version, err := r.Load(ctx, project)
	if errors.Is(err, models.ErrNotFound) {
		return NewMetadata(project), "", nil
	}
	return m, version, err
}

// Update applies fn to the project's metadata with conflict retries and
// returns the document as written. fn may be called more than once and must
// only depend on its argument. Returning ErrNoChange skips the write.
func (r *Repository) Update(ctx context.Context, project string, fn func(*Metadata) error) (*Metadata, error) {
	var result *Metadata
	_, err := Update(ctx, r.store, MetadataKey(project), r.policy, func(current []byte, exists bool) ([]byte, error) {
		m := NewMetadata(project)
		if exists {
			decoded, err := DecodeMetadata(current)
			if err != nil {
				return nil, err
			}
			m = decoded
		}
		if m.ProjectName == "" {
			m.ProjectName = project
		}

		if err := fn(m); err != nil {
			result = m
			return nil, err
		}
		m.LastUpdated = r.now().UTC()
		result = m
		return m.Encode()
	})
	if err != nil {
		return nil, fmt.Errorf("update metadata for %s: %w", project, err)
	}
	return result, nil
}

// Projects lists the projects that have a metadata document.
func (r *Repository) Projects(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, projectsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projects := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, projectsPrefix)
		if !strings.HasSuffix(name, metadataSuffix) || strings.Contains(name, "/") {
			continue
		}
		projects = append(projects, strings.TrimSuffix(name, metadataSuffix))
	}
	return projects, nil
}
