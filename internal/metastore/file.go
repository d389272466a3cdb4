package metastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	lockFileName = ".lock"
	tempPrefix   = ".tmp-"
)

// Locker guards the read-compare-write critical section across processes.
// *flock.Flock satisfies it.
type Locker interface {
	Lock() error
	Unlock() error
}

// nopLocker is used when no file lock is available, e.g. on afero.MemMapFs.
type nopLocker struct{}

func (nopLocker) Lock() error   { return nil }
func (nopLocker) Unlock() error { return nil }

// FileStore keeps one file per key under a root directory. The version token
// is the SHA-256 of the file contents.
type FileStore struct {
	fs     afero.Fs
	root   string
	locker Locker
	// mu serializes writers in this process; an flock held by one goroutine
	// does not exclude another goroutine sharing the same handle.
	mu sync.Mutex
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithLocker overrides the cross-process lock.
func WithLocker(l Locker) FileOption {
	return func(s *FileStore) { s.locker = l }
}

// NewFileStore creates a FileStore on fs rooted at root. Without WithLocker
// it only serializes writers inside this process.
func NewFileStore(fs afero.Fs, root string, opts ...FileOption) *FileStore {
	s := &FileStore{fs: fs, root: filepath.Clean(root), locker: nopLocker{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOSFileStore creates a FileStore on the real filesystem, serialized
// across processes by an flock on <root>/.lock.
func NewOSFileStore(root string) *FileStore {
	return NewFileStore(afero.NewOsFs(), root, WithLocker(flock.New(filepath.Join(root, lockFileName))))
}

// Root returns the directory holding the documents.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Get returns the document at key.
func (s *FileStore) Get(_ context.Context, key string) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	data, err := afero.ReadFile(s.fs, s.pathFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, notFound(key)
		}
		return Record{}, fmt.Errorf("read %s: %w", key, err)
	}
	return Record{Data: data, Version: ContentVersion(data)}, nil
}

// Put writes data if expectedVersion matches the stored version. The write
// goes to a temp file that is renamed into place, so readers never observe
// a partial document.
func (s *FileStore) Put(_ context.Context, key string, data []byte, expectedVersion string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	target := s.pathFor(key)
	// MkdirAll is idempotent, so racing first writers are safe.
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.locker.Lock(); err != nil {
		return "", fmt.Errorf("lock store %s: %w", s.root, err)
	}
	defer func() { _ = s.locker.Unlock() }()

	current := ""
	existing, err := afero.ReadFile(s.fs, target)
	switch {
	case err == nil:
		current = ContentVersion(existing)
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if err := checkVersion(key, current, expectedVersion); err != nil {
		return "", err
	}

	tmp := filepath.Join(filepath.Dir(target), tempPrefix+uuid.NewString())
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("commit %s: %w", key, err)
	}
	return ContentVersion(data), nil
}

// List returns the keys starting with prefix, sorted.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	exists, err := afero.DirExists(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("stat store %s: %w", s.root, err)
	}
	if !exists {
		return keys, nil
	}

	err = afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := path.Clean(filepath.ToSlash(rel))
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

var (
	_ Store  = (*FileStore)(nil)
	_ Locker = (*flock.Flock)(nil)
)
