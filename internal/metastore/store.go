// Package metastore is a key/value document store with optimistic
// concurrency, used to persist bookkeeping that git and pull request state
// alone cannot answer (task history, PR cost records).
//
// Every write must carry the version token observed on read. Tokens are
// opaque, backend-computed content hashes; writes are ordered by token,
// never by wall-clock time. Callers must not assume any particular backend:
// the in-memory, file, SQLite and git-branch stores all satisfy Store.
package metastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ShayCichocki/taskq/pkg/models"
)

// Record is a stored document and the version token it was read at.
type Record struct {
	Data    []byte
	Version string
}

// Store is the optimistic-concurrency document store contract.
type Store interface {
	// Get returns the document at key. An absent key yields a
	// *models.NotFoundError; a present but empty document is valid.
	Get(ctx context.Context, key string) (Record, error)
	// Put writes data if the stored version equals expectedVersion and
	// returns the new version. An empty expectedVersion means "create":
	// it fails with *models.ConflictError if the key already exists.
	// The backing namespace is created on first Put if missing.
	Put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error)
	// List returns the keys starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ContentVersion is the version token used by backends that do not have a
// native content hash.
func ContentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateKey rejects keys that could escape a backend's namespace.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return &models.ValidationError{Field: "key", Reason: "must not be empty"}
	case strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/"):
		return &models.ValidationError{Field: "key", Value: key, Reason: "must not start or end with /"}
	case strings.Contains(key, "\\"):
		return &models.ValidationError{Field: "key", Value: key, Reason: "must use / as separator"}
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, ".") {
			return &models.ValidationError{Field: "key", Value: key, Reason: "segments must be non-empty and must not start with a dot"}
		}
	}
	return nil
}

func notFound(key string) error {
	return &models.NotFoundError{Kind: "document", Key: key}
}

// checkVersion compares the observed and expected tokens.
func checkVersion(key, current, expected string) error {
	if current != expected {
		return &models.ConflictError{Key: key, Expected: expected, Actual: current}
	}
	return nil
}
