package metastore

import (
	"context"
	"errors"

	"github.com/ShayCichocki/taskq/internal/retry"
	"github.com/ShayCichocki/taskq/pkg/models"
)

// ErrNoChange may be returned by a Mutator to leave the document untouched.
var ErrNoChange = errors.New("no change")

// Mutator computes the new document from the current one. exists is false
// when the key is absent, in which case current is nil.
type Mutator func(current []byte, exists bool) ([]byte, error)

// Update runs a read-modify-write cycle on key. On a version conflict it
// re-reads and reapplies fn, up to the policy's attempt count; when those
// run out the returned *retry.ExhaustedError wraps the last ConflictError.
// It returns the version the document ended at.
func Update(ctx context.Context, store Store, key string, policy retry.Policy, fn Mutator) (string, error) {
	var version string
	err := policy.Do(ctx, retry.IsConflict, func(attempt int) error {
		rec, err := store.Get(ctx, key)
		exists := true
		if errors.Is(err, models.ErrNotFound) {
			exists = false
			rec = Record{}
		} else if err != nil {
			return err
		}

		var current []byte
		if exists {
			current = rec.Data
		}
		next, err := fn(current, exists)
		if errors.Is(err, ErrNoChange) {
			version = rec.Version
			return nil
		}
		if err != nil {
			return err
		}

		version, err = store.Put(ctx, key, next, rec.Version)
		return err
	})
	if err != nil {
		return "", err
	}
	return version, nil
}
