package metastore

import (
	"context"

	"github.com/ShayCichocki/taskq/internal/retry"
)

// RetryingStore retries transient backend failures. Conflicts are never
// retried here; they are the caller's signal to re-read.
type RetryingStore struct {
	inner  Store
	policy retry.Policy
}

// NewRetryingStore wraps inner with the given transient-failure policy.
func NewRetryingStore(inner Store, policy retry.Policy) *RetryingStore {
	return &RetryingStore{inner: inner, policy: policy}
}

// Unwrap returns the wrapped store.
func (r *RetryingStore) Unwrap() Store {
	return r.inner
}

func (r *RetryingStore) Get(ctx context.Context, key string) (Record, error) {
	var rec Record
	err := r.policy.Do(ctx, retry.IsTransient, func(int) error {
		var err error
		rec, err = r.inner.Get(ctx, key)
		return err
	})
	return rec, err
}

func (r *RetryingStore) Put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	var version string
	err := r.policy.Do(ctx, retry.IsTransient, func(int) error {
		var err error
		version, err = r.inner.Put(ctx, key, data, expectedVersion)
		return err
	})
	return version, err
}

func (r *RetryingStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.policy.Do(ctx, retry.IsTransient, func(int) error {
		var err error
		keys, err = r.inner.List(ctx, prefix)
		return err
	})
	return keys, err
}

var _ Store = (*RetryingStore)(nil)
