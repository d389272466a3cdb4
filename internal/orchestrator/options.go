package orchestrator

import (
	"time"

	"github.com/ShayCichocki/taskq/internal/metastore"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
// These are only used during construction.
type orchestratorOptions struct {
	logger   *DebugLogger
	metadata *metastore.Repository
	now      func() time.Time
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithMetadata sets the repository used to persist dispatch bookkeeping.
// Without it RecordDispatch and SyncPullRequests return ErrNoMetadata.
func WithMetadata(r *metastore.Repository) Option {
	return func(o *orchestratorOptions) { o.metadata = r }
}

// WithClock sets the time source for recorded timestamps (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) { o.now = now }
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		logger: NopLogger(),
		now:    time.Now,
	}
}
