package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskq/internal/capacity"
	"github.com/ShayCichocki/taskq/internal/metastore"
	"github.com/ShayCichocki/taskq/internal/reconcile"
	"github.com/ShayCichocki/taskq/internal/specdoc"
	"github.com/ShayCichocki/taskq/pkg/models"
)

// ErrNoMetadata is returned by bookkeeping operations when the orchestrator
// was built without WithMetadata.
var ErrNoMetadata = errors.New("no metadata repository configured")

// Config is the explicit configuration of an Orchestrator. Nothing inside
// the orchestrator reads the environment.
type Config struct {
	// LabelPrefix is the first segment of every task branch name.
	LabelPrefix string
	// Project is the second segment of every task branch name.
	Project string
	// Limits caps open PRs per reviewer. Empty means a single unbounded queue.
	Limits capacity.Limits
}

// Validate checks that branch names can be built from the config.
func (c Config) Validate() error {
	if c.LabelPrefix == "" {
		return &models.ValidationError{Field: "label_prefix", Reason: "must not be empty"}
	}
	if c.Project == "" {
		return &models.ValidationError{Field: "project", Reason: "must not be empty"}
	}
	return c.Limits.Validate()
}

// Orchestrator turns a spec document and the current pull requests into a
// dispatch decision.
type Orchestrator struct {
	config     Config
	reconciler *reconcile.Reconciler
	gate       *capacity.Gate
	logger     *DebugLogger
	metadata   *metastore.Repository
	now        func() time.Time
}

// New creates an Orchestrator from cfg and options.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	gate, err := capacity.NewGate(cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}

	return &Orchestrator{
		config:     cfg,
		reconciler: reconcile.New(cfg.LabelPrefix, cfg.Project),
		gate:       gate,
		logger:     o.logger,
		metadata:   o.metadata,
		now:        o.now,
	}, nil
}

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Outcome classifies a Decision. Both non-dispatch outcomes are normal
// results, not errors.
type Outcome string

const (
	// OutcomeDispatch means NextTask should be started.
	OutcomeDispatch Outcome = "dispatch"
	// OutcomeNoCapacity means every reviewer is at their limit.
	OutcomeNoCapacity Outcome = "no_capacity"
	// OutcomeNoPendingTasks means capacity exists but every task is
	// completed or in progress.
	OutcomeNoPendingTasks Outcome = "no_pending_tasks"
)

// Decision is the result of one Decide call.
type Decision struct {
	HasCapacity bool `json:"has_capacity"`
	// NextTask is the first pending task in document order, or nil.
	NextTask *models.Task `json:"next_task,omitempty"`
	// Assignee is the reviewer the task should be routed to, if any.
	Assignee string `json:"assignee,omitempty"`
	// BranchName is the branch to create for NextTask.
	BranchName string                  `json:"branch_name,omitempty"`
	Orphans    []models.OrphanedPR     `json:"orphans"`
	Statuses   []models.TaskWithStatus `json:"statuses"`
	Capacity   capacity.Decision       `json:"capacity"`
}

// Outcome reports what the caller should do with the decision.
func (d *Decision) Outcome() Outcome {
	switch {
	case !d.HasCapacity:
		return OutcomeNoCapacity
	case d.NextTask == nil:
		return OutcomeNoPendingTasks
	default:
		return OutcomeDispatch
	}
}

// ReviewerReport renders the per-reviewer capacity breakdown.
func (d *Decision) ReviewerReport() string {
	return d.Capacity.Report()
}

// Decide parses specText, reconciles it against prs, evaluates reviewer
// capacity and picks the first pending task in document order. It performs
// no I/O and no retries.
func (o *Orchestrator) Decide(specText string, prs []models.PullRequestRef) (*Decision, error) {
	doc, err := specdoc.ParseDocument(specText)
	if err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	tasks := doc.Tasks()
	statuses, orphans := o.reconciler.Match(tasks, prs)
	capDecision := o.gate.Evaluate(prs)

	d := &Decision{
		HasCapacity: capDecision.HasCapacity,
		Orphans:     orphans,
		Statuses:    statuses,
		Capacity:    capDecision,
	}
	summary := reconcile.Summary(statuses)
	o.logger.Log("[decide] project=%s tasks=%d pending=%d in_progress=%d completed=%d orphans=%d prs=%d",
		o.config.Project, len(tasks), summary[models.TaskStatusPending], summary[models.TaskStatusInProgress],
		summary[models.TaskStatusCompleted], len(orphans), len(prs))
	for _, orphan := range orphans {
		o.logger.Log("[decide] orphaned PR #%d (%s): %s", orphan.PullRequest.Number, orphan.PullRequest.BranchName, orphan.Reason)
	}

	if !capDecision.HasCapacity {
		o.logger.Log("[decide] no reviewer capacity")
		return d, nil
	}

	next := nextTask(statuses)
	if next == nil {
		o.logger.Log("[decide] no pending tasks")
		return d, nil
	}
	d.NextTask = next
	d.Assignee = capDecision.SelectedAssignee
	d.BranchName = models.FormatBranchName(o.config.LabelPrefix, o.config.Project, next.Identity())
	o.logger.Log("[decide] next task #%d %s %q assignee=%q branch=%s",
		next.Index, next.IdentityHash, next.Description, d.Assignee, d.BranchName)
	return d, nil
}

// nextTask returns the first pending task in document order.
func nextTask(statuses []models.TaskWithStatus) *models.Task {
	for _, s := range statuses {
		if s.Status == models.TaskStatusPending {
			t := s.Task
			return &t
		}
	}
	return nil
}

// RecordDispatch stores that d.NextTask was dispatched, together with the
// pull request opened for it when prNumber > 0. A task that d shows as in
// progress is rejected. Conflicting writers are retried by the metadata
// repository.
func (o *Orchestrator) RecordDispatch(ctx context.Context, d *Decision, prNumber int) (*metastore.Metadata, error) {
	if o.metadata == nil {
		return nil, ErrNoMetadata
	}
	if d == nil || d.NextTask == nil {
		return nil, &models.ValidationError{Field: "decision", Reason: "has no task to dispatch"}
	}
	if reconcile.InProgressHashes(d.Statuses)[d.NextTask.IdentityHash] {
		return nil, &models.ValidationError{Field: "decision", Value: d.NextTask.IdentityHash, Reason: "task already has an open pull request"}
	}

	task := *d.NextTask
	dispatchID := uuid.NewString()
	at := o.now().UTC()
	m, err := o.metadata.Update(ctx, o.config.Project, func(m *metastore.Metadata) error {
		m.UpsertTask(metastore.TaskRecord{
			IdentityHash: task.IdentityHash,
			Description:  task.Description,
			Status:       models.TaskStatusInProgress,
			DispatchID:   dispatchID,
			Assignee:     d.Assignee,
			PRNumber:     prNumber,
			DispatchedAt: &at,
		})
		if prNumber > 0 {
			m.UpsertPullRequest(metastore.PRRecord{
				Number:       prNumber,
				Branch:       d.BranchName,
				IdentityHash: task.IdentityHash,
				State:        models.PRStateOpen,
				Assignee:     d.Assignee,
				CreatedAt:    at,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record dispatch of %s: %w", task.IdentityHash, err)
	}
	o.logger.Log("[dispatch] recorded %s (%s) pr=%d dispatch_id=%s", task.IdentityHash, task.Description, prNumber, dispatchID)
	return m, nil
}

// SyncPullRequests reconciles specText against prs and writes the resulting
// task statuses and PR records to the metadata document. Nothing is written
// when the document already reflects the current state.
func (o *Orchestrator) SyncPullRequests(ctx context.Context, specText string, prs []models.PullRequestRef) (*metastore.Metadata, error) {
	if o.metadata == nil {
		return nil, ErrNoMetadata
	}
	doc, err := specdoc.ParseDocument(specText)
	if err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	statuses, orphans := o.reconciler.Match(doc.Tasks(), prs)

	orphaned := make(map[int]bool, len(orphans))
	for _, op := range orphans {
		orphaned[op.PullRequest.Number] = true
	}
	at := o.now().UTC()

	m, err := o.metadata.Update(ctx, o.config.Project, func(m *metastore.Metadata) error {
		before, err := m.Encode()
		if err != nil {
			return err
		}

		for _, s := range statuses {
			o.syncTask(m, s, at)
		}
		for _, pr := range prs {
			o.syncPullRequest(m, pr, orphaned[pr.Number])
		}

		after, err := m.Encode()
		if err != nil {
			return err
		}
		if bytes.Equal(before, after) {
			return metastore.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sync pull requests: %w", err)
	}
	o.logger.Log("[sync] project=%s tasks=%d prs=%d orphans=%d", o.config.Project, len(statuses), len(prs), len(orphans))
	return m, nil
}

func (o *Orchestrator) syncTask(m *metastore.Metadata, s models.TaskWithStatus, at time.Time) {
	rec := metastore.TaskRecord{
		IdentityHash: s.Task.IdentityHash,
		Description:  s.Task.Description,
		Status:       s.Status,
	}
	if existing, ok := m.Task(s.Task.IdentityHash); ok {
		rec.DispatchID = existing.DispatchID
		rec.Assignee = existing.Assignee
		rec.PRNumber = existing.PRNumber
		rec.DispatchedAt = existing.DispatchedAt
		rec.CompletedAt = existing.CompletedAt
	}
	if s.PullRequest != nil {
		rec.PRNumber = s.PullRequest.Number
	}
	if s.Status == models.TaskStatusCompleted && rec.CompletedAt == nil {
		done := at
		if s.PullRequest != nil && s.PullRequest.MergedAt != nil {
			done = s.PullRequest.MergedAt.UTC()
		}
		rec.CompletedAt = &done
	}
	if s.Status != models.TaskStatusCompleted {
		rec.CompletedAt = nil
	}
	m.UpsertTask(rec)
}

func (o *Orchestrator) syncPullRequest(m *metastore.Metadata, pr models.PullRequestRef, orphaned bool) {
	branch, err := pr.Decode(o.config.LabelPrefix)
	if err != nil || branch.Project != o.config.Project {
		return
	}
	rec := metastore.PRRecord{
		Number:    pr.Number,
		Branch:    pr.BranchName,
		State:     pr.State,
		Orphaned:  orphaned,
		CreatedAt: pr.CreatedAt.UTC(),
		MergedAt:  pr.MergedAt,
	}
	if !branch.Identity.IsLegacy() {
		rec.IdentityHash = branch.Identity.Hash
	}
	if len(pr.Assignees) > 0 {
		rec.Assignee = pr.Assignees[0]
	}
	if pr.Reviewer != "" {
		rec.Assignee = pr.Reviewer
	}
	if rec.MergedAt != nil {
		merged := rec.MergedAt.UTC()
		rec.MergedAt = &merged
	}
	m.UpsertPullRequest(rec)
}
