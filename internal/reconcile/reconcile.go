// Package reconcile matches pull requests to spec tasks and reports pull
// requests that no longer correspond to any task.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/ShayCichocki/taskq/pkg/models"
)

// Reconciler matches pull requests against tasks for one project. Branches
// that do not decode to {Prefix}-{Project}-{identity} are ignored.
type Reconciler struct {
	Prefix  string
	Project string
}

// New creates a Reconciler for the given branch prefix and project.
func New(prefix, project string) *Reconciler {
	return &Reconciler{Prefix: prefix, Project: project}
}

// candidate is a pull request together with its decoded identity.
type candidate struct {
	pr *models.PullRequestRef
	id models.TaskIdentity
}

// Match classifies every task and returns orphaned pull requests.
//
// Hash matches take precedence over legacy index matches, except that an
// open legacy PR replaces a closed or merged hash match. A checked box always
// wins; otherwise an open PR means in progress. Orphans are open PRs of this
// project whose identity matches no current task, one per PR number, ordered
// by PR number. Closed and merged PRs are never orphans.
func (r *Reconciler) Match(tasks []models.Task, prs []models.PullRequestRef) ([]models.TaskWithStatus, []models.OrphanedPR) {
	candidates := r.decode(prs)

	byHash := make(map[string]*models.PullRequestRef)
	byIndex := make(map[int]*models.PullRequestRef)
	for _, c := range candidates {
		switch c.id.Kind {
		case models.IdentityHash:
			byHash[c.id.Hash] = prefer(byHash[c.id.Hash], c.pr)
		case models.IdentityIndex:
			byIndex[c.id.Index] = prefer(byIndex[c.id.Index], c.pr)
		}
	}

	statuses := make([]models.TaskWithStatus, 0, len(tasks))
	knownHashes := make(map[string]bool, len(tasks))
	knownIndexes := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		knownHashes[t.IdentityHash] = true
		knownIndexes[t.Index] = true

		pr := byHash[t.IdentityHash]
		if legacy := byIndex[t.Index]; legacy != nil && (pr == nil || (!pr.IsOpen() && legacy.IsOpen())) {
			pr = legacy
		}
		statuses = append(statuses, models.TaskWithStatus{
			Task:        t,
			PullRequest: pr,
			Status:      classify(t, pr),
		})
	}

	return statuses, r.orphans(candidates, knownHashes, knownIndexes)
}

func (r *Reconciler) orphans(candidates []candidate, knownHashes map[string]bool, knownIndexes map[int]bool) []models.OrphanedPR {
	seen := make(map[int]bool)
	var out []models.OrphanedPR
	for _, c := range candidates {
		if !c.pr.IsOpen() || seen[c.pr.Number] {
			continue
		}
		var reason string
		switch c.id.Kind {
		case models.IdentityHash:
			if knownHashes[c.id.Hash] {
				continue
			}
			reason = fmt.Sprintf("no task with identity %s; it was reworded or removed", c.id.Hash)
		case models.IdentityIndex:
			if knownIndexes[c.id.Index] {
				continue
			}
			reason = fmt.Sprintf("legacy task index %d is beyond the current task list", c.id.Index)
		}
		seen[c.pr.Number] = true
		out = append(out, models.OrphanedPR{PullRequest: *c.pr, Identity: c.id, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PullRequest.Number < out[j].PullRequest.Number
	})
	return out
}

// decode keeps the pull requests whose branch belongs to this project.
func (r *Reconciler) decode(prs []models.PullRequestRef) []candidate {
	out := make([]candidate, 0, len(prs))
	for i := range prs {
		b, err := models.ParseBranchName(r.Prefix, prs[i].BranchName)
		if err != nil {
			continue
		}
		if r.Project != "" && b.Project != r.Project {
			continue
		}
		out = append(out, candidate{pr: &prs[i], id: b.Identity})
	}
	return out
}

// prefer picks which of two PRs for the same identity represents the task:
// open beats closed or merged, then the newest wins, then the higher number.
func prefer(current, next *models.PullRequestRef) *models.PullRequestRef {
	if current == nil {
		return next
	}
	if current.IsOpen() != next.IsOpen() {
		if next.IsOpen() {
			return next
		}
		return current
	}
	if !next.CreatedAt.Equal(current.CreatedAt) {
		if next.CreatedAt.After(current.CreatedAt) {
			return next
		}
		return current
	}
	if next.Number > current.Number {
		return next
	}
	return current
}

func classify(t models.Task, pr *models.PullRequestRef) models.TaskStatus {
	switch {
	case t.Completed:
		return models.TaskStatusCompleted
	case pr != nil && pr.IsOpen():
		return models.TaskStatusInProgress
	default:
		return models.TaskStatusPending
	}
}

// Summary counts tasks per status.
func Summary(statuses []models.TaskWithStatus) map[models.TaskStatus]int {
	out := map[models.TaskStatus]int{
		models.TaskStatusPending:    0,
		models.TaskStatusInProgress: 0,
		models.TaskStatusCompleted:  0,
	}
	for _, s := range statuses {
		out[s.Status]++
	}
	return out
}

// InProgressHashes returns the identity hashes of tasks with an open PR.
func InProgressHashes(statuses []models.TaskWithStatus) map[string]bool {
	out := make(map[string]bool)
	for _, s := range statuses {
		if s.Status == models.TaskStatusInProgress {
			out[s.Task.IdentityHash] = true
		}
	}
	return out
}
