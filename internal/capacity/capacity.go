// Package capacity decides whether any configured reviewer can take another
// open pull request.
package capacity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ShayCichocki/taskq/pkg/models"
)

var validate = validator.New()

// ReviewerLimit caps the number of concurrently open PRs for one reviewer.
type ReviewerLimit struct {
	Username   string `mapstructure:"username" yaml:"username" validate:"required"`
	MaxOpenPRs int    `mapstructure:"max_open_prs" yaml:"max_open_prs" validate:"gte=0"`
}

// Limits is the ordered reviewer configuration. Order decides selection.
type Limits struct {
	Reviewers []ReviewerLimit `validate:"dive"`
}

// Validate checks field constraints and rejects duplicate usernames.
func (l Limits) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("invalid reviewer limits: %w", err)
	}
	seen := make(map[string]bool, len(l.Reviewers))
	for _, r := range l.Reviewers {
		if seen[r.Username] {
			return &models.ValidationError{Field: "reviewer", Value: r.Username, Reason: "configured more than once"}
		}
		seen[r.Username] = true
	}
	return nil
}

// ReviewerCapacity is the per-reviewer breakdown of a decision.
type ReviewerCapacity struct {
	Username      string `json:"username"`
	OpenCount     int    `json:"open_count"`
	MaxCount      int    `json:"max_count"`
	OpenPRNumbers []int  `json:"open_pr_numbers"`
	Available     bool   `json:"available"`
}

// Decision is the outcome of a capacity evaluation. No capacity is a normal
// outcome, not an error.
type Decision struct {
	HasCapacity bool `json:"has_capacity"`
	// SelectedAssignee is empty when there is no capacity or when no
	// reviewers are configured.
	SelectedAssignee string             `json:"selected_assignee,omitempty"`
	Reviewers        []ReviewerCapacity `json:"reviewers"`
}

// Gate evaluates reviewer capacity against a fixed set of limits.
type Gate struct {
	limits Limits
}

// NewGate validates limits and returns a Gate.
func NewGate(limits Limits) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Gate{limits: limits}, nil
}

// Limits returns the configured limits.
func (g *Gate) Limits() Limits {
	return g.limits
}

// Evaluate counts open PRs per configured reviewer and selects the first
// reviewer, in configured order, that is under their limit. With no
// reviewers configured the gate always has capacity and selects nobody.
func (g *Gate) Evaluate(prs []models.PullRequestRef) Decision {
	if len(g.limits.Reviewers) == 0 {
		return Decision{HasCapacity: true}
	}

	open := CountOpenByAssignee(prs)
	d := Decision{Reviewers: make([]ReviewerCapacity, 0, len(g.limits.Reviewers))}
	for _, r := range g.limits.Reviewers {
		numbers := open[r.Username]
		rc := ReviewerCapacity{
			Username:      r.Username,
			OpenCount:     len(numbers),
			MaxCount:      r.MaxOpenPRs,
			OpenPRNumbers: numbers,
			Available:     len(numbers) < r.MaxOpenPRs,
		}
		if rc.OpenPRNumbers == nil {
			rc.OpenPRNumbers = []int{}
		}
		if rc.Available && !d.HasCapacity {
			d.HasCapacity = true
			d.SelectedAssignee = r.Username
		}
		d.Reviewers = append(d.Reviewers, rc)
	}
	return d
}

// CountOpenByAssignee groups open PR numbers by every user the PR is routed
// to. A PR whose reviewer is also an assignee is counted once for that user.
func CountOpenByAssignee(prs []models.PullRequestRef) map[string][]int {
	out := make(map[string][]int)
	for _, pr := range prs {
		if !pr.IsOpen() {
			continue
		}
		users := make(map[string]bool)
		if pr.Reviewer != "" {
			users[pr.Reviewer] = true
		}
		for _, a := range pr.Assignees {
			if a != "" {
				users[a] = true
			}
		}
		for u := range users {
			out[u] = append(out[u], pr.Number)
		}
	}
	for u := range out {
		sort.Ints(out[u])
	}
	return out
}

// Report renders the decision for humans.
func (d Decision) Report() string {
	if len(d.Reviewers) == 0 {
		return "No reviewers configured: single unbounded queue.\n"
	}

	var b strings.Builder
	for _, r := range d.Reviewers {
		mark := "full"
		if r.Available {
			mark = "available"
		}
		fmt.Fprintf(&b, "%-20s %d/%d open  %s", r.Username, r.OpenCount, r.MaxCount, mark)
		if len(r.OpenPRNumbers) > 0 {
			nums := make([]string, len(r.OpenPRNumbers))
			for i, n := range r.OpenPRNumbers {
				nums[i] = fmt.Sprintf("#%d", n)
			}
			fmt.Fprintf(&b, "  (%s)", strings.Join(nums, ", "))
		}
		b.WriteString("\n")
	}
	if d.HasCapacity {
		fmt.Fprintf(&b, "Selected reviewer: %s\n", d.SelectedAssignee)
	} else {
		b.WriteString("All reviewers are at capacity.\n")
	}
	return b.String()
}
