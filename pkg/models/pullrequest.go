package models

import "time"

// PRState enumerates pull request lifecycle states.
type PRState string

const (
	// PRStateOpen marks a PR that is still under review.
	PRStateOpen PRState = "open"
	// PRStateClosed marks a PR closed without merging.
	PRStateClosed PRState = "closed"
	// PRStateMerged marks a merged PR.
	PRStateMerged PRState = "merged"
)

// Valid returns true if the state is a known value.
func (s PRState) Valid() bool {
	switch s {
	case PRStateOpen, PRStateClosed, PRStateMerged:
		return true
	default:
		return false
	}
}

// PullRequestRef is a read-only view of a remote pull request.
type PullRequestRef struct {
	Number     int     `json:"number"`
	Title      string  `json:"title,omitempty"`
	URL        string  `json:"url,omitempty"`
	State      PRState `json:"state"`
	BranchName string  `json:"branch_name"`
	// Reviewer is the person the PR was routed to, if any.
	Reviewer  string     `json:"reviewer,omitempty"`
	Assignees []string   `json:"assignees,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

// IsOpen reports whether the PR is still open.
func (p PullRequestRef) IsOpen() bool {
	return p.State == PRStateOpen
}

// Decode parses the PR branch name using the given label prefix.
func (p PullRequestRef) Decode(prefix string) (BranchName, error) {
	return ParseBranchName(prefix, p.BranchName)
}

// AssignedTo reports whether the PR is routed to the given user, either as
// reviewer or as one of its assignees.
func (p PullRequestRef) AssignedTo(user string) bool {
	if user == "" {
		return false
	}
	if p.Reviewer == user {
		return true
	}
	for _, a := range p.Assignees {
		if a == user {
			return true
		}
	}
	return false
}
