package models

// TaskStatus represents the reconciled state of a checklist task.
type TaskStatus string

const (
	// TaskStatusPending indicates no open pull request exists and the box is unchecked.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates an open pull request is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the checkbox is marked done.
	TaskStatusCompleted TaskStatus = "completed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// Task is one checklist line of a spec document.
type Task struct {
	// Index is the 1-based position in the document. It shifts when other
	// tasks are inserted or removed, so it is not an identity.
	Index int `json:"index"`
	// Description is the free text after the checkbox.
	Description string `json:"description"`
	// Completed reports whether the checkbox is marked.
	Completed bool `json:"completed"`
	// IdentityHash is derived from the normalized description only.
	IdentityHash string `json:"identity_hash"`
}

// Identity returns the hash-based identity of the task.
func (t Task) Identity() TaskIdentity {
	return HashIdentity(t.IdentityHash)
}

// TaskWithStatus pairs a task with the pull request that matched it, if any.
type TaskWithStatus struct {
	Task        Task            `json:"task"`
	PullRequest *PullRequestRef `json:"pull_request,omitempty"`
	Status      TaskStatus      `json:"status"`
}

// OrphanedPR is an open pull request whose encoded identity matches no task
// in the current document.
type OrphanedPR struct {
	PullRequest PullRequestRef `json:"pull_request"`
	Identity    TaskIdentity   `json:"identity"`
	// Reason is a short human-readable explanation for reports.
	Reason string `json:"reason"`
}
