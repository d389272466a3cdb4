package metastore

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/taskq/pkg/models"
)

// MetadataSchemaVersion is the schema written by Encode.
const MetadataSchemaVersion = 2

// Metadata is the per-project bookkeeping document. The store's version
// token is never part of the body.
type Metadata struct {
	// SchemaVersion identifies the document layout.
	SchemaVersion int `json:"schemaVersion"`
	// ProjectName is the project the document belongs to.
	ProjectName string `json:"projectName"`
	// LastUpdated is informational only; writes are ordered by version token.
	LastUpdated time.Time `json:"lastUpdated"`
	// Tasks is the dispatch history keyed by identity hash.
	Tasks []TaskRecord `json:"tasks"`
	// PullRequests records every PR seen for the project.
	PullRequests []PRRecord `json:"pullRequests"`
}

// TaskRecord tracks one task across dispatches.
type TaskRecord struct {
	IdentityHash string            `json:"identityHash"`
	Description  string            `json:"description"`
	Status       models.TaskStatus `json:"status"`
	// DispatchID is unique per dispatch and survives re-dispatch of the
	// same task.
	DispatchID   string     `json:"dispatchId,omitempty"`
	Assignee     string     `json:"assignee,omitempty"`
	PRNumber     int        `json:"prNumber,omitempty"`
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// PRRecord is the stored view of a pull request.
type PRRecord struct {
	Number       int            `json:"number"`
	Branch       string         `json:"branch"`
	IdentityHash string         `json:"identityHash,omitempty"`
	State        models.PRState `json:"state"`
	Assignee     string         `json:"assignee,omitempty"`
	Orphaned     bool           `json:"orphaned,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	MergedAt     *time.Time     `json:"mergedAt,omitempty"`
	Cost         Cost           `json:"cost"`
}

// Cost is the spend attributed to a pull request.
type Cost struct {
	USD          float64 `json:"usd"`
	InputTokens  int64   `json:"inputTokens,omitempty"`
	OutputTokens int64   `json:"outputTokens,omitempty"`
}

// metadataV1 is the layout before schema versioning was tightened: the
// project lived under "project" and cost was a bare dollar amount.
type metadataV1 struct {
	SchemaVersion int          `json:"schemaVersion"`
	Project       string       `json:"project"`
	LastUpdated   time.Time    `json:"lastUpdated"`
	Tasks         []TaskRecord `json:"tasks"`
	PullRequests  []prRecordV1 `json:"pullRequests"`
}

type prRecordV1 struct {
	Number       int            `json:"number"`
	Branch       string         `json:"branch"`
	IdentityHash string         `json:"identityHash,omitempty"`
	State        models.PRState `json:"state"`
	Assignee     string         `json:"assignee,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	MergedAt     *time.Time     `json:"mergedAt,omitempty"`
	Cost         float64        `json:"cost"`
}

// NewMetadata returns an empty document for project.
func NewMetadata(project string) *Metadata {
	return &Metadata{
		SchemaVersion: MetadataSchemaVersion,
		ProjectName:   project,
		Tasks:         []TaskRecord{},
		PullRequests:  []PRRecord{},
	}
}

// DecodeMetadata parses a stored document, migrating older schemas.
// Documents without a schemaVersion are treated as version 1.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &models.ValidationError{Field: "metadata", Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}

	switch probe.SchemaVersion {
	case 0, 1:
		var v1 metadataV1
		if err := json.Unmarshal(data, &v1); err != nil {
			return nil, &models.ValidationError{Field: "metadata", Reason: fmt.Sprintf("decode schema v1: %v", err)}
		}
		return migrateV1(&v1), nil
	case MetadataSchemaVersion:
		m := NewMetadata("")
		if err := json.Unmarshal(data, m); err != nil {
			return nil, &models.ValidationError{Field: "metadata", Reason: fmt.Sprintf("decode schema v2: %v", err)}
		}
		m.normalize()
		return m, nil
	default:
		return nil, &models.ValidationError{
			Field:  "metadata.schemaVersion",
			Value:  fmt.Sprint(probe.SchemaVersion),
			Reason: fmt.Sprintf("unsupported (newest known is %d)", MetadataSchemaVersion),
		}
	}
}

func migrateV1(v1 *metadataV1) *Metadata {
	m := NewMetadata(v1.Project)
	m.LastUpdated = v1.LastUpdated
	m.Tasks = append(m.Tasks, v1.Tasks...)
	for _, pr := range v1.PullRequests {
		m.PullRequests = append(m.PullRequests, PRRecord{
			Number:       pr.Number,
			Branch:       pr.Branch,
			IdentityHash: pr.IdentityHash,
			State:        pr.State,
			Assignee:     pr.Assignee,
			CreatedAt:    pr.CreatedAt,
			MergedAt:     pr.MergedAt,
			Cost:         Cost{USD: pr.Cost},
		})
	}
	m.normalize()
	return m
}

func (m *Metadata) normalize() {
	if m.Tasks == nil {
		m.Tasks = []TaskRecord{}
	}
	if m.PullRequests == nil {
		m.PullRequests = []PRRecord{}
	}
}

// Encode serializes the document at the current schema version.
func (m *Metadata) Encode() ([]byte, error) {
	m.SchemaVersion = MetadataSchemaVersion
	m.normalize()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// Task returns the record for hash.
func (m *Metadata) Task(hash string) (*TaskRecord, bool) {
	for i := range m.Tasks {
		if m.Tasks[i].IdentityHash == hash {
			return &m.Tasks[i], true
		}
	}
	return nil, false
}

// UpsertTask replaces the record with the same identity hash, or appends it.
func (m *Metadata) UpsertTask(rec TaskRecord) {
	if existing, ok := m.Task(rec.IdentityHash); ok {
		*existing = rec
		return
	}
	m.Tasks = append(m.Tasks, rec)
}

// PullRequest returns the record for PR number n.
func (m *Metadata) PullRequest(n int) (*PRRecord, bool) {
	for i := range m.PullRequests {
		if m.PullRequests[i].Number == n {
			return &m.PullRequests[i], true
		}
	}
	return nil, false
}

// UpsertPullRequest replaces the record with the same number, or inserts it
// keeping the list sorted by number. Cost is kept when rec carries none.
func (m *Metadata) UpsertPullRequest(rec PRRecord) {
	if existing, ok := m.PullRequest(rec.Number); ok {
		if rec.Cost == (Cost{}) {
			rec.Cost = existing.Cost
		}
		*existing = rec
		return
	}
	m.PullRequests = append(m.PullRequests, rec)
	sort.Slice(m.PullRequests, func(i, j int) bool {
		return m.PullRequests[i].Number < m.PullRequests[j].Number
	})
}

// TotalCost sums the cost of every recorded pull request.
func (m *Metadata) TotalCost() Cost {
	var total Cost
	for _, pr := range m.PullRequests {
		total.USD += pr.Cost.USD
		total.InputTokens += pr.Cost.InputTokens
		total.OutputTokens += pr.Cost.OutputTokens
	}
	return total
}
