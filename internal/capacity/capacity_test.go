package capacity

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/taskq/pkg/models"
)

func prsFor(reviewer string, numbers ...int) []models.PullRequestRef {
	out := make([]models.PullRequestRef, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, models.PullRequestRef{Number: n, State: models.PRStateOpen, Reviewer: reviewer})
	}
	return out
}

func mustGate(t *testing.T, reviewers ...ReviewerLimit) *Gate {
	t.Helper()
	g, err := NewGate(Limits{Reviewers: reviewers})
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	return g
}

func TestEvaluate_SelectsFirstWithRoom(t *testing.T) {
	g := mustGate(t,
		ReviewerLimit{Username: "alice", MaxOpenPRs: 2},
		ReviewerLimit{Username: "bob", MaxOpenPRs: 3},
	)
	prs := append(prsFor("alice", 1, 2), prsFor("bob", 3)...)

	d := g.Evaluate(prs)
	if !d.HasCapacity || d.SelectedAssignee != "bob" {
		t.Fatalf("Evaluate = %+v, want capacity with bob", d)
	}
	if d.Reviewers[0].OpenCount != 2 || d.Reviewers[0].Available {
		t.Errorf("alice = %+v, want 2 open and unavailable", d.Reviewers[0])
	}
	if !reflect.DeepEqual(d.Reviewers[0].OpenPRNumbers, []int{1, 2}) {
		t.Errorf("alice open PRs = %v, want [1 2]", d.Reviewers[0].OpenPRNumbers)
	}
	if d.Reviewers[1].OpenCount != 1 || d.Reviewers[1].MaxCount != 3 {
		t.Errorf("bob = %+v, want 1/3", d.Reviewers[1])
	}
}

func TestEvaluate_AllFull(t *testing.T) {
	g := mustGate(t,
		ReviewerLimit{Username: "alice", MaxOpenPRs: 1},
		ReviewerLimit{Username: "bob", MaxOpenPRs: 1},
	)
	prs := append(prsFor("alice", 1, 2), prsFor("bob", 3)...)

	d := g.Evaluate(prs)
	if d.HasCapacity || d.SelectedAssignee != "" {
		t.Errorf("Evaluate = %+v, want no capacity", d)
	}
	if !strings.Contains(d.Report(), "All reviewers are at capacity") {
		t.Errorf("Report() = %q", d.Report())
	}
}

func TestEvaluate_NoReviewersIsPassThrough(t *testing.T) {
	g := mustGate(t)
	d := g.Evaluate(prsFor("anyone", 1, 2, 3))
	if !d.HasCapacity || d.SelectedAssignee != "" || len(d.Reviewers) != 0 {
		t.Errorf("Evaluate = %+v, want pass-through", d)
	}
}

func TestEvaluate_ZeroMaxSkipsReviewer(t *testing.T) {
	g := mustGate(t,
		ReviewerLimit{Username: "alice", MaxOpenPRs: 0},
		ReviewerLimit{Username: "bob", MaxOpenPRs: 1},
	)

	d := g.Evaluate(nil)
	if d.SelectedAssignee != "bob" {
		t.Errorf("SelectedAssignee = %q, want bob", d.SelectedAssignee)
	}
	if d.Reviewers[0].Available {
		t.Error("a reviewer with max 0 should never be available")
	}
}

func TestEvaluate_IgnoresClosedAndCountsAssignees(t *testing.T) {
	g := mustGate(t, ReviewerLimit{Username: "alice", MaxOpenPRs: 2})
	prs := []models.PullRequestRef{
		{Number: 1, State: models.PRStateOpen, Assignees: []string{"alice"}},
		{Number: 2, State: models.PRStateMerged, Reviewer: "alice"},
		{Number: 3, State: models.PRStateClosed, Reviewer: "alice"},
		{Number: 4, State: models.PRStateOpen, Reviewer: "alice", Assignees: []string{"alice"}},
	}

	d := g.Evaluate(prs)
	if d.Reviewers[0].OpenCount != 2 {
		t.Errorf("OpenCount = %d, want 2 (open only, deduplicated)", d.Reviewers[0].OpenCount)
	}
	if d.HasCapacity {
		t.Error("alice is at 2/2 and should have no capacity")
	}
}

func TestLimits_Validate(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		ok     bool
	}{
		{"empty", Limits{}, true},
		{"valid", Limits{Reviewers: []ReviewerLimit{{Username: "a", MaxOpenPRs: 1}}}, true},
		{"missing username", Limits{Reviewers: []ReviewerLimit{{MaxOpenPRs: 1}}}, false},
		{"negative max", Limits{Reviewers: []ReviewerLimit{{Username: "a", MaxOpenPRs: -1}}}, false},
		{"duplicate", Limits{Reviewers: []ReviewerLimit{{Username: "a"}, {Username: "a"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	err := Limits{Reviewers: []ReviewerLimit{{Username: "a"}, {Username: "a"}}}.Validate()
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("duplicate reviewer should be a ValidationError, got %v", err)
	}
}

func TestReport(t *testing.T) {
	g := mustGate(t, ReviewerLimit{Username: "alice", MaxOpenPRs: 3})
	report := g.Evaluate(prsFor("alice", 4, 9)).Report()

	for _, want := range []string{"alice", "2/3 open", "#4, #9", "Selected reviewer: alice"} {
		if !strings.Contains(report, want) {
			t.Errorf("Report() missing %q:\n%s", want, report)
		}
	}
	if !strings.Contains(mustGate(t).Evaluate(nil).Report(), "No reviewers configured") {
		t.Error("pass-through report should say no reviewers are configured")
	}
}
