package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskq/internal/github"
	"github.com/ShayCichocki/taskq/internal/orchestrator"
)

var (
	nextDispatch bool
	nextJSON     bool
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Decide which task to work on next",
	Long: `Reconcile the spec against open pull requests and pick the next task.

The outcome is one of:
  dispatch          a pending task and reviewer were found
  no_capacity       every reviewer is at their open PR limit
  no_pending_tasks  every task is completed or in progress

With --dispatch the task branch is created on GitHub from the base branch
and the dispatch is recorded in the metadata store. Branch creation fails
if the branch already exists, so two dispatchers never claim the same task.

Examples:
  taskq next
  taskq next --json
  taskq next --dispatch`,
	Args: cobra.NoArgs,
	RunE: runNext,
}

func init() {
	nextCmd.Flags().BoolVar(&nextDispatch, "dispatch", false, "Create the task branch and record the dispatch")
	nextCmd.Flags().BoolVar(&nextJSON, "json", false, "Print the decision as JSON")
}

func runNext(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp()
	if err != nil {
		return err
	}

	specText, err := a.readSpec()
	if err != nil {
		return err
	}
	prs, err := a.pullRequests(ctx, "open")
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer closeStore()

	logger, err := a.logger()
	if err != nil {
		return err
	}
	defer logger.Close()

	o, err := a.orchestrator(a.repository(store), logger)
	if err != nil {
		return err
	}
	d, err := o.Decide(specText, prs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if nextJSON {
		if err := writeDecisionJSON(out, d); err != nil {
			return err
		}
	} else {
		renderDecision(out, d)
	}

	if !nextDispatch || d.Outcome() != orchestrator.OutcomeDispatch {
		return nil
	}
	claimed, err := claimBranch(ctx, a.client(), a.cfg.Project.BaseBranch, d.BranchName)
	if err != nil {
		return err
	}
	if !claimed {
		printStatus(out, "⚠", fmt.Sprintf("Branch %s already exists; another dispatcher claimed this task", d.BranchName), color.FgYellow)
		return nil
	}
	printStatus(out, "✓", fmt.Sprintf("Created branch %s from %s", d.BranchName, a.cfg.Project.BaseBranch), color.FgGreen)

	if _, err := o.RecordDispatch(ctx, d, 0); err != nil {
		return err
	}
	printStatus(out, "✓", "Recorded dispatch in metadata", color.FgGreen)
	return nil
}

// branchCreator is the part of github.Client used to claim a task.
type branchCreator interface {
	BranchSHA(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, name, sha string) error
}

var _ branchCreator = (*github.Client)(nil)

// claimBranch creates branch at the head of base. It returns false when the
// branch already exists.
func claimBranch(ctx context.Context, gh branchCreator, base, branch string) (bool, error) {
	sha, err := gh.BranchSHA(ctx, base)
	if err != nil {
		return false, fmt.Errorf("resolve base branch %s: %w", base, err)
	}
	if err := gh.CreateBranch(ctx, branch, sha); err != nil {
		if errors.Is(err, github.ErrBranchExists) {
			return false, nil
		}
		return false, fmt.Errorf("create branch %s: %w", branch, err)
	}
	return true, nil
}

// decisionJSON adds the derived outcome to the serialized decision.
type decisionJSON struct {
	Outcome orchestrator.Outcome `json:"outcome"`
	*orchestrator.Decision
}

func writeDecisionJSON(w io.Writer, d *orchestrator.Decision) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(decisionJSON{Outcome: d.Outcome(), Decision: d})
}

func renderDecision(w io.Writer, d *orchestrator.Decision) {
	switch d.Outcome() {
	case orchestrator.OutcomeDispatch:
		printStatus(w, "→", fmt.Sprintf("Next task #%d: %s", d.NextTask.Index, d.NextTask.Description), color.FgGreen)
		fmt.Fprintf(w, "  Hash:     %s\n", d.NextTask.IdentityHash)
		fmt.Fprintf(w, "  Branch:   %s\n", d.BranchName)
		if d.Assignee != "" {
			fmt.Fprintf(w, "  Assignee: %s\n", d.Assignee)
		}
	case orchestrator.OutcomeNoCapacity:
		printStatus(w, "✗", "No reviewer capacity", color.FgRed)
		fmt.Fprint(w, indent(d.ReviewerReport()))
	case orchestrator.OutcomeNoPendingTasks:
		printStatus(w, "✓", "No pending tasks", color.FgCyan)
	}

	for _, o := range d.Orphans {
		printStatus(w, "⚠", fmt.Sprintf("Orphaned PR #%d (%s): %s", o.PullRequest.Number, o.PullRequest.BranchName, o.Reason), color.FgYellow)
	}
}

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}
