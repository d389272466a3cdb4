package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskq/internal/orchestrator"
	"github.com/ShayCichocki/taskq/internal/reconcile"
	"github.com/ShayCichocki/taskq/pkg/models"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every task with its pull request and reviewer load",
	Long: `Display the reconciled state of the spec.

Shows:
  - Every task with its identity hash, status and matched pull request
  - Open pull requests that no longer match any task (orphans)
  - Open PR count per reviewer against their limit

With --watch the report is refreshed whenever the spec file changes.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Refresh when the spec file changes")
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	cellStyle       = lipgloss.NewStyle().Padding(0, 1)
	pendingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")) // Gray
	inProgressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // Orange
	completedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))  // Green
	borderStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle      = lipgloss.NewStyle().Bold(true)
)

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !statusWatch {
		return printStatusReport(cmd.Context(), a, out)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return watchSpec(ctx, a.specPath(), func() {
		fmt.Fprint(out, "\033[H\033[2J")
		if err := printStatusReport(ctx, a, out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		fmt.Fprintf(out, "\nWatching %s (Ctrl-C to stop)\n", a.cfg.Project.SpecPath)
	})
}

func printStatusReport(ctx context.Context, a *app, w io.Writer) error {
	specText, err := a.readSpec()
	if err != nil {
		return err
	}
	prs, err := a.pullRequests(ctx, "open")
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}
	o, err := a.orchestrator(nil, orchestrator.NopLogger())
	if err != nil {
		return err
	}
	d, err := o.Decide(specText, prs)
	if err != nil {
		return err
	}
	renderStatusReport(w, a.cfg.Project.Name, d)
	return nil
}

func renderStatusReport(w io.Writer, project string, d *orchestrator.Decision) {
	summary := reconcile.Summary(d.Statuses)
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Project %s: %d tasks, %d pending, %d in progress, %d completed",
		project, len(d.Statuses), summary[models.TaskStatusPending],
		summary[models.TaskStatusInProgress], summary[models.TaskStatusCompleted])))
	fmt.Fprintln(w, taskTable(d.Statuses))

	if len(d.Orphans) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Orphaned pull requests:"))
		for _, o := range d.Orphans {
			fmt.Fprintf(w, "  #%d %s: %s\n", o.PullRequest.Number, o.PullRequest.BranchName, o.Reason)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Reviewers:"))
	fmt.Fprint(w, indent(d.ReviewerReport()))
}

func taskTable(statuses []models.TaskWithStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		pr := "-"
		if s.PullRequest != nil {
			pr = "#" + strconv.Itoa(s.PullRequest.Number)
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Task.Index),
			s.Task.IdentityHash,
			string(s.Status),
			pr,
			s.Task.Description,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("#", "HASH", "STATUS", "PR", "TASK").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 2 && row >= 0 && row < len(statuses) {
				return statusStyle(statuses[row].Status).Padding(0, 1)
			}
			return cellStyle
		}).
		String()
}

func statusStyle(s models.TaskStatus) lipgloss.Style {
	switch s {
	case models.TaskStatusCompleted:
		return completedStyle
	case models.TaskStatusInProgress:
		return inProgressStyle
	default:
		return pendingStyle
	}
}

// watchSpec calls render once and again after every write to specPath,
// debounced, until ctx is done. The directory is watched so editors that
// replace the file on save are still seen.
func watchSpec(ctx context.Context, specPath string, render func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(specPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(specPath), err)
	}

	const debounce = 200 * time.Millisecond
	render()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(specPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			render()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch spec: %w", err)
		}
	}
}

// indent prefixes every non-empty line with two spaces.
func indent(s string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			b.WriteString("  ")
		}
		b.WriteString(l)
	}
	return b.String()
}
