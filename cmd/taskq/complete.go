package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskq/internal/specdoc"
	"github.com/ShayCichocki/taskq/pkg/models"
)

var completeCmd = &cobra.Command{
	Use:   "complete <hash|index>",
	Short: "Check off a task in the spec",
	Long: `Mark a task as completed by checking its box in the spec file.

The task is named by its identity hash or by its 1-based position. Prose
and every other line of the spec are left untouched.

Examples:
  taskq complete 0a1b2c3d
  taskq complete 3`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	path := a.specPath()
	doc, err := specdoc.Load(a.fs, path)
	if err != nil {
		return err
	}

	hash, err := resolveTask(doc, args[0])
	if err != nil {
		return err
	}
	task, err := doc.MarkCompleted(hash)
	if err != nil {
		return err
	}
	if err := doc.Save(a.fs, path); err != nil {
		return err
	}

	printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Completed #%d %s: %s", task.Index, task.IdentityHash, task.Description), color.FgGreen)
	return nil
}

// resolveTask turns a hash or 1-based index into an identity hash.
func resolveTask(doc *specdoc.Document, ref string) (string, error) {
	if _, ok := doc.Find(ref); ok {
		return ref, nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		tasks := doc.Tasks()
		if n >= 1 && n <= len(tasks) {
			return tasks[n-1].IdentityHash, nil
		}
	}
	return "", &models.NotFoundError{Kind: "task", Key: ref}
}
