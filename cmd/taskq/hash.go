package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskq/internal/specdoc"
	"github.com/ShayCichocki/taskq/pkg/models"
)

var hashCmd = &cobra.Command{
	Use:   "hash [description]",
	Short: "Print task identity hashes",
	Long: `Print the identity hash of a task description, or of every task in
the spec when no description is given.

The hash is the first 8 hex characters of the SHA-256 of the normalized
description, so it does not change when tasks are reordered.

Examples:
  taskq hash "Add auth"
  taskq hash`,
	RunE: runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) > 0 {
		fmt.Fprintln(out, specdoc.IdentityHash(strings.Join(args, " ")))
		return nil
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	doc, err := specdoc.Load(a.fs, a.specPath())
	if err != nil {
		return err
	}
	for _, t := range doc.Tasks() {
		fmt.Fprintf(out, "%s  %3d  %s  %s\n", t.IdentityHash, t.Index,
			models.FormatBranchName(a.cfg.Project.LabelPrefix, a.cfg.Project.Name, t.Identity()), t.Description)
	}
	return nil
}
