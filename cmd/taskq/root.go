package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	rootDir        string
	rootConfigPath string
	rootDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "taskq",
	Short: "Spec-driven work queue for agent pull requests",
	Long: `taskq treats the checklist items of a markdown spec as a work queue.

Each task is identified by a hash of its description, so reordering or
inserting tasks never changes which pull request belongs to which task.
taskq matches open pull requests to tasks, reports orphaned pull requests,
checks reviewer capacity and picks the next task to hand out.

Core commands:
- next      decide (and optionally dispatch) the next task
- status    show every task with its pull request and reviewer load
- complete  check off a task in the spec
- meta      inspect the bookkeeping document`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotEnv(rootDir)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv loads .env from dir without overriding variables already set.
// A missing file is not an error.
func loadDotEnv(dir string) error {
	if dir == "" {
		dir = "."
	}
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "C", "", "Run as if started in this directory")
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Use this config file instead of the layered lookup")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Write a decision trace to .taskq/logs")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(versionCmd)
}
