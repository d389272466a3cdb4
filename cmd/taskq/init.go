package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskq/internal/capacity"
	"github.com/ShayCichocki/taskq/internal/config"
	iexec "github.com/ShayCichocki/taskq/internal/exec"
)

var (
	initForce       bool
	initProjectName string
	initBackend     string
	initSpecPath    string
	initReviewers   []string
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a taskq project",
	Long: `Initialize a repository for use with taskq.

This command:
  - Verifies prerequisites (git, gh)
  - Writes .taskq.yaml with the project name, reviewers and metadata backend
  - Creates the .taskq directory and ignores its local state in git
  - Creates a starter spec file if none exists

The directory argument is optional and defaults to the current directory.

Examples:
  taskq init
  taskq init --project-name auth --reviewer alice=2 --reviewer bob=3
  taskq init --backend sqlite
  taskq init --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .taskq.yaml")
	initCmd.Flags().StringVar(&initProjectName, "project-name", "", "Override auto-detected project name")
	initCmd.Flags().StringVar(&initBackend, "backend", config.BackendFile, "Metadata backend: file, sqlite, git or memory")
	initCmd.Flags().StringVar(&initSpecPath, "spec", "SPEC.md", "Spec file, relative to the repository root")
	initCmd.Flags().StringArrayVar(&initReviewers, "reviewer", nil, "Reviewer limit as name=max (repeatable, order matters)")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}

	fmt.Fprintf(out, "Initializing taskq in %s...\n\n", absPath)

	runner := iexec.NewRunner()
	if !runner.LookPath("git") {
		printStatus(out, "✗", "Git not found", color.FgRed)
		return fmt.Errorf("git not found in PATH")
	}
	printStatus(out, "✓", "Git found", color.FgGreen)
	if runner.LookPath("gh") {
		printStatus(out, "✓", "GitHub CLI found", color.FgGreen)
	} else {
		printStatus(out, "⚠", "GitHub CLI (gh) not found; next and status need it", color.FgYellow)
	}
	switch src := config.GetTokenSource(); src {
	case config.TokenSourceGH:
		printStatus(out, "✓", "GitHub credentials from gh auth", color.FgGreen)
	default:
		printStatus(out, "✓", fmt.Sprintf("GitHub credentials from %s (%s)", src, config.MaskToken(os.Getenv(string(src)))), color.FgGreen)
	}

	projectName := initProjectName
	if projectName == "" {
		projectName = detectProjectName(cmd.Context(), runner, absPath)
	}
	cfg, err := buildInitConfig(projectName, initBackend, initSpecPath, initReviewers)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	written, err := writeProjectFiles(fs, absPath, cfg, initForce)
	if err != nil {
		return err
	}
	for _, msg := range written {
		printStatus(out, "✓", msg, color.FgGreen)
	}

	fmt.Fprintf(out, "\n%s taskq initialization complete!\n\n", color.GreenString("✓"))
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Add checklist items to %s:\n", cfg.Project.SpecPath)
	fmt.Fprintln(out, "     - [ ] Add auth")
	fmt.Fprintln(out, "  2. Pick the next task:")
	fmt.Fprintln(out, "     taskq next")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Project details:")
	fmt.Fprintf(out, "  Project name: %s\n", cfg.Project.Name)
	fmt.Fprintf(out, "  Branches:     %s-%s-<hash>\n", cfg.Project.LabelPrefix, cfg.Project.Name)
	fmt.Fprintf(out, "  Metadata:     %s\n", cfg.Metadata.Backend)
	fmt.Fprintf(out, "  User config:  %s\n", config.GetUserConfigPath())
	return nil
}

// buildInitConfig assembles and validates the config written by init.
func buildInitConfig(project, backend, specPath string, reviewers []string) (*config.Config, error) {
	cfg := config.Default()
	cfg.Project.Name = project
	cfg.Project.SpecPath = specPath
	cfg.Metadata.Backend = backend
	if backend == config.BackendSQLite {
		cfg.Metadata.Path = filepath.Join(".taskq", "metadata.db")
	}

	for _, r := range reviewers {
		limit, err := parseReviewer(r)
		if err != nil {
			return nil, err
		}
		cfg.Reviewers = append(cfg.Reviewers, limit)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseReviewer parses "name=max".
func parseReviewer(s string) (capacity.ReviewerLimit, error) {
	name, max, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return capacity.ReviewerLimit{}, fmt.Errorf("reviewer %q: want name=max", s)
	}
	n, err := strconv.Atoi(max)
	if err != nil {
		return capacity.ReviewerLimit{}, fmt.Errorf("reviewer %q: max must be a number: %w", s, err)
	}
	return capacity.ReviewerLimit{Username: name, MaxOpenPRs: n}, nil
}

// gitignoreEntries are local state that never belongs in the repository.
var gitignoreEntries = []string{
	".taskq/logs/",
	".taskq/metadata/",
	".taskq/metadata.db*",
	".env",
}

const specTemplate = `# Spec

Each unchecked item below is one unit of work. taskq hands them out in order
and matches pull requests to them by a hash of the item text.

## Tasks

`

// writeProjectFiles creates the taskq layout under root and reports what it did.
func writeProjectFiles(fs afero.Fs, root string, cfg *config.Config, force bool) ([]string, error) {
	var done []string

	if err := fs.MkdirAll(filepath.Join(root, ".taskq", "logs"), 0755); err != nil {
		return nil, fmt.Errorf("creating .taskq directory: %w", err)
	}
	done = append(done, "Created .taskq directory structure")

	configPath := filepath.Join(root, config.ProjectConfigName)
	exists, err := afero.Exists(fs, configPath)
	if err != nil {
		return nil, err
	}
	if !exists || force {
		data, err := config.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		if err := afero.WriteFile(fs, configPath, data, 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", config.ProjectConfigName, err)
		}
		done = append(done, "Wrote "+config.ProjectConfigName)
	} else {
		done = append(done, config.ProjectConfigName+" exists, left unchanged (use --force to overwrite)")
	}

	specPath := filepath.Join(root, cfg.Project.SpecPath)
	if ok, _ := afero.Exists(fs, specPath); !ok {
		if err := fs.MkdirAll(filepath.Dir(specPath), 0755); err != nil {
			return nil, err
		}
		if err := afero.WriteFile(fs, specPath, []byte(specTemplate), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", cfg.Project.SpecPath, err)
		}
		done = append(done, "Created "+cfg.Project.SpecPath)
	}

	added, err := updateGitignore(fs, root)
	if err != nil {
		return nil, fmt.Errorf("updating .gitignore: %w", err)
	}
	if added {
		done = append(done, "Updated .gitignore with taskq entries")
	}
	return done, nil
}

// updateGitignore appends missing taskq entries. It reports whether the
// file changed.
func updateGitignore(fs afero.Fs, root string) (bool, error) {
	path := filepath.Join(root, ".gitignore")

	var existing string
	if data, err := afero.ReadFile(fs, path); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return false, err
	}

	var missing []string
	for _, entry := range gitignoreEntries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# taskq\n")
	for _, entry := range missing {
		b.WriteString(entry + "\n")
	}
	return true, afero.WriteFile(fs, path, []byte(b.String()), 0644)
}

// detectProjectName uses the origin repository name, falling back to the
// directory name. Characters not allowed in branch segments are replaced.
func detectProjectName(ctx context.Context, runner iexec.CommandRunner, repoPath string) string {
	name := filepath.Base(repoPath)
	if out, err := runner.Run(ctx, repoPath, "git", "config", "--get", "remote.origin.url"); err == nil {
		url := strings.TrimSuffix(strings.TrimSpace(string(out)), ".git")
		if i := strings.LastIndexAny(url, "/:"); i >= 0 && i < len(url)-1 {
			name = url[i+1:]
		}
	}
	return strings.NewReplacer("/", "-", " ", "-").Replace(name)
}
