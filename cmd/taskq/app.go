package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/ShayCichocki/taskq/internal/config"
	iexec "github.com/ShayCichocki/taskq/internal/exec"
	"github.com/ShayCichocki/taskq/internal/git"
	"github.com/ShayCichocki/taskq/internal/github"
	"github.com/ShayCichocki/taskq/internal/metastore"
	"github.com/ShayCichocki/taskq/internal/orchestrator"
	"github.com/ShayCichocki/taskq/pkg/models"
)

// app bundles what every command needs after config is resolved.
type app struct {
	cfg  *config.Config
	root string
	fs   afero.Fs
}

func loadApp() (*app, error) {
	dir := rootDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}

	var (
		cfg *config.Config
		err error
	)
	if rootConfigPath != "" {
		cfg, err = config.LoadFromPath(rootConfigPath)
	} else {
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &app{cfg: cfg, root: config.RepoRoot(dir), fs: afero.NewOsFs()}, nil
}

// path resolves p against the repository root.
func (a *app) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

func (a *app) specPath() string {
	return a.path(a.cfg.Project.SpecPath)
}

func (a *app) readSpec() (string, error) {
	data, err := afero.ReadFile(a.fs, a.specPath())
	if err != nil {
		return "", fmt.Errorf("read spec %s: %w", a.cfg.Project.SpecPath, err)
	}
	return string(data), nil
}

func (a *app) client() *github.Client {
	return github.NewClient(iexec.NewRunner(),
		github.WithRepo(a.cfg.GitHub.Repo),
		github.WithWorkDir(a.root),
		github.WithRetryPolicy(a.cfg.TransientPolicy()),
	)
}

// pullRequests lists the labelled pull requests in the given state.
func (a *app) pullRequests(ctx context.Context, state string) ([]models.PullRequestRef, error) {
	return a.client().ListPullRequests(ctx, github.ListOptions{
		Label: a.cfg.GitHub.Label,
		State: state,
	})
}

// openStore opens the configured metadata backend wrapped in transient retry.
// The returned close function is never nil.
func (a *app) openStore() (metastore.Store, func() error, error) {
	noop := func() error { return nil }
	m := a.cfg.Metadata

	var store metastore.Store
	closeFn := noop
	switch m.Backend {
	case config.BackendMemory:
		store = metastore.NewMemoryStore()
	case config.BackendFile:
		store = metastore.NewOSFileStore(a.path(m.Path))
	case config.BackendSQLite:
		s, err := metastore.OpenSQLite(a.path(m.Path))
		if err != nil {
			return nil, noop, err
		}
		store = s
		closeFn = s.Close
	case config.BackendGit:
		var opts []metastore.GitBranchOption
		if m.Remote != "" {
			opts = append(opts, metastore.WithRemote(m.Remote))
		}
		runner := git.NewRunner(a.root).WithIdentity(git.Identity{Name: m.AuthorName, Email: m.AuthorEmail})
		store = metastore.NewGitBranchStore(runner, m.Branch, opts...)
	default:
		return nil, noop, &models.ValidationError{Field: "metadata.backend", Value: m.Backend, Reason: "unknown backend"}
	}
	return metastore.NewRetryingStore(store, a.cfg.TransientPolicy()), closeFn, nil
}

func (a *app) repository(store metastore.Store) *metastore.Repository {
	return metastore.NewRepository(store, a.cfg.ConflictPolicy())
}

// logger returns the decision trace sink. log.debug_path wins over --debug.
func (a *app) logger() (*orchestrator.DebugLogger, error) {
	switch {
	case a.cfg.Log.DebugPath != "":
		return orchestrator.NewDebugLogger(a.path(a.cfg.Log.DebugPath))
	case rootDebug:
		return orchestrator.NewDebugLoggerForRepo(a.root), nil
	default:
		return orchestrator.NopLogger(), nil
	}
}

func (a *app) orchestrator(repo *metastore.Repository, logger *orchestrator.DebugLogger) (*orchestrator.Orchestrator, error) {
	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if repo != nil {
		opts = append(opts, orchestrator.WithMetadata(repo))
	}
	return orchestrator.New(orchestrator.Config{
		LabelPrefix: a.cfg.Project.LabelPrefix,
		Project:     a.cfg.Project.Name,
		Limits:      a.cfg.Limits(),
	}, opts...)
}
