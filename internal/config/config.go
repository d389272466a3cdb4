// Package config handles configuration loading and management for taskq.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	yaml "go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/taskq/internal/capacity"
	"github.com/ShayCichocki/taskq/internal/retry"
)

// ProjectConfigName is the per-repository config file.
const ProjectConfigName = ".taskq.yaml"

// EnvPrefix prefixes environment overrides, e.g. TASKQ_PROJECT_NAME.
const EnvPrefix = "TASKQ"

// Metadata backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendGit    = "git"
)

var validate = validator.New()

// Config holds all configuration for taskq.
type Config struct {
	Project   ProjectConfig            `mapstructure:"project" yaml:"project"`
	Reviewers []capacity.ReviewerLimit `mapstructure:"reviewers" yaml:"reviewers" validate:"dive"`
	GitHub    GitHubConfig             `mapstructure:"github" yaml:"github"`
	Metadata  MetadataConfig           `mapstructure:"metadata" yaml:"metadata"`
	Retry     RetryConfig              `mapstructure:"retry" yaml:"retry"`
	Log       LogConfig                `mapstructure:"log" yaml:"log"`
}

// ProjectConfig identifies the spec document and how its branches are named.
type ProjectConfig struct {
	// Name is the project segment of task branch names.
	Name string `mapstructure:"name" yaml:"name" validate:"required,excludesall=/ "`
	// SpecPath is the checklist document, relative to the repository root.
	SpecPath string `mapstructure:"spec_path" yaml:"spec_path" validate:"required"`
	// LabelPrefix is the first segment of task branch names.
	LabelPrefix string `mapstructure:"label_prefix" yaml:"label_prefix" validate:"required,excludesall=/ "`
	// BaseBranch is where new task branches start.
	BaseBranch string `mapstructure:"base_branch" yaml:"base_branch" validate:"required"`
}

// GitHubConfig holds pull request query settings.
type GitHubConfig struct {
	// Repo is owner/name; empty means the repository gh detects.
	Repo string `mapstructure:"repo" yaml:"repo,omitempty"`
	// Label filters the pull requests taskq considers.
	Label string `mapstructure:"label" yaml:"label,omitempty"`
}

// MetadataConfig selects and configures the metadata store backend.
type MetadataConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory file sqlite git"`
	// Path is the directory (file) or database file (sqlite).
	Path string `mapstructure:"path" yaml:"path,omitempty"`
	// Branch and Remote configure the git backend.
	Branch string `mapstructure:"branch" yaml:"branch,omitempty"`
	Remote string `mapstructure:"remote" yaml:"remote,omitempty"`
	// AuthorName and AuthorEmail sign git backend commits.
	AuthorName  string `mapstructure:"author_name" yaml:"author_name,omitempty"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email,omitempty" validate:"omitempty,email"`
}

// RetryConfig holds bounded retry settings.
type RetryConfig struct {
	ConflictAttempts  int           `mapstructure:"conflict_attempts" yaml:"conflict_attempts" validate:"gte=1"`
	TransientAttempts int           `mapstructure:"transient_attempts" yaml:"transient_attempts" validate:"gte=1"`
	BaseDelay         time.Duration `mapstructure:"base_delay" yaml:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// DebugPath enables the decision trace file when set.
	DebugPath string `mapstructure:"debug_path" yaml:"debug_path,omitempty"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TASKQ_*)
// 2. Project config (.taskq.yaml in workDir or a parent)
// 3. User config (~/.config/taskq/config.yaml)
// 4. Built-in defaults
func Load(workDir string) (*Config, error) {
	v := newViper()

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := FindProjectConfig(workDir); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		// Merge project config (takes precedence)
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Environment variable overrides: project.name -> TASKQ_PROJECT_NAME
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Log.DebugPath = os.ExpandEnv(cfg.Log.DebugPath)
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("project.name", d.Project.Name)
	v.SetDefault("project.spec_path", d.Project.SpecPath)
	v.SetDefault("project.label_prefix", d.Project.LabelPrefix)
	v.SetDefault("project.base_branch", d.Project.BaseBranch)

	v.SetDefault("github.repo", d.GitHub.Repo)
	v.SetDefault("github.label", d.GitHub.Label)

	v.SetDefault("metadata.backend", d.Metadata.Backend)
	v.SetDefault("metadata.path", d.Metadata.Path)
	v.SetDefault("metadata.branch", d.Metadata.Branch)
	v.SetDefault("metadata.remote", d.Metadata.Remote)
	v.SetDefault("metadata.author_name", d.Metadata.AuthorName)
	v.SetDefault("metadata.author_email", d.Metadata.AuthorEmail)

	v.SetDefault("retry.conflict_attempts", d.Retry.ConflictAttempts)
	v.SetDefault("retry.transient_attempts", d.Retry.TransientAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay.String())

	v.SetDefault("log.debug_path", d.Log.DebugPath)
}

// Default returns a Config with default values. Project.Name is left empty;
// `taskq init` fills it in.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			SpecPath:    "SPEC.md",
			LabelPrefix: "taskq",
			BaseBranch:  "main",
		},
		Reviewers: []capacity.ReviewerLimit{},
		GitHub: GitHubConfig{
			Label: "taskq",
		},
		Metadata: MetadataConfig{
			Backend: BackendFile,
			Path:    filepath.Join(".taskq", "metadata"),
			Branch:  "taskq-metadata",
		},
		Retry: RetryConfig{
			ConflictAttempts:  3,
			TransientAttempts: 4,
			BaseDelay:         200 * time.Millisecond,
		},
	}
}

// Validate checks the configuration before it is used to make decisions.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Limits().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Limits returns the reviewer limits in configured order.
func (c *Config) Limits() capacity.Limits {
	return capacity.Limits{Reviewers: c.Reviewers}
}

// ConflictPolicy returns the retry policy for metadata write conflicts.
func (c *Config) ConflictPolicy() retry.Policy {
	p := retry.DefaultConflictPolicy()
	p.MaxAttempts = c.Retry.ConflictAttempts
	if c.Retry.BaseDelay > 0 {
		p.Backoff = retry.Exponential(c.Retry.BaseDelay, 10*c.Retry.BaseDelay)
	}
	return p
}

// TransientPolicy returns the retry policy for network and rate-limit failures.
func (c *Config) TransientPolicy() retry.Policy {
	p := retry.DefaultTransientPolicy()
	p.MaxAttempts = c.Retry.TransientAttempts
	if c.Retry.BaseDelay > 0 {
		p.Backoff = retry.Exponential(2*c.Retry.BaseDelay, 40*c.Retry.BaseDelay)
	}
	return p
}

// savedRetry renders BaseDelay as a duration string.
type savedRetry struct {
	ConflictAttempts  int    `yaml:"conflict_attempts"`
	TransientAttempts int    `yaml:"transient_attempts"`
	BaseDelay         string `yaml:"base_delay"`
}

type savedConfig struct {
	Project   ProjectConfig            `yaml:"project"`
	Reviewers []capacity.ReviewerLimit `yaml:"reviewers"`
	GitHub    GitHubConfig             `yaml:"github"`
	Metadata  MetadataConfig           `yaml:"metadata"`
	Retry     savedRetry               `yaml:"retry"`
	Log       LogConfig                `yaml:"log,omitempty"`
}

// Marshal renders cfg as the YAML written to config files.
func Marshal(cfg *Config) ([]byte, error) {
	reviewers := cfg.Reviewers
	if reviewers == nil {
		reviewers = []capacity.ReviewerLimit{}
	}
	out, err := yaml.Marshal(savedConfig{
		Project:   cfg.Project,
		Reviewers: reviewers,
		GitHub:    cfg.GitHub,
		Metadata:  cfg.Metadata,
		Retry: savedRetry{
			ConflictAttempts:  cfg.Retry.ConflictAttempts,
			TransientAttempts: cfg.Retry.TransientAttempts,
			BaseDelay:         cfg.Retry.BaseDelay.String(),
		},
		Log: cfg.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	out, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory for taskq.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskq")
	}

	// Fall back to ~/.config/taskq
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskq")
	}
	return filepath.Join(home, ".config", "taskq")
}

// FindProjectConfig searches for .taskq.yaml in dir and its parents.
// An empty dir means the current directory.
func FindProjectConfig(dir string) string {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// RepoRoot returns the directory holding the project config, or dir itself
// when there is none. Relative paths in the config resolve against it.
func RepoRoot(dir string) string {
	if p := FindProjectConfig(dir); p != "" {
		return filepath.Dir(p)
	}
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return dir
}
