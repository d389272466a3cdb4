// Package github queries and creates pull request branches through the gh
// CLI. Every failure is reported as a *models.ExternalServiceError; rate
// limits, 5xx responses and network errors are marked transient and retried
// with the client's policy.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	iexec "github.com/ShayCichocki/taskq/internal/exec"
	"github.com/ShayCichocki/taskq/internal/retry"
	"github.com/ShayCichocki/taskq/pkg/models"
)

// ErrBranchExists is returned by CreateBranch when the ref is already
// present. It is the signal that a concurrent run dispatched the same task.
var ErrBranchExists = errors.New("branch already exists")

const (
	defaultListLimit = 200
	prFields         = "number,title,url,state,headRefName,assignees,labels,reviewRequests,createdAt,mergedAt"
)

// Client wraps the gh binary.
type Client struct {
	runner  iexec.CommandRunner
	repo    string
	workDir string
	policy  retry.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRepo targets owner/name instead of the repository in the working directory.
func WithRepo(repo string) ClientOption {
	return func(c *Client) { c.repo = repo }
}

// WithWorkDir runs gh in dir.
func WithWorkDir(dir string) ClientOption {
	return func(c *Client) { c.workDir = dir }
}

// WithRetryPolicy overrides the transient-failure policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a client that runs gh through runner.
func NewClient(runner iexec.CommandRunner, opts ...ClientOption) *Client {
	c := &Client{runner: runner, policy: retry.DefaultTransientPolicy()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOptions filters ListPullRequests. Empty fields are not filtered on.
type ListOptions struct {
	Label    string
	State    string // open, closed, merged or all; defaults to open
	Assignee string
	Limit    int
}

// ghPullRequest mirrors the fields we request from gh's JSON output.
type ghPullRequest struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	State       string     `json:"state"` // "OPEN", "MERGED", "CLOSED"
	HeadRefName string     `json:"headRefName"`
	Assignees   []ghUser   `json:"assignees"`
	Labels      []ghLabel  `json:"labels"`
	Reviewers   []ghUser   `json:"reviewRequests"`
	CreatedAt   time.Time  `json:"createdAt"`
	MergedAt    *time.Time `json:"mergedAt"`
}

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

// ListPullRequests returns the pull requests matching opts.
func (c *Client) ListPullRequests(ctx context.Context, opts ListOptions) ([]models.PullRequestRef, error) {
	state := opts.State
	if state == "" {
		state = "open"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	args := []string{"pr", "list", "--state", state, "--limit", strconv.Itoa(limit), "--json", prFields}
	if opts.Label != "" {
		args = append(args, "--label", opts.Label)
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee", opts.Assignee)
	}
	args = c.withRepo(args)

	out, err := c.gh(ctx, "list pull requests", args...)
	if err != nil {
		return nil, err
	}

	var raw []ghPullRequest
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, &models.ExternalServiceError{Service: "github", Op: "list pull requests", Err: fmt.Errorf("decode gh output: %w", err)}
	}

	prs := make([]models.PullRequestRef, 0, len(raw))
	for _, r := range raw {
		prs = append(prs, r.toRef())
	}
	return prs, nil
}

func (r ghPullRequest) toRef() models.PullRequestRef {
	pr := models.PullRequestRef{
		Number:     r.Number,
		Title:      r.Title,
		URL:        r.URL,
		State:      ghState(r.State),
		BranchName: r.HeadRefName,
		CreatedAt:  r.CreatedAt,
	}
	if r.MergedAt != nil && !r.MergedAt.IsZero() {
		merged := *r.MergedAt
		pr.MergedAt = &merged
	}
	for _, a := range r.Assignees {
		pr.Assignees = append(pr.Assignees, a.Login)
	}
	for _, l := range r.Labels {
		pr.Labels = append(pr.Labels, l.Name)
	}
	// Team review requests have no login.
	for _, rv := range r.Reviewers {
		if rv.Login != "" {
			pr.Reviewer = rv.Login
			break
		}
	}
	return pr
}

// ghState maps GitHub PR state strings to our model.
func ghState(s string) models.PRState {
	switch s {
	case "MERGED":
		return models.PRStateMerged
	case "CLOSED":
		return models.PRStateClosed
	default:
		return models.PRStateOpen
	}
}

// BranchSHA returns the commit a remote branch points to.
func (c *Client) BranchSHA(ctx context.Context, branch string) (string, error) {
	out, err := c.gh(ctx, "resolve branch "+branch,
		"api", c.repoPath("git/ref/heads/"+branch), "--jq", ".object.sha")
	if err != nil {
		if isHTTPStatus(err, 404) {
			return "", &models.NotFoundError{Kind: "branch", Key: branch}
		}
		return "", err
	}
	sha := strings.TrimSpace(string(out))
	if sha == "" {
		return "", &models.NotFoundError{Kind: "branch", Key: branch}
	}
	return sha, nil
}

// CreateBranch creates refs/heads/name at sha. The GitHub API refuses to
// overwrite an existing ref, which makes this the atomic claim on a task.
func (c *Client) CreateBranch(ctx context.Context, name, sha string) error {
	_, err := c.gh(ctx, "create branch "+name,
		"api", "--method", "POST", c.repoPath("git/refs"),
		"-f", "ref=refs/heads/"+name,
		"-f", "sha="+sha,
	)
	if err != nil {
		if isHTTPStatus(err, 422) && strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("create branch %s: %w", name, ErrBranchExists)
		}
		return err
	}
	return nil
}

func (c *Client) repoPath(suffix string) string {
	if c.repo != "" {
		return "repos/" + c.repo + "/" + suffix
	}
	return "repos/{owner}/{repo}/" + suffix
}

func (c *Client) withRepo(args []string) []string {
	if c.repo != "" {
		return append(args, "--repo", c.repo)
	}
	return args
}

// gh runs the gh binary, retrying transient failures.
func (c *Client) gh(ctx context.Context, op string, args ...string) ([]byte, error) {
	var out []byte
	err := c.policy.Do(ctx, retry.IsTransient, func(int) error {
		var err error
		out, err = c.runner.Run(ctx, c.workDir, "gh", args...)
		if err != nil {
			return classify(op, err)
		}
		return nil
	})
	return out, err
}

// transientMarkers are substrings of gh stderr that indicate a retryable failure.
var transientMarkers = []string{
	"rate limit",
	"http 500", "http 502", "http 503", "http 504",
	"timeout", "timed out",
	"connection reset", "connection refused",
	"could not resolve host", "tls handshake",
	"unexpected eof",
}

func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	transient := false
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			transient = true
			break
		}
	}
	return &models.ExternalServiceError{Service: "github", Op: op, Transient: transient, Err: err}
}

func isHTTPStatus(err error, code int) bool {
	return err != nil && strings.Contains(err.Error(), fmt.Sprintf("HTTP %d", code))
}
