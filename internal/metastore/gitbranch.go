package metastore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskq/internal/git"
	"github.com/ShayCichocki/taskq/pkg/models"
)

// DefaultMetadataBranch is the orphan branch that holds metadata documents
// when no branch is configured.
const DefaultMetadataBranch = "taskq-metadata"

// refRaceAttempts bounds how often Put rebuilds its commit when another key
// moved the branch underneath it.
const refRaceAttempts = 5

// GitBranchStore keeps documents as files on a dedicated branch. The version
// token of a document is its blob SHA. Commits are built with plumbing
// commands, so the working tree and index are never touched.
type GitBranchStore struct {
	git    git.Runner
	branch string
	dir    string
	remote string
}

// GitBranchOption configures a GitBranchStore.
type GitBranchOption func(*GitBranchStore)

// WithDirectory stores documents under dir inside the branch.
func WithDirectory(dir string) GitBranchOption {
	return func(s *GitBranchStore) { s.dir = strings.Trim(dir, "/") }
}

// WithRemote pushes the branch to remote after every successful write.
func WithRemote(remote string) GitBranchOption {
	return func(s *GitBranchStore) { s.remote = remote }
}

// NewGitBranchStore creates a store on branch in the repository behind runner.
func NewGitBranchStore(runner git.Runner, branch string, opts ...GitBranchOption) *GitBranchStore {
	if branch == "" {
		branch = DefaultMetadataBranch
	}
	s := &GitBranchStore{git: runner, branch: branch}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Branch returns the branch name documents are committed to.
func (s *GitBranchStore) Branch() string {
	return s.branch
}

func (s *GitBranchStore) ref() string {
	return "refs/heads/" + s.branch
}

func (s *GitBranchStore) pathFor(key string) string {
	if s.dir == "" {
		return key
	}
	return s.dir + "/" + key
}

func gitErr(op string, err error) error {
	return &models.ExternalServiceError{Service: "git", Op: op, Err: err}
}

// head returns the branch tip, or "" when the branch does not exist yet.
func (s *GitBranchStore) head() (string, error) {
	sha, ok, err := s.git.ResolveRef(s.ref())
	if err != nil {
		return "", gitErr("resolve "+s.branch, err)
	}
	if !ok {
		return "", nil
	}
	return sha, nil
}

// blobAt returns the blob SHA stored at p in commit, or "" if absent.
func (s *GitBranchStore) blobAt(commit, p string) (string, error) {
	if commit == "" {
		return "", nil
	}
	entries, err := s.git.LsTree(commit, p)
	if err != nil {
		return "", gitErr("ls-tree "+p, err)
	}
	for _, e := range entries {
		if e.Path == p && e.Type == "blob" {
			return e.SHA, nil
		}
	}
	return "", nil
}

// Get returns the document at key.
func (s *GitBranchStore) Get(_ context.Context, key string) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	commit, err := s.head()
	if err != nil {
		return Record{}, err
	}
	blob, err := s.blobAt(commit, s.pathFor(key))
	if err != nil {
		return Record{}, err
	}
	if blob == "" {
		return Record{}, notFound(key)
	}
	data, err := s.git.CatBlob(blob)
	if err != nil {
		return Record{}, gitErr("cat-file "+key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return Record{Data: data, Version: blob}, nil
}

// Put writes data if expectedVersion matches the stored blob SHA. The branch
// is moved with a compare-and-swap on its tip; if a write to another key wins
// that race, the commit is rebuilt on the new tip as long as this key is
// still at expectedVersion.
func (s *GitBranchStore) Put(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	p := s.pathFor(key)

	for attempt := 1; attempt <= refRaceAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		parent, err := s.head()
		if err != nil {
			return "", err
		}
		current, err := s.blobAt(parent, p)
		if err != nil {
			return "", err
		}
		if err := checkVersion(key, current, expectedVersion); err != nil {
			return "", err
		}

		blob, err := s.git.HashObject(data)
		if err != nil {
			return "", gitErr("hash-object "+key, err)
		}
		tree, err := s.git.WriteTreeWith(parent, p, blob)
		if err != nil {
			return "", gitErr("write-tree "+key, err)
		}
		msg := fmt.Sprintf("taskq: update %s\n\nWrite-Id: %s", key, uuid.NewString())
		commit, err := s.git.CommitTree(tree, parent, msg)
		if err != nil {
			return "", gitErr("commit-tree "+key, err)
		}

		err = s.git.UpdateRef(s.ref(), commit, parent, "taskq metadata: "+key)
		if errors.Is(err, git.ErrRefMismatch) {
			log.Printf("[metastore] branch %s moved while writing %s (attempt %d/%d)", s.branch, key, attempt, refRaceAttempts)
			continue
		}
		if err != nil {
			return "", gitErr("update-ref "+s.branch, err)
		}

		// The local commit stands even if the push fails; the next
		// successful write pushes it. Replaying Put would only conflict.
		if s.remote != "" {
			if err := s.git.Push(s.remote, s.ref()); err != nil {
				return blob, &models.ExternalServiceError{Service: "git", Op: "push " + s.remote, Err: err}
			}
		}
		return blob, nil
	}

	// The branch kept moving; report the key's latest state as the conflict.
	actual := ""
	if parent, err := s.head(); err == nil {
		actual, _ = s.blobAt(parent, p)
	}
	return "", &models.ConflictError{Key: key, Expected: expectedVersion, Actual: actual}
}

// List returns the keys starting with prefix, sorted.
func (s *GitBranchStore) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	commit, err := s.head()
	if err != nil || commit == "" {
		return keys, err
	}
	entries, err := s.git.LsTree(commit, s.dir)
	if err != nil {
		return nil, gitErr("ls-tree "+s.branch, err)
	}

	base := ""
	if s.dir != "" {
		base = s.dir + "/"
	}
	for _, e := range entries {
		if e.Type != "blob" || !strings.HasPrefix(e.Path, base) {
			continue
		}
		key := strings.TrimPrefix(e.Path, base)
		if strings.HasPrefix(path.Base(key), ".") {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*GitBranchStore)(nil)
