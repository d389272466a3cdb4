package git

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Identity is the author and committer used for commits built by the runner.
type Identity struct {
	Name  string
	Email string
}

// DefaultIdentity is used when no identity is configured.
var DefaultIdentity = Identity{Name: "taskq", Email: "taskq@users.noreply.github.com"}

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoPath string
	identity Identity
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, identity: DefaultIdentity}
}

// WithIdentity returns a copy of the runner that commits as id. Empty
// fields fall back to DefaultIdentity.
func (r *ExecRunner) WithIdentity(id Identity) *ExecRunner {
	if id.Name == "" {
		id.Name = DefaultIdentity.Name
	}
	if id.Email == "" {
		id.Email = DefaultIdentity.Email
	}
	cp := *r
	cp.identity = id
	return &cp
}

// exec runs git with optional stdin and extra environment.
func (r *ExecRunner) exec(stdin []byte, env []string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	out, err := r.exec(nil, nil, args...)
	return strings.TrimSpace(out), err
}

// ResolveRef returns the object a ref points to.
func (r *ExecRunner) ResolveRef(ref string) (string, bool, error) {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	cmd.Dir = r.repoPath
	out, err := cmd.Output()
	if err != nil {
		// Exit code 1 means the ref doesn't exist (not an error)
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve ref %s: %w", ref, err)
	}
	return strings.TrimSpace(string(out)), true, nil
}

// UpdateRef atomically moves ref from oldValue to newValue.
func (r *ExecRunner) UpdateRef(ref, newValue, oldValue, reason string) error {
	args := []string{"update-ref"}
	if reason != "" {
		args = append(args, "-m", reason)
	}
	// An empty old value tells git the ref must not exist yet.
	args = append(args, ref, newValue, oldValue)
	if _, err := r.exec(nil, nil, args...); err != nil {
		if strings.Contains(err.Error(), "cannot lock ref") {
			return fmt.Errorf("update %s: %w", ref, ErrRefMismatch)
		}
		return err
	}
	return nil
}

// HashObject writes data as a blob and returns its SHA.
func (r *ExecRunner) HashObject(data []byte) (string, error) {
	if data == nil {
		data = []byte{}
	}
	out, err := r.exec(data, nil, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CatBlob returns the contents of a blob.
func (r *ExecRunner) CatBlob(sha string) ([]byte, error) {
	out, err := r.exec(nil, nil, "cat-file", "blob", sha)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// LsTree lists the blobs under path in treeish, recursively.
func (r *ExecRunner) LsTree(treeish, path string) ([]TreeEntry, error) {
	args := []string{"ls-tree", "-r", "--full-tree", treeish}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := r.exec(nil, nil, args...)
	if err != nil {
		return nil, err
	}
	return parseLsTree(out), nil
}

// parseLsTree parses "<mode> SP <type> SP <object> TAB <file>" lines.
func parseLsTree(out string) []TreeEntry {
	var entries []TreeEntry
	for _, line := range strings.Split(out, "\n") {
		meta, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			continue
		}
		entries = append(entries, TreeEntry{Mode: fields[0], Type: fields[1], SHA: fields[2], Path: path})
	}
	return entries
}

// WriteTreeWith builds a tree from parent with one file replaced, using a
// private index file so concurrent writers never share an index.
func (r *ExecRunner) WriteTreeWith(parent, path, blob string) (string, error) {
	dir, err := os.MkdirTemp("", "taskq-index-")
	if err != nil {
		return "", fmt.Errorf("create temp index dir: %w", err)
	}
	defer os.RemoveAll(dir)
	env := []string{"GIT_INDEX_FILE=" + filepath.Join(dir, "index")}

	if parent != "" {
		_, err = r.exec(nil, env, "read-tree", parent)
	} else {
		_, err = r.exec(nil, env, "read-tree", "--empty")
	}
	if err != nil {
		return "", err
	}
	if _, err := r.exec(nil, env, "update-index", "--add", "--cacheinfo", "100644,"+blob+","+path); err != nil {
		return "", err
	}
	out, err := r.exec(nil, env, "write-tree")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitTree creates a commit object for tree with an optional parent.
func (r *ExecRunner) CommitTree(tree, parent, message string) (string, error) {
	args := []string{"commit-tree", tree, "-m", message}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	env := []string{
		"GIT_AUTHOR_NAME=" + r.identity.Name,
		"GIT_AUTHOR_EMAIL=" + r.identity.Email,
		"GIT_COMMITTER_NAME=" + r.identity.Name,
		"GIT_COMMITTER_EMAIL=" + r.identity.Email,
	}
	out, err := r.exec(nil, env, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Push pushes ref to remote without forcing.
func (r *ExecRunner) Push(remote, ref string) error {
	_, err := r.run("push", remote, ref+":"+ref)
	return err
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
