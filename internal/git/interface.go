// Package git provides an interface for git operations.
package git

import "errors"

// ErrRefMismatch is returned by UpdateRef when the ref no longer holds the
// expected old value, or already exists when creation was requested.
var ErrRefMismatch = errors.New("ref does not match expected value")

// TreeEntry is one line of git ls-tree output.
type TreeEntry struct {
	Mode string
	Type string
	SHA  string
	Path string
}

// RefOperations defines the interface for reading and updating refs.
type RefOperations interface {
	// ResolveRef returns the object a ref points to. ok is false when the
	// ref does not exist.
	ResolveRef(ref string) (sha string, ok bool, err error)
	// UpdateRef atomically moves ref to newValue if it currently holds
	// oldValue. An empty oldValue requires that the ref does not exist yet.
	UpdateRef(ref, newValue, oldValue, reason string) error
}

// ObjectOperations defines the interface for reading and writing objects.
type ObjectOperations interface {
	// HashObject writes data as a blob and returns its SHA.
	HashObject(data []byte) (string, error)
	// CatBlob returns the contents of a blob.
	CatBlob(sha string) ([]byte, error)
	// LsTree lists the entries under path in treeish, recursively.
	// An empty path lists the whole tree.
	LsTree(treeish, path string) ([]TreeEntry, error)
}

// CommitOperations defines the interface for building commits without a
// working tree.
type CommitOperations interface {
	// WriteTreeWith returns a tree equal to parent's tree with the file at
	// path replaced by blob. An empty parent starts from an empty tree.
	// The caller's index and working tree are never touched.
	WriteTreeWith(parent, path, blob string) (string, error)
	// CommitTree creates a commit object for tree with an optional parent.
	CommitTree(tree, parent, message string) (string, error)
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// Push pushes ref to remote without forcing.
	Push(remote, ref string) error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	RefOperations
	ObjectOperations
	CommitOperations
	RemoteOperations
}
