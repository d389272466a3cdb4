package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IdentityKind distinguishes the two task identity schemes found in branch names.
type IdentityKind int

const (
	// IdentityHash is the content-derived 8 hex character identity.
	IdentityHash IdentityKind = iota
	// IdentityIndex is the legacy 1-based positional identity.
	IdentityIndex
)

// String returns a human-readable representation of the identity kind.
func (k IdentityKind) String() string {
	switch k {
	case IdentityHash:
		return "hash"
	case IdentityIndex:
		return "index"
	default:
		return "unknown"
	}
}

// IdentityHashLength is the number of hex characters in a task identity hash.
const IdentityHashLength = 8

var (
	hashSuffixPattern  = regexp.MustCompile(`^[0-9a-f]{8}$`)
	indexSuffixPattern = regexp.MustCompile(`^[0-9]+$`)
)

// TaskIdentity is either Hash(string) or Index(int). Only the field selected
// by Kind is meaningful.
type TaskIdentity struct {
	Kind  IdentityKind
	Hash  string
	Index int
}

// HashIdentity builds a hash-based identity.
func HashIdentity(hash string) TaskIdentity {
	return TaskIdentity{Kind: IdentityHash, Hash: hash}
}

// IndexIdentity builds a legacy index-based identity.
func IndexIdentity(index int) TaskIdentity {
	return TaskIdentity{Kind: IdentityIndex, Index: index}
}

// String renders the identity the way it appears as a branch suffix.
func (id TaskIdentity) String() string {
	if id.Kind == IdentityIndex {
		return strconv.Itoa(id.Index)
	}
	return id.Hash
}

// IsLegacy reports whether the identity uses positional indexing.
func (id TaskIdentity) IsLegacy() bool {
	return id.Kind == IdentityIndex
}

// MarshalJSON encodes the identity as {"hash": "..."} or {"index": N}.
func (id TaskIdentity) MarshalJSON() ([]byte, error) {
	if id.Kind == IdentityIndex {
		return json.Marshal(struct {
			Index int `json:"index"`
		}{id.Index})
	}
	return json.Marshal(struct {
		Hash string `json:"hash"`
	}{id.Hash})
}

// ParseIdentitySuffix decodes a branch suffix into a TaskIdentity. An 8
// character lowercase hex string is always a hash, even when it is also all
// digits; any other all-digit string is a legacy index.
func ParseIdentitySuffix(s string) (TaskIdentity, error) {
	if hashSuffixPattern.MatchString(s) {
		return HashIdentity(s), nil
	}
	if indexSuffixPattern.MatchString(s) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return TaskIdentity{}, &ValidationError{Field: "branch suffix", Value: s, Reason: "index must be a positive integer"}
		}
		return IndexIdentity(n), nil
	}
	return TaskIdentity{}, &ValidationError{Field: "branch suffix", Value: s, Reason: "expected 8 lowercase hex characters or a task index"}
}

// BranchName is a decoded task branch name.
type BranchName struct {
	Prefix   string
	Project  string
	Identity TaskIdentity
}

// String renders the branch name.
func (b BranchName) String() string {
	return FormatBranchName(b.Prefix, b.Project, b.Identity)
}

// FormatBranchName renders {prefix}-{project}-{identity}.
func FormatBranchName(prefix, project string, id TaskIdentity) string {
	return fmt.Sprintf("%s-%s-%s", prefix, project, id.String())
}

// ParseBranchName decodes a branch created for a task. The project name may
// contain hyphens; the identity is always the last segment.
func ParseBranchName(prefix, name string) (BranchName, error) {
	head := prefix + "-"
	if prefix == "" || !strings.HasPrefix(name, head) {
		return BranchName{}, &ValidationError{Field: "branch", Value: name, Reason: fmt.Sprintf("missing prefix %q", head)}
	}
	rest := strings.TrimPrefix(name, head)
	cut := strings.LastIndex(rest, "-")
	if cut <= 0 || cut == len(rest)-1 {
		return BranchName{}, &ValidationError{Field: "branch", Value: name, Reason: "expected {project}-{identity} after prefix"}
	}
	id, err := ParseIdentitySuffix(rest[cut+1:])
	if err != nil {
		return BranchName{}, fmt.Errorf("parse branch %q: %w", name, err)
	}
	return BranchName{Prefix: prefix, Project: rest[:cut], Identity: id}, nil
}
