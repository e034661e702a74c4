// Package vcs implements the repository-service boundary the split engine
// runs against: read-only DAG queries and write operations backed by a
// "git" subprocess, following the same pattern as grit's git package.
// Callers never shell out to git themselves; they go through the
// Repository interface so the engine can be driven against a fake in
// tests.
package vcs

import (
	"context"
	"crypto"
	_ "crypto/sha1"
	"time"

	"github.com/grailbio/base/digest"
)

// SHA1 is the digester used to parse and represent commit and tree hashes.
var SHA1 = digest.Digester(crypto.SHA1)

// CommitId is an opaque commit identifier. Equality is string equality on
// the underlying hash, via digest.Digest's own comparability.
type CommitId = digest.Digest

// TreeId is an opaque tree identifier.
type TreeId string

// EntryKind classifies what lives at a path in a commit's tree.
type EntryKind int

const (
	// EntryNone means the path does not exist in the tree.
	EntryNone EntryKind = iota
	// EntryTree means the path is a directory (tree object).
	EntryTree
	// EntrySubmodule means the path is a gitlink (submodule reference).
	EntrySubmodule
	// EntryOther means the path exists but is neither a tree nor a gitlink
	// (e.g. a regular file).
	EntryOther
)

// Metadata holds the author/committer identity and timestamps of a commit.
// Copied verbatim onto synthesized commits per the tree-fidelity and
// metadata-fidelity invariants.
type Metadata struct {
	AuthorName     string
	AuthorEmail    string
	AuthorDate     time.Time
	CommitterName  string
	CommitterEmail string
	CommitterDate  time.Time
}

// Repository is the set of object-graph and commit-creation operations the
// split engine and driver commands require. See spec §6.1.
type Repository interface {
	// Parents returns the parents of commit, in declaration order.
	Parents(ctx context.Context, commit CommitId) ([]CommitId, error)
	// RootTree returns the root tree of commit.
	RootTree(ctx context.Context, commit CommitId) (TreeId, error)
	// Entry returns what lives at path in commit's tree, or EntryNone if
	// nothing does.
	Entry(ctx context.Context, commit CommitId, path string) (EntryKind, TreeId, error)
	// Resolve resolves a ref expression (branch, tag, commit-ish) to a
	// commit id.
	Resolve(ctx context.Context, ref string) (CommitId, error)
	// Exists reports whether ref names an existing object.
	Exists(ctx context.Context, ref string) bool
	// Message returns the full commit message body (subject + body).
	Message(ctx context.Context, commit CommitId) (string, error)
	// CommitMetadata returns the author/committer identity of commit.
	CommitMetadata(ctx context.Context, commit CommitId) (Metadata, error)
	// IsAncestor reports whether a is an ancestor of (or equal to) b.
	IsAncestor(ctx context.Context, a, b CommitId) (bool, error)
	// SelectIndependentTips drops commits from the set that are ancestors
	// of another commit in the set.
	SelectIndependentTips(ctx context.Context, commits []CommitId) ([]CommitId, error)
	// CountBetween counts commits reachable from include but not from
	// exclude (a "exclude..include" range); a zero exclude counts all of
	// include's history.
	CountBetween(ctx context.Context, exclude, include CommitId) (int, error)
	// CreateCommit synthesizes a new, persistent commit object.
	CreateCommit(ctx context.Context, tree TreeId, parents []CommitId, meta Metadata, message string) (CommitId, error)
	// UpdateRef repoints name at commit, creating it if necessary.
	UpdateRef(ctx context.Context, name string, commit CommitId) error
	// Merge merges commit into the current checkout, optionally passing a
	// merge-strategy option (e.g. "ours"); empty for the default strategy.
	Merge(ctx context.Context, commit CommitId, strategyOption string) error
	// Fetch fetches refspec from the named remote repository.
	Fetch(ctx context.Context, repo, refspec string) error
	// Push pushes refspec to the named remote repository.
	Push(ctx context.Context, repo, refspec string) error
	// ReadTreeIntoPrefix merges commit's tree into the index under prefix,
	// used by the add command to graft the subtree into the mainline
	// working tree.
	ReadTreeIntoPrefix(ctx context.Context, commit CommitId, prefix string) error
	// WriteTree writes the current index to a tree object.
	WriteTree(ctx context.Context) (TreeId, error)
	// ShortHash returns the host VCS's short-form rendering of commit.
	ShortHash(ctx context.Context, commit CommitId) string
}
