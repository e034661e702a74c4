// Package vcstest provides an in-memory vcs.Repository fake for exercising
// the split engine and drivers without a real git binary, grounded on the
// hand-rolled fake pattern kubernetes-test-infra's fakegithub package uses
// for its own external-service boundary.
package vcstest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Commit is one node the fake repository knows about.
type Commit struct {
	Parents []vcs.CommitId
	Tree    vcs.TreeId
	Entries map[string]Entry // path -> entry, non-recursive (one level)
	Message string
	Meta    vcs.Metadata
}

// Entry describes what a commit's tree holds at a given top-level path.
type Entry struct {
	Kind vcs.EntryKind
	Tree vcs.TreeId
}

// Repo is an in-memory vcs.Repository. Commit ids are assigned
// sequentially as fake SHA1-shaped hex strings so tests can read them back
// predictably; callers build a Repo by calling AddCommit in topological
// (parents-first) order.
type Repo struct {
	commits map[vcs.CommitId]*Commit
	refs    map[string]vcs.CommitId
	next    int
}

var _ vcs.Repository = (*Repo)(nil)

// New returns an empty fake repository.
func New() *Repo {
	return &Repo{
		commits: make(map[vcs.CommitId]*Commit),
		refs:    make(map[string]vcs.CommitId),
	}
}

// AddCommit registers a new commit with the given parents, tree entries,
// message, and metadata, returning its assigned id. Parents must already
// be registered.
func (r *Repo) AddCommit(parents []vcs.CommitId, entries map[string]Entry, message string, meta vcs.Metadata) vcs.CommitId {
	r.next++
	id := fakeID(r.next)
	r.commits[id] = &Commit{
		Parents: parents,
		Tree:    vcs.TreeId("tree-" + strconv.Itoa(r.next)),
		Entries: entries,
		Message: message,
		Meta:    meta,
	}
	return id
}

// SetRef points a named ref (branch, tag, or arbitrary name resolvable via
// Resolve/Exists) at commit.
func (r *Repo) SetRef(name string, commit vcs.CommitId) {
	r.refs[name] = commit
}

// SetTree overrides commit's root tree id, letting tests construct two
// commits with deliberately identical (or deliberately distinct) trees
// without caring about the auto-assigned "tree-N" ids AddCommit uses.
func (r *Repo) SetTree(commit vcs.CommitId, tree vcs.TreeId) {
	r.mustGet(commit).Tree = tree
}

func fakeID(n int) vcs.CommitId {
	hex := fmt.Sprintf("%040x", n)
	id, err := vcs.SHA1.Parse(hex)
	if err != nil {
		panic(err)
	}
	return id
}

func (r *Repo) mustGet(commit vcs.CommitId) *Commit {
	c, ok := r.commits[commit]
	if !ok {
		panic(fmt.Sprintf("vcstest: unknown commit %s", commit.Short()))
	}
	return c
}

func (r *Repo) Parents(_ context.Context, commit vcs.CommitId) ([]vcs.CommitId, error) {
	return append([]vcs.CommitId(nil), r.mustGet(commit).Parents...), nil
}

func (r *Repo) RootTree(_ context.Context, commit vcs.CommitId) (vcs.TreeId, error) {
	return r.mustGet(commit).Tree, nil
}

func (r *Repo) Entry(_ context.Context, commit vcs.CommitId, path string) (vcs.EntryKind, vcs.TreeId, error) {
	e, ok := r.mustGet(commit).Entries[path]
	if !ok {
		return vcs.EntryNone, "", nil
	}
	return e.Kind, e.Tree, nil
}

func (r *Repo) Resolve(_ context.Context, ref string) (vcs.CommitId, error) {
	if id, ok := r.refs[ref]; ok {
		return id, nil
	}
	if id, err := vcs.SHA1.Parse(ref); err == nil {
		if _, ok := r.commits[id]; ok {
			return id, nil
		}
	}
	return vcs.CommitId{}, fmt.Errorf("vcstest: unresolvable ref %q", ref)
}

func (r *Repo) Exists(_ context.Context, ref string) bool {
	if _, ok := r.refs[ref]; ok {
		return true
	}
	id, err := vcs.SHA1.Parse(ref)
	if err != nil {
		return false
	}
	_, ok := r.commits[id]
	return ok
}

func (r *Repo) Message(_ context.Context, commit vcs.CommitId) (string, error) {
	return r.mustGet(commit).Message, nil
}

func (r *Repo) CommitMetadata(_ context.Context, commit vcs.CommitId) (vcs.Metadata, error) {
	return r.mustGet(commit).Meta, nil
}

func (r *Repo) IsAncestor(_ context.Context, a, b vcs.CommitId) (bool, error) {
	if a == b {
		return true, nil
	}
	seen := make(map[vcs.CommitId]bool)
	stack := append([]vcs.CommitId(nil), r.mustGet(b).Parents...)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c == a {
			return true, nil
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		stack = append(stack, r.mustGet(c).Parents...)
	}
	return false, nil
}

func (r *Repo) SelectIndependentTips(ctx context.Context, commits []vcs.CommitId) ([]vcs.CommitId, error) {
	var out []vcs.CommitId
	for i, c := range commits {
		isAncestor := false
		for j, other := range commits {
			if i == j {
				continue
			}
			ok, err := r.IsAncestor(ctx, c, other)
			if err != nil {
				return nil, err
			}
			if ok {
				isAncestor = true
				break
			}
		}
		if !isAncestor {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Repo) CountBetween(ctx context.Context, exclude, include vcs.CommitId) (int, error) {
	seen := make(map[vcs.CommitId]bool)
	stack := []vcs.CommitId{include}
	count := 0
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[c] || c == exclude {
			continue
		}
		seen[c] = true
		count++
		stack = append(stack, r.mustGet(c).Parents...)
	}
	return count, nil
}

// CreateCommit is content-addressed, like the real git commit-tree plumbing
// it stands in for: synthesizing a commit twice with the same tree,
// parents, metadata, and message yields the same id both times. The split
// engine's idempotence invariant (spec §4.10) depends on this.
func (r *Repo) CreateCommit(_ context.Context, tree vcs.TreeId, parents []vcs.CommitId, meta vcs.Metadata, message string) (vcs.CommitId, error) {
	id := contentID(tree, parents, meta, message)
	if _, ok := r.commits[id]; !ok {
		r.commits[id] = &Commit{Parents: parents, Tree: tree, Message: message, Meta: meta}
	}
	return id, nil
}

func contentID(tree vcs.TreeId, parents []vcs.CommitId, meta vcs.Metadata, message string) vcs.CommitId {
	h := sha1.New()
	fmt.Fprintf(h, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(h, "parent %s\n", p.Hex())
	}
	fmt.Fprintf(h, "author %s <%s> %d\n", meta.AuthorName, meta.AuthorEmail, meta.AuthorDate.Unix())
	fmt.Fprintf(h, "committer %s <%s> %d\n", meta.CommitterName, meta.CommitterEmail, meta.CommitterDate.Unix())
	fmt.Fprintf(h, "\n%s", message)

	id, err := vcs.SHA1.Parse(hex.EncodeToString(h.Sum(nil)))
	if err != nil {
		panic(err)
	}
	return id
}

func (r *Repo) UpdateRef(_ context.Context, name string, commit vcs.CommitId) error {
	r.refs[name] = commit
	return nil
}

func (r *Repo) Merge(_ context.Context, commit vcs.CommitId, _ string) error {
	r.refs["HEAD"] = commit
	return nil
}

func (r *Repo) Fetch(_ context.Context, _, _ string) error { return nil }
func (r *Repo) Push(_ context.Context, _, _ string) error  { return nil }

func (r *Repo) ReadTreeIntoPrefix(_ context.Context, commit vcs.CommitId, _ string) error {
	r.mustGet(commit)
	return nil
}

func (r *Repo) WriteTree(_ context.Context) (vcs.TreeId, error) {
	r.next++
	return vcs.TreeId("tree-" + strconv.Itoa(r.next)), nil
}

func (r *Repo) ShortHash(_ context.Context, commit vcs.CommitId) string {
	return commit.Short()
}

// Now is a fixed reference time tests can build vcs.Metadata from so
// fixtures stay deterministic.
func Now() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}
