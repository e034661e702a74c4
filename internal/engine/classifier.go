// Package engine implements the split engine core: the classifier, parent
// selector, counter, processor, and copy-or-skip decider of spec §4.
package engine

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/vcs-tools/gitsubtree/internal/annotate"
	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Class is a commit's classification, spec §4.2.
type Class int

const (
	// ClassMainlineTree: c is on the mainline and contains dir.
	ClassMainlineTree Class = iota
	// ClassMainlineNoTree: c is on the mainline and does not contain dir.
	ClassMainlineNoTree
	// ClassSplit: c lacks dir and is, or descends from, a commit with a
	// real cache mapping.
	ClassSplit
	// ClassSquash: c carries a well-formed {dir, split}-only trailer.
	ClassSquash
)

// Engine holds the configuration and state shared by the classifier,
// selector, counter, and processor for one run, replacing the original
// shell implementation's global mutable state (indent, split_started,
// split_max, split_redoing) with fields on a value that is passed
// explicitly, per spec §9.
type Engine struct {
	Repo        vcs.Repository
	Store       *store.Store
	Dir         string
	IgnoreJoins bool
	Annotate    string // prefix prepended to synthesized commit messages
	Quiet       bool   // suppress progress logging

	classify annotate.Classifier
}

// New builds an Engine against repo for subdirectory dir.
func New(repo vcs.Repository, st *store.Store, dir string, ignoreJoins bool) *Engine {
	return &Engine{
		Repo:        repo,
		Store:       st,
		Dir:         dir,
		IgnoreJoins: ignoreJoins,
		classify:    annotate.RepoClassifier(repo, dir),
	}
}

// Classify implements spec §4.2 for a commit not already cached.
func (e *Engine) Classify(ctx context.Context, c vcs.CommitId) (Class, error) {
	msg, err := e.Repo.Message(ctx, c)
	if err != nil {
		return 0, err
	}
	if rec, ok := annotate.Parse(msg); ok && rec.Dir == e.Dir {
		if !rec.HasMainline() {
			return ClassSquash, nil
		}
		if !e.IgnoreJoins {
			return ClassMainlineTree, nil
		}
	}
	kind, _, err := e.Repo.Entry(ctx, c, e.Dir)
	if err != nil {
		return 0, err
	}
	if kind == vcs.EntryTree {
		return ClassMainlineTree, nil
	}
	// Absent (including EntrySubmodule and EntryOther; a gitlink at dir is
	// treated as absent, per spec §9 open question (b)).
	if kind == vcs.EntrySubmodule {
		log.Debug.Printf("engine: %s: %s is a submodule gitlink, treating as absent", c.Short(), e.Dir)
	}
	has, err := e.hasSubtreeAncestor(ctx, c)
	if err != nil {
		return 0, err
	}
	if has {
		return ClassSplit, nil
	}
	return ClassMainlineNoTree, nil
}
