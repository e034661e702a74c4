package engine

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/vcs-tools/gitsubtree/internal/annotate"
	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Options configures one split-engine run (spec §6.2's split-group flags).
type Options struct {
	// Onto seeds the cache with commits known to already be subtree
	// commits (identity mapping), independent of how they were reached.
	Onto []vcs.CommitId
	// NoTree seeds the cache with commits known not to contain the
	// subdirectory. Per spec §9 open question (a), multiple Onto/NoTree
	// entries are each applied independently.
	NoTree []vcs.CommitId
	// Remember lists validated BEFORE:AFTER reconciliations, applied
	// before traversal (spec §4.8).
	Remember []Remember
	// GrepPreLoad, when non-empty, filters the pre-load history walk to
	// commits whose message matches (spec §4.1 "optional grep filter").
	GrepPreLoad string
}

// Run executes the full split-engine pipeline for tip: pre-load, seed
// --onto/--notree/--remember, de-normalize, count, and process. It returns
// the final synthesized subtree commit (the "latest_split" variable), or
// ok=false if no mainline commit touching the subdirectory was reachable.
func (e *Engine) Run(ctx context.Context, tip vcs.CommitId, opts Options) (vcs.CommitId, bool, error) {
	findings, err := annotate.PreLoad(ctx, e.Repo, tip, e.Dir, opts.GrepPreLoad, e.classify)
	if err != nil {
		return vcs.CommitId{}, false, err
	}
	for _, f := range findings {
		if err := e.Store.Set(f.Commit, f.Value); err != nil {
			return vcs.CommitId{}, false, err
		}
	}
	for _, c := range opts.Onto {
		if err := e.Store.Set(c, store.Mapped(c)); err != nil {
			return vcs.CommitId{}, false, err
		}
	}
	for _, c := range opts.NoTree {
		if err := e.Store.Set(c, store.NoTree); err != nil {
			return vcs.CommitId{}, false, err
		}
	}
	if err := e.ApplyRemember(ctx, opts.Remember); err != nil {
		return vcs.CommitId{}, false, err
	}
	if err := e.Denormalize(ctx); err != nil {
		return vcs.CommitId{}, false, err
	}

	total, err := e.Count(ctx, tip)
	if err != nil {
		return vcs.CommitId{}, false, err
	}
	if !e.Quiet {
		log.Printf("engine: %d commits to examine", total)
	}

	if err := e.Process(ctx, tip); err != nil {
		return vcs.CommitId{}, false, err
	}

	return e.Store.LatestSplit()
}
