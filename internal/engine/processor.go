package engine

import (
	"context"
	"fmt"

	"github.com/vcs-tools/gitsubtree/internal/annotate"
	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

type color int

const (
	white color = iota
	gray
	black
)

// Process implements spec §4.6: a post-order DFS from tip that emits
// synthesized subtree commits. Traversal uses an explicit work-stack with
// white/gray/black colour marking (spec §9) rather than native recursion:
// a commit is pushed gray with its selected parents queued ahead of it,
// and only processed (turned black) once every one of those parents has
// already gone black.
func (e *Engine) Process(ctx context.Context, tip vcs.CommitId) error {
	colors := make(map[vcs.CommitId]color)
	type frame struct {
		commit     vcs.CommitId
		parents    []vcs.CommitId
		selection  Selection
		childrenOn bool
	}
	stack := []*frame{{commit: tip}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if colors[f.commit] == black {
			stack = stack[:len(stack)-1]
			continue
		}
		if !f.childrenOn {
			colors[f.commit] = gray
			parents, err := e.Repo.Parents(ctx, f.commit)
			if err != nil {
				return err
			}
			sel, err := e.SelectParents(ctx, f.commit, parents)
			if err != nil {
				return err
			}
			f.parents = parents
			f.selection = sel
			f.childrenOn = true
			for _, p := range sel.Parents {
				if colors[p] == black {
					continue
				}
				if v, ok := e.Store.Get(p); ok && v.Kind != store.KindCounted {
					continue
				}
				stack = append(stack, &frame{commit: p})
			}
			continue
		}
		// Every selected parent has been fully processed; emit this
		// commit and pop.
		if err := e.processOne(ctx, f.commit, f.parents, f.selection); err != nil {
			return err
		}
		colors[f.commit] = black
		stack = stack[:len(stack)-1]
	}
	return nil
}

func (e *Engine) processOne(ctx context.Context, c vcs.CommitId, parents []vcs.CommitId, sel Selection) error {
	if v, ok := e.Store.Get(c); ok && v.Kind != store.KindCounted {
		// Already resolved by pre-load, --onto, --notree, or --remember.
		return nil
	}

	if sel.Rejoin != nil {
		e.Store.SetLatestSplit(*sel.Rejoin)
		return e.finish(c, store.Mapped(*sel.Rejoin))
	}

	class, err := e.Classify(ctx, c)
	if err != nil {
		return err
	}
	switch class {
	case ClassMainlineTree:
		return e.processMainlineTree(ctx, c, parents)
	case ClassMainlineNoTree:
		e.Store.SetLatestMainline(c)
		return e.finish(c, store.NoTree)
	case ClassSplit:
		e.Store.SetLatestSplit(c)
		return e.finish(c, store.Mapped(c))
	case ClassSquash:
		msg, err := e.Repo.Message(ctx, c)
		if err != nil {
			return err
		}
		rec, ok := annotate.Parse(msg)
		if !ok {
			return fmt.Errorf("engine: %s: classified squash but trailer no longer parses", c.Short())
		}
		e.Store.SetLatestSplit(rec.Split)
		return e.finish(c, store.Mapped(rec.Split))
	default:
		return fmt.Errorf("engine: %s: unknown classification %d", c.Short(), class)
	}
}

func (e *Engine) processMainlineTree(ctx context.Context, c vcs.CommitId, parents []vcs.CommitId) error {
	tree, err := dirTreeOrEmpty(ctx, e.Repo, c, e.Dir)
	if err != nil {
		return err
	}
	var rewritten []vcs.CommitId
	for _, p := range parents {
		v, ok := e.Store.Get(p)
		if !ok || !v.IsReal() {
			continue
		}
		rewritten = append(rewritten, v.Commit)
	}
	newrev, err := e.copyOrSkip(ctx, c, tree, rewritten)
	if err != nil {
		return err
	}
	e.Store.SetLatestSplit(newrev)
	e.Store.SetLatestMainline(c)
	return e.finish(c, store.Mapped(newrev))
}

// finish records the cache mapping for c. Store.Set fails with a
// ConsistencyError if c already holds a different non-counted mapping; the
// only exception is a "redo"-tagged commit being remapped to itself.
func (e *Engine) finish(c vcs.CommitId, v store.Value) error {
	return e.Store.Set(c, v)
}
