package engine

import (
	"context"

	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Denormalize applies the cache invariant of spec §3 in one batch before
// traversal starts: "for every cached subtree-commit c, every ancestor of
// c is also cache-mapped (usually by the identity rule)". Pre-load (§4.1)
// only seeds the subtree commits it names directly in trailers; this walks
// each one's ancestry and marks every reachable, not-yet-cached ancestor as
// its own subtree commit too, so the ancestor test (§4.5) sees a complete
// picture once the main passes begin.
func (e *Engine) Denormalize(ctx context.Context) error {
	var stack []vcs.CommitId
	for _, k := range e.Store.Mappings() {
		v, _ := e.Store.Get(k)
		stack = append(stack, v.Commit)
	}
	seen := make(map[vcs.CommitId]bool, len(stack))
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[c] {
			continue
		}
		seen[c] = true
		parents, err := e.Repo.Parents(ctx, c)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if v, ok := e.Store.Get(p); ok && v.IsReal() {
				continue
			}
			if err := e.Store.Set(p, store.Mapped(p)); err != nil {
				return err
			}
			stack = append(stack, p)
		}
	}
	return nil
}
