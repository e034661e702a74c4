package engine

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Count implements spec §4.4: a depth-first pre-pass from tip that sizes
// the work and marks every reachable commit "counted" unless it already
// has a cache entry (from pre-load, --onto, --notree, or --remember).
// Traversal is an explicit work-stack, not native recursion, per spec §9's
// guidance to avoid stack overflow on deep real-world histories.
func (e *Engine) Count(ctx context.Context, tip vcs.CommitId) (int, error) {
	visited := make(map[vcs.CommitId]bool)
	total := 0
	stack := []vcs.CommitId{tip}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[c] {
			continue
		}
		visited[c] = true
		if _, ok := e.Store.Get(c); !ok {
			if err := e.Store.Set(c, store.Counted); err != nil {
				return 0, err
			}
			total++
		}
		parents, err := e.Repo.Parents(ctx, c)
		if err != nil {
			return 0, err
		}
		sel, err := e.SelectParents(ctx, c, parents)
		if err != nil {
			return 0, err
		}
		if sel.Rejoin != nil {
			continue
		}
		for _, p := range sel.Parents {
			if !visited[p] {
				stack = append(stack, p)
			}
		}
	}
	log.Debug.Printf("engine: counted %d commits reachable from %s", total, tip.Short())
	return total, nil
}
