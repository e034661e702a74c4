package engine

import (
	"context"

	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// hasSubtreeAncestor implements spec §4.5: does c have any ancestor that is
// already known to be a subtree commit? The candidate set (every cache
// entry other than notree/counted) can be very large, so it is first
// reduced to its independent tips via the repository's batch operation
// before falling back to pairwise ancestor queries, short-circuiting on the
// first positive.
func (e *Engine) hasSubtreeAncestor(ctx context.Context, c vcs.CommitId) (bool, error) {
	candidates := e.Store.Mappings()
	if len(candidates) == 0 {
		return false, nil
	}
	reduced, err := reduceToIndependentTips(ctx, e.Repo, candidates)
	if err != nil {
		return false, err
	}
	for _, candidate := range reduced {
		if candidate == c {
			return true, nil
		}
		ok, err := e.Repo.IsAncestor(ctx, candidate, c)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// reduceToIndependentTips repeatedly applies SelectIndependentTips until
// the set stops shrinking. Spec §4.5 notes this converges because it is a
// fixpoint of a monotone operation; ordering of the input or output is not
// required to be deterministic.
func reduceToIndependentTips(ctx context.Context, repo vcs.Repository, commits []vcs.CommitId) ([]vcs.CommitId, error) {
	for {
		reduced, err := repo.SelectIndependentTips(ctx, commits)
		if err != nil {
			return nil, err
		}
		if len(reduced) == len(commits) {
			return reduced, nil
		}
		commits = reduced
	}
}
