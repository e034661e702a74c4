package engine

import (
	"context"

	"github.com/vcs-tools/gitsubtree/internal/annotate"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Selection is the result of SelectParents: the parents the traversal
// should recurse into, and — for the rejoin shape — the commit c should be
// mapped to directly, short-circuiting further recursion (spec §4.3).
type Selection struct {
	Parents []vcs.CommitId
	Rejoin  *vcs.CommitId
}

// SelectParents implements spec §4.3: it detects the subtree-merge shape
// among a 2-parent commit and, depending on how the trees line up,
// classifies it as a rejoin (recursion stops, c maps directly to the
// subtree parent), a cross-subtree merge for some other directory (only
// the mainline-like parent is followed), or falls through unchanged.
func (e *Engine) SelectParents(ctx context.Context, c vcs.CommitId, parents []vcs.CommitId) (Selection, error) {
	if len(parents) != 2 {
		return Selection{Parents: parents}, nil
	}
	mainlineIdx, subtreeIdx, ok, err := bipartition(ctx, e.Repo, e.Dir, parents[0], parents[1])
	if err != nil {
		return Selection{}, err
	}
	if !ok {
		return Selection{Parents: parents}, nil
	}
	mainlineParent, subtreeParent := parents[mainlineIdx], parents[subtreeIdx]

	cTree, err := dirTreeOrEmpty(ctx, e.Repo, c, e.Dir)
	if err != nil {
		return Selection{}, err
	}
	mainlineTree, err := dirTreeOrEmpty(ctx, e.Repo, mainlineParent, e.Dir)
	if err != nil {
		return Selection{}, err
	}
	subtreeTree, err := e.Repo.RootTree(ctx, subtreeParent)
	if err != nil {
		return Selection{}, err
	}

	if cTree != mainlineTree {
		// Doesn't even look like a subtree merge of this directory; fall
		// through unchanged.
		return Selection{Parents: parents}, nil
	}
	if cTree == subtreeTree {
		// Rejoin: c's tree already equals the subtree parent's tree by way
		// of the mainline parent too. c maps directly to whatever commit
		// the subtree parent ultimately represents.
		target, err := e.rejoinTarget(ctx, subtreeParent)
		if err != nil {
			return Selection{}, err
		}
		return Selection{Rejoin: &target}, nil
	}

	// cTree == mainlineTree but cTree != subtreeTree: either a genuine
	// cross-subtree merge for some other directory, or the subtree parent
	// simply isn't one of our subtree commits. Either way only the
	// mainline-like parent carries our directory's history forward.
	cRoot, err := e.Repo.RootTree(ctx, c)
	if err != nil {
		return Selection{}, err
	}
	mainlineRoot, err := e.Repo.RootTree(ctx, mainlineParent)
	if err != nil {
		return Selection{}, err
	}
	subtreeClass, err := e.Classify(ctx, subtreeParent)
	if err != nil {
		return Selection{}, err
	}
	if cRoot != mainlineRoot || (subtreeClass != ClassSplit && subtreeClass != ClassSquash) {
		return Selection{Parents: []vcs.CommitId{mainlineParent}}, nil
	}
	return Selection{Parents: parents}, nil
}

// rejoinTarget resolves what a rejoin edge should map its mainline commit
// to: the subtree parent itself if it's a genuine subtree commit (identity
// mapping holds), or the commit named by its own git-subtree-split trailer
// if it is itself a squash commit.
func (e *Engine) rejoinTarget(ctx context.Context, subtreeParent vcs.CommitId) (vcs.CommitId, error) {
	class, err := e.Classify(ctx, subtreeParent)
	if err != nil {
		return vcs.CommitId{}, err
	}
	if class != ClassSquash {
		return subtreeParent, nil
	}
	msg, err := e.Repo.Message(ctx, subtreeParent)
	if err != nil {
		return vcs.CommitId{}, err
	}
	rec, ok := annotate.Parse(msg)
	if !ok {
		return subtreeParent, nil
	}
	return rec.Split, nil
}

// bipartition identifies which of a and b is mainline-like (dir present as
// a tree) and which is subtree-like (dir absent), per spec §4.3. ok is
// false if both or neither qualify.
func bipartition(ctx context.Context, repo vcs.Repository, dir string, a, b vcs.CommitId) (mainlineIdx, subtreeIdx int, ok bool, err error) {
	aKind, _, err := repo.Entry(ctx, a, dir)
	if err != nil {
		return 0, 0, false, err
	}
	bKind, _, err := repo.Entry(ctx, b, dir)
	if err != nil {
		return 0, 0, false, err
	}
	aHas, bHas := aKind == vcs.EntryTree, bKind == vcs.EntryTree
	switch {
	case aHas && !bHas:
		return 0, 1, true, nil
	case bHas && !aHas:
		return 1, 0, true, nil
	default:
		return 0, 0, false, nil
	}
}

func dirTreeOrEmpty(ctx context.Context, repo vcs.Repository, commit vcs.CommitId, dir string) (vcs.TreeId, error) {
	kind, tree, err := repo.Entry(ctx, commit, dir)
	if err != nil {
		return "", err
	}
	if kind != vcs.EntryTree {
		return "", nil
	}
	return tree, nil
}
