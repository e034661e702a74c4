// Package synth builds the three commit shapes spec §4.9 names: the
// squash commit, the add merge commit, and the rejoin merge commit. It is
// kept free of the split engine's traversal state so the add and merge
// driver commands can call it directly without pulling in internal/engine.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Squash synthesizes the squash commit for the subtree range
// (oldsub, newsub]: newsub's root tree, parented on oldsquash (the
// previous squash commit, if any), with a message summarizing the range
// and the {dir, split} trailer pair.
//
// oldsquash is the zero CommitId when there is no prior squash commit
// (the first squash of a subtree), producing a parentless commit.
func Squash(ctx context.Context, repo vcs.Repository, dir string, oldsub, newsub, oldsquash vcs.CommitId, message string) (vcs.CommitId, error) {
	tree, err := repo.RootTree(ctx, newsub)
	if err != nil {
		return vcs.CommitId{}, err
	}
	meta, err := repo.CommitMetadata(ctx, newsub)
	if err != nil {
		return vcs.CommitId{}, err
	}
	if message == "" {
		message = rangeSummary(ctx, repo, dir, oldsub, newsub)
	}
	msg := message + "\n\n" + trailerBlock(dir, vcs.CommitId{}, newsub)

	var parents []vcs.CommitId
	if oldsquash != (vcs.CommitId{}) {
		parents = []vcs.CommitId{oldsquash}
	}
	return repo.CreateCommit(ctx, tree, parents, meta, msg)
}

func rangeSummary(ctx context.Context, repo vcs.Repository, dir string, oldsub, newsub vcs.CommitId) string {
	if oldsub == (vcs.CommitId{}) {
		return fmt.Sprintf("Squashed '%s/' content from %s", dir, repo.ShortHash(ctx, newsub))
	}
	return fmt.Sprintf("Squashed '%s/' changes from %s..%s", dir, repo.ShortHash(ctx, oldsub), repo.ShortHash(ctx, newsub))
}

func trailerBlock(dir string, mainline, split vcs.CommitId) string {
	var b strings.Builder
	fmt.Fprintf(&b, "git-subtree-dir: %s\n", dir)
	if mainline != (vcs.CommitId{}) {
		fmt.Fprintf(&b, "git-subtree-mainline: %s\n", mainline.Hex())
	}
	fmt.Fprintf(&b, "git-subtree-split: %s\n", split.Hex())
	return b.String()
}

// Add synthesizes the `add` command's merge commit: the commit recording
// the grafted working tree, with the (possibly squashed) subtree commit as
// its second parent. head is the mainline branch tip before the graft; tree
// is the tree already written (via ReadTreeIntoPrefix+WriteTree) combining
// head's content with the subtree grafted under dir. subtree is the commit
// the trailers should name as git-subtree-split (the squash commit, if
// --squash was given; otherwise the subtree tip itself).
func Add(ctx context.Context, repo vcs.Repository, dir string, head, subtree vcs.CommitId, tree vcs.TreeId, message string) (vcs.CommitId, error) {
	meta, err := repo.CommitMetadata(ctx, head)
	if err != nil {
		return vcs.CommitId{}, err
	}
	if message == "" {
		message = fmt.Sprintf("Add '%s/' from commit '%s'", dir, repo.ShortHash(ctx, subtree))
	}
	msg := message + "\n\n" + trailerBlock(dir, head, subtree)
	return repo.CreateCommit(ctx, tree, []vcs.CommitId{head, subtree}, meta, msg)
}

// Rejoin synthesizes the merge commit emitted at the end of `split
// --rejoin`: identical shape to Add, recording that mainline has now
// merged in latestSplit, the tip produced by this split run. mainline is
// the commit being rejoined onto (the run's tip); latestSplit is the
// final subtree commit produced by the split. dir already holds
// latestSplit's tree in mainline, so the merge keeps mainline's root tree.
func Rejoin(ctx context.Context, repo vcs.Repository, dir string, mainline, latestSplit vcs.CommitId, message string) (vcs.CommitId, error) {
	meta, err := repo.CommitMetadata(ctx, mainline)
	if err != nil {
		return vcs.CommitId{}, err
	}
	tree, err := repo.RootTree(ctx, mainline)
	if err != nil {
		return vcs.CommitId{}, err
	}
	if message == "" {
		message = fmt.Sprintf("Merge commit '%s' as '%s/'", repo.ShortHash(ctx, latestSplit), dir)
	}
	msg := message + "\n\n" + trailerBlock(dir, mainline, latestSplit)
	return repo.CreateCommit(ctx, tree, []vcs.CommitId{mainline, latestSplit}, meta, msg)
}
