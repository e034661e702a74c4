package synth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcs-tools/gitsubtree/internal/annotate"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
	"github.com/vcs-tools/gitsubtree/internal/vcs/vcstest"
)

func TestSquashFirstHasNoParent(t *testing.T) {
	repo := vcstest.New()
	ctx := context.Background()
	newsub := repo.AddCommit(nil, nil, "subtree change", vcs.Metadata{AuthorName: "a"})

	commit, err := Squash(ctx, repo, "sub", vcs.CommitId{}, newsub, vcs.CommitId{}, "")
	require.NoError(t, err)

	parents, err := repo.Parents(ctx, commit)
	require.NoError(t, err)
	require.Empty(t, parents)

	msg, err := repo.Message(ctx, commit)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, "Squashed 'sub/' content from"))

	rec, ok := annotate.Parse(msg)
	require.True(t, ok)
	require.Equal(t, "sub", rec.Dir)
	require.False(t, rec.HasMainline())
	require.Equal(t, newsub, rec.Split)
}

func TestSquashChainsOntoPriorSquash(t *testing.T) {
	repo := vcstest.New()
	ctx := context.Background()
	oldsub := repo.AddCommit(nil, nil, "first subtree change", vcs.Metadata{})
	oldsquash, err := Squash(ctx, repo, "sub", vcs.CommitId{}, oldsub, vcs.CommitId{}, "")
	require.NoError(t, err)

	newsub := repo.AddCommit([]vcs.CommitId{oldsub}, nil, "second subtree change", vcs.Metadata{})
	commit, err := Squash(ctx, repo, "sub", oldsub, newsub, oldsquash, "")
	require.NoError(t, err)

	parents, err := repo.Parents(ctx, commit)
	require.NoError(t, err)
	require.Equal(t, []vcs.CommitId{oldsquash}, parents)

	msg, err := repo.Message(ctx, commit)
	require.NoError(t, err)
	require.Contains(t, msg, "Squashed 'sub/' changes from")
}

func TestSquashMessageOverride(t *testing.T) {
	repo := vcstest.New()
	ctx := context.Background()
	newsub := repo.AddCommit(nil, nil, "subtree change", vcs.Metadata{})

	commit, err := Squash(ctx, repo, "sub", vcs.CommitId{}, newsub, vcs.CommitId{}, "custom message")
	require.NoError(t, err)
	msg, err := repo.Message(ctx, commit)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, "custom message\n\n"))
}

func TestAddProducesMainlineTrailer(t *testing.T) {
	repo := vcstest.New()
	ctx := context.Background()
	head := repo.AddCommit(nil, map[string]vcstest.Entry{}, "mainline tip", vcs.Metadata{})
	subtree := repo.AddCommit(nil, nil, "subtree tip", vcs.Metadata{})

	commit, err := Add(ctx, repo, "sub", head, subtree, "merged-tree", "")
	require.NoError(t, err)

	parents, err := repo.Parents(ctx, commit)
	require.NoError(t, err)
	require.Equal(t, []vcs.CommitId{head, subtree}, parents)

	tree, err := repo.RootTree(ctx, commit)
	require.NoError(t, err)
	require.Equal(t, vcs.TreeId("merged-tree"), tree)

	msg, err := repo.Message(ctx, commit)
	require.NoError(t, err)
	rec, ok := annotate.Parse(msg)
	require.True(t, ok)
	require.True(t, rec.HasMainline())
	require.Equal(t, head, rec.Mainline)
	require.Equal(t, subtree, rec.Split)
}

func TestRejoinMergesSplitTipOntoMainline(t *testing.T) {
	repo := vcstest.New()
	ctx := context.Background()
	mainline := repo.AddCommit(nil, map[string]vcstest.Entry{}, "mainline tip", vcs.Metadata{})
	latestSplit := repo.AddCommit(nil, nil, "split tip", vcs.Metadata{})

	commit, err := Rejoin(ctx, repo, "sub", mainline, latestSplit, "")
	require.NoError(t, err)

	parents, err := repo.Parents(ctx, commit)
	require.NoError(t, err)
	require.Equal(t, []vcs.CommitId{mainline, latestSplit}, parents)

	msg, err := repo.Message(ctx, commit)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, "Merge commit '"))
	rec, ok := annotate.Parse(msg)
	require.True(t, ok)
	require.True(t, rec.HasMainline())
	require.Equal(t, mainline, rec.Mainline)
	require.Equal(t, latestSplit, rec.Split)
}
