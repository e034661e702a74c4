package annotate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
	"github.com/vcs-tools/gitsubtree/internal/vcs/vcstest"
)

func id(n int) vcs.CommitId {
	repo := vcstest.New()
	var last vcs.CommitId
	for i := 0; i < n; i++ {
		last = repo.AddCommit(nil, nil, "filler", vcs.Metadata{})
	}
	return last
}

func TestParse(t *testing.T) {
	split := id(1)

	t.Run("malformed without dir", func(t *testing.T) {
		_, ok := Parse("just a message\n\ngit-subtree-split: " + split.Hex())
		require.False(t, ok)
	})

	t.Run("malformed split", func(t *testing.T) {
		_, ok := Parse("msg\n\ngit-subtree-dir: sub\ngit-subtree-split: not-a-sha")
		require.False(t, ok)
	})

	t.Run("squash shape", func(t *testing.T) {
		rec, ok := Parse("Squashed 'sub/' content\n\ngit-subtree-dir: sub\ngit-subtree-split: " + split.Hex())
		require.True(t, ok)
		require.Equal(t, "sub", rec.Dir)
		require.False(t, rec.HasMainline())
		require.True(t, rec.HasSplit())
		require.Equal(t, split, rec.Split)
	})

	t.Run("add shape trims trailing slash on dir", func(t *testing.T) {
		mainline := id(2)
		rec, ok := Parse("Add 'sub/' from commit '1234567'\n\n" +
			"git-subtree-dir: sub/\n" +
			"git-subtree-mainline: " + mainline.Hex() + "\n" +
			"git-subtree-split: " + split.Hex())
		require.True(t, ok)
		require.Equal(t, "sub", rec.Dir)
		require.True(t, rec.HasMainline())
		require.Equal(t, mainline, rec.Mainline)
	})
}

func TestClassify(t *testing.T) {
	squashRec := Record{Dir: "sub"}
	require.Equal(t, KindSquash, Classify(squashRec, false, "", ""))

	mainlineRec := Record{Dir: "sub"}
	mainlineRec.hasMainline = true

	require.Equal(t, KindAdd, Classify(mainlineRec, false, "", ""))
	require.Equal(t, KindRejoin, Classify(mainlineRec, true, "t1", "t1"))
	require.Equal(t, KindCrossSubtreeMerge, Classify(mainlineRec, true, "t1", "t2"))
}

func TestPreLoad(t *testing.T) {
	repo := vcstest.New()
	subA := repo.AddCommit(nil, nil, "subtree commit A", vcs.Metadata{})
	mainlineBase := repo.AddCommit(nil, map[string]vcstest.Entry{}, "base, no sub", vcs.Metadata{})

	addMsg := "Add 'sub/' from commit 'deadbee'\n\n" +
		"git-subtree-dir: sub\n" +
		"git-subtree-mainline: " + mainlineBase.Hex() + "\n" +
		"git-subtree-split: " + subA.Hex()
	addCommit := repo.AddCommit([]vcs.CommitId{mainlineBase}, map[string]vcstest.Entry{
		"sub": {Kind: vcs.EntryTree, Tree: "sub-tree-1"},
	}, addMsg, vcs.Metadata{})

	classify := RepoClassifier(repo, "sub")
	findings, err := PreLoad(context.Background(), repo, addCommit, "sub", "", classify)
	require.NoError(t, err)

	byCommit := make(map[vcs.CommitId]store.Value)
	for _, f := range findings {
		byCommit[f.Commit] = f.Value
	}
	require.Equal(t, store.NoTree, byCommit[mainlineBase])
	require.True(t, byCommit[subA].IsReal())
	require.Equal(t, subA, byCommit[subA].Commit)
}

func TestPreLoadGrepFilters(t *testing.T) {
	repo := vcstest.New()
	sub := repo.AddCommit(nil, nil, "subtree", vcs.Metadata{})
	mainline := repo.AddCommit(nil, nil, "base", vcs.Metadata{})
	squashMsg := "Squashed 'sub/' content\n\ngit-subtree-dir: sub\ngit-subtree-split: " + sub.Hex()
	squash := repo.AddCommit([]vcs.CommitId{mainline}, nil, squashMsg, vcs.Metadata{})

	classify := RepoClassifier(repo, "sub")
	findings, err := PreLoad(context.Background(), repo, squash, "sub", "nonexistent-pattern", classify)
	require.NoError(t, err)
	require.Empty(t, findings)

	findings, err = PreLoad(context.Background(), repo, squash, "sub", "Squashed", classify)
	require.NoError(t, err)
	require.NotEmpty(t, findings)
}
