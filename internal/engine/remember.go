package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Remember is a user-supplied BEFORE:AFTER assertion for --remember
// (spec §4.8).
type Remember struct {
	Before vcs.CommitId
	After  vcs.CommitId
}

// ApplyRemember validates and installs each remembered mapping before any
// traversal begins (spec §4.8):
//   - BEFORE's subdirectory tree must equal AFTER's root tree.
//   - AFTER's message must have BEFORE's message as a suffix (allowing for
//     the engine's --annotate prefix).
//   - Author and committer identity must match exactly.
func (e *Engine) ApplyRemember(ctx context.Context, pairs []Remember) error {
	for _, r := range pairs {
		if err := e.applyOneRemember(ctx, r); err != nil {
			return fmt.Errorf("--remember %s:%s: %w", r.Before.Short(), r.After.Short(), err)
		}
	}
	return nil
}

func (e *Engine) applyOneRemember(ctx context.Context, r Remember) error {
	_, beforeTree, err := e.Repo.Entry(ctx, r.Before, e.Dir)
	if err != nil {
		return err
	}
	afterTree, err := e.Repo.RootTree(ctx, r.After)
	if err != nil {
		return err
	}
	if beforeTree != afterTree {
		return fmt.Errorf("subdirectory tree of %s does not match root tree of %s", r.Before.Short(), r.After.Short())
	}

	beforeMsg, err := e.Repo.Message(ctx, r.Before)
	if err != nil {
		return err
	}
	afterMsg, err := e.Repo.Message(ctx, r.After)
	if err != nil {
		return err
	}
	trimmed := strings.TrimPrefix(afterMsg, e.Annotate)
	if !strings.HasSuffix(trimmed, beforeMsg) {
		return fmt.Errorf("message of %s is not a suffix of message of %s", r.Before.Short(), r.After.Short())
	}

	beforeMeta, err := e.Repo.CommitMetadata(ctx, r.Before)
	if err != nil {
		return err
	}
	afterMeta, err := e.Repo.CommitMetadata(ctx, r.After)
	if err != nil {
		return err
	}
	if beforeMeta.AuthorName != afterMeta.AuthorName || beforeMeta.AuthorEmail != afterMeta.AuthorEmail ||
		!beforeMeta.AuthorDate.Equal(afterMeta.AuthorDate) ||
		beforeMeta.CommitterName != afterMeta.CommitterName || beforeMeta.CommitterEmail != afterMeta.CommitterEmail ||
		!beforeMeta.CommitterDate.Equal(afterMeta.CommitterDate) {
		return fmt.Errorf("author/committer identity of %s does not match %s", r.Before.Short(), r.After.Short())
	}

	return e.Store.Set(r.Before, store.Mapped(r.After))
}
