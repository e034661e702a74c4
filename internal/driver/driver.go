// Package driver implements the thin orchestrators spec §6.2 exposes as
// CLI sub-commands: add, merge, pull, push, and split. Each wires the
// split engine (internal/engine) and commit synthesis (internal/synth)
// together against a vcs.Repository; none of them touch a process
// argv or flag.FlagSet directly, so cmd/git-subtree stays a thin CLI
// shell over this package.
package driver

import (
	"context"
	"fmt"

	"github.com/grailbio/base/log"

	"github.com/vcs-tools/gitsubtree/internal/annotate"
	"github.com/vcs-tools/gitsubtree/internal/engine"
	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/synth"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Config carries the flags common to every sub-command (spec §6.2's
// required --prefix plus the add/merge-group flags).
type Config struct {
	Dir      string // --prefix
	Squash   bool
	Message  string
	Annotate string // --annotate, split-group; the engine prefixes it onto synthesized split commit messages
	Quiet    bool
}

// SplitOptions carries the split-group flags (spec §6.2).
type SplitOptions struct {
	Branch      string
	IgnoreJoins bool
	Onto        []vcs.CommitId
	NoTree      []vcs.CommitId
	Rejoin      bool
	Remember    []engine.Remember
	GrepPreLoad string
	ScratchDir  string
}

// Split runs the split engine against headRef's history and returns the
// resulting subtree tip. When opts.Branch is non-empty, a new or existing
// ref is updated to point at it: creating it if it doesn't exist, or
// failing if it exists and is not an ancestor of the new tip. When
// opts.Rejoin is set, a rejoin merge commit (synth.Rejoin) is additionally
// created on headRef recording the split back into the mainline.
func Split(ctx context.Context, repo vcs.Repository, cfg Config, headRef string, opts SplitOptions) (vcs.CommitId, error) {
	head, err := repo.Resolve(ctx, headRef)
	if err != nil {
		return vcs.CommitId{}, fmt.Errorf("split: resolve %s: %w", headRef, err)
	}

	st, err := store.New(opts.ScratchDir)
	if err != nil {
		return vcs.CommitId{}, err
	}
	defer st.Close()

	eng := engine.New(repo, st, cfg.Dir, opts.IgnoreJoins)
	eng.Annotate = cfg.Annotate
	eng.Quiet = cfg.Quiet

	tip, ok, err := eng.Run(ctx, head, engine.Options{
		Onto:        opts.Onto,
		NoTree:      opts.NoTree,
		Remember:    opts.Remember,
		GrepPreLoad: opts.GrepPreLoad,
	})
	if err != nil {
		return vcs.CommitId{}, err
	}
	if !ok {
		return vcs.CommitId{}, fmt.Errorf("split: no commit under %q was reachable from %s", cfg.Dir, headRef)
	}

	if opts.Branch != "" {
		if err := updateSplitBranch(ctx, repo, opts.Branch, tip); err != nil {
			return vcs.CommitId{}, err
		}
	}

	if opts.Rejoin {
		merge, err := synth.Rejoin(ctx, repo, cfg.Dir, head, tip, cfg.Message)
		if err != nil {
			return vcs.CommitId{}, err
		}
		if err := repo.UpdateRef(ctx, headRef, merge); err != nil {
			return vcs.CommitId{}, err
		}
	}

	if err := st.Destroy(); err != nil {
		log.Error.Printf("split: clean up scratch area: %v", err)
	}
	return tip, nil
}

func updateSplitBranch(ctx context.Context, repo vcs.Repository, branch string, tip vcs.CommitId) error {
	if !repo.Exists(ctx, branch) {
		return repo.UpdateRef(ctx, branch, tip)
	}
	existing, err := repo.Resolve(ctx, branch)
	if err != nil {
		return fmt.Errorf("split: resolve existing branch %s: %w", branch, err)
	}
	ancestor, err := repo.IsAncestor(ctx, existing, tip)
	if err != nil {
		return err
	}
	if !ancestor {
		// Exact wording and capitalization mandated by spec §8 scenario 5.
		return fmt.Errorf("Branch '%s' is not an ancestor of commit '%s'.", branch, repo.ShortHash(ctx, tip))
	}
	return repo.UpdateRef(ctx, branch, tip)
}

// Add grafts subtree (a commit in this same repository's history, e.g. the
// tip of a remote-tracking branch already fetched in) under cfg.Dir,
// creating the merge commit synth.Add describes. It fails if cfg.Dir
// already exists at headRef.
func Add(ctx context.Context, repo vcs.Repository, cfg Config, headRef string, subtree vcs.CommitId) (vcs.CommitId, error) {
	head, err := repo.Resolve(ctx, headRef)
	if err != nil {
		return vcs.CommitId{}, fmt.Errorf("add: resolve %s: %w", headRef, err)
	}
	kind, _, err := repo.Entry(ctx, head, cfg.Dir)
	if err != nil {
		return vcs.CommitId{}, err
	}
	if kind != vcs.EntryNone {
		return vcs.CommitId{}, fmt.Errorf("add: prefix %q already exists at %s", cfg.Dir, headRef)
	}

	splitParent := subtree
	addMessage := cfg.Message
	if cfg.Squash {
		splitParent, err = synth.Squash(ctx, repo, cfg.Dir, vcs.CommitId{}, subtree, vcs.CommitId{}, cfg.Message)
		if err != nil {
			return vcs.CommitId{}, err
		}
		// The merge subject names the original subtree tip, not the
		// synthesized squash commit that actually becomes the second
		// parent (spec §8 scenario 2).
		if addMessage == "" {
			addMessage = fmt.Sprintf("Merge commit '%s' as '%s'", repo.ShortHash(ctx, subtree), cfg.Dir)
		}
	}

	if err := repo.ReadTreeIntoPrefix(ctx, splitParent, cfg.Dir); err != nil {
		return vcs.CommitId{}, err
	}
	tree, err := repo.WriteTree(ctx)
	if err != nil {
		return vcs.CommitId{}, err
	}
	commit, err := synth.Add(ctx, repo, cfg.Dir, head, splitParent, tree, addMessage)
	if err != nil {
		return vcs.CommitId{}, err
	}
	if err := repo.UpdateRef(ctx, headRef, commit); err != nil {
		return vcs.CommitId{}, err
	}
	return commit, nil
}

// Merge merges subtree (a commit already known to be part of cfg.Dir's
// history, per a prior Add) into headRef's working tree via the host
// VCS's ordinary merge machinery. With cfg.Squash it first collapses
// subtree onto the previous squash commit (found by walking headRef's
// history for the last well-formed {dir, split} trailer) so the merge
// looks like a single incoming change.
func Merge(ctx context.Context, repo vcs.Repository, cfg Config, headRef string, subtree vcs.CommitId) error {
	head, err := repo.Resolve(ctx, headRef)
	if err != nil {
		return fmt.Errorf("merge: resolve %s: %w", headRef, err)
	}
	kind, _, err := repo.Entry(ctx, head, cfg.Dir)
	if err != nil {
		return err
	}
	if kind != vcs.EntryTree {
		return fmt.Errorf("merge: prefix %q was never added at %s", cfg.Dir, headRef)
	}

	target := subtree
	if cfg.Squash {
		oldsub, oldsquash, err := lastSquash(ctx, repo, head, cfg.Dir)
		if err != nil {
			return err
		}
		sameTree, err := sameRootTree(ctx, repo, subtree, oldsub)
		if err != nil {
			return err
		}
		if sameTree {
			if !cfg.Quiet {
				log.Printf("merge: %q already at %s", cfg.Dir, repo.ShortHash(ctx, subtree))
			}
			return nil
		}
		target, err = synth.Squash(ctx, repo, cfg.Dir, oldsub, subtree, oldsquash, cfg.Message)
		if err != nil {
			return err
		}
	}
	return repo.Merge(ctx, target, "")
}

func sameRootTree(ctx context.Context, repo vcs.Repository, a, b vcs.CommitId) (bool, error) {
	if b == (vcs.CommitId{}) {
		return false, nil
	}
	aTree, err := repo.RootTree(ctx, a)
	if err != nil {
		return false, err
	}
	bTree, err := repo.RootTree(ctx, b)
	if err != nil {
		return false, err
	}
	return aTree == bTree, nil
}

// lastSquash finds the most recent well-formed {dir, split}-only trailer
// reachable from head, returning the split commit it names and the squash
// commit itself. Both are the zero CommitId if dir has never been
// squash-merged.
func lastSquash(ctx context.Context, repo vcs.Repository, head vcs.CommitId, dir string) (oldsub, oldsquash vcs.CommitId, err error) {
	seen := make(map[vcs.CommitId]bool)
	stack := []vcs.CommitId{head}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[c] {
			continue
		}
		seen[c] = true
		msg, err := repo.Message(ctx, c)
		if err != nil {
			return vcs.CommitId{}, vcs.CommitId{}, err
		}
		if rec, ok := annotate.Parse(msg); ok && rec.Dir == dir && !rec.HasMainline() {
			return rec.Split, c, nil
		}
		parents, err := repo.Parents(ctx, c)
		if err != nil {
			return vcs.CommitId{}, vcs.CommitId{}, err
		}
		stack = append(stack, parents...)
	}
	return vcs.CommitId{}, vcs.CommitId{}, nil
}

// Pull is fetch-then-split--rejoin: it fetches refspec from remote into
// the local repository, then runs Split with --rejoin on headRef, with the
// fetched tip added to opts.Onto as a known subtree commit. The rejoin
// merge on headRef records headRef's own split tip; the fetched tip's
// content is not merged into cfg.Dir.
func Pull(ctx context.Context, repo vcs.Repository, cfg Config, headRef, remote, refspec string, opts SplitOptions) (vcs.CommitId, error) {
	if err := repo.Fetch(ctx, remote, refspec); err != nil {
		return vcs.CommitId{}, fmt.Errorf("pull: fetch %s %s: %w", remote, refspec, err)
	}
	fetched, err := repo.Resolve(ctx, "FETCH_HEAD")
	if err != nil {
		return vcs.CommitId{}, fmt.Errorf("pull: resolve FETCH_HEAD: %w", err)
	}
	opts.Rejoin = true
	opts.Onto = append(append([]vcs.CommitId(nil), opts.Onto...), fetched)
	return Split(ctx, repo, cfg, headRef, opts)
}

// Push is split-then-push: it runs Split to build (or reuse) the
// subtree history, then pushes the resulting tip to remote's targetRef.
func Push(ctx context.Context, repo vcs.Repository, cfg Config, headRef, remote, targetRef string, opts SplitOptions) (vcs.CommitId, error) {
	tip, err := Split(ctx, repo, cfg, headRef, opts)
	if err != nil {
		return vcs.CommitId{}, fmt.Errorf("push: split: %w", err)
	}
	if err := repo.UpdateRef(ctx, "refs/subtree-push/"+cfg.Dir, tip); err != nil {
		return vcs.CommitId{}, err
	}
	refspec := fmt.Sprintf("refs/subtree-push/%s:%s", cfg.Dir, targetRef)
	if err := repo.Push(ctx, remote, refspec); err != nil {
		return vcs.CommitId{}, fmt.Errorf("push: %s %s: %w", remote, refspec, err)
	}
	return tip, nil
}
