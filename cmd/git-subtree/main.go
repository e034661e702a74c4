// Command git-subtree projects a subdirectory of a repository into its
// own commit history, and injects a subtree's history back into a
// subdirectory, using the host git binary found on PATH as its only
// storage and graph primitive.
//
// Usage:
//
//	git-subtree add    --prefix=<dir> <commit>
//	git-subtree merge  --prefix=<dir> <commit>
//	git-subtree split  --prefix=<dir> [split-group flags]
//	git-subtree pull   --prefix=<dir> <repository> <ref>
//	git-subtree push   --prefix=<dir> <repository> <ref>
//
// Split-group flags: --annotate=<prefix>, --branch=<ref>, --ignore-joins,
// --onto=<commit> (repeatable), --notree=<commit> (repeatable), --rejoin,
// --remember=<before>:<after> (repeatable), --grep=<pattern>.
// Add/merge-group flags: --squash, --message=<text>.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/log"

	"github.com/vcs-tools/gitsubtree/internal/driver"
	"github.com/vcs-tools/gitsubtree/internal/engine"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
	git-subtree add    --prefix=<dir> <commit>
	git-subtree merge  --prefix=<dir> <commit>
	git-subtree split  --prefix=<dir> [split-group flags]
	git-subtree pull   --prefix=<dir> <repository> <ref>
	git-subtree push   --prefix=<dir> <repository> <ref>`)
	os.Exit(2)
}

// commitList accumulates repeatable flag values such as --onto and
// --notree, parsed lazily against the repository once --prefix and the
// working directory are known.
type commitList []string

func (c *commitList) String() string     { return strings.Join(*c, ",") }
func (c *commitList) Set(v string) error { *c = append(*c, v); return nil }

func main() {
	log.SetPrefix("")
	if len(os.Args) < 2 {
		usage()
	}
	cmdName := os.Args[1]
	args := os.Args[2:]

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	flag.CommandLine = fs
	log.AddFlags()
	prefix := fs.String("prefix", "", "subdirectory to split/add/merge (required)")
	quiet := fs.Bool("quiet", false, "suppress progress output")
	squash := fs.Bool("squash", false, "collapse the subtree range into a single commit")
	message := fs.String("message", "", "override the synthesized commit message")
	annotate := fs.String("annotate", "", "prefix prepended to synthesized split commit messages")
	branch := fs.String("branch", "", "create or update this ref to the split tip")
	ignoreJoins := fs.Bool("ignore-joins", false, "do not classify commits carrying add/rejoin trailers as mainline markers; pre-load and rejoin-merge detection still use prior joins")
	rejoin := fs.Bool("rejoin", false, "merge the split tip back onto the mainline branch")
	grep := fs.String("grep", "", "restrict pre-load scanning to commits matching this pattern")
	var onto, notree, remember commitList
	fs.Var(&onto, "onto", "treat this commit as an existing subtree commit (repeatable)")
	fs.Var(&notree, "notree", "treat this commit as lacking the subdirectory (repeatable)")
	fs.Var(&remember, "remember", "before:after reconciliation for a prior split run (repeatable)")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		usage()
	}

	if *prefix == "" {
		log.Error.Printf("%s: --prefix is required", cmdName)
		usage()
	}

	root, err := os.Getwd()
	if err != nil {
		log.Fatalf("%v", err)
	}
	repo := vcs.Open(root)
	ctx := context.Background()

	cfg := driver.Config{Dir: *prefix, Squash: *squash, Message: *message, Annotate: *annotate, Quiet: *quiet}

	switch cmdName {
	case "add":
		if fs.NArg() != 1 {
			usage()
		}
		subtree := resolve(ctx, repo, fs.Arg(0))
		commit, err := driver.Add(ctx, repo, cfg, "HEAD", subtree)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(commit.Hex())

	case "merge":
		if fs.NArg() != 1 {
			usage()
		}
		subtree := resolve(ctx, repo, fs.Arg(0))
		if err := driver.Merge(ctx, repo, cfg, "HEAD", subtree); err != nil {
			log.Fatalf("%v", err)
		}

	case "split":
		if fs.NArg() != 0 {
			usage()
		}
		opts := driver.SplitOptions{
			Branch:      *branch,
			IgnoreJoins: *ignoreJoins,
			Onto:        resolveAll(ctx, repo, onto),
			NoTree:      resolveAll(ctx, repo, notree),
			Rejoin:      *rejoin,
			Remember:    parseRemember(ctx, repo, remember),
			GrepPreLoad: *grep,
		}
		tip, err := driver.Split(ctx, repo, cfg, "HEAD", opts)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(tip.Hex())

	case "pull":
		if fs.NArg() != 2 {
			usage()
		}
		opts := driver.SplitOptions{
			Branch:      *branch,
			IgnoreJoins: *ignoreJoins,
			Onto:        resolveAll(ctx, repo, onto),
			NoTree:      resolveAll(ctx, repo, notree),
			Remember:    parseRemember(ctx, repo, remember),
			GrepPreLoad: *grep,
		}
		tip, err := driver.Pull(ctx, repo, cfg, "HEAD", fs.Arg(0), fs.Arg(1), opts)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(tip.Hex())

	case "push":
		if fs.NArg() != 2 {
			usage()
		}
		opts := driver.SplitOptions{
			IgnoreJoins: *ignoreJoins,
			Onto:        resolveAll(ctx, repo, onto),
			NoTree:      resolveAll(ctx, repo, notree),
			Remember:    parseRemember(ctx, repo, remember),
			GrepPreLoad: *grep,
		}
		tip, err := driver.Push(ctx, repo, cfg, "HEAD", fs.Arg(0), fs.Arg(1), opts)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(tip.Hex())

	default:
		log.Error.Printf("unknown sub-command %q", cmdName)
		usage()
	}
}

func resolve(ctx context.Context, repo vcs.Repository, ref string) vcs.CommitId {
	id, err := repo.Resolve(ctx, ref)
	if err != nil {
		log.Fatalf("resolve %s: %v", ref, err)
	}
	return id
}

func resolveAll(ctx context.Context, repo vcs.Repository, refs []string) []vcs.CommitId {
	if len(refs) == 0 {
		return nil
	}
	out := make([]vcs.CommitId, len(refs))
	for i, ref := range refs {
		out[i] = resolve(ctx, repo, ref)
	}
	return out
}

func parseRemember(ctx context.Context, repo vcs.Repository, pairs []string) []engine.Remember {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]engine.Remember, len(pairs))
	for i, p := range pairs {
		before, after, ok := strings.Cut(p, ":")
		if !ok {
			log.Fatalf("--remember %q: expected BEFORE:AFTER", p)
		}
		out[i] = engine.Remember{Before: resolve(ctx, repo, before), After: resolve(ctx, repo, after)}
	}
	return out
}
