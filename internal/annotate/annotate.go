// Package annotate extracts and classifies the git-subtree-* trailers
// embedded in commit messages (spec §3 "Annotation trailers", §4.1).
package annotate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/grailbio/base/log"

	"github.com/vcs-tools/gitsubtree/internal/store"
	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Record holds the trailer fields found in a commit message. Fields are
// zero when absent.
type Record struct {
	Dir      string
	Mainline vcs.CommitId
	Split    vcs.CommitId

	hasMainline bool
	hasSplit    bool
}

// HasSplit reports whether a well-formed git-subtree-split trailer was
// present.
func (r Record) HasSplit() bool { return r.hasSplit }

// HasMainline reports whether a well-formed git-subtree-mainline trailer
// was present.
func (r Record) HasMainline() bool { return r.hasMainline }

var (
	dirRe      = regexp.MustCompile(`(?m)^git-subtree-dir:\s*(.+?)\s*$`)
	mainlineRe = regexp.MustCompile(`(?m)^git-subtree-mainline:\s*([0-9a-fA-F]+)\s*$`)
	splitRe    = regexp.MustCompile(`(?m)^git-subtree-split:\s*([0-9a-fA-F]+)\s*$`)
)

// Parse extracts the trailers from a commit message. The boolean result is
// false if no git-subtree-dir trailer is present, if no well-formed
// git-subtree-split trailer is present, or if a split or mainline hash does
// not parse as a commit id (spec §4.1: "otherwise the record is classified
// as malformed and ignored").
func Parse(message string) (Record, bool) {
	dirMatch := dirRe.FindStringSubmatch(message)
	if dirMatch == nil {
		return Record{}, false
	}
	rec := Record{Dir: strings.TrimRight(dirMatch[1], "/")}
	if m := mainlineRe.FindStringSubmatch(message); m != nil {
		id, err := vcs.SHA1.Parse(m[1])
		if err != nil {
			return Record{}, false
		}
		rec.Mainline = id
		rec.hasMainline = true
	}
	m := splitRe.FindStringSubmatch(message)
	if m == nil {
		return Record{}, false
	}
	id, err := vcs.SHA1.Parse(m[1])
	if err != nil {
		return Record{}, false
	}
	rec.Split = id
	rec.hasSplit = true
	return rec, true
}

// Kind is the classification assigned to a well-formed trailer record, once
// compared against the repository state (spec §4.1).
type Kind int

const (
	// KindAdd means mainline did not yet contain dir at the mainline
	// commit named in the trailer.
	KindAdd Kind = iota
	// KindRejoin means the subdirectory tree of mainline equals the root
	// tree of split.
	KindRejoin
	// KindSquash means the record carries only {dir, split}, no mainline.
	KindSquash
	// KindCrossSubtreeMerge means the trailer refers to some other
	// subtree merge, informational only.
	KindCrossSubtreeMerge
)

// Classify disambiguates a well-formed record per spec §4.1. mainlineHasDir
// reports whether rec.Mainline's tree contains dir; dirTree and
// splitRootTree are the subdirectory tree of mainline and the root tree of
// split, respectively (only meaningful when rec.HasMainline()).
func Classify(rec Record, mainlineHasDir bool, dirTree, splitRootTree vcs.TreeId) Kind {
	if !rec.HasMainline() {
		return KindSquash
	}
	if !mainlineHasDir {
		return KindAdd
	}
	if dirTree == splitRootTree {
		return KindRejoin
	}
	return KindCrossSubtreeMerge
}

// Finding is a pre-load seed: a cache mapping the pre-load pass wants
// installed in the store before traversal begins.
type Finding struct {
	Commit vcs.CommitId
	Value  store.Value
}

// Classifier resolves a well-formed, mainline-bearing record to a Kind by
// consulting the repository: whether rec.Mainline's tree contains dir, and
// whether that subdirectory tree equals rec.Split's root tree.
type Classifier func(ctx context.Context, rec Record) (Kind, error)

// RepoClassifier builds the Classifier backed by repo for directory dir.
func RepoClassifier(repo vcs.Repository, dir string) Classifier {
	return func(ctx context.Context, rec Record) (Kind, error) {
		if !rec.HasMainline() {
			return KindSquash, nil
		}
		kind, mainlineDirTree, err := repo.Entry(ctx, rec.Mainline, dir)
		if err != nil {
			return 0, err
		}
		if kind != vcs.EntryTree {
			return KindAdd, nil
		}
		splitRoot, err := repo.RootTree(ctx, rec.Split)
		if err != nil {
			return 0, err
		}
		if mainlineDirTree == splitRoot {
			return KindRejoin, nil
		}
		return KindCrossSubtreeMerge, nil
	}
}

// PreLoad scans mainline history reachable from tip for well-formed
// git-subtree-dir trailers matching dir, seeding cache findings per spec
// §4.1. grep, when non-empty, is a regexp matched against each candidate
// commit's message (the host VCS's own "--grep" does the equivalent
// filtering for `git log`); an empty grep walks the full history.
func PreLoad(ctx context.Context, repo vcs.Repository, tip vcs.CommitId, dir, grep string, classify Classifier) ([]Finding, error) {
	var grepRe *regexp.Regexp
	if grep != "" {
		var err error
		grepRe, err = regexp.Compile(grep)
		if err != nil {
			return nil, fmt.Errorf("annotate: invalid --grep pattern %q: %w", grep, err)
		}
	}
	commits, err := walkHistory(ctx, repo, tip)
	if err != nil {
		return nil, err
	}
	dir = strings.TrimRight(dir, "/")
	var findings []Finding
	for _, c := range commits {
		msg, err := repo.Message(ctx, c)
		if err != nil {
			return nil, err
		}
		if grepRe != nil && !grepRe.MatchString(msg) {
			continue
		}
		rec, ok := Parse(msg)
		if !ok || rec.Dir != dir {
			continue
		}
		kind, err := classify(ctx, rec)
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindSquash:
			findings = append(findings, Finding{Commit: c, Value: store.Mapped(rec.Split)})
		case KindAdd:
			log.Debug.Printf("annotate: %s: add marker, mainline %s has no %s yet", c.Short(), rec.Mainline.Short(), dir)
			findings = append(findings, Finding{Commit: rec.Mainline, Value: store.NoTree})
		case KindRejoin:
			findings = append(findings, Finding{Commit: rec.Mainline, Value: store.Mapped(rec.Split)})
		case KindCrossSubtreeMerge:
			// Informational only; record nothing (spec §4.1).
		}
		if rec.HasSplit() {
			findings = append(findings, Finding{Commit: rec.Split, Value: store.Mapped(rec.Split)})
		}
	}
	return findings, nil
}

func walkHistory(ctx context.Context, repo vcs.Repository, tip vcs.CommitId) ([]vcs.CommitId, error) {
	seen := make(map[vcs.CommitId]bool)
	var order []vcs.CommitId
	stack := []vcs.CommitId{tip}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[c] {
			continue
		}
		seen[c] = true
		order = append(order, c)
		parents, err := repo.Parents(ctx, c)
		if err != nil {
			return nil, err
		}
		stack = append(stack, parents...)
	}
	return order, nil
}
