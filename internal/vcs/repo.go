// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/log"
)

// Repo is a Repository backed by a "git" subprocess run against a checkout
// rooted at Root. Repo is safe only for sequential use; the split engine
// and drivers never call it concurrently (see spec §5).
type Repo struct {
	// Root is the working directory (or bare repository path) git is
	// invoked against via "git -C Root ...".
	Root string
	// Config holds extra "-c key=value" overrides applied to every
	// invocation. Open leaves it empty and cmd/git-subtree has no flag
	// that sets it.
	Config map[string]string
}

var _ Repository = (*Repo)(nil)

// Open returns a Repo rooted at root. It does not itself validate that
// root is a git repository; the first operation will fail informatively if
// not.
func Open(root string) *Repo {
	return &Repo{Root: root}
}

const unitSep = "\x1e"

func (r *Repo) Parents(ctx context.Context, commit CommitId) ([]CommitId, error) {
	out, err := r.git(ctx, nil, "rev-list", "--parents", "-n", "1", commit.Hex())
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return nil, fmt.Errorf("vcs: commit %s not found", commit.Short())
	}
	parents := make([]CommitId, 0, len(fields)-1)
	for _, hex := range fields[1:] {
		id, err := SHA1.Parse(hex)
		if err != nil {
			return nil, err
		}
		parents = append(parents, id)
	}
	return parents, nil
}

func (r *Repo) RootTree(ctx context.Context, commit CommitId) (TreeId, error) {
	out, err := r.git(ctx, nil, "rev-parse", commit.Hex()+"^{tree}")
	if err != nil {
		return "", err
	}
	return TreeId(strings.TrimSpace(string(out))), nil
}

func (r *Repo) Entry(ctx context.Context, commit CommitId, path string) (EntryKind, TreeId, error) {
	path = strings.TrimSuffix(path, "/")
	out, err := r.git(ctx, nil, "ls-tree", commit.Hex(), "--", path)
	if err != nil {
		return EntryNone, "", err
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return EntryNone, "", nil
	}
	// "<mode> <type> <sha>\t<path>"
	tab := strings.IndexByte(line, '\t')
	if tab < 0 {
		return EntryNone, "", fmt.Errorf("vcs: malformed ls-tree output %q", line)
	}
	fields := strings.Fields(line[:tab])
	if len(fields) != 3 {
		return EntryNone, "", fmt.Errorf("vcs: malformed ls-tree output %q", line)
	}
	mode, kind, sha := fields[0], fields[1], fields[2]
	switch {
	case kind == "tree":
		return EntryTree, TreeId(sha), nil
	case mode == "160000":
		return EntrySubmodule, "", nil
	default:
		return EntryOther, "", nil
	}
}

func (r *Repo) Resolve(ctx context.Context, ref string) (CommitId, error) {
	out, err := r.git(ctx, nil, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return CommitId{}, err
	}
	return SHA1.Parse(strings.TrimSpace(string(out)))
}

func (r *Repo) Exists(ctx context.Context, ref string) bool {
	_, err := r.git(ctx, nil, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func (r *Repo) Message(ctx context.Context, commit CommitId) (string, error) {
	out, err := r.git(ctx, nil, "log", "-1", "--format=%B", commit.Hex())
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (r *Repo) CommitMetadata(ctx context.Context, commit CommitId) (Metadata, error) {
	format := strings.Join([]string{"%an", "%ae", "%aI", "%cn", "%ce", "%cI"}, unitSep)
	out, err := r.git(ctx, nil, "log", "-1", "--format="+format, commit.Hex())
	if err != nil {
		return Metadata{}, err
	}
	fields := strings.Split(strings.TrimRight(string(out), "\n"), unitSep)
	if len(fields) != 6 {
		return Metadata{}, fmt.Errorf("vcs: malformed metadata for %s", commit.Short())
	}
	authorDate, err := time.Parse(time.RFC3339, fields[2])
	if err != nil {
		return Metadata{}, fmt.Errorf("vcs: parse author date: %w", err)
	}
	committerDate, err := time.Parse(time.RFC3339, fields[5])
	if err != nil {
		return Metadata{}, fmt.Errorf("vcs: parse committer date: %w", err)
	}
	return Metadata{
		AuthorName:     fields[0],
		AuthorEmail:    fields[1],
		AuthorDate:     authorDate,
		CommitterName:  fields[3],
		CommitterEmail: fields[4],
		CommitterDate:  committerDate,
	}, nil
}

func (r *Repo) IsAncestor(ctx context.Context, a, b CommitId) (bool, error) {
	_, err := r.git(ctx, nil, "merge-base", "--is-ancestor", a.Hex(), b.Hex())
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

func (r *Repo) SelectIndependentTips(ctx context.Context, commits []CommitId) ([]CommitId, error) {
	if len(commits) == 0 {
		return nil, nil
	}
	args := append([]string{"merge-base", "--independent"}, hexAll(commits)...)
	out, err := r.git(ctx, nil, args...)
	if err != nil {
		return nil, err
	}
	var result []CommitId
	for _, hex := range strings.Fields(string(out)) {
		id, err := SHA1.Parse(hex)
		if err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, nil
}

func (r *Repo) CountBetween(ctx context.Context, exclude, include CommitId) (int, error) {
	rangeArg := include.Hex()
	if (exclude != CommitId{}) {
		rangeArg = exclude.Hex() + ".." + include.Hex()
	}
	out, err := r.git(ctx, nil, "rev-list", "--count", rangeArg)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(out)))
}

func (r *Repo) CreateCommit(ctx context.Context, tree TreeId, parents []CommitId, meta Metadata, message string) (CommitId, error) {
	args := []string{"commit-tree", string(tree)}
	for _, p := range parents {
		args = append(args, "-p", p.Hex())
	}
	env := []string{
		"GIT_AUTHOR_NAME=" + meta.AuthorName,
		"GIT_AUTHOR_EMAIL=" + meta.AuthorEmail,
		"GIT_AUTHOR_DATE=" + meta.AuthorDate.Format(time.RFC3339),
		"GIT_COMMITTER_NAME=" + meta.CommitterName,
		"GIT_COMMITTER_EMAIL=" + meta.CommitterEmail,
		"GIT_COMMITTER_DATE=" + meta.CommitterDate.Format(time.RFC3339),
	}
	out, err := r.gitEnv(ctx, strings.NewReader(message), env, args...)
	if err != nil {
		return CommitId{}, err
	}
	return SHA1.Parse(strings.TrimSpace(string(out)))
}

func (r *Repo) UpdateRef(ctx context.Context, name string, commit CommitId) error {
	_, err := r.git(ctx, nil, "update-ref", name, commit.Hex())
	return err
}

func (r *Repo) Merge(ctx context.Context, commit CommitId, strategyOption string) error {
	args := []string{"merge", "--no-edit"}
	if strategyOption != "" {
		args = append(args, "-X", strategyOption)
	}
	args = append(args, commit.Hex())
	_, err := r.git(ctx, nil, args...)
	return err
}

func (r *Repo) Fetch(ctx context.Context, repo, refspec string) error {
	_, err := r.git(ctx, nil, "fetch", repo, refspec)
	return err
}

func (r *Repo) Push(ctx context.Context, repo, refspec string) error {
	_, err := r.git(ctx, nil, "push", repo, refspec)
	return err
}

func (r *Repo) ReadTreeIntoPrefix(ctx context.Context, commit CommitId, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	_, err := r.git(ctx, nil, "read-tree", "--prefix="+prefix, "-u", commit.Hex())
	return err
}

func (r *Repo) WriteTree(ctx context.Context) (TreeId, error) {
	out, err := r.git(ctx, nil, "write-tree")
	if err != nil {
		return "", err
	}
	return TreeId(strings.TrimSpace(string(out))), nil
}

func (r *Repo) ShortHash(ctx context.Context, commit CommitId) string {
	out, err := r.git(ctx, nil, "rev-parse", "--short", commit.Hex())
	if err != nil {
		return commit.Short()
	}
	return strings.TrimSpace(string(out))
}

func (r *Repo) git(ctx context.Context, stdin io.Reader, arg ...string) ([]byte, error) {
	return r.gitEnv(ctx, stdin, nil, arg...)
}

// gitEnv invokes "git -C Root <arg...>", following grit's (*Repo).gitIO
// pattern: config overrides are injected as repeated "-c key=value" flags,
// stdin/stdout are plumbed directly, and stderr is folded into the
// returned error so the driver can surface it without a second round trip.
func (r *Repo) gitEnv(ctx context.Context, stdin io.Reader, env []string, arg ...string) ([]byte, error) {
	args := []string{"-C", r.Root}
	for k, v := range r.Config {
		args = append(args, "-c", k+"="+v)
	}
	args = append(args, arg...)
	cmd := exec.CommandContext(ctx, "git", args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	cmd.Stdin = stdin
	log.Debug.Printf("%s: git %s", r.Root, strings.Join(arg, " "))
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg != "" {
			msg = "\n" + msg
		}
		return nil, fmt.Errorf("%s: git %s: %w%s", r.Root, strings.Join(arg, " "), err, msg)
	}
	return out.Bytes(), nil
}

func hexAll(ids []CommitId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	return out
}
