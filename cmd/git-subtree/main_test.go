package main_test

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
)

var (
	tracecmd  = flag.Bool("tracecmd", false, "trace commands")
	nocleanup = flag.Bool("nocleanup", false, "don't clean up test temp directories")
)

// TestAddThenSplit drives spec §8 scenario 1: add a subtree, then split it
// back out, and check the synthesized subject lines against the real git
// binary rather than a fake.
func TestAddThenSplit(t *testing.T) {
	dir, cleanup := temp(t)
	defer cleanup()
	var g subtree
	g.Build(t)

	m, s1 := setupSubtreeRemote(t, dir)

	g.Run(t, string(m), "add", "--prefix=sub", "subremote/master")

	want := fmt.Sprintf("Add 'sub/' from commit '%s'", m.Short(t, s1))
	require(t, m.Subject(t, "HEAD") == want, "add subject = %q, want %q", m.Subject(t, "HEAD"), want)

	// Nothing changed sub/ since the add, so the split tip should be the
	// original subtree commit itself: copyOrSkip reuses a tree-identical
	// parent instead of synthesizing a redundant copy (spec §4.7).
	tip := g.Run(t, string(m), "split", "--prefix=sub")
	require(t, tip == s1, "split tip = %s, want original subtree commit %s", tip, s1)
}

// TestAddSquash drives spec §8 scenario 2: the same add with --squash,
// which must name the original subtree tip in the merge subject, not the
// synthesized squash commit.
func TestAddSquash(t *testing.T) {
	dir, cleanup := temp(t)
	defer cleanup()
	var g subtree
	g.Build(t)

	m, s1 := setupSubtreeRemote(t, dir)

	g.Run(t, string(m), "add", "--prefix=sub", "--squash", "subremote/master")

	want := fmt.Sprintf("Merge commit '%s' as 'sub'", m.Short(t, s1))
	got := m.Subject(t, "HEAD")
	require(t, strings.HasPrefix(got, want), "squash add subject = %q, want prefix %q", got, want)
}

// TestSplitAfterMixedChanges drives spec §8 scenario 3: two mainline-only
// changes and one subtree-only change after an add. The split tip's history
// must contain exactly the commits that actually touched the subdirectory.
func TestSplitAfterMixedChanges(t *testing.T) {
	dir, cleanup := temp(t)
	defer cleanup()
	var g subtree
	g.Build(t)

	m, _ := setupSubtreeRemote(t, dir)
	g.Run(t, string(m), "add", "--prefix=sub", "subremote/master")

	m.WriteFile(t, "outside1.txt", "mainline only 1")
	m.Commit(t, "mainline only 1")

	m.WriteFile(t, "sub/file.txt", "subtree touch")
	m.Commit(t, "touch the subtree")

	m.WriteFile(t, "outside2.txt", "mainline only 2")
	m.Commit(t, "mainline only 2")

	tip := g.Run(t, string(m), "split", "--prefix=sub")
	count := m.GitOutput(t, "rev-list", "--count", tip)
	require(t, count == "2", "split history has %s commits, want 2 (the add content plus the one real touch)", count)
}

// TestSplitBranchFlag drives spec §8 scenario 4: --branch=<new> must point
// at the synthesized split tip.
func TestSplitBranchFlag(t *testing.T) {
	dir, cleanup := temp(t)
	defer cleanup()
	var g subtree
	g.Build(t)

	m, _ := setupSubtreeRemote(t, dir)
	g.Run(t, string(m), "add", "--prefix=sub", "subremote/master")

	tip := g.Run(t, string(m), "split", "--prefix=sub", "--branch=refs/heads/sub-split")
	branchTip := m.GitOutput(t, "rev-parse", "refs/heads/sub-split")
	require(t, branchTip == tip, "branch tip = %s, want %s", branchTip, tip)
}

// TestSplitBranchNonAncestorFails drives spec §8 scenario 5: --branch
// pointing at a ref that is not an ancestor of the new split tip must fail
// with the exact wording the spec mandates.
func TestSplitBranchNonAncestorFails(t *testing.T) {
	dir, cleanup := temp(t)
	defer cleanup()
	var g subtree
	g.Build(t)

	m, _ := setupSubtreeRemote(t, dir)
	g.Run(t, string(m), "add", "--prefix=sub", "subremote/master")

	m.Git(t, "update-ref", "refs/heads/sub-split", m.GitOutput(t, "commit-tree", "-m", "unrelated", m.GitOutput(t, "write-tree")))

	out := g.RunExpectError(t, string(m), "split", "--prefix=sub", "--branch=refs/heads/sub-split")
	want := "Branch 'refs/heads/sub-split' is not an ancestor of commit"
	require(t, strings.Contains(out, want), "error output %q does not contain %q", out, want)
	require(t, regexp.MustCompile(regexp.QuoteMeta(want)+` '[0-9a-f]+'\.`).MatchString(out), "error output %q missing quoted commit and trailing period", out)
}

// TestRejoinLoop drives spec §8 scenario 6: add, two split+rejoin cycles
// with interleaved commits on both sides, then a final split whose history
// contains exactly the subdirectory-touching commits and no rejoin markers.
func TestRejoinLoop(t *testing.T) {
	dir, cleanup := temp(t)
	defer cleanup()
	var g subtree
	g.Build(t)

	m, _ := setupSubtreeRemote(t, dir)
	g.Run(t, string(m), "add", "--prefix=sub", "subremote/master")

	m.WriteFile(t, "sub/file.txt", "touch 1")
	m.Commit(t, "touch 1")
	g.Run(t, string(m), "split", "--prefix=sub", "--rejoin")

	m.WriteFile(t, "outside.txt", "mainline interleave")
	m.Commit(t, "mainline interleave")

	m.WriteFile(t, "sub/file.txt", "touch 2")
	m.Commit(t, "touch 2")
	g.Run(t, string(m), "split", "--prefix=sub", "--rejoin")

	tip := g.Run(t, string(m), "split", "--prefix=sub")

	markers := m.GitOutput(t, "log", tip, "--grep=git-subtree-mainline", "--format=%H")
	require(t, markers == "", "rejoin markers leaked into split history: %s", markers)

	splitContent := m.GitOutput(t, "show", tip+":file.txt")
	mainContent := m.GitOutput(t, "show", "HEAD:sub/file.txt")
	require(t, splitContent == mainContent, "split tip content %q != mainline sub/ content %q", splitContent, mainContent)
}

// setupSubtreeRemote builds a one-commit subtree repository, pushes it to a
// bare remote, and fetches that remote into a fresh mainline repository so
// its tip is resolvable as subremote/master. Returns the mainline repo and
// the subtree's original commit id (S1 in spec §8's naming).
func setupSubtreeRemote(t *testing.T, dir string) (m repo, s1 string) {
	t.Helper()

	subBare := filepath.Join(dir, "sub.git")
	run(t, "git", "init", "--bare", subBare)

	sub := repo(filepath.Join(dir, "sub-work"))
	sub.Init(t)
	sub.WriteFile(t, "README", "subtree content")
	s1 = sub.Commit(t, "S1")
	sub.Git(t, "remote", "add", "origin", subBare)
	sub.Git(t, "push", "origin", "HEAD:master")

	m = repo(filepath.Join(dir, "main"))
	m.Init(t)
	m.WriteFile(t, "main.txt", "mainline content")
	m.Commit(t, "M1")
	m.Git(t, "remote", "add", "subremote", subBare)
	m.Git(t, "fetch", "subremote")

	return m, s1
}

func temp(t *testing.T) (dir string, cleanup func()) {
	t.Helper()
	dir, cleanup = testutil.TempDir(t, "", "")
	if *nocleanup {
		log.Printf("%s dir: %v", t.Name(), dir)
		cleanup = func() {}
	}
	return dir, cleanup
}

func require(t *testing.T, ok bool, format string, args ...interface{}) {
	t.Helper()
	if !ok {
		t.Fatalf(format, args...)
	}
}

type repo string

func (r repo) Init(t *testing.T) {
	t.Helper()
	if err := os.MkdirAll(string(r), 0777); err != nil {
		t.Fatalf("mkdir %s: %v", r, err)
	}
	r.Git(t, "init")
	r.Git(t, "config", "user.email", "you@example.com")
	r.Git(t, "config", "user.name", "your name")
}

func (r repo) Git(t *testing.T, arg ...string) {
	t.Helper()
	run(t, "git", append([]string{"-C", string(r)}, arg...)...)
}

// GitOutput is like Git but returns the command's trimmed stdout, for
// reading back commit hashes, subjects, and ref values.
func (r repo) GitOutput(t *testing.T, arg ...string) string {
	t.Helper()
	return runOutput(t, exec.Command("git", append([]string{"-C", string(r)}, arg...)...))
}

func (r repo) Subject(t *testing.T, rev string) string {
	t.Helper()
	return r.GitOutput(t, "log", "-1", "--format=%s", rev)
}

func (r repo) Short(t *testing.T, rev string) string {
	t.Helper()
	return r.GitOutput(t, "rev-parse", "--short", rev)
}

func (r repo) WriteFile(t *testing.T, path, content string) {
	t.Helper()
	full := filepath.Join(string(r), path)
	if err := os.MkdirAll(filepath.Dir(full), 0777); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(full), err)
	}
	if err := ioutil.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("%s: write %s: %v", r, full, err)
	}
}

func (r repo) Commit(t *testing.T, msg string) string {
	t.Helper()
	r.Git(t, "add", ".")
	r.Git(t, "commit", "-m", msg)
	return r.GitOutput(t, "rev-parse", "HEAD")
}

// subtree wraps the built git-subtree binary under test.
type subtree string

func (g *subtree) Build(t *testing.T) {
	t.Helper()
	*g = subtree(testutil.GoExecutable(t, "//go/src/github.com/vcs-tools/gitsubtree/cmd/git-subtree"))
}

func (g subtree) Run(t *testing.T, dir string, arg ...string) string {
	t.Helper()
	cmd := exec.Command(string(g), arg...)
	cmd.Dir = dir
	return runOutput(t, cmd)
}

// RunExpectError runs the binary expecting a non-zero exit, returning its
// combined output for the caller to inspect.
func (g subtree) RunExpectError(t *testing.T, dir string, arg ...string) string {
	t.Helper()
	cmd := exec.Command(string(g), arg...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("%s %v: expected failure, got output:\n%s", cmd.Path, cmd.Args, out)
	}
	return string(out)
}

func run(t *testing.T, name string, arg ...string) {
	t.Helper()
	runOutput(t, exec.Command(name, arg...))
}

func runOutput(t *testing.T, cmd *exec.Cmd) string {
	t.Helper()
	if *tracecmd {
		log.Printf("run %s %v", cmd.Path, cmd.Args)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v: %s\n%s", cmd.Path, cmd.Args, err, out)
	}
	return strings.TrimSpace(string(out))
}
