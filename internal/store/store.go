// Package store implements the split engine's persistent run-scoped state:
// the cache, attributes, and variables tables of spec §3. The hot path is
// three in-memory maps; an optional on-disk backing (via
// github.com/peterbourgon/diskv, the same disk-backed key/value layer
// kubernetes-test-infra's ghproxy/ghcache wires up for its HTTP cache)
// gives crash resilience across runs when the caller supplies a scratch
// directory, per the design notes in spec §9.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/grailbio/base/flock"
	"github.com/peterbourgon/diskv"

	"github.com/vcs-tools/gitsubtree/internal/vcs"
)

// Tag is an attribute name. Only "redo" is defined by the spec.
type Tag string

// TagRedo marks a commit whose cache mapping was inherited from a prior
// split run. Set lets a redo-tagged commit be remapped to itself; nothing
// in this module adds the tag, and the engine has no redo-specific
// recomputation step.
const TagRedo Tag = "redo"

// Kind discriminates the sentinel values a cache entry may hold.
type Kind int

const (
	// KindMapped means the entry holds a real rewritten subtree commit.
	KindMapped Kind = iota
	// KindNoTree is the "notree" sentinel: on the mainline, subdirectory
	// absent.
	KindNoTree
	// KindCounted is the "counted" sentinel: visited by the counter, not
	// yet processed.
	KindCounted
)

// Value is a cache entry: either a sentinel or a real commit id.
type Value struct {
	Kind   Kind
	Commit vcs.CommitId
}

func Mapped(c vcs.CommitId) Value { return Value{Kind: KindMapped, Commit: c} }

var NoTree = Value{Kind: KindNoTree}
var Counted = Value{Kind: KindCounted}

// IsReal reports whether v holds an actual commit mapping (neither notree
// nor counted).
func (v Value) IsReal() bool { return v.Kind == KindMapped }

// ConsistencyError reports a violation of the cache invariants in spec §3:
// setting an entry for a commit that already has a different non-counted
// mapping, outside the redo-reconciliation exception.
type ConsistencyError struct {
	Commit   vcs.CommitId
	Previous Value
	Attempt  Value
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("split is not idempotent: commit %s previously mapped to %s, now computed as %s; "+
		"rerun with --remember %s:%s to reconcile",
		e.Commit.Short(), describe(e.Previous), describe(e.Attempt),
		e.Commit.Hex(), describe(e.Attempt))
}

func describe(v Value) string {
	switch v.Kind {
	case KindNoTree:
		return "notree"
	case KindCounted:
		return "counted"
	default:
		return v.Commit.Hex()
	}
}

// diskRecord is the JSON shape persisted to disk for crash resilience.
// JSON is used purely as a serialization format for a handful of small,
// human-inspectable records; no pack example offers a closer-fit encoder
// for this (see DESIGN.md).
type diskRecord struct {
	Kind   Kind   `json:"kind"`
	Commit string `json:"commit,omitempty"`
}

// Store holds the cache, attributes, and variables tables for one split
// engine run.
type Store struct {
	cache          map[vcs.CommitId]Value
	attributes     map[vcs.CommitId]map[Tag]bool
	latestSplit    *vcs.CommitId
	latestMainline *vcs.CommitId

	dir  string
	disk *diskv.Diskv
	lock *flock.T
}

// New creates a Store. When scratchDir is non-empty, cache entries are
// additionally persisted under it (diskv-backed) so a crashed run can be
// resumed without recomputation; an empty scratchDir keeps the store
// purely in-memory.
func New(scratchDir string) (*Store, error) {
	s := &Store{
		cache:      make(map[vcs.CommitId]Value),
		attributes: make(map[vcs.CommitId]map[Tag]bool),
	}
	if scratchDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(scratchDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create scratch dir: %w", err)
	}
	s.dir = scratchDir
	s.lock = flock.New(scratchDir + ".lock")
	if err := s.lock.Lock(context.Background()); err != nil {
		return nil, fmt.Errorf("store: lock scratch dir: %w", err)
	}
	s.disk = diskv.New(diskv.Options{
		BasePath:     scratchDir + "/cache",
		Transform:    func(string) []string { return nil },
		CacheSizeMax: 0,
	})
	s.loadDisk()
	return s, nil
}

func (s *Store) loadDisk() {
	if s.disk == nil {
		return
	}
	for key := range s.disk.Keys(nil) {
		raw, err := s.disk.Read(key)
		if err != nil {
			continue
		}
		var rec diskRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		id, err := vcs.SHA1.Parse(key)
		if err != nil {
			continue
		}
		v := Value{Kind: rec.Kind}
		if rec.Kind == KindMapped {
			v.Commit, err = vcs.SHA1.Parse(rec.Commit)
			if err != nil {
				continue
			}
		}
		s.cache[id] = v
	}
}

// Close releases the scratch-area lock. On clean shutdown the caller
// should also call Destroy to delete the scratch area, per spec §3
// ("Lifetime").
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// Destroy removes the on-disk scratch area. Called on success and on clean
// shutdown; abandoned (not called) on a cancelled or failed run so a crash
// can be diagnosed or resumed.
func (s *Store) Destroy() error {
	if s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// Get returns the cache entry for commit, if any.
func (s *Store) Get(commit vcs.CommitId) (Value, bool) {
	v, ok := s.cache[commit]
	return v, ok
}

// Set records the cache mapping for commit, enforcing the invariants of
// spec §3: once a real mapping exists it cannot change, except that
// KindCounted may always be overwritten, and the redo tag permits exactly
// one override provided the new value maps commit to itself (identity).
func (s *Store) Set(commit vcs.CommitId, v Value) error {
	prev, ok := s.cache[commit]
	if ok && prev.Kind != KindCounted && !valueEqual(prev, v) {
		if s.HasTag(commit, TagRedo) && v.Kind == KindMapped && v.Commit == commit {
			s.cache[commit] = v
			s.persist(commit, v)
			return nil
		}
		return &ConsistencyError{Commit: commit, Previous: prev, Attempt: v}
	}
	s.cache[commit] = v
	s.persist(commit, v)
	return nil
}

func valueEqual(a, b Value) bool {
	return a.Kind == b.Kind && (a.Kind != KindMapped || a.Commit == b.Commit)
}

func (s *Store) persist(commit vcs.CommitId, v Value) {
	if s.disk == nil {
		return
	}
	rec := diskRecord{Kind: v.Kind}
	if v.Kind == KindMapped {
		rec.Commit = v.Commit.Hex()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = s.disk.Write(commit.Hex(), raw)
}

// Mappings returns every cache entry whose value is neither notree nor
// counted, i.e. the known subtree commits — the candidate set for the
// ancestor test of spec §4.5.
func (s *Store) Mappings() []vcs.CommitId {
	var out []vcs.CommitId
	for id, v := range s.cache {
		if v.IsReal() {
			out = append(out, id)
		}
	}
	return out
}

// Tag adds tag to commit's attribute set.
func (s *Store) Tag(commit vcs.CommitId, tag Tag) {
	set, ok := s.attributes[commit]
	if !ok {
		set = make(map[Tag]bool)
		s.attributes[commit] = set
	}
	set[tag] = true
}

// HasTag reports whether commit carries tag.
func (s *Store) HasTag(commit vcs.CommitId, tag Tag) bool {
	return s.attributes[commit][tag]
}

// LatestSplit returns the latest rewritten subtree commit set by the
// processor, if any.
func (s *Store) LatestSplit() (vcs.CommitId, bool) {
	if s.latestSplit == nil {
		return vcs.CommitId{}, false
	}
	return *s.latestSplit, true
}

// SetLatestSplit records the latest rewritten subtree commit of this run.
func (s *Store) SetLatestSplit(c vcs.CommitId) { s.latestSplit = &c }

// LatestMainline returns the latest processed mainline commit, with or
// without the subtree, if any.
func (s *Store) LatestMainline() (vcs.CommitId, bool) {
	if s.latestMainline == nil {
		return vcs.CommitId{}, false
	}
	return *s.latestMainline, true
}

// SetLatestMainline records the latest processed mainline commit.
func (s *Store) SetLatestMainline(c vcs.CommitId) { s.latestMainline = &c }
