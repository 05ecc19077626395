// Package index implements the in-memory inverted index. Every write builds a
// new immutable Snapshot that shares all untouched structure with its parent
// and is published with a single atomic pointer swap, so readers never block
// writers and never observe a partially applied document.
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

// ErrStaleVersion is returned when an update carries a version older than
// the one already indexed for the document.
var ErrStaleVersion = errors.New("stale document version")

// Index owns the current-snapshot pointer. Writers are serialized by writeMu;
// readers only touch the pointer.
type Index struct {
	epoch   string
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
	closed  bool
	live    atomic.Int64
	logger  *slog.Logger
}

// New creates an empty index. Each index gets a fresh epoch, so generations
// from different Index values (or processes) are never confused.
func New() *Index {
	idx := &Index{
		epoch:  uuid.NewString(),
		logger: slog.Default().With("component", "inverted-index"),
	}
	idx.current.Store(idx.snapshot(0, &smap[PostingList]{}, &smap[DocEntry]{}, 0, 0))
	return idx
}

func (idx *Index) snapshot(gen uint64, terms *smap[PostingList], docs *smap[DocEntry], liveDocs, totalTokens int64) *Snapshot {
	idx.live.Add(1)
	s := newSnapshot(gen, terms, docs, liveDocs, totalTokens, func() { idx.live.Add(-1) })
	s.epoch = idx.epoch
	return s
}

// Snapshot acquires the current snapshot. The caller must Release it.
func (idx *Index) Snapshot() *Snapshot {
	for {
		snap := idx.current.Load()
		if snap.tryIncRef() {
			return snap
		}
		// Lost a race with a publish that retired snap; the replacement is
		// already stored.
		runtime.Gosched()
	}
}

// Generation is the generation of the current snapshot.
func (idx *Index) Generation() uint64 {
	return idx.current.Load().gen
}

// Epoch identifies this index instance.
func (idx *Index) Epoch() string {
	return idx.epoch
}

// LiveSnapshots counts snapshots that have not yet been retired, including
// the current one.
func (idx *Index) LiveSnapshots() int64 {
	return idx.live.Load()
}

// Begin starts a write transaction. It holds the writer lock until Commit or
// Rollback.
func (idx *Index) Begin() (*Txn, error) {
	idx.writeMu.Lock()
	if idx.closed {
		idx.writeMu.Unlock()
		return nil, fmt.Errorf("index: %w", apperrors.ErrClosed)
	}
	base := idx.current.Load()
	return &Txn{
		idx:         idx,
		base:        base,
		terms:       base.terms.builder(),
		docs:        base.docs.builder(),
		liveDocs:    base.liveDocs,
		totalTokens: base.totalTokens,
	}, nil
}

// Update replaces docID's postings with those computed from tokens.
func (idx *Index) Update(docID string, version int64, tokens []tokenizer.Token) error {
	txn, err := idx.Begin()
	if err != nil {
		return err
	}
	if err := txn.Update(docID, version, tokens); err != nil {
		txn.Rollback()
		return err
	}
	txn.Commit()
	return nil
}

// Delete tombstones docID.
func (idx *Index) Delete(docID string, version int64) error {
	txn, err := idx.Begin()
	if err != nil {
		return err
	}
	if err := txn.Delete(docID, version); err != nil {
		txn.Rollback()
		return err
	}
	txn.Commit()
	return nil
}

// Compact publishes a snapshot without tombstoned documents and their
// postings. It returns the number of documents purged.
func (idx *Index) Compact() (int, error) {
	txn, err := idx.Begin()
	if err != nil {
		return 0, err
	}
	var dead []string
	txn.base.docs.each(func(id string, e DocEntry) bool {
		if e.Deleted {
			dead = append(dead, id)
		}
		return true
	})
	if len(dead) == 0 {
		txn.Rollback()
		return 0, nil
	}
	for _, id := range dead {
		entry, _ := txn.docs.get(id)
		txn.removePostings(id, entry.Terms)
		txn.docs.delete(id)
	}
	txn.changes++
	gen := txn.Commit()
	idx.logger.Info("index compacted", "purged_docs", len(dead), "generation", gen)
	return len(dead), nil
}

// Close rejects further writes. Snapshots already held remain readable.
func (idx *Index) Close() {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()
	idx.closed = true
}

// Txn stages changes against the snapshot current at Begin.
type Txn struct {
	idx         *Index
	base        *Snapshot
	terms       *smapBuilder[PostingList]
	docs        *smapBuilder[DocEntry]
	liveDocs    int64
	totalTokens int64
	changes     int
	done        bool
}

// Update stages docID's new postings, removing any term the previous
// version contributed that the new one does not.
func (t *Txn) Update(docID string, version int64, tokens []tokenizer.Token) error {
	if docID == "" {
		return fmt.Errorf("index update: %w: empty document id", apperrors.ErrInvalidInput)
	}
	old, exists := t.docs.get(docID)
	if exists && version <= old.Version {
		return fmt.Errorf("index update %s: %w: have %d, got %d", docID, ErrStaleVersion, old.Version, version)
	}

	fresh := make(map[string]*Posting)
	for _, tok := range tokens {
		p, ok := fresh[tok.Term]
		if !ok {
			p = &Posting{DocID: docID, Positions: make([]int, 0, 4)}
			fresh[tok.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, tok.Position)
	}

	if exists {
		stale := make([]string, 0, len(old.Terms))
		for _, term := range old.Terms {
			if _, keep := fresh[term]; !keep {
				stale = append(stale, term)
			}
		}
		t.removePostings(docID, stale)
		if !old.Deleted {
			t.liveDocs--
			t.totalTokens -= int64(old.Length)
		}
	}

	terms := make([]string, 0, len(fresh))
	for term, p := range fresh {
		pl, _ := t.terms.get(term)
		t.terms.set(term, pl.with(*p))
		terms = append(terms, term)
	}
	sort.Strings(terms)

	t.docs.set(docID, DocEntry{
		Version: version,
		Length:  len(tokens),
		Terms:   terms,
	})
	t.liveDocs++
	t.totalTokens += int64(len(tokens))
	t.changes++
	return nil
}

// Delete stages a tombstone for docID. Unknown or already deleted ids are a
// no-op.
func (t *Txn) Delete(docID string, version int64) error {
	old, exists := t.docs.get(docID)
	if !exists || old.Deleted {
		return nil
	}
	if version <= old.Version {
		return fmt.Errorf("index delete %s: %w: have %d, got %d", docID, ErrStaleVersion, old.Version, version)
	}
	old.Deleted = true
	old.Version = version
	t.docs.set(docID, old)
	t.liveDocs--
	t.totalTokens -= int64(old.Length)
	t.changes++
	return nil
}

func (t *Txn) removePostings(docID string, terms []string) {
	for _, term := range terms {
		pl, ok := t.terms.get(term)
		if !ok {
			continue
		}
		next, removed := pl.without(docID)
		if !removed {
			continue
		}
		if len(next) == 0 {
			t.terms.delete(term)
		} else {
			t.terms.set(term, next)
		}
	}
}

// Commit publishes the staged snapshot and returns its generation. A
// transaction without changes publishes nothing.
func (t *Txn) Commit() uint64 {
	if t.done {
		return t.base.gen
	}
	t.done = true
	defer t.idx.writeMu.Unlock()
	if t.changes == 0 {
		return t.base.gen
	}
	terms, docs := t.terms.build(), t.docs.build()
	next := t.idx.snapshot(t.base.gen+1, terms, docs, t.liveDocs, t.totalTokens)
	t.idx.current.Store(next)
	t.base.Release()
	return next.gen
}

// Rollback discards staged changes. Calling it after Commit is a no-op.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.idx.writeMu.Unlock()
}
