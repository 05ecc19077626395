package index

import (
	"sort"
	"sync/atomic"
)

// DocEntry is the index's view of a document: the version whose postings are
// present, its token count and its distinct terms. Deleted entries keep their
// postings until compaction; readers filter them out.
type DocEntry struct {
	Version int64
	Length  int
	Terms   []string
	Deleted bool
}

// Snapshot is an immutable point-in-time view of the index. Readers obtain
// one from Index.Snapshot and must call Release when done.
type Snapshot struct {
	epoch       string
	gen         uint64
	terms       *smap[PostingList]
	docs        *smap[DocEntry]
	liveDocs    int64
	totalTokens int64

	refs   atomic.Int64
	retire func()
}

func newSnapshot(gen uint64, terms *smap[PostingList], docs *smap[DocEntry], liveDocs, totalTokens int64, retire func()) *Snapshot {
	s := &Snapshot{
		gen:         gen,
		terms:       terms,
		docs:        docs,
		liveDocs:    liveDocs,
		totalTokens: totalTokens,
		retire:      retire,
	}
	s.refs.Store(1)
	return s
}

func (s *Snapshot) tryIncRef() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference. The snapshot is retired when the last holder
// releases it.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 && s.retire != nil {
		s.retire()
	}
}

// Generation increases by one with every published write.
func (s *Snapshot) Generation() uint64 {
	return s.gen
}

// Epoch names the Index that published the snapshot. Generation is only
// meaningful together with Epoch.
func (s *Snapshot) Epoch() string {
	return s.epoch
}

// Lookup returns the posting list for an analysed term. The list is shared
// and read-only.
func (s *Snapshot) Lookup(term string) PostingList {
	pl, _ := s.terms.get(term)
	return pl
}

// DocFreq is the number of documents, live or tombstoned, posting term.
func (s *Snapshot) DocFreq(term string) int {
	return len(s.Lookup(term))
}

// Doc returns the index entry for docID.
func (s *Snapshot) Doc(docID string) (DocEntry, bool) {
	return s.docs.get(docID)
}

// IsLive reports whether docID is indexed and not tombstoned.
func (s *Snapshot) IsLive(docID string) bool {
	e, ok := s.docs.get(docID)
	return ok && !e.Deleted
}

// LiveDocs is the number of indexed, non-tombstoned documents.
func (s *Snapshot) LiveDocs() int64 {
	return s.liveDocs
}

// AvgDocLength is the mean token count over live documents.
func (s *Snapshot) AvgDocLength() float64 {
	if s.liveDocs == 0 {
		return 0
	}
	return float64(s.totalTokens) / float64(s.liveDocs)
}

// TermCount is the number of distinct terms with postings.
func (s *Snapshot) TermCount() int {
	return s.terms.len()
}

// LiveDocIDs returns all live document ids in ascending order.
func (s *Snapshot) LiveDocIDs() []string {
	ids := make([]string, 0, s.liveDocs)
	s.docs.each(func(id string, e DocEntry) bool {
		if !e.Deleted {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// Tombstones counts deleted entries still holding postings.
func (s *Snapshot) Tombstones() int {
	return s.docs.len() - int(s.liveDocs)
}
