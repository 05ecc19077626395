package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

// Store is the versioned document store. Writers call Lock for the id, then
// either Put/Delete or the two-phase Stage → Commit/Abort sequence. The
// store mutex only guards the in-memory maps and is never held during
// backend I/O.
type Store struct {
	backend Backend
	locks   *keyedMutex
	logger  *slog.Logger

	mu   sync.RWMutex
	docs map[string][]Document
}

func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		locks:   newKeyedMutex(),
		logger:  slog.Default().With("component", "document-store"),
		docs:    make(map[string][]Document),
	}
}

// Load rebuilds the in-memory view by replaying the backend.
func (s *Store) Load(ctx context.Context) error {
	docs := make(map[string][]Document)
	var records, skipped int
	err := s.backend.Replay(ctx, func(rec Record) error {
		records++
		id := rec.Document.ID
		versions := docs[id]
		switch rec.Op {
		case OpPut, OpDelete:
			if len(versions) > 0 && rec.Document.Version <= versions[len(versions)-1].Version {
				skipped++
				return nil
			}
			doc := rec.Document
			doc.Deleted = rec.Op == OpDelete
			docs[id] = append(versions, doc)
		case OpAbort:
			if n := len(versions); n > 0 && versions[n-1].Version == rec.Document.Version {
				docs[id] = versions[:n-1]
				if n == 1 {
					delete(docs, id)
				}
			}
		default:
			return fmt.Errorf("unknown record op %q for document %s", rec.Op, id)
		}
		return nil
	})
	if err != nil {
		return apperrors.StorageFailure("replaying document log", err)
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()

	s.logger.Info("document store loaded",
		"records", records,
		"documents", len(docs),
		"skipped", skipped,
	)
	return nil
}

// Lock serializes writers of one document id. The returned func releases the
// lock and is safe to call more than once.
func (s *Store) Lock(id string) (unlock func()) {
	return s.locks.lock(id)
}

// Stage assigns doc the next version and durably appends it without making it
// visible. The caller must hold Lock(doc.ID) until Commit or Abort.
func (s *Store) Stage(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		return Document{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document id is required")
	}
	head, _ := s.head(doc.ID)
	doc.Version = head.Version + 1
	doc.Deleted = false
	doc.Metadata = maps.Clone(doc.Metadata)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if err := s.backend.Append(ctx, Record{Op: OpPut, Document: doc, At: time.Now().UTC()}); err != nil {
		return Document{}, apperrors.StorageFailure("appending document "+doc.ID, err)
	}
	return doc, nil
}

// StageDelete durably appends a tombstone for the latest live version of id.
// It returns ErrNotFound when there is nothing to delete.
func (s *Store) StageDelete(ctx context.Context, id string) (Document, error) {
	head, ok := s.head(id)
	if !ok || head.Deleted {
		return Document{}, apperrors.NotFound(id, 0)
	}
	tomb := Document{
		ID:        id,
		Version:   head.Version + 1,
		Deleted:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.backend.Append(ctx, Record{Op: OpDelete, Document: tomb, At: tomb.CreatedAt}); err != nil {
		return Document{}, apperrors.StorageFailure("appending tombstone "+id, err)
	}
	return tomb, nil
}

// Commit makes a staged version visible to readers.
func (s *Store) Commit(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = append(s.docs[doc.ID], doc)
}

// Abort durably cancels a staged version so that replay skips it. The
// in-memory view never saw the version.
func (s *Store) Abort(ctx context.Context, doc Document) error {
	rec := Record{
		Op:       OpAbort,
		Document: Document{ID: doc.ID, Version: doc.Version},
		At:       time.Now().UTC(),
	}
	if err := s.backend.Append(ctx, rec); err != nil {
		return apperrors.StorageFailure("aborting document "+doc.ID, err)
	}
	return nil
}

// Put stores doc as a new version and returns that version.
func (s *Store) Put(ctx context.Context, doc Document) (int64, error) {
	unlock := s.Lock(doc.ID)
	defer unlock()
	staged, err := s.Stage(ctx, doc)
	if err != nil {
		return 0, err
	}
	s.Commit(staged)
	return staged.Version, nil
}

// Delete tombstones id. It reports false when id has no live version.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.Lock(id)
	defer unlock()
	tomb, err := s.StageDelete(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.Commit(tomb)
	return true, nil
}

// Get returns version of id, or the latest committed version when version is
// zero. Tombstones are reported as not found.
func (s *Store) Get(id string, version int64) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.docs[id]
	if len(versions) == 0 {
		return Document{}, apperrors.NotFound(id, version)
	}
	var doc Document
	if version == 0 {
		doc = versions[len(versions)-1]
	} else {
		i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= version })
		if i == len(versions) || versions[i].Version != version {
			return Document{}, apperrors.NotFound(id, version)
		}
		doc = versions[i]
	}
	if doc.Deleted {
		return Document{}, apperrors.NotFound(id, version)
	}
	return clone(doc), nil
}

// Exists reports whether id has a live latest version.
func (s *Store) Exists(id string) bool {
	head, ok := s.head(id)
	return ok && !head.Deleted
}

// LatestVersion is the highest committed version of id, tombstones included,
// or 0 for an unknown id.
func (s *Store) LatestVersion(id string) int64 {
	head, _ := s.head(id)
	return head.Version
}

// History returns every committed version of id in ascending order,
// tombstones included.
func (s *Store) History(id string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.docs[id]
	if len(versions) == 0 {
		return nil, apperrors.NotFound(id, 0)
	}
	out := make([]Document, len(versions))
	for i, d := range versions {
		out[i] = clone(d)
	}
	return out, nil
}

// EachLatest calls fn with the latest live version of every document in id
// order until fn returns false.
func (s *Store) EachLatest(fn func(Document) bool) {
	for _, doc := range s.latest() {
		if !fn(doc) {
			return
		}
	}
}

// EachVersion calls fn with every committed version ordered by id then
// version.
func (s *Store) EachVersion(fn func(Document) error) error {
	s.mu.RLock()
	ids := slices.Sorted(maps.Keys(s.docs))
	all := make([]Document, 0, len(ids))
	for _, id := range ids {
		all = append(all, s.docs[id]...)
	}
	s.mu.RUnlock()
	for _, doc := range all {
		if err := fn(clone(doc)); err != nil {
			return err
		}
	}
	return nil
}

// Len is the number of documents with a live latest version.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, versions := range s.docs {
		if !versions[len(versions)-1].Deleted {
			n++
		}
	}
	return n
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) head(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.docs[id]
	if len(versions) == 0 {
		return Document{}, false
	}
	return versions[len(versions)-1], true
}

func (s *Store) latest() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.docs))
	for _, versions := range s.docs {
		if head := versions[len(versions)-1]; !head.Deleted {
			out = append(out, clone(head))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(d Document) Document {
	d.Metadata = maps.Clone(d.Metadata)
	return d
}
