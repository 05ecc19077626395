package index

import "sort"

// Posting records one document's occurrences of a term.
type Posting struct {
	DocID     string `json:"doc_id"`
	Frequency int    `json:"frequency"`
	Positions []int  `json:"positions"`
}

// PostingList is sorted by DocID ascending. Lists reachable from a published
// Snapshot are shared between snapshots and must not be modified.
type PostingList []Posting

// Find returns the posting for docID using binary search.
func (pl PostingList) Find(docID string) (Posting, bool) {
	i := sort.Search(len(pl), func(i int) bool { return pl[i].DocID >= docID })
	if i < len(pl) && pl[i].DocID == docID {
		return pl[i], true
	}
	return Posting{}, false
}

// DocIDs returns the document ids of the list in order.
func (pl PostingList) DocIDs() []string {
	ids := make([]string, len(pl))
	for i, p := range pl {
		ids[i] = p.DocID
	}
	return ids
}

// with returns a copy of pl where p is inserted, or replaces the posting with
// the same DocID.
func (pl PostingList) with(p Posting) PostingList {
	i := sort.Search(len(pl), func(i int) bool { return pl[i].DocID >= p.DocID })
	if i < len(pl) && pl[i].DocID == p.DocID {
		out := make(PostingList, len(pl))
		copy(out, pl)
		out[i] = p
		return out
	}
	out := make(PostingList, 0, len(pl)+1)
	out = append(out, pl[:i]...)
	out = append(out, p)
	out = append(out, pl[i:]...)
	return out
}

// without returns a copy of pl with docID's posting removed. The second
// result is false when docID was not present (pl is returned as-is).
func (pl PostingList) without(docID string) (PostingList, bool) {
	i := sort.Search(len(pl), func(i int) bool { return pl[i].DocID >= docID })
	if i >= len(pl) || pl[i].DocID != docID {
		return pl, false
	}
	out := make(PostingList, 0, len(pl)-1)
	out = append(out, pl[:i]...)
	out = append(out, pl[i+1:]...)
	return out, true
}

// Intersect merge-intersects two ascending id lists in O(len(a)+len(b)).
func Intersect(a, b []string) []string {
	out := make([]string, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// Union merges two ascending id lists, dropping duplicates.
func Union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = appendUnique(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = appendUnique(out, b[j])
			j++
		default:
			out = appendUnique(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Difference returns the ids of a that are not in b.
func Difference(a, b []string) []string {
	out := make([]string, 0, len(a))
	i, j := 0, 0
	for i < len(a) {
		switch {
		case j >= len(b) || a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] == b[j]:
			i++
			j++
		default:
			j++
		}
	}
	return out
}

func appendUnique(out []string, id string) []string {
	if n := len(out); n > 0 && out[n-1] == id {
		return out
	}
	return append(out, id)
}
