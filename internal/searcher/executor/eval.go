package executor

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/parser"
)

// evaluator computes the ascending id set matched by an expression. Results
// may include tombstoned ids; the caller filters them.
type evaluator struct {
	snap     *index.Snapshot
	universe []string
}

func (ev *evaluator) eval(n parser.Node) []string {
	switch n := n.(type) {
	case *parser.Term:
		return ev.snap.Lookup(n.Term).DocIDs()
	case *parser.Phrase:
		return ev.phrase(n.Terms)
	case *parser.And:
		return ev.and(n.Children)
	case *parser.Or:
		var out []string
		for _, c := range n.Children {
			out = index.Union(out, ev.eval(c))
		}
		return out
	case *parser.Not:
		return index.Difference(ev.all(), ev.eval(n.Child))
	default:
		return nil
	}
}

// and intersects the positive children and subtracts the negated ones. With
// no positive child the negations apply to every live document.
func (ev *evaluator) and(children []parser.Node) []string {
	var (
		out      []string
		started  bool
		excluded [][]string
	)
	for _, c := range children {
		if not, ok := c.(*parser.Not); ok {
			excluded = append(excluded, ev.eval(not.Child))
			continue
		}
		ids := ev.eval(c)
		if !started {
			out, started = ids, true
		} else {
			out = index.Intersect(out, ids)
		}
		if len(out) == 0 {
			return out
		}
	}
	if !started {
		out = ev.all()
	}
	for _, ex := range excluded {
		out = index.Difference(out, ex)
	}
	return out
}

func (ev *evaluator) phrase(terms []string) []string {
	lists := make([]index.PostingList, len(terms))
	var candidates []string
	for i, term := range terms {
		lists[i] = ev.snap.Lookup(term)
		if i == 0 {
			candidates = lists[i].DocIDs()
		} else {
			candidates = index.Intersect(candidates, lists[i].DocIDs())
		}
		if len(candidates) == 0 {
			return candidates
		}
	}
	out := candidates[:0:0]
	for _, id := range candidates {
		positions := make([][]int, len(lists))
		for i, pl := range lists {
			p, _ := pl.Find(id)
			positions[i] = p.Positions
		}
		if adjacent(positions) {
			out = append(out, id)
		}
	}
	return out
}

// adjacent reports whether some start position p has term i at p+i for every
// i. Position lists are ascending.
func adjacent(positions [][]int) bool {
	for _, start := range positions[0] {
		ok := true
		for i := 1; i < len(positions); i++ {
			want := start + i
			j := sort.SearchInts(positions[i], want)
			if j == len(positions[i]) || positions[i][j] != want {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (ev *evaluator) all() []string {
	if ev.universe == nil {
		ev.universe = ev.snap.LiveDocIDs()
	}
	return ev.universe
}
