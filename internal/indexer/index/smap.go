package index

import (
	"math/bits"
	"slices"

	"github.com/cespare/xxhash/v2"
)

const (
	trieBits  = 5
	trieWidth = 1 << trieBits
	trieMask  = trieWidth - 1
	// hashBits is the depth at which a 64-bit hash is used up; nodes below it
	// hold full-hash collisions in a flat list.
	hashBits = 64
)

// smap is an immutable string-keyed map stored as a hash array mapped trie.
// A new version is derived through a builder that copies only the nodes on
// the paths to the keys it writes; every other node stays shared with the
// parent version.
type smap[V any] struct {
	root *trieNode[V]
	size int
}

type trieEntry[V any] struct {
	key  string
	hash uint64
	val  V
}

// trieSlot is either a leaf entry or, when sub is set, a child node.
type trieSlot[V any] struct {
	sub *trieNode[V]
	trieEntry[V]
}

type trieNode[V any] struct {
	bitmap uint32
	slots  []trieSlot[V]
	// coll is only used below hashBits.
	coll []trieEntry[V]
	// owner is the builder allowed to mutate this node in place.
	owner *builderToken
}

type builderToken struct{ _ byte }

func hashOf(key string) uint64 {
	return xxhash.Sum64String(key)
}

func slotBit(h uint64, shift uint) (uint32, bool) {
	if shift >= hashBits {
		return 0, false
	}
	return uint32(1) << ((h >> shift) & trieMask), true
}

func (n *trieNode[V]) pos(bit uint32) int {
	return bits.OnesCount32(n.bitmap & (bit - 1))
}

func (m *smap[V]) get(key string) (V, bool) {
	var zero V
	h := hashOf(key)
	n := m.root
	for shift := uint(0); n != nil; shift += trieBits {
		bit, ok := slotBit(h, shift)
		if !ok {
			for _, e := range n.coll {
				if e.key == key {
					return e.val, true
				}
			}
			return zero, false
		}
		if n.bitmap&bit == 0 {
			return zero, false
		}
		s := &n.slots[n.pos(bit)]
		if s.sub != nil {
			n = s.sub
			continue
		}
		if s.key == key {
			return s.val, true
		}
		return zero, false
	}
	return zero, false
}

func (m *smap[V]) len() int {
	return m.size
}

// each visits entries in unspecified order until fn returns false.
func (m *smap[V]) each(fn func(key string, v V) bool) {
	if m.root != nil {
		m.root.each(fn)
	}
}

func (n *trieNode[V]) each(fn func(key string, v V) bool) bool {
	for _, e := range n.coll {
		if !fn(e.key, e.val) {
			return false
		}
	}
	for i := range n.slots {
		s := &n.slots[i]
		if s.sub != nil {
			if !s.sub.each(fn) {
				return false
			}
			continue
		}
		if !fn(s.key, s.val) {
			return false
		}
	}
	return true
}

type smapBuilder[V any] struct {
	m     *smap[V]
	token *builderToken
	// nodes and slots count what the builder has copied from the parent.
	nodes int
	slots int
}

func (m *smap[V]) builder() *smapBuilder[V] {
	return &smapBuilder[V]{
		m:     &smap[V]{root: m.root, size: m.size},
		token: &builderToken{},
	}
}

// editable returns n if this builder already owns it, otherwise a private
// copy.
func (b *smapBuilder[V]) editable(n *trieNode[V]) *trieNode[V] {
	if n == nil {
		return &trieNode[V]{owner: b.token}
	}
	if n.owner == b.token {
		return n
	}
	b.nodes++
	b.slots += len(n.slots) + len(n.coll)
	return &trieNode[V]{
		bitmap: n.bitmap,
		slots:  slices.Clone(n.slots),
		coll:   slices.Clone(n.coll),
		owner:  b.token,
	}
}

func (b *smapBuilder[V]) get(key string) (V, bool) {
	return b.m.get(key)
}

func (b *smapBuilder[V]) set(key string, v V) {
	var added bool
	b.m.root, added = b.insert(b.m.root, 0, trieEntry[V]{key: key, hash: hashOf(key), val: v})
	if added {
		b.m.size++
	}
}

func (b *smapBuilder[V]) insert(n *trieNode[V], shift uint, e trieEntry[V]) (*trieNode[V], bool) {
	n = b.editable(n)
	bit, ok := slotBit(e.hash, shift)
	if !ok {
		for i := range n.coll {
			if n.coll[i].key == e.key {
				n.coll[i].val = e.val
				return n, false
			}
		}
		n.coll = append(n.coll, e)
		return n, true
	}
	pos := n.pos(bit)
	if n.bitmap&bit == 0 {
		n.slots = slices.Insert(n.slots, pos, trieSlot[V]{trieEntry: e})
		n.bitmap |= bit
		return n, true
	}
	s := &n.slots[pos]
	if s.sub != nil {
		var added bool
		s.sub, added = b.insert(s.sub, shift+trieBits, e)
		return n, added
	}
	if s.key == e.key {
		s.val = e.val
		return n, false
	}
	// two keys share this slot: push both one level down
	sub, _ := b.insert(nil, shift+trieBits, s.trieEntry)
	sub, _ = b.insert(sub, shift+trieBits, e)
	n.slots[pos] = trieSlot[V]{sub: sub}
	return n, true
}

func (b *smapBuilder[V]) delete(key string) {
	if _, ok := b.m.get(key); !ok {
		return
	}
	b.m.root = b.remove(b.m.root, 0, key, hashOf(key))
	b.m.size--
}

// remove deletes a key known to be present and returns the replacement for
// n, which is nil when n ends up empty.
func (b *smapBuilder[V]) remove(n *trieNode[V], shift uint, key string, h uint64) *trieNode[V] {
	n = b.editable(n)
	bit, ok := slotBit(h, shift)
	if !ok {
		n.coll = slices.DeleteFunc(n.coll, func(e trieEntry[V]) bool { return e.key == key })
		if len(n.coll) == 0 {
			return nil
		}
		return n
	}
	pos := n.pos(bit)
	s := &n.slots[pos]
	if s.sub == nil {
		n.slots = slices.Delete(n.slots, pos, pos+1)
		n.bitmap &^= bit
		if len(n.slots) == 0 {
			return nil
		}
		return n
	}
	sub := b.remove(s.sub, shift+trieBits, key, h)
	switch {
	case sub == nil:
		n.slots = slices.Delete(n.slots, pos, pos+1)
		n.bitmap &^= bit
		if len(n.slots) == 0 {
			return nil
		}
	case len(sub.coll) == 1 && len(sub.slots) == 0:
		n.slots[pos] = trieSlot[V]{trieEntry: sub.coll[0]}
	case len(sub.slots) == 1 && sub.slots[0].sub == nil && len(sub.coll) == 0:
		n.slots[pos] = trieSlot[V]{trieEntry: sub.slots[0].trieEntry}
	default:
		s.sub = sub
	}
	return n
}

// copied reports how many parent nodes the builder has copied.
func (b *smapBuilder[V]) copied() int {
	return b.nodes
}

// copiedSlots reports how many parent entries and child links the builder
// has copied.
func (b *smapBuilder[V]) copiedSlots() int {
	return b.slots
}

func (b *smapBuilder[V]) build() *smap[V] {
	m := b.m
	b.m = nil
	return m
}
