package woot

import (
	"fmt"
	"math/rand"
	"strings"
)

// node is a treap node keyed implicitly by structural position. size and vis
// count the nodes and visible characters in the subtree rooted here.
type node struct {
	c                   Char
	prio                int64
	left, right, parent *node
	size, vis           int
}

func size(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func vis(n *node) int {
	if n == nil {
		return 0
	}
	return n.vis
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (n *node) update() {
	n.size = 1 + size(n.left) + size(n.right)
	n.vis = b2i(n.c.Visible) + vis(n.left) + vis(n.right)
	if n.left != nil {
		n.left.parent = n
	}
	if n.right != nil {
		n.right.parent = n
	}
}

func merge(a, b *node) *node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.prio > b.prio {
		a.right = merge(a.right, b)
		a.update()
		return a
	}
	b.left = merge(a, b.left)
	b.update()
	return b
}

// split returns the first k nodes of n and the rest.
func split(n *node, k int) (*node, *node) {
	if n == nil {
		return nil, nil
	}
	if size(n.left) < k {
		l, r := split(n.right, k-size(n.left)-1)
		n.right = l
		n.update()
		return n, r
	}
	l, r := split(n.left, k)
	n.left = r
	n.update()
	return l, n
}

// next returns the in-order successor of n.
func next(n *node) *node {
	if n.right != nil {
		n = n.right
		for n.left != nil {
			n = n.left
		}
		return n
	}
	for n.parent != nil && n == n.parent.right {
		n = n.parent
	}
	return n.parent
}

// Sequence is the ordered collection of characters, including tombstones,
// bounded by the HEAD and TAIL sentinels. Lookups by id go through an index
// into an order-statistics tree, so positions are found in logarithmic time.
type Sequence struct {
	root  *node
	index map[CharId]*node
	rnd   *rand.Rand
}

func NewSequence() *Sequence {
	s := &Sequence{
		index: make(map[CharId]*node),
		rnd:   rand.New(rand.NewSource(1)),
	}
	s.InsertAt(Char{Id: Head}, 0)
	s.InsertAt(Char{Id: Tail}, 1)
	return s
}

// Len returns the number of characters, sentinels and tombstones included.
func (s *Sequence) Len() int {
	return size(s.root)
}

// VisibleLen returns the number of visible characters.
func (s *Sequence) VisibleLen() int {
	return vis(s.root)
}

func (s *Sequence) Contains(id CharId) bool {
	_, ok := s.index[id]
	return ok
}

// PositionOf returns the structural position of id.
func (s *Sequence) PositionOf(id CharId) (int, bool) {
	n, ok := s.index[id]
	if !ok {
		return -1, false
	}
	return rank(n), true
}

func rank(n *node) int {
	r := size(n.left)
	for cur := n; cur.parent != nil; cur = cur.parent {
		if cur == cur.parent.right {
			r += size(cur.parent.left) + 1
		}
	}
	return r
}

func (s *Sequence) nodeAt(i int) *node {
	n := s.root
	for n != nil {
		ls := size(n.left)
		switch {
		case i < ls:
			n = n.left
		case i == ls:
			return n
		default:
			i -= ls + 1
			n = n.right
		}
	}
	return nil
}

// At returns the character at structural position i.
func (s *Sequence) At(i int) Char {
	n := s.nodeAt(i)
	assert(n != nil, "position ", i, " out of range")
	return n.c
}

// Get returns the character with the given id.
func (s *Sequence) Get(id CharId) (Char, bool) {
	n, ok := s.index[id]
	if !ok {
		return Char{}, false
	}
	return n.c, true
}

// InsertAt splices c in at structural position i. Ids must be unique.
func (s *Sequence) InsertAt(c Char, i int) {
	_, dup := s.index[c.Id]
	assert(!dup, "duplicate id ", c.Id)
	assert(i >= 0 && i <= s.Len(), "position ", i, " out of range")
	n := &node{c: c, prio: s.rnd.Int63()}
	n.update()
	l, r := split(s.root, i)
	s.root = merge(merge(l, n), r)
	s.root.parent = nil
	s.index[c.Id] = n
}

// setVisible updates the visible flag of id and the counts above it. It
// returns false if the flag already had that value.
func (s *Sequence) setVisible(id CharId, v bool) bool {
	n := s.index[id]
	if n.c.Visible == v {
		return false
	}
	n.c.Visible = v
	for cur := n; cur != nil; cur = cur.parent {
		cur.vis = b2i(cur.c.Visible) + vis(cur.left) + vis(cur.right)
	}
	return true
}

// Between returns the characters strictly between left and right in
// structural order. Both must be present.
func (s *Sequence) Between(left, right CharId) ([]Char, error) {
	ln, ok := s.index[left]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrMissingDependency, left)
	}
	rn, ok := s.index[right]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrMissingDependency, right)
	}
	lp, rp := rank(ln), rank(rn)
	if rp-lp <= 1 {
		return nil, nil
	}
	res := make([]Char, 0, rp-lp-1)
	for n := next(ln); n != rn; n = next(n) {
		res = append(res, n.c)
	}
	return res, nil
}

// NthVisible returns the n-th (0-based) visible character.
func (s *Sequence) NthVisible(k int) (Char, bool) {
	if k < 0 {
		return Char{}, false
	}
	n := s.root
	for n != nil {
		lv := vis(n.left)
		if k < lv {
			n = n.left
			continue
		}
		k -= lv
		if n.c.Visible {
			if k == 0 {
				return n.c, true
			}
			k--
		}
		n = n.right
	}
	return Char{}, false
}

// VisiblePrefixCount returns the number of visible characters at or before
// structural position i.
func (s *Sequence) VisiblePrefixCount(i int) int {
	cnt, k := 0, i+1
	n := s.root
	for n != nil && k > 0 {
		ls := size(n.left)
		if k <= ls {
			n = n.left
			continue
		}
		cnt += vis(n.left) + b2i(n.c.Visible)
		k -= ls + 1
		n = n.right
	}
	return cnt
}

// offset returns the number of visible characters strictly before position i.
func (s *Sequence) offset(i int) int {
	if i == 0 {
		return 0
	}
	return s.VisiblePrefixCount(i - 1)
}

// Chars returns all characters in structural order, sentinels included.
func (s *Sequence) Chars() []Char {
	res := make([]Char, 0, s.Len())
	s.each(func(c Char) {
		res = append(res, c)
	})
	return res
}

func (s *Sequence) each(fn func(c Char)) {
	if s.root == nil {
		return
	}
	n := s.root
	for n.left != nil {
		n = n.left
	}
	for ; n != nil; n = next(n) {
		fn(n.c)
	}
}

// Text returns the values of the visible characters in structural order.
func (s *Sequence) Text() string {
	var b strings.Builder
	s.each(func(c Char) {
		if c.Visible {
			b.WriteString(c.Value)
		}
	})
	return b.String()
}
