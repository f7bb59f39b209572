package woot_test

import (
	"testing"

	"github.com/asadovsky/woot/server/woot"
)

func expectPanic(t *testing.T, fn func()) {
	defer func() {
		if recover() == nil {
			fatal(t, "expected panic")
		}
	}()
	fn()
}

func TestIntegrateInsertOffset(t *testing.T) {
	s := woot.NewSequence()
	c := woot.Char{Id: id("1", 0), Value: "c", LeftId: woot.Head, RightId: woot.Tail}
	offset, changed := s.IntegrateInsert(c, woot.Head, woot.Tail)
	eq(t, offset, 0)
	eq(t, changed, true)

	a := woot.Char{Id: id("1", 1), Value: "a", LeftId: woot.Head, RightId: id("1", 0)}
	offset, _ = s.IntegrateInsert(a, woot.Head, id("1", 0))
	eq(t, offset, 0)
	eq(t, s.Text(), "ac")

	// Inserted characters are always visible, whatever the flag says.
	got, _ := s.Get(id("1", 0))
	eq(t, got.Visible, true)
}

func TestIntegrateInsertDuplicate(t *testing.T) {
	s := woot.NewSequence()
	c := woot.Char{Id: id("1", 0), Value: "x", LeftId: woot.Head, RightId: woot.Tail}
	s.IntegrateInsert(c, woot.Head, woot.Tail)
	offset, changed := s.IntegrateInsert(c, woot.Head, woot.Tail)
	eq(t, offset, 0)
	eq(t, changed, false)
	eq(t, s.Len(), 3)

	// A redelivered insert does not resurrect a tombstone.
	s.IntegrateRemove(c.Id)
	_, changed = s.IntegrateInsert(c, woot.Head, woot.Tail)
	eq(t, changed, false)
	eq(t, s.Text(), "")
}

func TestIntegrateRemoveOffset(t *testing.T) {
	s := woot.NewSequence()
	prev := woot.Head
	for i, v := range []string{"a", "b", "c"} {
		c := woot.Char{Id: id("1", i), Value: v, LeftId: prev, RightId: woot.Tail}
		s.IntegrateInsert(c, prev, woot.Tail)
		prev = c.Id
	}
	offset, changed := s.IntegrateRemove(id("1", 1))
	eq(t, offset, 1)
	eq(t, changed, true)
	offset, changed = s.IntegrateRemove(id("1", 1))
	eq(t, offset, 1)
	eq(t, changed, false)
	offset, _ = s.IntegrateRemove(id("1", 0))
	eq(t, offset, 0)
	eq(t, s.Text(), "c")
}

func TestIntegrateMissingDependency(t *testing.T) {
	s := woot.NewSequence()
	c := woot.Char{Id: id("1", 1), Value: "x", LeftId: id("1", 0), RightId: woot.Tail}
	expectPanic(t, func() { s.IntegrateInsert(c, c.LeftId, c.RightId) })
	expectPanic(t, func() { s.IntegrateRemove(id("1", 0)) })
	eq(t, s.Len(), 2)
}

// Concurrent inserts between the same anchors are ordered by id, whatever the
// arrival order.
func TestIntegrateConcurrentOrder(t *testing.T) {
	chars := []woot.Char{
		{Id: id("3", 0), Value: "z", LeftId: woot.Head, RightId: woot.Tail},
		{Id: id("1", 0), Value: "x", LeftId: woot.Head, RightId: woot.Tail},
		{Id: id("2", 0), Value: "y", LeftId: woot.Head, RightId: woot.Tail},
	}
	for _, order := range [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}} {
		s := woot.NewSequence()
		for _, i := range order {
			s.IntegrateInsert(chars[i], chars[i].LeftId, chars[i].RightId)
		}
		eq(t, s.Text(), "xyz")
	}
}
