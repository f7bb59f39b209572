package woot

import "fmt"

// IntegrateInsert places c between the characters left and right and returns
// the number of visible characters before it. If c is already present nothing
// changes and changed is false; a tombstoned character stays tombstoned.
//
// Concurrent inserts between the same anchors are ordered by id. Only the
// characters whose own anchors enclose the current window take part in the
// comparison, and the window is narrowed to the pair straddling c until the
// pair is adjacent. The result depends only on ids, so every site that
// integrates the same set of inserts produces the same order.
func (s *Sequence) IntegrateInsert(c Char, left, right CharId) (offset int, changed bool) {
	if pos, ok := s.PositionOf(c.Id); ok {
		return s.offset(pos), false
	}
	c.Visible = true
	for {
		lp, ok := s.PositionOf(left)
		assert(ok, fmt.Errorf("%w: left %v of %v", ErrMissingDependency, left, c.Id))
		rp, ok := s.PositionOf(right)
		assert(ok, fmt.Errorf("%w: right %v of %v", ErrMissingDependency, right, c.Id))
		assert(lp < rp, "left ", left, " not before right ", right)

		between, _ := s.Between(left, right)
		if len(between) == 0 {
			s.InsertAt(c, rp)
			return s.offset(rp), true
		}

		cands := make([]CharId, 0, len(between)+2)
		cands = append(cands, left)
		for _, d := range between {
			dl, _ := s.PositionOf(d.LeftId)
			dr, _ := s.PositionOf(d.RightId)
			if dl <= lp && rp <= dr {
				cands = append(cands, d.Id)
			}
		}
		cands = append(cands, right)
		assert(len(cands) > 2, "no candidates between ", left, " and ", right)

		i := 1
		for i < len(cands)-1 && cands[i].Less(c.Id) {
			i++
		}
		left, right = cands[i-1], cands[i]
	}
}

// IntegrateRemove hides the character id and returns the visible index it
// occupied. Removing a tombstone changes nothing.
func (s *Sequence) IntegrateRemove(id CharId) (offset int, changed bool) {
	pos, ok := s.PositionOf(id)
	assert(ok, fmt.Errorf("%w: %v", ErrMissingDependency, id))
	assert(!id.IsSentinel(), "cannot remove sentinel ", id)
	changed = s.setVisible(id, false)
	return s.offset(pos), changed
}
