package woot

import (
	"errors"
	"fmt"
)

// pool holds remote operations whose dependencies have not arrived yet.
type pool struct {
	ops []Op
}

func (p *pool) len() int {
	return len(p.ops)
}

// ready reports whether every id op references is in s. Tombstones count.
func ready(s *Sequence, op Op) bool {
	switch op := op.(type) {
	case *Insert:
		return s.Contains(op.Char.LeftId) && s.Contains(op.Char.RightId)
	case *Remove:
		return s.Contains(op.Id)
	}
	return false
}

// ordered reports whether a ready insert's anchors lie left to right. Their
// relative order is the same on every site, so an insert that fails this is
// dropped everywhere.
func ordered(s *Sequence, op Op) bool {
	ins, ok := op.(*Insert)
	if !ok {
		return true
	}
	lp, _ := s.PositionOf(ins.Char.LeftId)
	rp, _ := s.PositionOf(ins.Char.RightId)
	return lp < rp
}

// drain integrates ready operations in arrival order, repeating until a pass
// integrates nothing. emit is called for each operation that changed s. Ready
// inserts with anchors out of order are removed from the pool and returned as
// errors.
func (p *pool) drain(s *Sequence, emit func(op Op, offset int)) error {
	var errs []error
	for progress := true; progress; {
		progress = false
		rest := p.ops[:0]
		for _, op := range p.ops {
			if !ready(s, op) {
				rest = append(rest, op)
				continue
			}
			if !ordered(s, op) {
				ins := op.(*Insert)
				errs = append(errs, fmt.Errorf("%w: %v has anchors %v and %v out of order",
					ErrMalformedOperation, ins.Char.Id, ins.Char.LeftId, ins.Char.RightId))
				continue
			}
			progress = true
			if offset, changed := integrate(s, op); changed {
				emit(op, offset)
			}
		}
		for i := len(rest); i < len(p.ops); i++ {
			p.ops[i] = nil
		}
		p.ops = rest
	}
	return errors.Join(errs...)
}

func integrate(s *Sequence, op Op) (int, bool) {
	switch op := op.(type) {
	case *Insert:
		return s.IntegrateInsert(op.Char, op.Char.LeftId, op.Char.RightId)
	case *Remove:
		return s.IntegrateRemove(op.Id)
	}
	panic("unreachable")
}
