package woot

import (
	"fmt"
	"sync"
)

// Change describes an operation that modified a replica. Offset is the visible
// index of the inserted character, or the index a removed character occupied.
type Change struct {
	Op     Op
	Offset int
	Local  bool // generated by this replica
}

// Observer is notified of every operation that modifies a replica.
type Observer interface {
	Observe(c Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(c Change)

func (f ObserverFunc) Observe(c Change) {
	f(c)
}

// Replica is one site's copy of the sequence. It is safe for concurrent use;
// all integration on a replica happens under a single lock.
type Replica struct {
	mu        sync.Mutex // protects the fields below
	site      string
	clock     int
	seq       *Sequence
	pool      pool
	observers []Observer
}

// NewReplica returns an empty replica for site. Site ids must be unique across
// all replicas that exchange operations.
func NewReplica(site string) *Replica {
	return &Replica{site: site, seq: NewSequence()}
}

func (r *Replica) Site() string {
	return r.site
}

// OnChange registers o. Observers run synchronously, after the replica lock
// is released, in the order the changes were integrated.
func (r *Replica) OnChange(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Replica) notify(observers []Observer, changes []Change) {
	for _, c := range changes {
		for _, o := range observers {
			o.Observe(c)
		}
	}
}

// update runs fn under the lock, then notifies observers of the changes fn
// returns. The lock is released even if fn panics.
func (r *Replica) update(fn func() []Change) {
	changes, observers := func() ([]Change, []Observer) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return fn(), r.observers
	}()
	r.notify(observers, changes)
}

// GenerateInsert inserts value at visible index i and returns the operation
// to broadcast. Indexes past either end fall back to the sentinels.
func (r *Replica) GenerateInsert(i int, value string) *Insert {
	var op *Insert
	r.update(func() []Change {
		i = max(0, min(i, r.seq.VisibleLen()))
		left, right := Head, Tail
		if c, ok := r.seq.NthVisible(i - 1); ok {
			left = c.Id
		}
		if c, ok := r.seq.NthVisible(i); ok {
			right = c.Id
		}
		op = &Insert{Char: Char{
			Id:      CharId{Site: r.site, Clock: r.clock},
			Visible: true,
			Value:   value,
			LeftId:  left,
			RightId: right,
		}}
		offset, _ := r.seq.IntegrateInsert(op.Char, left, right)
		r.clock++
		return []Change{{Op: op, Offset: offset, Local: true}}
	})
	return op
}

// GenerateRemove removes the character at visible index i and returns the
// operation to broadcast.
func (r *Replica) GenerateRemove(i int) (*Remove, error) {
	var op *Remove
	var err error
	r.update(func() []Change {
		c, ok := r.seq.NthVisible(i)
		if !ok {
			err = fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, r.seq.VisibleLen())
			return nil
		}
		op = &Remove{Id: c.Id}
		offset, _ := r.seq.IntegrateRemove(c.Id)
		return []Change{{Op: op, Offset: offset, Local: true}}
	})
	return op, err
}

// PushOp accepts an operation from another site. It is integrated as soon as
// the characters it references are present, together with any buffered
// operations it unblocks. Redelivered operations are absorbed silently.
//
// An insert whose anchors turn out to be out of order is dropped once they are
// both present. The returned error then wraps ErrMalformedOperation, and may
// name an operation pushed earlier that op unblocked.
func (r *Replica) PushOp(op Op) error {
	if err := checkOp(op); err != nil {
		return err
	}
	var err error
	r.update(func() []Change {
		r.observe(op)
		r.pool.ops = append(r.pool.ops, op)
		var changes []Change
		err = r.pool.drain(r.seq, func(op Op, offset int) {
			changes = append(changes, Change{Op: op, Offset: offset})
		})
		return changes
	})
	return err
}

// observe keeps the local clock ahead of any id this site issued in an
// earlier life, e.g. before a restart under the same site id.
func (r *Replica) observe(op Op) {
	if ins, ok := op.(*Insert); ok && ins.Char.Id.Site == r.site && ins.Char.Id.Clock >= r.clock {
		r.clock = ins.Char.Id.Clock + 1
	}
}

// Text returns the visible document.
func (r *Replica) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq.Text()
}

// Len returns the number of visible characters.
func (r *Replica) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq.VisibleLen()
}

// Pending returns the number of buffered remote operations.
func (r *Replica) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.len()
}

// Chars returns a copy of the sequence in structural order, sentinels
// included.
func (r *Replica) Chars() []Char {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq.Chars()
}

// Snapshot returns every character except the sentinels, in structural order,
// tagged KindInsert if visible and KindRemove if tombstoned.
func (r *Replica) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, r.seq.Len()-2)
	r.seq.each(func(c Char) {
		if c.Id.IsSentinel() {
			return
		}
		kind := KindInsert
		if !c.Visible {
			kind = KindRemove
		}
		entries = append(entries, Entry{Kind: kind, Char: c})
	})
	return entries
}

// Load merges a snapshot taken from another replica. On an empty replica the
// characters are laid out in snapshot order directly; otherwise each entry is
// replayed as an insert, followed by a remove for tombstones. Observers are
// notified for every character that changed this replica. Replayed inserts
// with anchors out of order are dropped as in PushOp.
func (r *Replica) Load(entries []Entry) error {
	ops := make([]Op, 0, len(entries))
	for _, e := range entries {
		c := e.Char
		c.Visible = true
		ins := &Insert{Char: c}
		if err := checkOp(ins); err != nil {
			return err
		}
		switch e.Kind {
		case KindInsert:
			ops = append(ops, ins)
		case KindRemove:
			ops = append(ops, ins, &Remove{Id: c.Id})
		default:
			return fmt.Errorf("%w: snapshot entry kind %q", ErrMalformedOperation, e.Kind)
		}
	}

	var err error
	r.update(func() []Change {
		var changes []Change
		emit := func(op Op, offset int) {
			changes = append(changes, Change{Op: op, Offset: offset})
		}
		if r.seq.Len() == 2 && r.pool.len() == 0 && r.loadFresh(entries) {
			for i, e := range entries {
				if e.Kind == KindInsert {
					emit(&Insert{Char: e.Char}, r.seq.offset(i+1))
				}
			}
			return changes
		}
		for _, op := range ops {
			r.observe(op)
			r.pool.ops = append(r.pool.ops, op)
		}
		err = r.pool.drain(r.seq, emit)
		return changes
	})
	return err
}

// loadFresh appends entries to an empty sequence. It returns false, leaving
// the sequence untouched, if the entries contain duplicate ids or anchors that
// are not laid out before/after the character that names them.
func (r *Replica) loadFresh(entries []Entry) bool {
	pos := make(map[CharId]int, len(entries)+2)
	pos[Head] = 0
	for i, e := range entries {
		if _, dup := pos[e.Char.Id]; dup {
			return false
		}
		pos[e.Char.Id] = i + 1
	}
	pos[Tail] = len(entries) + 1
	for i, e := range entries {
		lp, lok := pos[e.Char.LeftId]
		rp, rok := pos[e.Char.RightId]
		if !lok || !rok || lp > i || rp < i+2 {
			return false
		}
	}
	for i, e := range entries {
		c := e.Char
		c.Visible = e.Kind == KindInsert
		r.seq.InsertAt(c, i+1)
		r.observe(&Insert{Char: c})
	}
	return true
}
