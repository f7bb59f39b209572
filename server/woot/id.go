// Package woot implements WOOT, a replicated character sequence that converges
// without operational transformation or a central server.
//
// Every site holds a Replica. Local edits are applied immediately and returned
// as operations for broadcast; remote operations are buffered until the
// characters they reference are present, then integrated. Characters are never
// physically removed, only hidden, so any identifier ever seen can still be
// used as an insertion anchor.
package woot

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedOperation is returned for operations that are neither an
	// insert nor a remove, or that lack the fields their kind requires.
	ErrMalformedOperation = errors.New("malformed operation")
	// ErrMissingDependency signals a reference to an identifier that is not in
	// the sequence. The pool never releases such operations, so seeing it from
	// the integration code means an invariant was broken.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrIndexOutOfRange is returned when a local remove names a visible index
	// with no character.
	ErrIndexOutOfRange = errors.New("index out of range")
)

func assert(b bool, v ...interface{}) {
	if !b {
		panic(fmt.Sprint(v...))
	}
}

// CharId identifies a character. Each site issues increasing clock values under
// its own site id, so ids are globally unique.
type CharId struct {
	Site  string `json:"site"`
	Clock int    `json:"clock"`
}

// Sentinel ids. Sites only issue clocks >= 0.
var (
	Head = CharId{Site: "HEAD", Clock: -1}
	Tail = CharId{Site: "TAIL", Clock: -1}
)

// Less reports whether id sorts before o: by site, then by clock.
func (id CharId) Less(o CharId) bool {
	if id.Site != o.Site {
		return id.Site < o.Site
	}
	return id.Clock < o.Clock
}

// IsSentinel reports whether id is Head or Tail.
func (id CharId) IsSentinel() bool {
	return id == Head || id == Tail
}

func (id CharId) String() string {
	return fmt.Sprintf("%s:%d", id.Site, id.Clock)
}

// Char is a character together with the ids of its neighbors at the time it
// was created. LeftId and RightId never change after creation; they are inputs
// to integration, not links to the current neighbors.
type Char struct {
	Id      CharId `json:"id"`
	Visible bool   `json:"visible"`
	Value   string `json:"value"`
	LeftId  CharId `json:"leftId"`
	RightId CharId `json:"rightId"`
}
