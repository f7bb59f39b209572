package woot

import (
	"encoding/json"
	"fmt"
)

// OpKind tags an operation on the wire.
type OpKind string

const (
	KindInsert OpKind = "insert"
	KindRemove OpKind = "remove"
)

// Op is an operation.
type Op interface {
	Kind() OpKind
	Encode() string
}

// Insert carries a newly created character. Char.LeftId and Char.RightId are
// the anchors it must be integrated between.
type Insert struct {
	Char Char
}

func (op *Insert) Kind() OpKind {
	return KindInsert
}

func (op *Insert) Encode() string {
	return encode(wireOp{
		Kind:    KindInsert,
		Id:      &op.Char.Id,
		Value:   &op.Char.Value,
		LeftId:  &op.Char.LeftId,
		RightId: &op.Char.RightId,
	})
}

// Remove hides the character with the given id.
type Remove struct {
	Id CharId
}

func (op *Remove) Kind() OpKind {
	return KindRemove
}

func (op *Remove) Encode() string {
	return encode(wireOp{Kind: KindRemove, Id: &op.Id})
}

// wireOp is the serialized form shared by both kinds. A remove carries only
// the target id.
type wireOp struct {
	Kind    OpKind  `json:"kind"`
	Id      *CharId `json:"id"`
	Value   *string `json:"value,omitempty"`
	LeftId  *CharId `json:"leftId,omitempty"`
	RightId *CharId `json:"rightId,omitempty"`
}

func encode(w wireOp) string {
	buf, err := json.Marshal(w)
	assert(err == nil, err)
	return string(buf)
}

func newParseError(s string, reason string) error {
	return fmt.Errorf("%w: %s: %q", ErrMalformedOperation, reason, s)
}

// DecodeOp returns an Op given an encoded op.
func DecodeOp(s string) (Op, error) {
	var w wireOp
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	if w.Id == nil {
		return nil, newParseError(s, "missing id")
	}
	var op Op
	switch w.Kind {
	case KindInsert:
		if w.LeftId == nil || w.RightId == nil {
			return nil, newParseError(s, "insert without anchors")
		}
		c := Char{Id: *w.Id, Visible: true, LeftId: *w.LeftId, RightId: *w.RightId}
		if w.Value != nil {
			c.Value = *w.Value
		}
		op = &Insert{Char: c}
	case KindRemove:
		op = &Remove{Id: *w.Id}
	default:
		return nil, newParseError(s, "unknown kind")
	}
	if err := checkOp(op); err != nil {
		return nil, err
	}
	return op, nil
}

func EncodeOps(ops []Op) []string {
	strs := make([]string, len(ops))
	for i, v := range ops {
		strs[i] = v.Encode()
	}
	return strs
}

func DecodeOps(strs []string) ([]Op, error) {
	ops := make([]Op, len(strs))
	for i, v := range strs {
		op, err := DecodeOp(v)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

// checkOp validates an op handed to a replica directly, without the codec.
func checkOp(op Op) error {
	switch op := op.(type) {
	case *Insert:
		if op == nil {
			return fmt.Errorf("%w: nil insert", ErrMalformedOperation)
		}
		if op.Char.Id.IsSentinel() {
			return fmt.Errorf("%w: insert of sentinel %v", ErrMalformedOperation, op.Char.Id)
		}
		if op.Char.LeftId == op.Char.Id || op.Char.RightId == op.Char.Id {
			return fmt.Errorf("%w: %v anchored on itself", ErrMalformedOperation, op.Char.Id)
		}
		if op.Char.LeftId == op.Char.RightId || op.Char.LeftId == Tail || op.Char.RightId == Head {
			return fmt.Errorf("%w: %v has invalid anchors", ErrMalformedOperation, op.Char.Id)
		}
	case *Remove:
		if op == nil {
			return fmt.Errorf("%w: nil remove", ErrMalformedOperation)
		}
		if op.Id.IsSentinel() {
			return fmt.Errorf("%w: remove of sentinel %v", ErrMalformedOperation, op.Id)
		}
	default:
		return fmt.Errorf("%w: unexpected operation type %T", ErrMalformedOperation, op)
	}
	return nil
}

// Entry is one element of a snapshot: a character and whether it is
// currently visible (KindInsert) or tombstoned (KindRemove).
type Entry struct {
	Kind OpKind `json:"kind"`
	Char Char   `json:"char"`
}
