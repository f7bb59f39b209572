// Package store persists the encoded operations received for each document so
// that a hub can rebuild its replicas after a restart.
package store

import (
	"context"
	"fmt"
)

// Store is an append-only log of encoded operations, one log per document.
type Store interface {
	// Append adds opStrs to the end of the log for docId.
	Append(ctx context.Context, docId string, opStrs []string) error
	// Load returns the log for docId in append order.
	Load(ctx context.Context, docId string) ([]string, error)
	Close() error
}

// Open returns a store of the given kind ("sqlite", "bolt" or "memory")
// backed by the file at path.
func Open(kind, path string) (Store, error) {
	switch kind {
	case "sqlite":
		return OpenSqlite(path)
	case "bolt":
		return OpenBolt(path)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store kind: %s", kind)
	}
}
