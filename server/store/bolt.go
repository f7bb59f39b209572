package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

// boltStore keeps one bucket per document, keyed by big-endian sequence
// numbers so that a cursor walks the log in append order.
type boltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) a bbolt op log at path.
func OpenBolt(path string) (Store, error) {
	slog.Info("opening database", "path", path)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Append(ctx context.Context, docId string, opStrs []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(docId))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		for _, op := range opStrs {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if err := b.Put(key, []byte(op)); err != nil {
				return fmt.Errorf("failed to persist op: %w", err)
			}
		}
		return nil
	})
}

func (s *boltStore) Load(ctx context.Context, docId string) ([]string, error) {
	var opStrs []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(docId))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			opStrs = append(opStrs, string(v))
			return nil
		})
	})
	return opStrs, err
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
