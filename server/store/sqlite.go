package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

type sqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens (creating if needed) an sqlite op log at path.
func OpenSqlite(path string) (Store, error) {
	slog.Info("opening database", "path", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	s := &sqliteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) init() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS ops (
		seq integer primary key autoincrement,
		doc_id text not null,
		op text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create ops table: %w", err)
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS ops_doc ON ops (doc_id, seq)`); err != nil {
		return fmt.Errorf("failed to create ops index: %w", err)
	}
	return nil
}

func (s *sqliteStore) Append(ctx context.Context, docId string, opStrs []string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer tx.Rollback()
	for _, op := range opStrs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ops (doc_id, op) VALUES (?, ?)`, docId, op); err != nil {
			return fmt.Errorf("failed to persist op: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) Load(ctx context.Context, docId string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT op FROM ops WHERE doc_id = ? ORDER BY seq`, docId)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)
	var opStrs []string
	for rows.Next() {
		var op string
		if err := rows.Scan(&op); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		opStrs = append(opStrs, op)
	}
	return opStrs, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
