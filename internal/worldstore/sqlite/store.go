// Package sqlite is a worldstore.Store backed by a single SQLite database,
// grounded on the router package's sql.Open("sqlite3", path) pattern.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"ironkeep/server/internal/worldstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS character_slots (
	character_id TEXT PRIMARY KEY,
	slot INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS globals (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Store persists a worldstore.Snapshot in the SQLite database opened by New.
type Store struct {
	db *sql.DB
}

// New opens (creating if absent) the SQLite database at path and ensures
// its schema exists.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load implements worldstore.Store.
func (s *Store) Load(ctx context.Context) (worldstore.Snapshot, error) {
	snap := worldstore.Snapshot{CharacterSlots: map[string]uint32{}}

	rows, err := s.db.QueryContext(ctx, `SELECT character_id, slot FROM character_slots`)
	if err != nil {
		return worldstore.Snapshot{}, fmt.Errorf("sqlite: load character_slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var slot uint32
		if err := rows.Scan(&id, &slot); err != nil {
			return worldstore.Snapshot{}, fmt.Errorf("sqlite: scan character_slots: %w", err)
		}
		snap.CharacterSlots[id] = slot
	}
	if err := rows.Err(); err != nil {
		return worldstore.Snapshot{}, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT value FROM globals WHERE key = 'ticker'`)
	var ticker uint32
	if err := row.Scan(&ticker); err != nil && err != sql.ErrNoRows {
		return worldstore.Snapshot{}, fmt.Errorf("sqlite: load ticker: %w", err)
	}
	snap.Ticker = ticker
	return snap, nil
}

// Save implements worldstore.Store, replacing the whole snapshot within a
// single transaction.
func (s *Store) Save(ctx context.Context, snap worldstore.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM character_slots`); err != nil {
		return fmt.Errorf("sqlite: clear character_slots: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO character_slots (character_id, slot) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare character_slots insert: %w", err)
	}
	defer stmt.Close()
	for id, slot := range snap.CharacterSlots {
		if _, err := stmt.ExecContext(ctx, id, slot); err != nil {
			return fmt.Errorf("sqlite: insert character_slots: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO globals (key, value) VALUES ('ticker', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, snap.Ticker); err != nil {
		return fmt.Errorf("sqlite: upsert ticker: %w", err)
	}

	return tx.Commit()
}
