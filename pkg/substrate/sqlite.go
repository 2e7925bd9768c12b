package substrate

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists account state in a SQLite database, one row per
// account. Suits single-node deployments and local development.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path and prepares
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing handle and prepares the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		state JSON NOT NULL,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM accounts WHERE id = ?`, id)
	var state []byte
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return state, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, id string, state []byte) error {
	query := `
	INSERT INTO accounts (id, state, updated_at)
	VALUES (?, ?, datetime('now'))
	ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, id, state)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
