package substrate

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// PostgresStore persists account state in Postgres, one JSONB row per
// account. The database serializes writers across runtime instances;
// pair it with a lease when more than one instance mutates the same
// accounts.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN and prepares the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing handle and prepares the schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM accounts WHERE id = $1`, id)
	var state []byte
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return state, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, state []byte) error {
	query := `
	INSERT INTO accounts (id, state, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (id) DO UPDATE SET state = $2, updated_at = now()`
	_, err := s.db.ExecContext(ctx, query, id, state)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
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
func (s *PostgresStore) Close() error { return s.db.Close() }
