package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage keeps all generations in a single SQLite database.
// Writes are serialized through writeMutex since SQLite allows a single writer.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLite opens (creating if needed) the database at filename.
// If file name is empty, a private in-memory db is opened.
func NewSQLite(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if filename == ":memory:" {
		// Each connection would get its own empty in-memory database
		db.SetMaxOpenConns(1)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB NOT NULL,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize sqlite database: %w", err)
		}
	}

	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Open only writes when the generation does not exist yet
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Generation, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM generations WHERE name = ?)", name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up generation %s: %w", name, err)
	}
	if exists {
		return &sqliteGeneration{storage: s, name: name}, nil
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO generations (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", name, err)
	}
	return &sqliteGeneration{storage: s, name: name}, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, fmt.Errorf("failed to delete entries of generation %s: %w", name, err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete generation %s: %w", name, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, tx.Commit()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteGeneration struct {
	storage *SQLiteStorage
	name    string
}

func (g *sqliteGeneration) Name() string {
	return g.name
}

func (g *sqliteGeneration) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	var data []byte
	err := g.storage.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE generation = ? AND key = ?", g.name, Key(req),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}

	_, resp, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

func (g *sqliteGeneration) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	key := Key(req)
	data, err := Serialize(key, resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	g.storage.writeMutex.Lock()
	defer g.storage.writeMutex.Unlock()
	_, err = g.storage.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (generation, key, bytes) VALUES (?, ?, ?)", g.name, key, data)
	return err
}

func (g *sqliteGeneration) Delete(ctx context.Context, req *http.Request) (bool, error) {
	g.storage.writeMutex.Lock()
	defer g.storage.writeMutex.Unlock()

	result, err := g.storage.db.ExecContext(ctx,
		"DELETE FROM entries WHERE generation = ? AND key = ?", g.name, Key(req))
	if err != nil {
		return false, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (g *sqliteGeneration) Keys(ctx context.Context) ([]*http.Request, error) {
	rows, err := g.storage.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE generation = ? ORDER BY key", g.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return requestsForKeys(ctx, keys)
}
