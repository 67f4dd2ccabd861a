package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/dramabot/internal/domain"
)

//go:embed schema.sql
var schema string

// Store handles database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared between calls
	db.SetMaxOpenConns(1)

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(dbPath string) string {
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}
	return dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends an entry and returns its id. Existing rows are never
// replaced, inserting the same entry twice stores it twice.
func (s *Store) Insert(entry domain.CatalogEntry) (string, error) {
	id := uuid.New().String()

	_, err := s.db.Exec(
		"INSERT INTO catalog_entries (id, text, author, type, created_at) VALUES (?, ?, ?, ?, ?)",
		id, entry.Text, nullable(entry.Author), nullable(entry.Type), time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}

	return id, nil
}

// ListAll returns every entry in insertion order
func (s *Store) ListAll() ([]domain.CatalogEntry, error) {
	rows, err := s.db.Query("SELECT text, author, type FROM catalog_entries ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.CatalogEntry
	for rows.Next() {
		var (
			e            domain.CatalogEntry
			author, kind sql.NullString
		)
		if err := rows.Scan(&e.Text, &author, &kind); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Author = author.String
		e.Type = kind.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	return entries, nil
}

// Count returns the number of stored entries
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM catalog_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Flush checkpoints the write-ahead log so that every insert so far is in
// the main database file
func (s *Store) Flush() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Reset deletes every entry
func (s *Store) Reset() error {
	if _, err := s.db.Exec("DELETE FROM catalog_entries"); err != nil {
		return fmt.Errorf("reset entries: %w", err)
	}
	return nil
}

// CountByType returns the number of entries per raw type label
func (s *Store) CountByType() (map[string]int, error) {
	rows, err := s.db.Query("SELECT COALESCE(TRIM(type), ''), COUNT(*) FROM catalog_entries GROUP BY 1 ORDER BY 1")
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[label] = n
	}

	return counts, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
