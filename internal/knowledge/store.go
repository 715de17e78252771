// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge is the SQLite side of the knowledge base: the entries
// table, its FTS5 mirror, and the build metadata table. The vector index
// refers to entries by rowid.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/waycore/rag-knowledge/pkg/types"
)

// ErrEntryNotFound is returned when no entry has the requested id.
var ErrEntryNotFound = errors.New("entry not found")

// Keys of the metadata table written by the build.
const (
	MetaEmbeddingModel = "embedding_model"
	MetaEmbeddingDim   = "embedding_dimensions"
	MetaBuildTime      = "build_timestamp"
	MetaSourceHash     = "source_hash"
)

const defaultMaxResults = 20

// Store manages the knowledge SQLite database.
type Store struct {
	db         *sql.DB
	maxResults int
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, maxResults: defaultMaxResults}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// OpenReadOnly opens an existing database without touching its schema.
// Consumers of a released knowledge.db use this.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return &Store{db: db, maxResults: defaultMaxResults}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			subcategory TEXT,
			safety_level TEXT DEFAULT 'safe'
				CHECK (safety_level IN ('safe', 'caution', 'warning', 'danger', 'lethal')),
			safety_notes TEXT,
			source_file TEXT,
			source_page INTEGER,
			source_url TEXT,
			license TEXT,
			tags TEXT,
			created_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_category ON entries(category)`,
		`CREATE INDEX IF NOT EXISTS idx_safety ON entries(safety_level)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 external-content table with triggers for sync.
	ftsExists, err := s.HasTable(context.Background(), "entries_fts")
	if err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists {
		return nil
	}
	ftsStatements := []string{
		`CREATE VIRTUAL TABLE entries_fts USING fts5(
			id, title, content, tags,
			content='entries', content_rowid='rowid'
		)`,
		`CREATE TRIGGER entries_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, id, title, content, tags)
			VALUES (new.rowid, new.id, new.title, new.content, new.tags);
		END`,
		`CREATE TRIGGER entries_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, id, title, content, tags)
			VALUES ('delete', old.rowid, old.id, old.title, old.content, old.tags);
		END`,
		`CREATE TRIGGER entries_au AFTER UPDATE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, id, title, content, tags)
			VALUES ('delete', old.rowid, old.id, old.title, old.content, old.tags);
			INSERT INTO entries_fts(rowid, id, title, content, tags)
			VALUES (new.rowid, new.id, new.title, new.content, new.tags);
		END`,
	}
	for _, stmt := range ftsStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating FTS infrastructure: %w", err)
		}
	}
	return nil
}

// InsertEntries validates and inserts entries in a single transaction and
// returns the assigned rowids in input order. Nothing is written if any
// entry is invalid.
func (s *Store) InsertEntries(ctx context.Context, entries []types.Entry) ([]int64, error) {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (id, title, content, category, subcategory, safety_level,
			safety_notes, source_file, source_page, source_url, license, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	rowIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		tags := e.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, _ := json.Marshal(tags)
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		res, err := stmt.ExecContext(ctx,
			e.ID, e.Title, e.Content, e.Category, nullString(e.Subcategory),
			string(e.SafetyLevel), nullString(e.SafetyNotes), nullString(e.SourceFile),
			nullInt(e.SourcePage), nullString(e.SourceURL), nullString(e.License),
			string(tagsJSON), created.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting entry %s: %w", e.ID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading rowid of %s: %w", e.ID, err)
		}
		rowIDs = append(rowIDs, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing entries: %w", err)
	}
	return rowIDs, nil
}

// Count returns the number of entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// CategoryCounts returns the number of entries per category.
func (s *Store) CategoryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, count(*) FROM entries GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scanning category count: %w", err)
		}
		counts[cat] = n
	}
	return counts, rows.Err()
}

// SafetyCounts returns the number of entries per safety level.
func (s *Store) SafetyCounts(ctx context.Context) (map[types.SafetyLevel]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT safety_level, count(*) FROM entries GROUP BY safety_level`)
	if err != nil {
		return nil, fmt.Errorf("counting safety levels: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.SafetyLevel]int)
	for rows.Next() {
		var (
			level string
			n     int
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scanning safety count: %w", err)
		}
		counts[types.SafetyLevel(level)] = n
	}
	return counts, rows.Err()
}

// RowIDs returns every entry rowid in ascending order.
func (s *Store) RowIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rowid FROM entries ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing rowids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning rowid: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Contents streams (rowid, content) pairs in rowid order, handing them to
// fn in pages of at most batchSize.
func (s *Store) Contents(ctx context.Context, batchSize int, fn func(rowIDs []int64, texts []string) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	var after int64
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT rowid, content FROM entries WHERE rowid > ? ORDER BY rowid LIMIT ?`,
			after, batchSize)
		if err != nil {
			return fmt.Errorf("reading contents: %w", err)
		}
		var (
			ids   []int64
			texts []string
		)
		for rows.Next() {
			var (
				id   int64
				text string
			)
			if err := rows.Scan(&id, &text); err != nil {
				rows.Close()
				return fmt.Errorf("scanning content: %w", err)
			}
			ids = append(ids, id)
			texts = append(texts, text)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("reading contents: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := fn(ids, texts); err != nil {
			return err
		}
		after = ids[len(ids)-1]
	}
}

// IntegrityCheck runs PRAGMA integrity_check and returns its first line,
// "ok" for a healthy database.
func (s *Store) IntegrityCheck(ctx context.Context) (string, error) {
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return "", fmt.Errorf("integrity check: %w", err)
	}
	return result, nil
}

// HasTable reports whether a table (regular or virtual) named name exists.
func (s *Store) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetMeta records a build metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("setting metadata %s: %w", key, err)
	}
	return nil
}

// Meta returns a build metadata value, or "" when it was never set or the
// database predates the metadata table.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	ok, err := s.HasTable(ctx, "metadata")
	if err != nil || !ok {
		return "", err
	}
	var v string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading metadata %s: %w", key, err)
	}
	return v, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
