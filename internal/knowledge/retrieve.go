// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/waycore/rag-knowledge/pkg/types"
)

// QueryOptions holds parameters for knowledge base queries.
type QueryOptions struct {
	// Query is an FTS5 match expression. Use MatchExpr to build one from
	// free text.
	Query string

	Category    string
	Subcategory string

	// Tags filters by one or more tags with AND semantics.
	Tags []string

	// MaxSafety keeps entries at or below this level. Ignored when Safety
	// is set.
	MaxSafety types.SafetyLevel

	// Safety keeps entries whose level is exactly one of these.
	Safety []types.SafetyLevel

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.Category == "" && q.Subcategory == "" &&
		len(q.Tags) == 0 && q.MaxSafety == "" && len(q.Safety) == 0
}

// Filtered reports whether any non-text filter is set.
func (q QueryOptions) Filtered() bool {
	return q.Category != "" || q.Subcategory != "" || len(q.Tags) > 0 ||
		q.MaxSafety != "" || len(q.Safety) > 0
}

// AllowedSafety returns the safety levels the options admit, or nil when
// every level is admitted.
func (q QueryOptions) AllowedSafety() []types.SafetyLevel {
	if len(q.Safety) > 0 {
		return q.Safety
	}
	if q.MaxSafety != "" {
		r := q.MaxSafety.Rank()
		if r < 0 {
			return []types.SafetyLevel{}
		}
		return types.SafetyLevels[:r+1]
	}
	return nil
}

// Matches reports whether e passes the non-text filters.
func (q QueryOptions) Matches(e types.Entry) bool {
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if q.Subcategory != "" && e.Subcategory != q.Subcategory {
		return false
	}
	if allowed := q.AllowedSafety(); allowed != nil {
		ok := false
		for _, l := range allowed {
			if l == e.SafetyLevel {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, want := range q.Tags {
		found := false
		for _, t := range e.Tags {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Result is an entry with its FTS5 rank (lower is better; zero when the
// query had no text).
type Result struct {
	types.Entry
	Rank float64 `json:"rank" yaml:"rank"`
}

const entryColumns = `e.rowid, e.id, e.title, e.content, e.category, e.subcategory,
	e.safety_level, e.safety_notes, e.source_file, e.source_page, e.source_url,
	e.license, e.tags, e.created_at`

// Retrieve queries entries with optional full-text search and structured
// filters. Full-text results are ranked by relevance; filter-only queries
// are sorted by category, title and rowid.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]Result, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)

	if useFTS {
		qb.WriteString(`SELECT ` + entryColumns + `, entries_fts.rank
			FROM entries_fts
			JOIN entries e ON e.rowid = entries_fts.rowid
			WHERE entries_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(`SELECT ` + entryColumns + `, 0 AS rank
			FROM entries e
			WHERE 1=1`)
	}

	if opts.Category != "" {
		qb.WriteString(` AND e.category = ?`)
		args = append(args, opts.Category)
	}
	if opts.Subcategory != "" {
		qb.WriteString(` AND e.subcategory = ?`)
		args = append(args, opts.Subcategory)
	}
	if allowed := opts.AllowedSafety(); allowed != nil {
		if len(allowed) == 0 {
			return nil, nil
		}
		qb.WriteString(` AND e.safety_level IN (` + placeholders(len(allowed)) + `)`)
		for _, l := range allowed {
			args = append(args, string(l))
		}
	}
	for _, tag := range opts.Tags {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(e.tags) WHERE value = ?)`)
		args = append(args, tag)
	}

	if useFTS {
		qb.WriteString(` ORDER BY entries_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY e.category, e.title, e.rowid`)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := scanEntry(rows, &r.Entry, &r.Rank); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// EntriesByRowID loads the entries with the given rowids. Missing rowids
// are absent from the result map.
func (s *Store) EntriesByRowID(ctx context.Context, rowIDs []int64) (map[int64]types.Entry, error) {
	out := make(map[int64]types.Entry, len(rowIDs))
	if len(rowIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries e WHERE e.rowid IN (`+placeholders(len(rowIDs))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.Entry
		if err := scanEntry(rows, &e); err != nil {
			return nil, err
		}
		out[e.RowID] = e
	}
	return out, rows.Err()
}

// Entry loads one entry by id.
func (s *Store) Entry(ctx context.Context, id string) (types.Entry, error) {
	var e types.Entry
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries e WHERE e.id = ?`, id)
	if err := scanEntry(row, &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Entry{}, fmt.Errorf("%s: %w", id, ErrEntryNotFound)
		}
		return types.Entry{}, err
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner, e *types.Entry, extra ...any) error {
	var (
		subcategory, notes, file, url, license sql.NullString
		tagsJSON, created                      sql.NullString
		page                                   sql.NullInt64
		level                                  string
	)
	dest := []any{
		&e.RowID, &e.ID, &e.Title, &e.Content, &e.Category, &subcategory,
		&level, &notes, &file, &page, &url, &license, &tagsJSON, &created,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scanning row: %w", err)
	}

	e.Subcategory = subcategory.String
	e.SafetyLevel = types.SafetyLevel(level)
	e.SafetyNotes = notes.String
	e.SourceFile = file.String
	e.SourcePage = int(page.Int64)
	e.SourceURL = url.String
	e.License = license.String
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}
	if created.Valid {
		if t, err := time.Parse(time.RFC3339, created.String); err == nil {
			e.CreatedAt = t
		}
	}
	return nil
}

// MatchExpr turns free text into an FTS5 expression that matches any of
// its words. Each word is quoted so punctuation and FTS5 operators in user
// input are taken literally. It returns "" when text has no words.
func MatchExpr(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " OR ")
}
