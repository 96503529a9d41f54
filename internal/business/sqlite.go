package business

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS businesses (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	indicators     TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS keywords (
	business_id    TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	text           TEXT NOT NULL,
	tier           TEXT NOT NULL,
	case_sensitive INTEGER NOT NULL DEFAULT 0,
	fuzzy_matching INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (business_id, position)
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore implements the Store interface on SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Keep a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements Store
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	indicators, err := json.Marshal(nonNil(record.Indicators))
	if err != nil {
		return fmt.Errorf("marshaling indicators: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO businesses (id, canonical_name, indicators, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			indicators = excluded.indicators,
			updated_at = excluded.updated_at
	`, record.ID, record.CanonicalName, string(indicators),
		formatTime(record.CreatedAt), formatTime(record.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving business: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM keywords WHERE business_id = ?", record.ID); err != nil {
		return fmt.Errorf("clearing keywords: %w", err)
	}
	for i, kw := range record.Keywords {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO keywords (business_id, position, text, tier, case_sensitive, fuzzy_matching)
			VALUES (?, ?, ?, ?, ?, ?)
		`, record.ID, i, kw.Text, string(kw.Tier), kw.CaseSensitive, kw.FuzzyMatching)
		if err != nil {
			return fmt.Errorf("saving keyword %q: %w", kw.Text, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing business: %w", err)
	}
	return nil
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, canonical_name, indicators, created_at, updated_at
		FROM businesses WHERE id = ?
	`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	byID := map[string]*Record{record.ID: record}
	if err := s.loadKeywords(ctx, byID, "WHERE business_id = ?", id); err != nil {
		return nil, err
	}
	return record, nil
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, canonical_name, indicators, created_at, updated_at
		FROM businesses
	`)
	if err != nil {
		return nil, fmt.Errorf("querying businesses: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	byID := make(map[string]*Record)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		byID[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating businesses: %w", err)
	}
	rows.Close()

	if err := s.loadKeywords(ctx, byID, ""); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (s *SQLiteStore) loadKeywords(ctx context.Context, byID map[string]*Record, where string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT business_id, text, tier, case_sensitive, fuzzy_matching
		FROM keywords `+where+`
		ORDER BY business_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("querying keywords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, tier string
		var kw Keyword
		if err := rows.Scan(&id, &kw.Text, &tier, &kw.CaseSensitive, &kw.FuzzyMatching); err != nil {
			return fmt.Errorf("scanning keyword: %w", err)
		}
		kw.Tier = Tier(tier)
		if r, ok := byID[id]; ok {
			r.Keywords = append(r.Keywords, kw)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var indicators, createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.CanonicalName, &indicators, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning business: %w", err)
	}
	if err := json.Unmarshal([]byte(indicators), &r.Indicators); err != nil {
		return nil, fmt.Errorf("unmarshaling indicators: %w", err)
	}
	if len(r.Indicators) == 0 {
		r.Indicators = nil
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	r.Keywords = []Keyword{}
	return &r, nil
}

// Delete implements Store
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM businesses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting business: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting business: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Weights implements Store
func (s *SQLiteStore) Weights(ctx context.Context) (Weights, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", weightsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultWeights(), nil
	}
	if err != nil {
		return Weights{}, fmt.Errorf("reading weights: %w", err)
	}
	var w Weights
	if err := json.Unmarshal([]byte(value), &w); err != nil {
		return Weights{}, fmt.Errorf("unmarshaling weights: %w", err)
	}
	return w, nil
}

// SaveWeights implements Store
func (s *SQLiteStore) SaveWeights(ctx context.Context, w Weights) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling weights: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, weightsKey, string(data))
	if err != nil {
		return fmt.Errorf("saving weights: %w", err)
	}
	return nil
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
