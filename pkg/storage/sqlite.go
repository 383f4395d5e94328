package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	target       TEXT NOT NULL,
	metric       TEXT NOT NULL,
	generated_at INTEGER NOT NULL,
	verdict      TEXT NOT NULL,
	steady       INTEGER NOT NULL,
	window_size  INTEGER NOT NULL,
	first_round  INTEGER NOT NULL,
	values_json  TEXT NOT NULL,
	threshold    REAL NOT NULL,
	average      REAL NOT NULL,
	upper_bound  REAL NOT NULL,
	lower_bound  REAL NOT NULL,
	slope        REAL NOT NULL,
	intercept    REAL NOT NULL,
	fit_first    REAL NOT NULL,
	fit_last     REAL NOT NULL,
	failed_check TEXT,
	reason       TEXT
);
CREATE INDEX IF NOT EXISTS idx_reports_target_time ON reports (target, generated_at DESC);
`

const reportColumns = `id, target, metric, generated_at, verdict, steady, window_size, first_round,
	values_json, threshold, average, upper_bound, lower_bound, slope, intercept, fit_first, fit_last,
	failed_check, reason`

// SQLiteStore keeps the full report history in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an already opened database and applies the schema.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create reports schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, r Report) error {
	if err := validateTarget(r.Target); err != nil {
		return err
	}

	values, err := json.Marshal(r.Values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (`+reportColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Target, r.Metric, r.GeneratedAt.UTC().UnixNano(), r.Verdict, r.Steady,
		r.WindowSize, r.FirstRound, string(values), r.Threshold, r.Average, r.Upper, r.Lower,
		r.Slope, r.Intercept, r.FitFirst, r.FitLast, nullIfEmpty(r.FailedCheck), nullIfEmpty(r.Reason),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context, target string) (Report, bool, error) {
	reports, err := s.History(ctx, target, 1)
	if err != nil {
		return Report{}, false, err
	}
	if len(reports) == 0 {
		return Report{}, false, nil
	}
	return reports[0], true, nil
}

// History returns up to limit reports, newest first. A limit <= 0 defaults to
// DefaultHistoryLimit.
func (s *SQLiteStore) History(ctx context.Context, target string, limit int) ([]Report, error) {
	if target == "" {
		return nil, errors.New("target name required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE target = ?
		 ORDER BY generated_at DESC, rowid DESC
		 LIMIT ?`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

func scanReport(rows *sql.Rows) (Report, error) {
	var (
		r           Report
		generatedAt int64
		values      string
		failedCheck sql.NullString
		reason      sql.NullString
	)
	err := rows.Scan(&r.ID, &r.Target, &r.Metric, &generatedAt, &r.Verdict, &r.Steady,
		&r.WindowSize, &r.FirstRound, &values, &r.Threshold, &r.Average, &r.Upper, &r.Lower,
		&r.Slope, &r.Intercept, &r.FitFirst, &r.FitLast, &failedCheck, &reason)
	if err != nil {
		return Report{}, fmt.Errorf("scan report: %w", err)
	}
	if err := json.Unmarshal([]byte(values), &r.Values); err != nil {
		return Report{}, fmt.Errorf("unmarshal values of report %s: %w", r.ID, err)
	}
	r.GeneratedAt = time.Unix(0, generatedAt).UTC()
	r.FailedCheck = failedCheck.String
	r.Reason = reason.String
	return r, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
