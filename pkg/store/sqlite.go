package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mikeboe/deep-research/pkg/research"
)

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "data/research.db"

// SQLite stores records in a single database file. Updates run in
// immediate transactions so concurrent jobs never interleave a
// read-modify-write.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path and its schema.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS research (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			model TEXT NOT NULL,
			search_model TEXT NOT NULL DEFAULT '',
			max_searches INTEGER NOT NULL,
			custom_requirement TEXT NOT NULL DEFAULT '',
			learnings TEXT NOT NULL DEFAULT '[]',
			report TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_research_created_at ON research(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS research_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			research_id TEXT NOT NULL REFERENCES research(id) ON DELETE CASCADE,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_research_logs_research_id ON research_logs(research_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

const sqliteColumns = `id, query, status, model, search_model, max_searches,
	custom_requirement, learnings, report, error, created_at, updated_at`

func (s *SQLite) Create(ctx context.Context, rec *research.Record) error {
	learnings, err := marshalLearnings(rec.Learnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO research (`+sqliteColumns+`, stage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Query, rec.Status.String(), rec.Model, rec.SearchModel, rec.MaxSearches,
		rec.CustomRequirement, string(learnings), rec.Report, rec.Error,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), string(rec.Status.Stage))
	if err != nil {
		return fmt.Errorf("inserting research %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*research.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM research WHERE id = ?`, id)
	return scanSQLite(row)
}

func (s *SQLite) Update(ctx context.Context, id string, fn func(*research.Record) error) (*research.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanSQLite(tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM research WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}

	learnings, err := marshalLearnings(rec.Learnings)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE research SET status = ?, stage = ?, learnings = ?,
		report = ?, error = ?, updated_at = ? WHERE id = ?`,
		rec.Status.String(), string(rec.Status.Stage), string(learnings),
		rec.Report, rec.Error, formatTime(rec.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("updating research %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing research %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLite) List(ctx context.Context, f Filter) ([]*research.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(f.Stage))
	}
	if f.Model != "" {
		where = append(where, "model = ?")
		args = append(args, f.Model)
	}
	if f.Search != "" {
		where = append(where, "(lower(id) LIKE ? OR lower(query) LIKE ?)")
		like := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, like, like)
	}

	query := `SELECT ` + sqliteColumns + ` FROM research`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing research: %w", err)
	}
	defer rows.Close()

	out := []*research.Record{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendLog(ctx context.Context, id string, e LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_logs (research_id, timestamp, level, message, metadata) VALUES (?, ?, ?, ?, ?)`,
		id, formatTime(e.Timestamp), e.Level, e.Message, string(metadataOrEmpty(e.Metadata)))
	return err
}

func (s *SQLite) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, level, message, metadata FROM research_logs WHERE research_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var (
			l        LogEntry
			ts, meta string
		)
		if err := rows.Scan(&l.ID, &ts, &l.Level, &l.Message, &meta); err != nil {
			return nil, fmt.Errorf("scanning log: %w", err)
		}
		if l.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		l.Metadata = []byte(meta)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*research.Record, error) {
	var (
		rec                  research.Record
		status, learnings    string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.Query, &status, &rec.Model, &rec.SearchModel, &rec.MaxSearches,
		&rec.CustomRequirement, &learnings, &rec.Report, &rec.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning research: %w", err)
	}

	if rec.Status, err = research.ParseStatus(status); err != nil {
		return nil, err
	}
	if rec.Learnings, err = unmarshalLearnings([]byte(learnings)); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
