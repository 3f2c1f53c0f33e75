package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

// Postgres stores records in the research table created by the database
// migrations. Updates lock the row with SELECT ... FOR UPDATE.
type Postgres struct {
	DB *database.PostgresDB
}

func NewPostgres(db *database.PostgresDB) *Postgres {
	return &Postgres{DB: db}
}

const pgColumns = `id, query, status, model, search_model, max_searches,
	custom_requirement, learnings, report, error, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, rec *research.Record) error {
	learnings, err := marshalLearnings(rec.Learnings)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO research (` + pgColumns + `, stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = p.DB.Pool.Exec(ctx, query,
		rec.ID, rec.Query, rec.Status.String(), rec.Model, rec.SearchModel, rec.MaxSearches,
		rec.CustomRequirement, learnings, rec.Report, rec.Error, rec.CreatedAt, rec.UpdatedAt,
		string(rec.Status.Stage))
	if err != nil {
		return fmt.Errorf("failed to create research %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*research.Record, error) {
	return scanPostgres(p.DB.Pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM research WHERE id = $1`, id))
}

func (p *Postgres) Update(ctx context.Context, id string, fn func(*research.Record) error) (*research.Record, error) {
	tx, err := p.DB.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanPostgres(tx.QueryRow(ctx, `SELECT `+pgColumns+` FROM research WHERE id = $1 FOR UPDATE`, id))
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
	query := `
		UPDATE research
		SET status = $2, stage = $3, learnings = $4, report = $5, error = $6, updated_at = $7
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, id, rec.Status.String(), string(rec.Status.Stage),
		learnings, rec.Report, rec.Error, rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update research %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit research %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) List(ctx context.Context, f Filter) ([]*research.Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Stage != "" {
		where = append(where, "stage = "+arg(string(f.Stage)))
	}
	if f.Model != "" {
		where = append(where, "model = "+arg(f.Model))
	}
	if f.Search != "" {
		like := arg("%" + f.Search + "%")
		where = append(where, "(id ILIKE "+like+" OR query ILIKE "+like+")")
	}

	query := `SELECT ` + pgColumns + ` FROM research`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(f.limit())

	rows, err := p.DB.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list research: %w", err)
	}
	defer rows.Close()

	out := []*research.Record{}
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendLog(ctx context.Context, id string, e LogEntry) error {
	query := `
		INSERT INTO research_logs (research_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.DB.Pool.Exec(ctx, query, id, e.Timestamp, e.Level, e.Message, []byte(metadataOrEmpty(e.Metadata)))
	return err
}

func (p *Postgres) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE research_id = $1
		ORDER BY id ASC
	`
	rows, err := p.DB.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.DB.Close()
	return nil
}

func scanPostgres(row pgx.Row) (*research.Record, error) {
	var (
		rec       research.Record
		status    string
		learnings []byte
	)
	err := row.Scan(&rec.ID, &rec.Query, &status, &rec.Model, &rec.SearchModel, &rec.MaxSearches,
		&rec.CustomRequirement, &learnings, &rec.Report, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan research: %w", err)
	}

	if rec.Status, err = research.ParseStatus(status); err != nil {
		return nil, err
	}
	if rec.Learnings, err = unmarshalLearnings(learnings); err != nil {
		return nil, err
	}
	return &rec, nil
}
