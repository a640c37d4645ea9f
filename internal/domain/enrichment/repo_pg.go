package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type runRepoPG struct{ pool *pgxpool.Pool }

// NewRunRepoPG returns a RunRepository backed by the enrichment_runs table.
func NewRunRepoPG(pool *pgxpool.Pool) RunRepository { return &runRepoPG{pool: pool} }

func (r *runRepoPG) conn() queryable { return r.pool }

const runSummaryCols = `id, strategy, patients, unique_codes, lookups, described, malformed, priority, duration_ms, created_at`

func (r *runRepoPG) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	s := run.Stats
	_, err = r.conn().Exec(ctx, `
		INSERT INTO enrichment_runs (`+runSummaryCols+`, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, string(run.Strategy), s.Patients, s.UniqueCodes, s.Lookups,
		s.Described, s.Malformed, s.Priority, s.DurationMS, run.CreatedAt, report)
	if err != nil {
		return fmt.Errorf("insert enrichment run: %w", err)
	}
	return nil
}

func (r *runRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	var (
		run    Run
		strat  string
		report []byte
	)
	s := &run.Stats
	err := r.conn().QueryRow(ctx,
		`SELECT `+runSummaryCols+`, report FROM enrichment_runs WHERE id = $1`, id).
		Scan(&run.ID, &strat, &s.Patients, &s.UniqueCodes, &s.Lookups,
			&s.Described, &s.Malformed, &s.Priority, &s.DurationMS, &run.CreatedAt, &report)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrichment run: %w", err)
	}
	run.Strategy = Strategy(strat)
	if err := json.Unmarshal(report, &run.Report); err != nil {
		return nil, fmt.Errorf("decode run report: %w", err)
	}
	return &run, nil
}

func (r *runRepoPG) List(ctx context.Context, limit, offset int) ([]*RunSummary, int, error) {
	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM enrichment_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count enrichment runs: %w", err)
	}
	rows, err := r.conn().Query(ctx,
		`SELECT `+runSummaryCols+` FROM enrichment_runs
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list enrichment runs: %w", err)
	}
	defer rows.Close()
	out := make([]*RunSummary, 0)
	for rows.Next() {
		var (
			sum   RunSummary
			strat string
		)
		s := &sum.Stats
		if err := rows.Scan(&sum.ID, &strat, &s.Patients, &s.UniqueCodes, &s.Lookups,
			&s.Described, &s.Malformed, &s.Priority, &s.DurationMS, &sum.CreatedAt); err != nil {
			return nil, 0, err
		}
		sum.Strategy = Strategy(strat)
		out = append(out, &sum)
	}
	return out, total, rows.Err()
}
