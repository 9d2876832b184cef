package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"deepresearch/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrRunNotFound = errors.New("research run not found")

type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) UpsertRun(ctx context.Context, run models.ResearchRun) error {
	sources := jsonList(run.Sources)
	failed := jsonList(run.FailedURLs)
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO research_runs (run_id, query, category, scope, plan, report, response, sources, failed_urls, passages, status, fail_reason)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), $8::jsonb, $9::jsonb, $10, $11, NULLIF($12,''))
ON CONFLICT (run_id)
DO UPDATE SET
  category = COALESCE(EXCLUDED.category, research_runs.category),
  scope = COALESCE(EXCLUDED.scope, research_runs.scope),
  plan = COALESCE(EXCLUDED.plan, research_runs.plan),
  report = COALESCE(EXCLUDED.report, research_runs.report),
  response = COALESCE(EXCLUDED.response, research_runs.response),
  sources = EXCLUDED.sources,
  failed_urls = EXCLUDED.failed_urls,
  passages = EXCLUDED.passages,
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		run.RunID, run.Query, run.Category, run.Scope, run.Plan, run.Report, run.Response, sources, failed, run.Passages, run.Status, run.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert research run: %w", err)
	}
	return nil
}

func (r *RunRepo) GetRun(ctx context.Context, runID string) (models.ResearchRun, error) {
	var (
		run     models.ResearchRun
		sources []byte
		failed  []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
SELECT run_id, query, COALESCE(category,''), COALESCE(scope,''), COALESCE(plan,''), COALESCE(report,''),
       COALESCE(response,''), sources, failed_urls, passages, status, COALESCE(fail_reason,''), created_at, updated_at
FROM research_runs WHERE run_id=$1`, runID).Scan(
		&run.RunID, &run.Query, &run.Category, &run.Scope, &run.Plan, &run.Report,
		&run.Response, &sources, &failed, &run.Passages, &run.Status, &run.FailReason, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ResearchRun{}, ErrRunNotFound
	}
	if err != nil {
		return models.ResearchRun{}, fmt.Errorf("get research run: %w", err)
	}
	_ = json.Unmarshal(sources, &run.Sources)
	_ = json.Unmarshal(failed, &run.FailedURLs)
	return run, nil
}

func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]models.ResearchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT run_id, query, COALESCE(category,''), status, COALESCE(fail_reason,''), passages, created_at, updated_at
FROM research_runs
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list research runs: %w", err)
	}
	defer rows.Close()
	out := make([]models.ResearchRun, 0)
	for rows.Next() {
		var run models.ResearchRun
		if err := rows.Scan(&run.RunID, &run.Query, &run.Category, &run.Status, &run.FailReason, &run.Passages, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan research run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate research runs: %w", err)
	}
	return out, nil
}

// jsonList encodes list for a JSONB column; nil becomes [].
func jsonList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}
