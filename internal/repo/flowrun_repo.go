package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowruns/internal/domain"
)

// FlowRunRepo хранит снимки flow runs.
//
// Снимок целиком лежит в JSONB; status и flow_id вынесены в колонки
// для выборки активных runs. Реализует flowrun.Persister.
type FlowRunRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRunRepo создаёт новый FlowRunRepo.
func NewFlowRunRepo(pool *pgxpool.Pool) *FlowRunRepo {
	return &FlowRunRepo{pool: pool}
}

// Save записывает снимок (insert или update).
func (r *FlowRunRepo) Save(ctx context.Context, run domain.FlowRun) error {
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal flow run: %w", err)
	}

	query := `
		INSERT INTO flow_runs (id, flow_id, status, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    snapshot = EXCLUDED.snapshot,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.FlowID,
		run.Status,
		snapshot,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save flow run: %w", err)
	}
	return nil
}

// GetByID возвращает снимок по ID.
func (r *FlowRunRepo) GetByID(ctx context.Context, id domain.FlowRunID) (domain.FlowRun, error) {
	var snapshot []byte
	err := r.pool.QueryRow(ctx, `SELECT snapshot FROM flow_runs WHERE id = $1`, id).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FlowRun{}, ErrNotFound
	}
	if err != nil {
		return domain.FlowRun{}, fmt.Errorf("get flow run by id: %w", err)
	}
	return decodeFlowRun(snapshot)
}

// LoadActive возвращает все нефинальные runs (для восстановления кэша при старте).
func (r *FlowRunRepo) LoadActive(ctx context.Context) ([]domain.FlowRun, error) {
	query := `
		SELECT snapshot
		FROM flow_runs
		WHERE status NOT IN ('SUCCESS', 'FAILED', 'CANCELLED')
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load active flow runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.FlowRun
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan flow run: %w", err)
		}
		run, err := decodeFlowRun(snapshot)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// decodeFlowRun разбирает JSONB снимок.
func decodeFlowRun(snapshot []byte) (domain.FlowRun, error) {
	var run domain.FlowRun
	if err := json.Unmarshal(snapshot, &run); err != nil {
		return domain.FlowRun{}, fmt.Errorf("unmarshal flow run: %w", err)
	}
	return run, nil
}
