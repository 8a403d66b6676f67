package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowruns/internal/domain"
)

// StageRunRepo — журнал созданных stage runs.
//
// Актуальные статусы живут в снимке flow run (FlowRunRepo);
// здесь фиксируется факт создания.
type StageRunRepo struct {
	pool *pgxpool.Pool
}

// NewStageRunRepo создаёт новый StageRunRepo.
func NewStageRunRepo(pool *pgxpool.Pool) *StageRunRepo {
	return &StageRunRepo{pool: pool}
}

// Create сохраняет новый stage run.
func (r *StageRunRepo) Create(ctx context.Context, view domain.StageRunView) error {
	query := `
		INSERT INTO stage_runs (id, flow_run_id, stage_id, status, executor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		view.ID,
		view.FlowRunID,
		view.StageID,
		view.Status,
		nullString(view.ExecutorID),
		view.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("stage run %s: %w", view.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
