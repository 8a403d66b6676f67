package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowruns/internal/domain"
)

// FlowRepo — репозиторий определений flows (таблицы flows и flow_stages).
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// GetDefinition возвращает flow вместе со stages.
func (r *FlowRepo) GetDefinition(ctx context.Context, flowID string) (domain.FlowDefinition, error) {
	query := `
		SELECT id, admin, team, allow_parallel_run, created_at
		FROM flows
		WHERE id = $1
	`
	var def domain.FlowDefinition
	err := r.pool.QueryRow(ctx, query, flowID).Scan(
		&def.ID,
		&def.Admin,
		&def.Team,
		&def.AllowParallelRun,
		&def.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FlowDefinition{}, ErrNotFound
	}
	if err != nil {
		return domain.FlowDefinition{}, fmt.Errorf("get flow by id: %w", err)
	}

	stages, err := r.listStages(ctx, flowID)
	if err != nil {
		return domain.FlowDefinition{}, err
	}
	def.Stages = stages
	return def, nil
}

// listStages возвращает stages flow в порядке stage_id.
func (r *FlowRepo) listStages(ctx context.Context, flowID string) ([]domain.StageDef, error) {
	query := `
		SELECT stage_id, depends_on
		FROM flow_stages
		WHERE flow_id = $1
		ORDER BY stage_id
	`
	rows, err := r.pool.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("list flow stages: %w", err)
	}
	defer rows.Close()

	var stages []domain.StageDef
	for rows.Next() {
		var (
			id        string
			dependsOn []string
		)
		if err := rows.Scan(&id, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan flow stage: %w", err)
		}
		stages = append(stages, toStageDef(id, dependsOn))
	}
	return stages, rows.Err()
}

// toStageDef переводит строку flow_stages в StageDef.
func toStageDef(id string, dependsOn []string) domain.StageDef {
	def := domain.StageDef{ID: domain.StageID(id)}
	for _, dep := range dependsOn {
		def.DependsOn = append(def.DependsOn, domain.StageID(dep))
	}
	return def
}
