package engine

import (
	"fmt"

	"github.com/shaiso/flowruns/internal/domain"
)

// Validate выполняет валидацию списка stages.
//
// Проверяет:
// - Наличие stages
// - Уникальность и непустоту ID
// - Отсутствие self-dependency
// - Что depends_on ссылается на существующие stages
//
// Циклы проверяются при построении DAG.
func Validate(stages []domain.StageDef) error {
	if len(stages) == 0 {
		return ErrEmptyStages
	}

	stageIDs := make(map[domain.StageID]bool, len(stages))

	for i := range stages {
		if err := ValidateStage(&stages[i], stageIDs); err != nil {
			return err
		}
	}

	for _, stage := range stages {
		for _, dep := range stage.DependsOn {
			if !stageIDs[dep] {
				return NewValidationError(stage.ID, "depends_on",
					fmt.Sprintf("depends on unknown stage: %s", dep), ErrMissingDependency)
			}
		}
	}

	return nil
}

// ValidateStage валидирует один stage.
// stageIDs — уже встреченные ID (для проверки уникальности).
func ValidateStage(stage *domain.StageDef, stageIDs map[domain.StageID]bool) error {
	if stage.ID == "" {
		return NewValidationError("", "id", "stage has empty ID", ErrEmptyStageID)
	}

	if stageIDs[stage.ID] {
		return NewValidationError(stage.ID, "id",
			fmt.Sprintf("duplicate stage ID: %s", stage.ID), ErrDuplicateStageID)
	}
	stageIDs[stage.ID] = true

	for _, dep := range stage.DependsOn {
		if dep == stage.ID {
			return NewValidationError(stage.ID, "depends_on",
				"stage depends on itself", ErrSelfDependency)
		}
	}

	return nil
}
