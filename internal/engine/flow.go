package engine

import (
	"fmt"

	"github.com/shaiso/flowruns/internal/domain"
)

// BuildFlow собирает domain.Flow из хранимого определения.
func BuildFlow(def domain.FlowDefinition) (domain.Flow, error) {
	dag, err := BuildDAG(def.Stages)
	if err != nil {
		return domain.Flow{}, fmt.Errorf("build flow %s: %w", def.ID, err)
	}

	return domain.Flow{
		ID:               def.ID,
		Admin:            def.Admin,
		Team:             def.Team,
		Graph:            dag,
		AllowParallelRun: def.AllowParallelRun,
	}, nil
}
