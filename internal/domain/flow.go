package domain

import "time"

// StageID — идентификатор stage (узла DAG) внутри одного flow.
type StageID string

// ExecutionGraph — read-only представление DAG одного flow.
//
// Все методы возвращают новые множества: изменение результата
// не влияет на граф.
type ExecutionGraph[K comparable] interface {
	// AllIDs — все узлы графа.
	AllIDs() Set[K]

	// Roots — узлы без входящих рёбер (точки входа).
	Roots() Set[K]

	// Children — прямые потомки узла.
	Children(id K) Set[K]

	// Ancestors — все предки узла (транзитивно).
	Ancestors(id K) Set[K]
}

// Flow — неизменяемое определение flow.
//
// Flow создаётся и хранится снаружи (см. flow.Service);
// оркестратор только читает его.
type Flow struct {
	// ID — идентификатор flow.
	ID string `json:"id"`

	// Admin — владелец flow.
	Admin string `json:"admin"`

	// Team — команда-владелец.
	Team string `json:"team"`

	// Graph — DAG stages. Ацикличность гарантируется при загрузке.
	Graph ExecutionGraph[StageID] `json:"-"`

	// AllowParallelRun — разрешены ли одновременные runs одного flow.
	AllowParallelRun bool `json:"allow_parallel_run"`
}

// AreRootStages проверяет, что все stageIDs — корни графа.
func (f Flow) AreRootStages(stageIDs ...StageID) bool {
	return f.Graph.Roots().ContainsAll(stageIDs...)
}

// InvalidRoots возвращает stageIDs, которые не являются корнями графа,
// без повторов и по порядку.
func (f Flow) InvalidRoots(stageIDs ...StageID) []StageID {
	roots := f.Graph.Roots()
	var invalid []StageID
	for _, id := range Sorted(NewSet(stageIDs...)) {
		if !roots.Has(id) {
			invalid = append(invalid, id)
		}
	}
	return invalid
}

// StageDef — определение stage в хранилище flows.
type StageDef struct {
	// ID — идентификатор stage, уникальный в рамках flow.
	ID StageID `json:"id"`

	// DependsOn — stages, которые должны завершиться успешно раньше этого.
	DependsOn []StageID `json:"depends_on,omitempty"`
}

// FlowDefinition — flow в том виде, в котором он хранится в БД.
// Из него строится Flow (см. engine.BuildFlow).
type FlowDefinition struct {
	ID               string     `json:"id"`
	Admin            string     `json:"admin"`
	Team             string     `json:"team"`
	AllowParallelRun bool       `json:"allow_parallel_run"`
	Stages           []StageDef `json:"stages"`
	CreatedAt        time.Time  `json:"created_at"`
}
