package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/flowruns/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// ID — идентификатор stage.
	ID domain.StageID

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф stages flow.
//
// DAG реализует domain.ExecutionGraph[domain.StageID].
// После BuildDAG граф не изменяется, поэтому безопасен
// для одновременного чтения из нескольких горутин.
type DAG struct {
	// Nodes — все узлы графа (stageID → Node).
	Nodes map[domain.StageID]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	// ancestors — предки каждого узла, считаются один раз при построении.
	ancestors map[domain.StageID]domain.Set[domain.StageID]
}

var _ domain.ExecutionGraph[domain.StageID] = (*DAG)(nil)

// BuildDAG строит DAG из списка stages.
//
// Перед построением выполняется Validate, поэтому неизвестные
// зависимости, дубликаты и циклы отклоняются здесь.
func BuildDAG(stages []domain.StageDef) (*DAG, error) {
	if err := Validate(stages); err != nil {
		return nil, err
	}

	dag := &DAG{
		Nodes:     make(map[domain.StageID]*Node, len(stages)),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for _, stage := range stages {
		dag.Nodes[stage.ID] = &Node{
			ID:         stage.ID,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for _, stage := range stages {
		node := dag.Nodes[stage.ID]
		for _, depID := range stage.DependsOn {
			depNode, exists := dag.Nodes[depID]
			if !exists {
				return nil, NewValidationError(stage.ID, "depends_on",
					fmt.Sprintf("depends on unknown stage: %s", depID), ErrMissingDependency)
			}
			dag.addEdge(depNode, node)
		}
	}

	dag.findRootNodes()

	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order
	dag.ancestors = dag.computeAncestors()

	return dag, nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты пропускаются, чтобы не считать InDegree дважды.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
// Порядок детерминирован (по ID).
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.Nodes {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
	sort.Slice(d.RootNodes, func(i, j int) bool {
		return d.RootNodes[i].ID < d.RootNodes[j].ID
	})
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[domain.StageID]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// computeAncestors обходит узлы в топологическом порядке:
// предки узла — это его прямые зависимости плюс их предки.
func (d *DAG) computeAncestors() map[domain.StageID]domain.Set[domain.StageID] {
	result := make(map[domain.StageID]domain.Set[domain.StageID], len(d.Order))
	for _, node := range d.Order {
		set := domain.NewSet[domain.StageID]()
		for _, dep := range node.DependsOn {
			set.Add(dep.ID)
			for id := range result[dep.ID] {
				set.Add(id)
			}
		}
		result[node.ID] = set
	}
	return result
}

// AllIDs возвращает все stages графа.
func (d *DAG) AllIDs() domain.Set[domain.StageID] {
	set := make(domain.Set[domain.StageID], len(d.Nodes))
	for id := range d.Nodes {
		set.Add(id)
	}
	return set
}

// Roots возвращает stages без зависимостей.
func (d *DAG) Roots() domain.Set[domain.StageID] {
	set := make(domain.Set[domain.StageID], len(d.RootNodes))
	for _, node := range d.RootNodes {
		set.Add(node.ID)
	}
	return set
}

// Children возвращает прямых потомков stage.
// Для неизвестного ID возвращается пустое множество.
func (d *DAG) Children(id domain.StageID) domain.Set[domain.StageID] {
	set := domain.NewSet[domain.StageID]()
	node, ok := d.Nodes[id]
	if !ok {
		return set
	}
	for _, dependent := range node.Dependents {
		set.Add(dependent.ID)
	}
	return set
}

// Ancestors возвращает всех предков stage (транзитивно).
// Для неизвестного ID возвращается пустое множество.
func (d *DAG) Ancestors(id domain.StageID) domain.Set[domain.StageID] {
	set, ok := d.ancestors[id]
	if !ok {
		return domain.NewSet[domain.StageID]()
	}
	return set.Clone()
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id domain.StageID) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}
