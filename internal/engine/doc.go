// Package engine строит граф выполнения flow.
//
// Включает:
//   - parser.go — валидация определения flow (ID stages, depends_on)
//   - dag.go    — построение DAG и реализация domain.ExecutionGraph
//   - flow.go   — сборка domain.Flow из domain.FlowDefinition
//
// Ацикличность проверяется один раз при загрузке определения;
// дальше оркестратор работает с графом только на чтение.
package engine
