// Package cli реализует инструмент командной строки flowruns.
//
// # Обзор
//
// CLI работает через HTTP API оркестратора и не импортирует
// внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует запросы, разбор ответов
// (data, list, error) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8083")
//	run, err := client.StartRun("nightly-etl", nil)
//
// ## Output
//
// Форматирование вывода: таблицы (text/tabwriter) по умолчанию,
// JSON с флагом --json. Данные идут в stdout, сообщения в stderr,
// поэтому работает pipe: flowruns run show ID --json | jq .
//
// ## Commands
//
//   - run: start, show, list, stages
//   - event: send
//
// Группы создаются фабриками (NewRunCmd, NewEventCmd), которые
// принимают clientFn и outputFn: Client и Output создаются лениво,
// после разбора PersistentFlags.
package cli
