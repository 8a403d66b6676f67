package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeStages    Exchange = "flowruns.stages"
	ExchangeRuns      Exchange = "flowruns.runs"
	ExchangeExecutors Exchange = "flowruns.executors"
	ExchangeDLQ       Exchange = "flowruns.dlq"
)

// Queues — имена очередей.
const (
	QueueStageEvents   Queue = "stageruns.events"
	QueueFlowRunStarts Queue = "flowruns.start"
	QueueDLQStageRuns  Queue = "dlq.stageruns"
)

// Routing keys.
const (
	RoutingKeyEvent     RoutingKey = "event"
	RoutingKeyStart     RoutingKey = "start"
	RoutingKeyCancel    RoutingKey = "cancel"
	RoutingKeyDLQStages RoutingKey = "stageruns"
)

// CancelRoutingKey возвращает ключ отмены: адресный для executorID
// или общий, если executor неизвестен.
func CancelRoutingKey(executorID string) RoutingKey {
	if executorID == "" {
		return RoutingKeyCancel
	}
	return RoutingKey(string(RoutingKeyCancel) + "." + executorID)
}

// SetupTopology объявляет exchanges, queues и bindings оркестратора.
// Очереди executor'ов объявляют сами executor'ы.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeStages, amqp.ExchangeDirect},
		{ExchangeRuns, amqp.ExchangeDirect},
		// topic: executor подписывается на start, cancel и cancel.<свой id>
		{ExchangeExecutors, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQStages),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// stageruns.events — с DLQ: нераспознанные события уходят туда
		{QueueStageEvents, dlqArgs},
		{QueueFlowRunStarts, dlqArgs},
		{QueueDLQStageRuns, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueStageEvents, RoutingKeyEvent, ExchangeStages},
		{QueueFlowRunStarts, RoutingKeyStart, ExchangeRuns},
		{QueueDLQStageRuns, RoutingKeyDLQStages, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  flowruns RabbitMQ topology:

    flowruns.stages (direct)
    └── stageruns.events [routing: event]     consumer: orchestrator, DLQ: dlq.stageruns

    flowruns.runs (direct)
    └── flowruns.start [routing: start]       consumer: orchestrator, DLQ: dlq.stageruns

    flowruns.executors (topic)
    ├── start                                 stage.start commands
    ├── cancel                                untargeted stage.cancel
    └── cancel.<executorId>                   targeted stage.cancel

    flowruns.dlq (direct)
    └── dlq.stageruns [routing: stageruns]    manual processing
`
}
