package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeStageRunEvent MessageType = "stagerun.event"
	MessageTypeFlowRunStart  MessageType = "flowrun.start"
	MessageTypeStageStart    MessageType = "stage.start"
	MessageTypeStageCancel   MessageType = "stage.cancel"
)

// Message — конверт любого сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// StageStartPayload — команда executor'ам запустить stage run.
type StageStartPayload struct {
	StageRunID string `json:"stage_run_id"`
	StageID    string `json:"stage_id"`
	FlowRunID  string `json:"flow_run_id"`
}

// StageCancelPayload — команда отменить stage run.
// ExecutorID пуст для общей (неадресной) отмены.
type StageCancelPayload struct {
	StageRunID string `json:"stage_run_id"`
	ExecutorID string `json:"executor_id,omitempty"`
}

// FlowRunStartPayload — запрос на запуск flow run.
type FlowRunStartPayload struct {
	FlowID       string   `json:"flow_id"`
	RootStageIDs []string `json:"root_stage_ids,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// NewMessage создаёт конверт с новым ID и текущим временем.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishStageStart отправляет executor'ам команду запуска stage run.
func (p *Publisher) PublishStageStart(ctx context.Context, payload StageStartPayload) error {
	return p.Publish(ctx, ExchangeExecutors, RoutingKeyStart, NewMessage(MessageTypeStageStart, payload))
}

// PublishStageCancel отправляет команду отмены. Если ExecutorID задан,
// команда адресуется только этому executor'у.
func (p *Publisher) PublishStageCancel(ctx context.Context, payload StageCancelPayload) error {
	return p.Publish(ctx, ExchangeExecutors, CancelRoutingKey(payload.ExecutorID), NewMessage(MessageTypeStageCancel, payload))
}
