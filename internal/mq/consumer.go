package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки сообщения.
//
// nil — ack. Ошибка, обёрнутая через Reject, — nack в DLQ без повтора.
// Любая другая ошибка — nack с возвратом в очередь.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — распарсенный конверт.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// rejectError помечает ошибку как неповторяемую.
type rejectError struct {
	err error
}

func (e *rejectError) Error() string { return "rejected: " + e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

// Reject оборачивает err так, что consumer отправит сообщение в DLQ
// без возврата в очередь. Повтор такого сообщения ничего не изменит.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &rejectError{err: err}
}

// IsRejected проверяет, помечена ли ошибка через Reject.
func IsRejected(err error) bool {
	var re *rejectError
	return errors.As(err, &re)
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество неподтверждённых сообщений (default: 1).
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start потребляет сообщения до отмены ctx или Stop.
// Блокирующий вызов: обычно запускается в отдельной горутине.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
			if !c.waitReconnect(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.logger.Info("consumer started")

		if err := c.drain(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
			if !c.waitReconnect(ctx) {
				return ctx.Err()
			}
		}
	}
}

// waitReconnect ждёт переподключения. false — ctx завершён.
func (c *Consumer) waitReconnect(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.conn.ReconnectNotify():
		c.logger.Info("reconnected, restarting consumer")
		return true
	}
}

// subscribe настраивает prefetch и начинает потребление.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue),
		"",    // consumer tag (auto-generated)
		false, // auto-ack (ack вручную)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// drain обрабатывает сообщения, пока канал открыт.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message",
			"error", err,
			"body", string(raw.Body),
		)
		// Некорректное сообщение — в DLQ
		c.settle(raw.Nack(false, false))
		return
	}

	delivery := &Delivery{Message: msg, Raw: raw}

	c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type)

	err := c.handler(ctx, delivery)
	switch {
	case err == nil:
		c.settle(raw.Ack(false))
	case IsRejected(err):
		c.logger.Error("message rejected",
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		c.settle(raw.Nack(false, false))
	default:
		c.logger.Error("handler failed, requeueing",
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		c.settle(raw.Nack(false, true))
	}
}

// settle логирует ошибку ack/nack: повторить её всё равно нельзя.
func (c *Consumer) settle(err error) {
	if err != nil {
		c.logger.Warn("failed to settle delivery", "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload после json.Unmarshal в any — map[string]any, поэтому
	// проходим через повторный marshal
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
