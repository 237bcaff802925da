package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Tempest/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRuleActivated     MessageType = "rule.activated"
	MessageTypeRuleDeactivated   MessageType = "rule.deactivated"
	MessageTypeRuleRemoved       MessageType = "rule.removed"
	MessageTypeExecutionRecorded MessageType = "execution.recorded"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
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

// RuleActivatedPayload — правило активировано: нужно поставить проверку.
type RuleActivatedPayload struct {
	RuleID          string `json:"rule_id"`
	UserID          string `json:"user_id"`
	IntervalMinutes int    `json:"interval_minutes"`
}

// RuleDeactivatedPayload — правило деактивировано: проверку снять.
type RuleDeactivatedPayload struct {
	RuleID string `json:"rule_id"`
}

// RuleRemovedPayload — правило удалено: проверку снять.
type RuleRemovedPayload struct {
	RuleID string `json:"rule_id"`
}

// ExecutionRecordedPayload — тик правила записан в durable-лог.
type ExecutionRecordedPayload struct {
	ExecutionID   string `json:"execution_id"`
	RuleID        string `json:"rule_id"`
	UserID        string `json:"user_id"`
	ConditionsMet bool   `json:"conditions_met"`
	Success       bool   `json:"success"`
	ActionsTaken  int    `json:"actions_taken"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
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

// PublishRuleActivated публикует событие об активации правила.
// Потребитель: Worker.
func (p *Publisher) PublishRuleActivated(ctx context.Context, payload RuleActivatedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRuleActivated,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRules, RoutingKeyRuleActivated, msg)
}

// PublishRuleDeactivated публикует событие о деактивации правила.
// Потребитель: Worker.
func (p *Publisher) PublishRuleDeactivated(ctx context.Context, ruleID string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRuleDeactivated,
		Payload:   RuleDeactivatedPayload{RuleID: ruleID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRules, RoutingKeyRuleDeactivated, msg)
}

// PublishRuleRemoved публикует событие об удалении правила.
// Потребитель: Worker.
func (p *Publisher) PublishRuleRemoved(ctx context.Context, ruleID string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRuleRemoved,
		Payload:   RuleRemovedPayload{RuleID: ruleID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRules, RoutingKeyRuleRemoved, msg)
}

// PublishExecutionRecorded публикует событие о записанном тике правила.
// Потребители: внешние дашборды. Публикуется после вставки записи
// в durable-лог, поэтому потеря события не теряет данных.
func (p *Publisher) PublishExecutionRecorded(ctx context.Context, rec *domain.ExecutionRecord) error {
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypeExecutionRecorded,
		Payload: ExecutionRecordedPayload{
			ExecutionID:   rec.ID.String(),
			RuleID:        rec.RuleID,
			UserID:        rec.UserID,
			ConditionsMet: rec.ConditionsMet,
			Success:       rec.Success,
			ActionsTaken:  len(rec.ActionsTaken),
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeExecutions, RoutingKeyRecorded, msg)
}
