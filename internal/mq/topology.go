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
	ExchangeRules      Exchange = "tempest.rules"
	ExchangeExecutions Exchange = "tempest.executions"
	ExchangeDLQ        Exchange = "tempest.dlq"
)

// Queues — имена очередей.
const (
	QueueRulesEvents        Queue = "rules.events"
	QueueExecutionsRecorded Queue = "executions.recorded"
	QueueDLQRules           Queue = "dlq.rules"
)

// Routing keys.
const (
	RoutingKeyRuleActivated   RoutingKey = "activated"
	RoutingKeyRuleDeactivated RoutingKey = "deactivated"
	RoutingKeyRuleRemoved     RoutingKey = "removed"
	RoutingKeyRecorded        RoutingKey = "recorded"
	RoutingKeyDLQRules        RoutingKey = "rules"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентно: повторное объявление существующей топологии безопасно.
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
		{ExchangeRules, "direct"},
		{ExchangeExecutions, "direct"},
		{ExchangeDLQ, "direct"},
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
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRules),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// rules.events — с DLQ (события правил могут уходить в DLQ после retry)
		{QueueRulesEvents, dlqArgs},

		// executions.recorded — без DLQ (информационные события)
		{QueueExecutionsRecorded, nil},

		// dlq.rules — сама DLQ очередь
		{QueueDLQRules, nil},
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
// rules.events слушает все три события жизненного цикла правила.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRulesEvents, RoutingKeyRuleActivated, ExchangeRules},
		{QueueRulesEvents, RoutingKeyRuleDeactivated, ExchangeRules},
		{QueueRulesEvents, RoutingKeyRuleRemoved, ExchangeRules},
		{QueueExecutionsRecorded, RoutingKeyRecorded, ExchangeExecutions},
		{QueueDLQRules, RoutingKeyDLQRules, ExchangeDLQ},
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
  Tempest RabbitMQ Topology:

    tempest.rules (direct)
    └── rules.events [routing: activated | deactivated | removed]
            Consumer: Worker
            DLQ: dlq.rules

    tempest.executions (direct)
    └── executions.recorded [routing: recorded]
            Consumer: external dashboards

    tempest.dlq (direct)
    └── dlq.rules [routing: rules]
            Manual processing
  `
}
