// Package broker implements the durable task broker on top of RabbitMQ.
// Orchestration tasks flow through a delayed-direct exchange so a handler
// can suspend itself by republishing its own message with an x-delay.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/logging"
)

const (
	// ExchangeMain is the delayed-direct exchange tasks are published to.
	ExchangeMain = "orchestration"
	// ExchangeRetry receives nacked task messages.
	ExchangeRetry = "orchestration.retry"
	// ExchangeFailed receives messages the retry collector gives up on.
	ExchangeFailed = "orchestration.failed"
	// ExchangeEvents is the topic exchange the players publish device
	// events to.
	ExchangeEvents = "android-events"

	// QueueMain is the single work queue, bound to ExchangeMain.
	QueueMain = "orchestration"
	// RoutingKey is the routing key of all orchestration traffic.
	RoutingKey = "orchestration"

	// HeaderTask names the task in message headers.
	HeaderTask = "x-kyaraben-task"
	// HeaderDelay is honoured by the delayed-message exchange plugin.
	HeaderDelay = "x-delay"
	// HeaderRetries counts reinjections by the retry collector.
	HeaderRetries = "x-kyaraben-retries"
)

// AMQPURL builds the broker URL from config.
func AMQPURL(cfg config.AMQPConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.AdminUsername, cfg.AdminPassword),
		Host:   fmt.Sprintf("%s:5672", cfg.Hostname),
		Path:   "/",
	}
	return u.String()
}

// Broker is a durable publish/consume wrapper over one AMQP connection,
// with one channel for publishing and one prefetch-1 channel for consuming.
type Broker struct {
	conn *amqp.Connection
	pub  *amqp.Channel
	cons *amqp.Channel
}

// Dial connects to RabbitMQ and declares the orchestration topology.
func Dial(cfg config.AMQPConfig) (*Broker, error) {
	conn, err := amqp.Dial(AMQPURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ at %s: %w", cfg.Hostname, err)
	}

	b := &Broker{conn: conn}
	if err := b.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) setup() error {
	pub, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	b.pub = pub

	cons, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	b.cons = cons

	err = pub.ExchangeDeclare(ExchangeMain, "x-delayed-message",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		amqp.Table{"x-delayed-type": "direct"})
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeMain, err)
	}

	err = pub.ExchangeDeclare(ExchangeEvents, "topic", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
	}

	if err := cons.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	_, err = cons.QueueDeclare(QueueMain,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-dead-letter-exchange": ExchangeRetry})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueMain, err)
	}

	if err := cons.QueueBind(QueueMain, RoutingKey, ExchangeMain, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", QueueMain, err)
	}

	return nil
}

// Publish serialises payload as JSON and posts it to the orchestration
// exchange as a persistent message. delay > 0 defers delivery.
func (b *Broker) Publish(ctx context.Context, task string, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task, err)
	}

	headers := amqp.Table{HeaderTask: task}
	if delay > 0 {
		headers[HeaderDelay] = delay.Milliseconds()
	}

	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    NewMessageID(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	logging.Op().Info("publish task", "task", task, "message_id", msg.MessageId, "delay_ms", delay.Milliseconds())

	if err := b.pub.PublishWithContext(ctx, ExchangeMain, RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish task %s: %w", task, err)
	}
	return nil
}

// Consume registers the single cooperative consumer on the work queue.
// Acknowledgement is the caller's responsibility, one message at a time.
func (b *Broker) Consume() (<-chan amqp.Delivery, error) {
	deliveries, err := b.cons.Consume(QueueMain,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", QueueMain, err)
	}
	return deliveries, nil
}

// Close shuts down the channels and the connection.
func (b *Broker) Close() {
	if b.pub != nil {
		b.pub.Close()
	}
	if b.cons != nil {
		b.cons.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
