// Package retrycollector drains the dead-letter queue and reinjects failed
// task messages into their original exchange with exponential backoff.
// Messages older than the fail timeout are routed on to orchestration.failed
// where they wait for out-of-band inspection.
package retrycollector

import (
	"fmt"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kyaraben/kyaraben/internal/broker"
	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/logging"
	"github.com/kyaraben/kyaraben/internal/metrics"
)

// Backoff computes the reinjection delay for the given retry count:
// min(delayMax, delayMin * 1.5^retries).
func Backoff(retries int, delayMin, delayMax time.Duration) time.Duration {
	d := time.Duration(float64(delayMin) * math.Pow(1.5, float64(retries)))
	if d > delayMax || d < 0 {
		return delayMax
	}
	return d
}

// Repost describes where and how a dead-lettered message goes back out.
type Repost struct {
	Exchange   string
	RoutingKey string
	Headers    amqp.Table
}

// PlanRepost computes the republish target and updated headers from the
// broker-provided x-death record: the top entry names the exchange and
// routing key the message originally travelled on. The x-death entry is
// consumed; retry bookkeeping headers are updated in its place.
func PlanRepost(headers amqp.Table, delayMin, delayMax time.Duration) (*Repost, error) {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return nil, fmt.Errorf("message has no x-death header")
	}
	death, ok := deaths[0].(amqp.Table)
	if !ok {
		return nil, fmt.Errorf("malformed x-death entry %T", deaths[0])
	}
	exchange, _ := death["exchange"].(string)
	keys, ok := death["routing-keys"].([]interface{})
	if !ok || len(keys) == 0 {
		return nil, fmt.Errorf("x-death entry has no routing keys")
	}
	routingKey, ok := keys[0].(string)
	if !ok {
		return nil, fmt.Errorf("malformed routing key %T", keys[0])
	}

	retries := 0
	switch v := headers[broker.HeaderRetries].(type) {
	case int32:
		retries = int(v)
	case int64:
		retries = int(v)
	case int:
		retries = v
	}
	retries++

	out := amqp.Table{}
	for k, v := range headers {
		if k == "x-death" {
			continue
		}
		out[k] = v
	}
	out[broker.HeaderDelay] = Backoff(retries, delayMin, delayMax).Milliseconds()
	out[broker.HeaderRetries] = int64(retries)

	return &Repost{Exchange: exchange, RoutingKey: routingKey, Headers: out}, nil
}

// Collector consumes orchestration.retry and republishes or discards.
type Collector struct {
	conn *amqp.Connection
	pub  *amqp.Channel
	cons *amqp.Channel

	delayMin    time.Duration
	delayMax    time.Duration
	failTimeout time.Duration
	now         func() time.Time
}

// Dial connects to RabbitMQ and declares the retry topology.
func Dial(cfg config.AMQPConfig, retry config.RetryConfig) (*Collector, error) {
	conn, err := amqp.Dial(broker.AMQPURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ at %s: %w", cfg.Hostname, err)
	}

	c := &Collector{
		conn:        conn,
		delayMin:    time.Duration(retry.DelayMin) * time.Second,
		delayMax:    time.Duration(retry.DelayMax) * time.Second,
		failTimeout: time.Duration(retry.FailTimeout) * time.Second,
		now:         time.Now,
	}
	if err := c.setup(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Collector) setup() error {
	pub, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	c.pub = pub

	cons, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	c.cons = cons

	for _, exchange := range []string{broker.ExchangeRetry, broker.ExchangeFailed} {
		if err := pub.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	if err := cons.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	_, err = cons.QueueDeclare(broker.ExchangeRetry, true, false, false, false,
		amqp.Table{"x-dead-letter-exchange": broker.ExchangeFailed})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", broker.ExchangeRetry, err)
	}
	if err := cons.QueueBind(broker.ExchangeRetry, broker.RoutingKey, broker.ExchangeRetry, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", broker.ExchangeRetry, err)
	}

	_, err = cons.QueueDeclare(broker.ExchangeFailed, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", broker.ExchangeFailed, err)
	}
	if err := cons.QueueBind(broker.ExchangeFailed, broker.RoutingKey, broker.ExchangeFailed, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", broker.ExchangeFailed, err)
	}

	return nil
}

// Run consumes the retry queue until the channel closes.
func (c *Collector) Run() error {
	deliveries, err := c.cons.Consume(broker.ExchangeRetry, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", broker.ExchangeRetry, err)
	}

	logging.Op().Info("waiting for dead-lettered messages")

	for d := range deliveries {
		c.handle(d)
	}
	return nil
}

func (c *Collector) handle(d amqp.Delivery) {
	log := logging.Op().With("delivery_tag", d.DeliveryTag, "message_id", d.MessageId)

	if c.now().Sub(d.Timestamp) > c.failTimeout {
		log.Warn("message discarded (fail timeout)", "age", c.now().Sub(d.Timestamp))
		metrics.RetriesExpired.Inc()
		d.Nack(false, false)
		return
	}

	repost, err := PlanRepost(d.Headers, c.delayMin, c.delayMax)
	if err != nil {
		log.Error("cannot repost message", "error", err)
		d.Nack(false, false)
		return
	}

	log.Info("repost task", "delay_ms", repost.Headers[broker.HeaderDelay],
		"retries", repost.Headers[broker.HeaderRetries], "exchange", repost.Exchange)

	msg := amqp.Publishing{
		Headers:      repost.Headers,
		ContentType:  d.ContentType,
		DeliveryMode: d.DeliveryMode,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	}

	if err := c.pub.Publish(repost.Exchange, repost.RoutingKey, false, false, msg); err != nil {
		log.Error("republish failed", "error", err)
		d.Nack(false, true)
		return
	}

	metrics.RetriesReposted.Inc()
	d.Ack(false)
}

// Close shuts down the channels and the connection.
func (c *Collector) Close() {
	if c.pub != nil {
		c.pub.Close()
	}
	if c.cons != nil {
		c.cons.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
