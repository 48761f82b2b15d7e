package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Disposition is what the consumer does with a delivery once it has been handled.
type Disposition int

const (
	Ack Disposition = iota
	// Requeue puts the message back for a later redelivery.
	Requeue
	// Reject drops the message, or dead-letters it when the queue has a DLX.
	Reject
)

type Handler interface {
	Handle(ctx context.Context, routingKey string, body []byte) Disposition
}

type ConsumerConfig struct {
	URL          string
	Exchange     string
	Queue        string
	Bindings     []string
	Prefetch     int
	DLXName      string
	DLXQueue     string
	Tag          string
	RequeueDelay time.Duration
}

type Consumer struct {
	cfg  ConsumerConfig
	log  *logrus.Entry
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg ConsumerConfig, log *logrus.Entry) (*Consumer, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = 2 * time.Second
	}
	c := &Consumer{cfg: cfg, log: log.WithField("component", "consumer")}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	fail := func(format string, err error) error {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf(format, err)
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange: %w", err)
	}

	args := amqp.Table{}
	if c.cfg.DLXName != "" {
		args["x-dead-letter-exchange"] = c.cfg.DLXName
		if err := ch.ExchangeDeclare(c.cfg.DLXName, "topic", true, false, false, false, nil); err != nil {
			return fail("declare dlx: %w", err)
		}
		if _, err := ch.QueueDeclare(c.cfg.DLXQueue, true, false, false, false, nil); err != nil {
			return fail("declare dlq: %w", err)
		}
		if err := ch.QueueBind(c.cfg.DLXQueue, "#", c.cfg.DLXName, false, nil); err != nil {
			return fail("bind dlq: %w", err)
		}
	}

	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	if err != nil {
		return fail("declare queue: %w", err)
	}
	for _, key := range c.cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fail("bind queue: %w", err)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fail("set qos: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

// Run consumes until ctx is done or the channel closes. Deliveries are handled one at a
// time, in order.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.WithField("queue", c.cfg.Queue).Info("consuming")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.settle(ctx, d, h.Handle(ctx, d.RoutingKey, d.Body))
		}
	}
}

func (c *Consumer) settle(ctx context.Context, d amqp.Delivery, disp Disposition) {
	log := c.log.WithFields(logrus.Fields{"routing_key": d.RoutingKey, "message_id": d.MessageId})
	switch disp {
	case Ack:
		if err := d.Ack(false); err != nil {
			log.WithError(err).Warn("ack failed")
		}
	case Requeue:
		select {
		case <-ctx.Done():
		case <-time.After(c.cfg.RequeueDelay):
		}
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Warn("nack failed")
		}
	case Reject:
		if err := d.Nack(false, false); err != nil {
			log.WithError(err).Warn("reject failed")
		}
	}
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
