package multichat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadengine/platform/apperr"
	"leadengine/platform/config"
	"leadengine/platform/logger"
	"leadengine/platform/validator"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	prefetch         = 10
	reconnectBase    = time.Second
	reconnectCeiling = 30 * time.Second
)

// ErrPoison marks deliveries that can never be processed.
var ErrPoison = errors.New("poison message")

// Consumer reads inbound chat messages from a durable AMQP queue.
type Consumer struct {
	url   string
	queue string
	sink  Submitter
	val   *validator.Validator
	log   *logger.Logger
	now   func() time.Time
}

func NewConsumer(cfg config.AMQPConfig, sink Submitter, val *validator.Validator, log *logger.Logger) *Consumer {
	return &Consumer{
		url:   cfg.GetAMQPURL(),
		queue: cfg.GetAMQPQueue(),
		sink:  sink,
		val:   val,
		log:   log.WithComponent("multichat"),
		now:   time.Now,
	}
}

// Run consumes until ctx ends, reconnecting with capped exponential backoff
// whenever the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		wait := min(reconnectBase<<min(attempt-1, 5), reconnectCeiling)
		c.log.Warn("multichat: connection lost, reconnecting", "attempt", attempt, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.log.Info("multichat: consuming", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.settle(d, c.Handle(d.Body))
		}
	}
}

func (c *Consumer) settle(d amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrPoison):
		c.log.Warn("multichat: dropping message", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
	default:
		c.log.Error("multichat: message requeued", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, true)
	}
}

// Handle decodes, validates and submits one message body. Malformed
// messages are wrapped in ErrPoison.
func (c *Consumer) Handle(body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if err := c.val.Struct(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}
	ev, err := msg.Event(c.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if err := c.sink.Submit(ev); err != nil {
		if apperr.Is(err, apperr.KindBadRequest) {
			return fmt.Errorf("%w: %v", ErrPoison, err)
		}
		return err
	}
	return nil
}
