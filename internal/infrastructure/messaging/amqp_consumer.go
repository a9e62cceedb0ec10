package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/application"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type ConsumerOptions struct {
	URI        string
	Topology   Topology
	Prefetch   int
	Workers    int
	MaxRetry   int
	RetryDelay time.Duration
	// Timeout bounds the dial, each handler call and each republish.
	Timeout time.Duration
}

type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetry
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	default:
		return "dead-letter"
	}
}

// Decide maps a handler result onto what happens to the delivery. Poison
// messages and deliveries that exhausted their retries are dead-lettered.
func Decide(err error, retries, maxRetry int) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case domain.KindOf(err) == domain.KindPoisonMessage:
		return OutcomeDeadLetter
	case retries >= maxRetry:
		return OutcomeDeadLetter
	default:
		return OutcomeRetry
	}
}

// Consumer delivers each message at least once to the handler. Failed
// deliveries are re-published with an incremented retry header (the broker
// cannot rewrite headers on a plain requeue) and dead-lettered past MaxRetry.
type Consumer struct {
	opts    ConsumerOptions
	handler application.MessageHandler
	log     *slog.Logger
}

func NewConsumer(opts ConsumerOptions, handler application.MessageHandler, log *slog.Logger) *Consumer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Consumer{opts: opts, handler: handler, log: log}
}

// Run consumes until ctx is cancelled, reconnecting with backoff whenever
// the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.log.Info("Consumer shutting down", "queue", c.opts.Topology.Queue)
			return nil
		}
		wait := b.NextBackOff()
		c.log.Error("consumer disconnected, reconnecting",
			"queue", c.opts.Topology.Queue, "err", err, "in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.opts.URI, amqp.Config{
		Dial:      amqp.DefaultDial(c.opts.Timeout),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := c.opts.Topology.Declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return err
	}

	retryCh, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := retryCh.Confirm(false); err != nil {
		return err
	}
	r := &republisher{ch: retryCh, queue: c.opts.Topology.Queue, timeout: c.opts.Timeout}

	deliveries, err := ch.ConsumeWithContext(ctx, c.opts.Topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info("Connected to RabbitMQ and listening for order events",
		"queue", c.opts.Topology.Queue, "routing_key", c.opts.Topology.RoutingKey)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.process(ctx, d, r)
			}
		}()
	}

	select {
	case <-ctx.Done():
		ch.Close()
		wg.Wait()
		return ctx.Err()
	case amqpErr := <-closed:
		wg.Wait()
		if amqpErr == nil {
			return errors.New("connection closed")
		}
		return amqpErr
	}
}

// retrier puts a failed delivery back on the queue with its retry counter
// set.
type retrier interface {
	republish(ctx context.Context, d amqp.Delivery, retries int) error
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, r retrier) {
	retries := retryCount(d.Headers)
	hctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	err := c.handler.Handle(hctx, d.Body)
	cancel()
	outcome := Decide(err, retries, c.opts.MaxRetry)

	switch outcome {
	case OutcomeAck:
		if aerr := d.Ack(false); aerr != nil {
			c.log.Error("ack failed", "delivery_tag", d.DeliveryTag, "err", aerr)
		}
		return

	case OutcomeDeadLetter:
		c.log.Error("dead-lettering message",
			"kind", domain.KindPoisonMessage, "message_id", d.MessageId, "retries", retries, "err", err)
		if nerr := d.Nack(false, false); nerr != nil {
			c.log.Error("nack failed", "delivery_tag", d.DeliveryTag, "err", nerr)
		}
		return
	}

	c.log.Warn("Error processing order event, retrying",
		"message_id", d.MessageId, "retries", retries, "err", err)

	if c.opts.RetryDelay > 0 {
		select {
		case <-ctx.Done():
			_ = d.Nack(false, true)
			return
		case <-time.After(c.opts.RetryDelay * time.Duration(retries+1)):
		}
	}

	if rerr := r.republish(ctx, d, retries+1); rerr != nil {
		// plain requeue keeps the message, just without bumping the counter
		c.log.Error("retry republish failed, requeueing", "message_id", d.MessageId, "err", rerr)
		_ = d.Nack(false, true)
		return
	}
	if aerr := d.Ack(false); aerr != nil {
		c.log.Error("ack after republish failed", "delivery_tag", d.DeliveryTag, "err", aerr)
	}
}

type republisher struct {
	mu      sync.Mutex
	ch      *amqp.Channel
	queue   string
	timeout time.Duration
}

// republish puts a copy of d back on the queue with the retry counter set,
// waiting for the broker confirm before the original is acked.
func (r *republisher) republish(ctx context.Context, d amqp.Delivery, retries int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(retries)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dc, err := r.ch.PublishWithDeferredConfirmWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	})
	if err != nil {
		return err
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("republish of %s nacked", d.MessageId)
	}
	return nil
}
