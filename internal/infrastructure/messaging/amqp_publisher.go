package messaging

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type PublisherOptions struct {
	URI      string
	Topology Topology
	Timeout  time.Duration
}

// Publisher sends persistent messages on a confirm-mode channel and only
// reports success once the broker acknowledged the message. No call waits
// past its ctx. After a failed dial, callers fail fast until the backoff
// interval has passed.
type Publisher struct {
	opts PublisherOptions
	log  *slog.Logger

	sem      chan struct{} // guards conn and ch, acquired against ctx
	conn     *amqp.Connection
	ch       *amqp.Channel
	redial   *backoff.ExponentialBackOff
	nextDial time.Time
	dialErr  error
}

func NewPublisher(opts PublisherOptions, log *slog.Logger) *Publisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	redial := backoff.NewExponentialBackOff()
	redial.MaxInterval = 30 * time.Second
	return &Publisher{opts: opts, log: log, sem: make(chan struct{}, 1), redial: redial}
}

func (p *Publisher) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) release() { <-p.sem }

// dialer bounds the TCP connect and the AMQP handshake by the earlier of
// ctx's deadline and the configured timeout.
func (p *Publisher) dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		deadline := time.Now().Add(p.opts.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		d := net.Dialer{Deadline: deadline}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (p *Publisher) connect(ctx context.Context) error {
	if now := time.Now(); now.Before(p.nextDial) {
		return p.dialErr
	}

	err := p.dial(ctx)
	if err != nil {
		p.nextDial = time.Now().Add(p.redial.NextBackOff())
		p.dialErr = err
		return err
	}
	p.redial.Reset()
	p.nextDial = time.Time{}
	p.dialErr = nil
	return nil
}

func (p *Publisher) dial(ctx context.Context) error {
	conn, err := amqp.DialConfig(p.opts.URI, amqp.Config{
		Dial:      p.dialer(ctx),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := p.opts.Topology.Declare(ch); err != nil {
		conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	p.log.Info("connected to RabbitMQ", "exchange", p.opts.Topology.Exchange)
	return nil
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	if err := p.acquire(ctx); err != nil {
		return domain.NewUpstreamUnavailableError("broker busy", err)
	}
	defer p.release()

	if p.ch == nil || p.ch.IsClosed() {
		p.closeLocked()
		if err := p.connect(ctx); err != nil {
			return domain.NewUpstreamUnavailableError("broker unavailable", err)
		}
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		p.opts.Topology.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.closeLocked()
		return domain.NewUpstreamUnavailableError("publish failed", err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.closeLocked()
		return domain.NewUpstreamUnavailableError("publish not confirmed", err)
	}
	if !acked {
		return domain.NewUpstreamUnavailableError("publish nacked by broker", errors.New("nack"))
	}
	return nil
}

func (p *Publisher) closeLocked() {
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil {
			p.log.Debug("closing broker connection", "err", err)
		}
	}
	p.conn, p.ch = nil, nil
}

func (p *Publisher) Close() error {
	p.sem <- struct{}{}
	defer p.release()
	p.closeLocked()
	return nil
}
