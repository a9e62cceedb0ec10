package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

func TestDecide(t *testing.T) {
	transient := domain.NewUpstreamUnavailableError("db down", errors.New("timeout"))
	poison := domain.NewPoisonMessageError("bad json", nil)

	tests := []struct {
		name    string
		err     error
		retries int
		want    Outcome
	}{
		{"success acks", nil, 0, OutcomeAck},
		{"success after retries acks", nil, 4, OutcomeAck},
		{"transient failure retries", transient, 0, OutcomeRetry},
		{"transient failure below bound retries", transient, 4, OutcomeRetry},
		{"retries exhausted dead-letters", transient, 5, OutcomeDeadLetter},
		{"plain error retries", errors.New("boom"), 1, OutcomeRetry},
		{"poison dead-letters immediately", poison, 0, OutcomeDeadLetter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.err, tt.retries, 5))
		})
	}
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int32(3)}))
	assert.Equal(t, 7, retryCount(amqp.Table{retryHeader: int64(7)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryHeader: "x"}))
}

type handlerFunc func(ctx context.Context, body []byte) error

func (f handlerFunc) Handle(ctx context.Context, body []byte) error { return f(ctx, body) }

// recordingAcker stands in for the broker channel behind a delivery.
type recordingAcker struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue []bool
}

func (a *recordingAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *recordingAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *recordingAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type recordingRetrier struct {
	err     error
	retries []int
}

func (r *recordingRetrier) republish(_ context.Context, _ amqp.Delivery, retries int) error {
	r.retries = append(r.retries, retries)
	return r.err
}

func newTestConsumer(h handlerFunc, timeout time.Duration) *Consumer {
	return NewConsumer(ConsumerOptions{MaxRetry: 3, Timeout: timeout}, h,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func delivery(acker amqp.Acknowledger, retries int) amqp.Delivery {
	d := amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, MessageId: "m-1", Body: []byte(`{}`)}
	if retries > 0 {
		d.Headers = amqp.Table{retryHeader: int32(retries)}
	}
	return d
}

func TestProcess_SuccessAcks(t *testing.T) {
	c := newTestConsumer(func(context.Context, []byte) error { return nil }, time.Second)
	acker, r := &recordingAcker{}, &recordingRetrier{}

	c.process(context.Background(), delivery(acker, 0), r)

	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
	assert.Empty(t, r.retries)
}

func TestProcess_TransientFailureRepublishesWithBumpedCounterThenAcks(t *testing.T) {
	transient := domain.NewUpstreamUnavailableError("db down", errors.New("timeout"))
	c := newTestConsumer(func(context.Context, []byte) error { return transient }, time.Second)
	acker, r := &recordingAcker{}, &recordingRetrier{}

	c.process(context.Background(), delivery(acker, 1), r)

	assert.Equal(t, []int{2}, r.retries)
	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
}

func TestProcess_FailedRepublishRequeues(t *testing.T) {
	c := newTestConsumer(func(context.Context, []byte) error { return errors.New("boom") }, time.Second)
	acker, r := &recordingAcker{}, &recordingRetrier{err: errors.New("channel closed")}

	c.process(context.Background(), delivery(acker, 0), r)

	assert.Equal(t, []int{1}, r.retries)
	assert.Zero(t, acker.acks)
	assert.Equal(t, []bool{true}, acker.requeue)
}

func TestProcess_DeadLetters(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		retries int
	}{
		{"retries exhausted", domain.NewUpstreamUnavailableError("db down", nil), 3},
		{"poison message", domain.NewPoisonMessageError("bad json", nil), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConsumer(func(context.Context, []byte) error { return tt.err }, time.Second)
			acker, r := &recordingAcker{}, &recordingRetrier{}

			c.process(context.Background(), delivery(acker, tt.retries), r)

			assert.Empty(t, r.retries)
			assert.Zero(t, acker.acks)
			assert.Equal(t, []bool{false}, acker.requeue)
		})
	}
}

func TestProcess_HandlerIsBoundedByTimeout(t *testing.T) {
	var sawDeadline bool
	c := newTestConsumer(func(ctx context.Context, _ []byte) error {
		_, sawDeadline = ctx.Deadline()
		<-ctx.Done()
		return domain.NewUpstreamUnavailableError("store timed out", ctx.Err())
	}, 50*time.Millisecond)
	acker, r := &recordingAcker{}, &recordingRetrier{}

	done := make(chan struct{})
	go func() {
		c.process(context.Background(), delivery(acker, 0), r)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "handler was not cancelled")
	}
	assert.True(t, sawDeadline)
	assert.Equal(t, []int{1}, r.retries)
	assert.Equal(t, 1, acker.acks)
}
