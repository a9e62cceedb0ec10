package messaging

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// silentBroker accepts TCP connections and never answers the AMQP handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func newTestPublisher(uri string, timeout time.Duration) *Publisher {
	p := NewPublisher(PublisherOptions{
		URI:      uri,
		Topology: Topology{Exchange: "orders.events"},
		Timeout:  timeout,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.redial.InitialInterval = time.Minute
	p.redial.Reset()
	return p
}

func TestPublish_UnresponsiveBrokerNeverOutlivesCallerDeadline(t *testing.T) {
	p := newTestPublisher(silentBroker(t), 5*time.Second)

	const callers = 8
	var wg sync.WaitGroup
	elapsed := make([]time.Duration, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()
			start := time.Now()
			errs[i] = p.Publish(ctx, "order.created", []byte(`{}`))
			elapsed[i] = time.Since(start)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.Error(t, errs[i])
		assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(errs[i]))
		assert.Less(t, elapsed[i], time.Second, "caller %d waited %s", i, elapsed[i])
	}
}

func TestPublish_FailsFastWhileRedialIsBackedOff(t *testing.T) {
	p := newTestPublisher(silentBroker(t), 200*time.Millisecond)

	err := p.Publish(context.Background(), "order.created", []byte(`{}`))
	require.Error(t, err)

	start := time.Now()
	err = p.Publish(context.Background(), "order.created", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPublish_RefusedConnectionIsUpstreamUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := newTestPublisher("amqp://guest:guest@"+addr+"/", time.Second)
	err = p.Publish(context.Background(), "order.created", []byte(`{}`))

	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
}
