package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func withTracing(t *testing.T) {
	t.Helper()
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestProducer_PublishRoutesByTopic(t *testing.T) {
	withTracing(t)
	w := &fakeWriter{}
	p := &Producer{writer: w}

	require.NoError(t, p.Publish(context.Background(), "inventory.low-stock", "p1", map[string]int{"stock": 2}))
	require.NoError(t, p.Publish(context.Background(), "pos.audit", "o1", map[string]string{"action": "order.paid"}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "inventory.low-stock", w.msgs[0].Topic)
	assert.Equal(t, []byte("p1"), w.msgs[0].Key)
	assert.JSONEq(t, `{"stock": 2}`, string(w.msgs[0].Value))
	assert.Equal(t, "pos.audit", w.msgs[1].Topic)

	carrier := NewMessageCarrier(&w.msgs[0])
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestProducer_PublishErrors(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), "pos.audit", "k", struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pos.audit")

	err = p.Publish(context.Background(), "pos.audit", "k", make(chan int))
	require.Error(t, err)
}

func TestConsumer_CommitsAfterHandler(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Key: []byte("a"), Value: []byte(`{"n":1}`)},
		{Offset: 2, Key: []byte("b"), Value: []byte(`{"n":2}`)},
	}}
	c := newConsumer(reader, "inventory.low-stock", "alerts", 1, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var keys []string
	err := c.Consume(ctx, func(ctx context.Context, key, payload []byte) error {
		keys = append(keys, string(key))
		var body map[string]int
		require.NoError(t, json.Unmarshal(payload, &body))
		if len(keys) == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, []int64{1, 2}, reader.committed)
}

func TestConsumer_RetriesHandlerThenStops(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Offset: 7, Value: []byte(`{}`)}}}
	c := newConsumer(reader, "inventory.low-stock", "alerts", 3, time.Millisecond)

	calls := 0
	err := c.Consume(context.Background(), func(ctx context.Context, key, payload []byte) error {
		calls++
		return errors.New("webhook returned 502")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned 502")
	assert.Equal(t, 3, calls)
	assert.Empty(t, reader.committed, "failed message must not be committed")
}

func TestConsumer_RecoversWithinRetries(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Offset: 3, Value: []byte(`{}`)}}}
	c := newConsumer(reader, "inventory.low-stock", "alerts", 3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.Consume(ctx, func(ctx context.Context, key, payload []byte) error {
		calls++
		if calls == 1 {
			return errors.New("timeout")
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{3}, reader.committed)
}

func TestMessageCarrier(t *testing.T) {
	msg := &kafka.Message{}
	c := NewMessageCarrier(msg)
	c.Set("traceparent", "a")
	c.Set("baggage", "b")
	c.Set("traceparent", "c")

	assert.Equal(t, "c", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Len(t, msg.Headers, 2)
}
