// Package events collects the facts a transaction produces and publishes them
// once the transaction has committed. Nothing is published for a rolled-back
// attempt, because each attempt gets a fresh Buffer.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

const (
	TopicAudit        = "pos.audit"
	TopicLowStock     = "inventory.low-stock"
	TopicOrderCreated = "order.created"
)

type Message struct {
	Topic   string
	Key     string
	Payload any
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// Buffer is safe for concurrent use. A nil *Buffer discards everything.
type Buffer struct {
	mu   sync.Mutex
	msgs []Message
}

func (b *Buffer) Add(topic, key string, payload any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, Message{Topic: topic, Key: key, Payload: payload})
}

func (b *Buffer) Audit(fact domain.AuditFact) {
	b.Add(TopicAudit, fact.EntityID, fact)
}

func (b *Buffer) Messages() []Message {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

type bufferKey struct{}

// WithBuffer returns a context carrying a new, empty Buffer.
func WithBuffer(ctx context.Context) (context.Context, *Buffer) {
	b := &Buffer{}
	return context.WithValue(ctx, bufferKey{}, b), b
}

// FromContext returns the Buffer attached to ctx, or nil.
func FromContext(ctx context.Context) *Buffer {
	b, _ := ctx.Value(bufferKey{}).(*Buffer)
	return b
}

// Flush publishes every buffered message in order. The transaction behind the
// buffer has already committed, so failures are logged and never returned.
func Flush(ctx context.Context, pub Publisher, b *Buffer, logger *slog.Logger) {
	if pub == nil {
		return
	}
	for _, msg := range b.Messages() {
		if err := pub.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Error("failed to publish event", "error", err, "topic", msg.Topic, "key", msg.Key)
		}
	}
}

// LogPublisher writes events to the structured log. It is the sink used when
// no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	p.logger.InfoContext(ctx, "event", "topic", topic, "key", key, "payload", event)
	return nil
}

// Multi fans every event out to all publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic, key string, event any) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, topic, key, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Publish(ctx context.Context, topic, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Topic: topic, Key: key, Payload: event})
	return nil
}

func (r *Recorder) Messages(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.msgs {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
