// Package events implements the Lattice event substrate: a process-wide
// telemetry emitter plus a topic-keyed publish/subscribe bus. Both planes
// are exposed through a single Bus value so callers do not need to wire
// two separate dependencies.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Message is a discriminated value published on a topic. Kind identifies
// the payload shape (e.g. "state_change", "intent_transitioned") so one
// subscriber can multiplex several message kinds arriving on the same
// topic.
type Message struct {
	Kind      string
	Payload   any
	Timestamp time.Time
}

// Bus is the shared pub/sub + telemetry substrate. Zero value is not
// usable; construct with New.
type Bus struct {
	logger *zap.Logger
	meter  metric.Meter
	tracer trace.Tracer

	mu          sync.RWMutex
	subscribers map[string]map[string]chan Message // topic -> subscriber id -> channel
	bufferSize  int
}

// New creates a Bus. meter/tracer may be the OTel no-op implementations
// when telemetry export isn't configured.
func New(logger *zap.Logger, meter metric.Meter, tracer trace.Tracer, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		logger:      logger,
		meter:       meter,
		tracer:      tracer,
		subscribers: make(map[string]map[string]chan Message),
		bufferSize:  bufferSize,
	}
}

// Tracer exposes the bus's tracer so owning components can wrap their own
// cycles/transitions in spans without a separate dependency.
func (b *Bus) Tracer() trace.Tracer { return b.tracer }

// Meter exposes the bus's meter for components that register their own
// instruments (e.g. fleet reconcile duration histograms).
func (b *Bus) Meter() metric.Meter { return b.meter }

// Publish delivers msg to every subscriber currently registered on topic,
// in the order Publish is called for that topic. Delivery is non-blocking
// per subscriber: a subscriber whose buffer is full does not block the
// publisher or other subscribers, matching the "best-effort, no cross-
// subscriber ordering interference" contract.
func (b *Bus) Publish(topic string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[topic]
	chans := make([]chan Message, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropping event for slow subscriber", zap.String("topic", topic), zap.String("kind", msg.Kind))
		}
	}
}

// Subscribe registers a new subscriber on topic and returns its id (used
// with Unsubscribe) and the channel it will receive messages on.
func (b *Bus) Subscribe(topic string) (string, <-chan Message) {
	id := newSubscriberID()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]chan Message)
	}
	ch := make(chan Message, b.bufferSize)
	b.subscribers[topic][id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from topic and closes its channel.
// Safe to call more than once; the second call is a no-op.
func (b *Bus) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	if subs == nil {
		return
	}
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
	close(ch)
}

// SubscriberCount returns the number of active subscribers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Emit records a telemetry measurement under the path
// [:lattice, domain, event] along with arbitrary metadata. It runs
// synchronously in the caller's goroutine (a log line plus a counter
// increment) and never blocks on I/O beyond the configured OTel
// exporter's own buffering.
func (b *Bus) Emit(domain, event string, measurements map[string]float64, metadata map[string]any) {
	fields := make([]zap.Field, 0, len(measurements)+len(metadata)+2)
	fields = append(fields, zap.String("domain", domain), zap.String("event", event))
	for k, v := range measurements {
		fields = append(fields, zap.Float64(k, v))
	}
	for k, v := range metadata {
		fields = append(fields, zap.Any(k, v))
	}
	b.logger.Info("lattice event", fields...)

	if b.meter == nil {
		return
	}
	counter, err := b.meter.Float64Counter("lattice_" + domain + "_" + event + "_total")
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1)
}

func newSubscriberID() string {
	return uuid.NewString()
}
