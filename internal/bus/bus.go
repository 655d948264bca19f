// Package bus is in-process publish/subscribe for project events.
//
// Default delivery is synchronous, in registration order, with subscriber
// panics isolated from the emitter and from other subscribers. An
// optional batching mode queues emissions and flushes on a timer; the
// queue is bounded and lossy, dropping the oldest event to admit the
// newest under sustained overload.
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one published notification.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// Handler receives published events.
type Handler func(Event)

// Options configures a Bus.
type Options struct {
	// Batch enables timer-driven flushing instead of synchronous delivery.
	Batch bool
	// FlushInterval is how long emissions are queued before delivery.
	FlushInterval time.Duration
	// MaxQueue bounds the batch queue; oldest events are dropped beyond it.
	MaxQueue int
}

// Bus fans events out to subscribers.
type Bus struct {
	log  zerolog.Logger
	opts Options

	mu    sync.Mutex
	subs  []*subscriber
	queue []Event
	timer *time.Timer
}

type subscriber struct {
	handler Handler
}

// New creates a Bus. Zero-valued options mean synchronous delivery.
func New(opts Options, log zerolog.Logger) *Bus {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 100 * time.Millisecond
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = 256
	}
	return &Bus{log: log, opts: opts}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Handlers are invoked in registration order.
func (b *Bus) Subscribe(handler Handler) func() {
	sub := &subscriber{handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit publishes an event to all current subscribers.
func (b *Bus) Emit(eventType string, payload any) {
	event := Event{Type: eventType, Payload: payload, Time: time.Now().UTC()}

	if !b.opts.Batch {
		b.deliver(event)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.queue = append(b.queue, event)
	if len(b.queue) > b.opts.MaxQueue {
		b.queue = b.queue[1:]
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.opts.FlushInterval, b.flush)
	}
}

// Flush delivers any queued events immediately.
func (b *Bus) Flush() {
	b.flush()
}

// flush drains the queue. The timer self-cancels when the queue is empty;
// the next Emit arms it again.
func (b *Bus) flush() {
	b.mu.Lock()
	queued := b.queue
	b.queue = nil
	b.timer = nil
	b.mu.Unlock()

	for _, event := range queued {
		b.deliver(event)
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		b.invoke(sub, event)
	}
}

// invoke isolates subscriber panics: they are logged, never propagated to
// the emitter or to other subscribers.
func (b *Bus) invoke(sub *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", event.Type).Msg("subscriber panicked")
		}
	}()
	sub.handler(event)
}

// QueueLen reports the current batch queue depth.
func (b *Bus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
