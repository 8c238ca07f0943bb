// Package event provides the in-process publish/subscribe bus managers use
// to notify one another without direct coupling.
//
// Delivery is synchronous: Publish invokes every current subscriber in
// subscription order before returning. There is no cross-tick queueing —
// an event not consumed during the publishing call is gone, and managers
// needing queued semantics must buffer internally.
package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler receives a published event.
type Handler func(topic string, payload any)

// Filter decides whether a subscriber sees a given payload.
type Filter func(topic string, payload any) bool

// ErrorReporter receives handler failures (panics). Reported against the
// publishing topic; a failing handler never aborts delivery to the rest.
type ErrorReporter func(topic string, err error)

// Subscription is one active topic registration.
type Subscription struct {
	ID      string
	Topic   string
	handler Handler

	once     bool
	filter   Filter
	interval time.Duration
	lastFire time.Time

	cancelled bool
}

// SubscribeOption tunes a subscription.
type SubscribeOption func(*Subscription)

// Once removes the subscription after its first delivery.
func Once() SubscribeOption {
	return func(s *Subscription) { s.once = true }
}

// WithFilter delivers only payloads the predicate accepts.
func WithFilter(f Filter) SubscribeOption {
	return func(s *Subscription) { s.filter = f }
}

// WithInterval throttles delivery to at most once per interval.
func WithInterval(d time.Duration) SubscribeOption {
	return func(s *Subscription) { s.interval = d }
}

// Bus routes events from publishers to subscribers.
type Bus struct {
	mu       sync.Mutex
	subs     map[string][]*Subscription
	reporter ErrorReporter
	now      func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*Subscription),
		now:  time.Now,
	}
}

// SetErrorReporter installs the handler-failure sink.
func (b *Bus) SetErrorReporter(r ErrorReporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reporter = r
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h Handler, opts ...SubscribeOption) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Topic:   topic,
		handler: h,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub.cancelled = true
	subs := b.subs[sub.Topic]
	for i, existing := range subs {
		if existing.ID == sub.ID {
			b.subs[sub.Topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.Topic]) == 0 {
		delete(b.subs, sub.Topic)
	}
}

// Publish delivers payload to every current subscriber of topic, in
// subscription order, before returning. Handler panics are recovered and
// reported; delivery continues with the next subscriber.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	subs := make([]*Subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	reporter := b.reporter
	now := b.now()
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.cancelled {
			continue
		}
		if sub.interval > 0 && !sub.lastFire.IsZero() && now.Sub(sub.lastFire) < sub.interval {
			continue
		}
		if sub.filter != nil && !sub.filter(topic, payload) {
			continue
		}

		b.deliver(sub, topic, payload, reporter)
		sub.lastFire = now

		if sub.once {
			b.Unsubscribe(sub)
		}
	}
}

func (b *Bus) deliver(sub *Subscription, topic string, payload any, reporter ErrorReporter) {
	defer func() {
		if r := recover(); r != nil {
			if reporter != nil {
				reporter(topic, fmt.Errorf("event handler panic: %v", r))
			}
		}
	}()
	sub.handler(topic, payload)
}

// Topics returns the topics with at least one subscriber.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	return topics
}

// SubscriberCount returns the number of subscriptions on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
