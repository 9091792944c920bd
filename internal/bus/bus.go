// Package bus is the real-time event fabric of the messaging core: every
// accepted message, read transition and typing change is published on a
// per-conversation topic and on each participant's per-user topic.
package bus

import (
	"sync"

	"farmchat/internal/domain"
)

// Publisher is the write side of the bus. Services publish through this
// interface so additional sinks (e.g. the Kafka forwarder) can be fanned in.
type Publisher interface {
	PublishToConversation(conversationID string, ev domain.Event)
	PublishToUser(userID string, ev domain.Event)
}

// Subscriber is the read side of the bus.
type Subscriber interface {
	SubscribeConversation(conversationID string) *Subscription
	SubscribeUser(userID string) *Subscription
}

// Subscription is one consumer's feed. Events is closed when the consumer
// cancels or when the bus drops the consumer for not keeping up; a closed
// channel without a prior Cancel means the subscription was lost and the
// consumer must resubscribe and reconcile.
type Subscription struct {
	Events <-chan domain.Event

	once   sync.Once
	cancel func()
}

// Cancel stops delivery to this subscription. Other subscribers and persisted
// data are unaffected. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

const subscriberBuffer = 64

// Memory is the in-process bus: mutex-guarded topic maps of buffered
// channels. Delivery to active subscribers is at-least-once in publish order
// per topic; no ordering is guaranteed across topics or event kinds. A
// subscriber whose buffer is full is dropped (its channel closed) rather than
// blocking the publisher.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]map[chan domain.Event]struct{}
	users         map[string]map[chan domain.Event]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]map[chan domain.Event]struct{}),
		users:         make(map[string]map[chan domain.Event]struct{}),
	}
}

var (
	_ Publisher  = (*Memory)(nil)
	_ Subscriber = (*Memory)(nil)
)

func (m *Memory) SubscribeConversation(conversationID string) *Subscription {
	return m.subscribe(m.conversations, conversationID)
}

func (m *Memory) SubscribeUser(userID string) *Subscription {
	return m.subscribe(m.users, userID)
}

func (m *Memory) subscribe(topics map[string]map[chan domain.Event]struct{}, key string) *Subscription {
	ch := make(chan domain.Event, subscriberBuffer)

	m.mu.Lock()
	if topics[key] == nil {
		topics[key] = make(map[chan domain.Event]struct{})
	}
	topics[key][ch] = struct{}{}
	m.mu.Unlock()

	return &Subscription{
		Events: ch,
		cancel: func() {
			m.mu.Lock()
			if subs, ok := topics[key]; ok {
				if _, live := subs[ch]; live {
					delete(subs, ch)
					close(ch)
				}
				if len(subs) == 0 {
					delete(topics, key)
				}
			}
			m.mu.Unlock()
		},
	}
}

func (m *Memory) PublishToConversation(conversationID string, ev domain.Event) {
	m.publish(m.conversations, conversationID, ev)
}

func (m *Memory) PublishToUser(userID string, ev domain.Event) {
	m.publish(m.users, userID, ev)
}

func (m *Memory) publish(topics map[string]map[chan domain.Event]struct{}, key string, ev domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := topics[key]
	if !ok {
		return
	}
	for ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop it so publishers never block. The closed
			// channel tells the consumer to resubscribe and reconcile.
			delete(subs, ch)
			close(ch)
		}
	}
	if len(subs) == 0 {
		delete(topics, key)
	}
}

// Fanout publishes every event to all given publishers in order.
type Fanout []Publisher

var _ Publisher = Fanout(nil)

func (f Fanout) PublishToConversation(conversationID string, ev domain.Event) {
	for _, p := range f {
		p.PublishToConversation(conversationID, ev)
	}
}

func (f Fanout) PublishToUser(userID string, ev domain.Event) {
	for _, p := range f {
		p.PublishToUser(userID, ev)
	}
}
