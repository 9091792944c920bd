// Package channel is the live per-conversation stream consumed by an open
// conversation view: every subsequently inserted message and read-status
// change, in arrival order. Arrival order is not created_at order; renderers
// re-sort (internal/timeline does).
package channel

import (
	"context"
	"log/slog"
	"sync"

	"farmchat/internal/bus"
	"farmchat/internal/domain"
	"farmchat/internal/service"
)

// Handlers receives the conversation's deltas. Nil handlers are skipped.
type Handlers struct {
	OnMessage    func(*domain.Message)
	OnReadStatus func(readerID string, messageIDs []string)
	OnTyping     func(domain.TypingState)
}

// Channel binds the message service to the live event bus for one consumer
// side. Send and MarkRead go through the service (which publishes); Subscribe
// follows the conversation topic.
type Channel struct {
	messages *service.MessageService
	events   bus.Subscriber
	logger   *slog.Logger
}

func New(messages *service.MessageService, events bus.Subscriber, logger *slog.Logger) *Channel {
	return &Channel{messages: messages, events: events, logger: logger}
}

// Send persists and broadcasts one message. See MessageService.Send for the
// validation and retry contract.
func (c *Channel) Send(ctx context.Context, in service.SendInput, senderID string) (*domain.Message, error) {
	return c.messages.Send(ctx, in, senderID)
}

// MarkRead batch-transitions self's unread messages. Idempotent.
func (c *Channel) MarkRead(ctx context.Context, conversationID, selfID string) error {
	return c.messages.MarkRead(ctx, conversationID, selfID)
}

// Subscribe starts delivering the conversation's events to the handlers.
// afterSeq is the highest message sequence the caller has already fetched;
// after a lost bus subscription the gap since the last delivered sequence is
// reconciled by re-fetching before resuming. Close the subscription when the
// conversation view is left.
func (c *Channel) Subscribe(conversationID, selfID string, afterSeq int64, h Handlers) *Subscription {
	sub := &Subscription{
		channel:        c,
		conversationID: conversationID,
		selfID:         selfID,
		lastSeq:        afterSeq,
		handlers:       h,
		done:           make(chan struct{}),
	}
	go sub.run()
	return sub
}

// Subscription is one consumer's attachment to a conversation stream.
type Subscription struct {
	channel        *Channel
	conversationID string
	selfID         string
	handlers       Handlers

	mu      sync.Mutex
	lastSeq int64
	closed  bool
	cancel  func()

	done chan struct{}
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		busSub := s.channel.events.SubscribeConversation(s.conversationID)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			busSub.Cancel()
			return
		}
		s.cancel = busSub.Cancel
		s.mu.Unlock()

		for ev := range busSub.Events {
			s.dispatch(ev)
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		// The bus dropped us; events may have been missed in the gap.
		s.reconcile()
	}
}

func (s *Subscription) dispatch(ev domain.Event) {
	switch ev.Kind {
	case domain.EventMessageInserted:
		if ev.Message == nil {
			return
		}
		s.mu.Lock()
		if ev.Message.Seq > s.lastSeq {
			s.lastSeq = ev.Message.Seq
		}
		s.mu.Unlock()
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(ev.Message)
		}
	case domain.EventReadStatusChanged:
		if s.handlers.OnReadStatus != nil {
			s.handlers.OnReadStatus(ev.ReaderID, ev.MessageIDs)
		}
	case domain.EventTypingChanged:
		if ev.Typing != nil && s.handlers.OnTyping != nil {
			s.handlers.OnTyping(*ev.Typing)
		}
	}
}

// reconcile covers the subscription gap from the store: messages persisted
// after the last delivered sequence are replayed, and the current read state
// of self's messages is re-emitted as a read-status delta so a receipt missed
// for an already-delivered message still surfaces. Both replays are
// idempotent for receivers.
func (s *Subscription) reconcile() {
	s.mu.Lock()
	afterSeq := s.lastSeq
	s.mu.Unlock()

	ctx := context.Background()
	missed, err := s.channel.messages.ListSince(ctx, s.conversationID, s.selfID, afterSeq)
	if err != nil {
		if s.channel.logger != nil {
			s.channel.logger.Warn("channel reconcile failed",
				"conversation", s.conversationID, "err", err)
		}
		return
	}
	for _, msg := range missed {
		s.mu.Lock()
		if msg.Seq > s.lastSeq {
			s.lastSeq = msg.Seq
		}
		s.mu.Unlock()
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(msg)
		}
	}

	if s.handlers.OnReadStatus == nil {
		return
	}
	reader, ids, err := s.channel.messages.ReadReceipts(ctx, s.conversationID, s.selfID)
	if err != nil {
		if s.channel.logger != nil {
			s.channel.logger.Warn("channel read-state reconcile failed",
				"conversation", s.conversationID, "err", err)
		}
		return
	}
	if len(ids) > 0 {
		s.handlers.OnReadStatus(reader, ids)
	}
}

// Close stops event delivery to this subscription without affecting other
// subscribers or persisted data. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done
}
