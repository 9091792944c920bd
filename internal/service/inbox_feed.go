package service

import (
	"context"
	"sync"

	"farmchat/internal/bus"
	"farmchat/internal/domain"
)

// InboxFeed keeps a user's conversation summaries live by consuming the
// per-user event stream: one event patches one summary, without re-fetching
// the whole list. When the subscription is lost the feed resubscribes and
// reconciles with a full refresh.
type InboxFeed struct {
	svc    *InboxService
	events bus.Subscriber
	selfID string

	mu        sync.Mutex
	summaries map[string]domain.ConversationSummary
	closed    bool

	cancelMu sync.Mutex
	cancel   func()
	done     chan struct{}
}

// Feed loads the initial inbox and starts following the user's events.
func (s *InboxService) Feed(ctx context.Context, selfID string, events bus.Subscriber) (*InboxFeed, error) {
	f := &InboxFeed{
		svc:       s,
		events:    events,
		selfID:    selfID,
		summaries: make(map[string]domain.ConversationSummary),
		done:      make(chan struct{}),
	}
	if err := f.refresh(ctx); err != nil {
		return nil, err
	}
	go f.run()
	return f, nil
}

func (f *InboxFeed) run() {
	defer close(f.done)
	for {
		sub := f.events.SubscribeUser(f.selfID)
		f.cancelMu.Lock()
		if f.isClosed() {
			f.cancelMu.Unlock()
			sub.Cancel()
			return
		}
		f.cancel = sub.Cancel
		f.cancelMu.Unlock()

		for ev := range sub.Events {
			f.apply(ev)
		}
		if f.isClosed() {
			return
		}
		// Dropped by the bus: reconcile missed deltas before resubscribing.
		if err := f.refresh(context.Background()); err != nil && f.svc.logger != nil {
			f.svc.logger.Warn("inbox refresh after lost subscription failed", "err", err)
		}
	}
}

func (f *InboxFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *InboxFeed) refresh(ctx context.Context) error {
	summaries, err := f.svc.List(ctx, f.selfID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = make(map[string]domain.ConversationSummary, len(summaries))
	for _, sum := range summaries {
		f.summaries[sum.Conversation.ID] = sum
	}
	return nil
}

func (f *InboxFeed) apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventMessageInserted:
		if ev.Message == nil {
			return
		}
		f.applyMessage(ev.Message)
	case domain.EventReadStatusChanged:
		if ev.ReaderID != f.selfID {
			return
		}
		f.mu.Lock()
		if sum, ok := f.summaries[ev.ConversationID]; ok {
			sum.UnreadCount -= len(ev.MessageIDs)
			if sum.UnreadCount < 0 {
				sum.UnreadCount = 0
			}
			f.summaries[ev.ConversationID] = sum
		}
		f.mu.Unlock()
	}
	// typing-changed is detail-view state, not inbox state.
}

func (f *InboxFeed) applyMessage(msg *domain.Message) {
	f.mu.Lock()
	sum, known := f.summaries[msg.ConversationID]
	f.mu.Unlock()

	if !known {
		// First message of a conversation this feed has not seen yet.
		conv, err := f.svc.conversations.GetByID(context.Background(), msg.ConversationID)
		if err != nil {
			if f.svc.logger != nil {
				f.svc.logger.Warn("inbox feed: unknown conversation", "id", msg.ConversationID, "err", err)
			}
			return
		}
		fresh, err := f.svc.Summarize(context.Background(), conv, f.selfID)
		if err != nil {
			if f.svc.logger != nil {
				f.svc.logger.Warn("inbox feed: summarize", "id", msg.ConversationID, "err", err)
			}
			return
		}
		f.mu.Lock()
		if _, raced := f.summaries[msg.ConversationID]; !raced {
			f.summaries[msg.ConversationID] = fresh
		}
		f.mu.Unlock()
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sum = f.summaries[msg.ConversationID]
	if msg.CreatedAt.After(sum.PreviewAt) || sum.Preview == "" {
		sum.Preview = PreviewText(msg)
		sum.PreviewAt = msg.CreatedAt
	}
	if msg.CreatedAt.After(sum.Conversation.LastMessageAt) {
		sum.Conversation.LastMessageAt = msg.CreatedAt
	}
	if msg.RecipientID == f.selfID && !msg.IsRead {
		sum.UnreadCount++
	}
	f.summaries[msg.ConversationID] = sum
}

// Snapshot returns the current summaries ordered by last activity.
func (f *InboxFeed) Snapshot() []domain.ConversationSummary {
	f.mu.Lock()
	res := make([]domain.ConversationSummary, 0, len(f.summaries))
	for _, sum := range f.summaries {
		res = append(res, sum)
	}
	f.mu.Unlock()

	SortSummaries(res)
	return res
}

// UnreadTotal is the live global badge: the sum of per-conversation unread
// counts.
func (f *InboxFeed) UnreadTotal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, sum := range f.summaries {
		total += sum.UnreadCount
	}
	return total
}

// Close stops event delivery to this feed. Other subscribers are unaffected.
func (f *InboxFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.cancelMu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancelMu.Unlock()
	<-f.done
}
