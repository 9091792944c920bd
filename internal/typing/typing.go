// Package typing implements the debounced composing indicator: a timed state
// machine per (conversation, self) with a single inactivity timer, persisted
// as an upserted row and broadcast as typing-changed events. Advisory only;
// it never blocks message delivery.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"farmchat/internal/bus"
	"farmchat/internal/domain"
)

// Service creates per-conversation sessions and answers staleness-guarded
// reads of the counterpart's state.
type Service struct {
	store     domain.TypingRepository
	pub       bus.Publisher
	idleAfter time.Duration
	staleness time.Duration
	logger    *slog.Logger
}

func NewService(store domain.TypingRepository, pub bus.Publisher, idleAfter, staleness time.Duration, logger *slog.Logger) *Service {
	if staleness < idleAfter {
		staleness = idleAfter
	}
	return &Service{
		store:     store,
		pub:       pub,
		idleAfter: idleAfter,
		staleness: staleness,
		logger:    logger,
	}
}

// CounterpartTyping reports whether the given user currently counts as
// typing: the stored flag must be set and fresh within the staleness window,
// guarding against a client that crashed mid-typing and never cleared it.
func (s *Service) CounterpartTyping(ctx context.Context, conversationID, userID string) (bool, error) {
	state, err := s.store.Get(ctx, conversationID, userID)
	if err == domain.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state.Fresh(time.Now(), s.staleness), nil
}

// NewSession returns the typing state machine for one (conversation, self)
// pair. counterpartID routes broadcasts to the other participant's user
// feed. Close the session when the conversation view is left.
func (s *Service) NewSession(conversationID, userID, counterpartID string) *Session {
	return &Session{
		svc:            s,
		conversationID: conversationID,
		userID:         userID,
		counterpartID:  counterpartID,
	}
}

// Session is the Idle <-> Typing state machine. All transitions broadcast
// exactly once; the inactivity timer is cancelled and restarted on every
// input.
type Session struct {
	svc            *Service
	conversationID string
	userID         string
	counterpartID  string

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	gen    uint64
	closed bool
}

// Input records a keystroke: transition to Typing (broadcasting true if not
// already typing) and restart the inactivity timer. The generation bump
// invalidates a timer that already fired but has not taken the lock yet;
// Stop alone cannot cancel such a timer.
func (sess *Session) Input() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return
	}
	if !sess.typing {
		sess.typing = true
		sess.svc.broadcast(sess.conversationID, sess.userID, sess.counterpartID, true)
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.gen++
	g := sess.gen
	sess.timer = time.AfterFunc(sess.svc.idleAfter, func() { sess.expire(g) })
}

func (sess *Session) expire(gen uint64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if gen != sess.gen || !sess.typing || sess.closed {
		return
	}
	sess.typing = false
	sess.svc.broadcast(sess.conversationID, sess.userID, sess.counterpartID, false)
}

// Sent force-transitions to Idle immediately, without waiting for the timer.
func (sess *Session) Sent() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.gen++
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	if sess.typing && !sess.closed {
		sess.typing = false
		sess.svc.broadcast(sess.conversationID, sess.userID, sess.counterpartID, false)
	}
}

// Close stops the timer and clears any lingering typing flag.
func (sess *Session) Close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	if sess.typing {
		sess.typing = false
		sess.svc.broadcast(sess.conversationID, sess.userID, sess.counterpartID, false)
	}
	sess.closed = true
}

// broadcast upserts the row and publishes the delta. Best-effort: a store
// failure is logged, not surfaced, so presence can never stall a send.
func (s *Service) broadcast(conversationID, userID, counterpartID string, isTyping bool) {
	state := &domain.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		UpdatedAt:      time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.Upsert(ctx, state); err != nil && s.logger != nil {
		s.logger.Warn("typing upsert failed", "conversation", conversationID, "err", err)
	}

	ev := domain.Event{
		Kind:           domain.EventTypingChanged,
		ConversationID: conversationID,
		OccurredAt:     state.UpdatedAt,
		Typing:         state,
	}
	s.pub.PublishToConversation(conversationID, ev)
	if counterpartID != "" {
		s.pub.PublishToUser(counterpartID, ev)
	}
}
