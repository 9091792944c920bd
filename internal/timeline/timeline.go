// Package timeline orders and groups a conversation's messages for
// rendering: stable (created_at, seq) order regardless of live arrival
// order, day separators, consecutive-sender grouping and an optimistic
// pending overlay keyed by client correlation id.
package timeline

import (
	"sort"
	"sync"
	"time"

	"farmchat/internal/domain"
)

// DeliveryStatus is the indicator rendered on own messages only.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusFailed  DeliveryStatus = "failed"
	StatusSent    DeliveryStatus = "sent"
	StatusRead    DeliveryStatus = "read"
)

// Entry is one rendered message slot.
type Entry struct {
	Message domain.Message
	Own     bool
	// ShowSender is false when the previous entry of the same day has the
	// same sender, so the renderer suppresses the repeated identity/avatar.
	ShowSender bool
	// Status is set for own messages; empty for the counterpart's.
	Status DeliveryStatus
	// ClientRef identifies pending/failed entries not yet persisted.
	ClientRef string
}

// DayGroup is one calendar day of entries with its separator date.
type DayGroup struct {
	Date    time.Time
	Entries []Entry
}

type pendingMessage struct {
	ref         string
	content     string
	attachments []domain.Attachment
	at          time.Time
	failed      bool
}

// Controller holds a conversation's render state. Safe for concurrent use by
// the event callbacks and the renderer.
type Controller struct {
	selfID string

	mu       sync.Mutex
	messages []*domain.Message
	byID     map[string]struct{}
	pending  []*pendingMessage
}

func NewController(selfID string, initial []*domain.Message) *Controller {
	c := &Controller{
		selfID: selfID,
		byID:   make(map[string]struct{}),
	}
	for _, m := range initial {
		c.insert(m)
	}
	return c
}

// Apply inserts a delivered message at its (created_at, seq) position,
// deduplicating by id. A message carrying the correlation id of a pending
// entry reconciles it: the optimistic copy is replaced by the authoritative
// one.
func (c *Controller) Apply(m *domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.byID[m.ID]; seen {
		return
	}
	if m.ClientRef != "" && m.SenderID == c.selfID {
		c.dropPending(m.ClientRef)
	}
	c.insert(m)
}

func (c *Controller) insert(m *domain.Message) {
	c.byID[m.ID] = struct{}{}
	idx := sort.Search(len(c.messages), func(i int) bool {
		other := c.messages[i]
		if !other.CreatedAt.Equal(m.CreatedAt) {
			return other.CreatedAt.After(m.CreatedAt)
		}
		return other.Seq > m.Seq
	})
	c.messages = append(c.messages, nil)
	copy(c.messages[idx+1:], c.messages[idx:])
	c.messages[idx] = m
}

// ApplyRead flips is_read on the identified messages. Arrives interleaved
// with insertions; treated as an independent delta.
func (c *Controller) ApplyRead(readerID string, messageIDs []string) {
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if _, hit := ids[m.ID]; hit && m.RecipientID == readerID {
			m.IsRead = true
		}
	}
}

// AppendPending adds the optimistic local copy of a message the moment send
// is invoked, before persistence confirms.
func (c *Controller) AppendPending(clientRef, content string, attachments []domain.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, &pendingMessage{
		ref:         clientRef,
		content:     content,
		attachments: attachments,
		at:          time.Now(),
	})
}

// MarkFailed flags a pending entry after send retries were exhausted. The
// entry stays visible with a failed indicator so the user can retry.
func (c *Controller) MarkFailed(clientRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p.ref == clientRef {
			p.failed = true
			return
		}
	}
}

// Retract removes a pending entry, e.g. when the user discards a failed send.
func (c *Controller) Retract(clientRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPending(clientRef)
}

func (c *Controller) dropPending(clientRef string) {
	for i, p := range c.pending {
		if p.ref == clientRef {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Days renders the timeline: messages grouped by calendar day in chronological
// order, pending entries trailing on today's group.
func (c *Controller) Days() []DayGroup {
	c.mu.Lock()
	entries := make([]Entry, 0, len(c.messages)+len(c.pending))
	for _, m := range c.messages {
		e := Entry{Message: *m, Own: m.SenderID == c.selfID}
		if e.Own {
			if m.IsRead {
				e.Status = StatusRead
			} else {
				e.Status = StatusSent
			}
		}
		entries = append(entries, e)
	}
	for _, p := range c.pending {
		status := StatusPending
		if p.failed {
			status = StatusFailed
		}
		entries = append(entries, Entry{
			Message: domain.Message{
				SenderID:    c.selfID,
				Content:     p.content,
				Attachments: p.attachments,
				CreatedAt:   p.at,
			},
			Own:       true,
			Status:    status,
			ClientRef: p.ref,
		})
	}
	c.mu.Unlock()

	var days []DayGroup
	for _, e := range entries {
		day := truncateToDay(e.Message.CreatedAt)
		if len(days) == 0 || !days[len(days)-1].Date.Equal(day) {
			days = append(days, DayGroup{Date: day})
		}
		group := &days[len(days)-1]
		e.ShowSender = len(group.Entries) == 0 ||
			group.Entries[len(group.Entries)-1].Message.SenderID != e.Message.SenderID
		group.Entries = append(group.Entries, e)
	}
	return days
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
