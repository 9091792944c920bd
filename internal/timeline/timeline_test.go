package timeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmchat/internal/domain"
	"farmchat/internal/timeline"
)

func msg(id string, sender string, at time.Time, seq int64) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: "conv",
		SenderID:       sender,
		RecipientID:    other(sender),
		Content:        "msg " + id,
		CreatedAt:      at,
		Seq:            seq,
	}
}

func other(sender string) string {
	if sender == "me" {
		return "them"
	}
	return "me"
}

func flatten(days []timeline.DayGroup) []timeline.Entry {
	var entries []timeline.Entry
	for _, d := range days {
		entries = append(entries, d.Entries...)
	}
	return entries
}

func TestOrderIndependentOfArrival(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	c := timeline.NewController("me", nil)

	// Live events arrive out of created_at order.
	c.Apply(msg("m3", "them", base.Add(2*time.Minute), 3))
	c.Apply(msg("m1", "me", base, 1))
	c.Apply(msg("m2", "them", base.Add(time.Minute), 2))

	entries := flatten(c.Days())
	require.Len(t, entries, 3)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, "m2", entries[1].Message.ID)
	assert.Equal(t, "m3", entries[2].Message.ID)
}

func TestSeqBreaksTimestampTies(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	c := timeline.NewController("me", nil)

	c.Apply(msg("b", "me", at, 2))
	c.Apply(msg("a", "me", at, 1))

	entries := flatten(c.Days())
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Message.ID)
	assert.Equal(t, "b", entries[1].Message.ID)
}

func TestDuplicateDelivery(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	c := timeline.NewController("me", nil)

	m := msg("m1", "them", at, 1)
	c.Apply(m)
	c.Apply(m) // at-least-once delivery repeats events

	assert.Len(t, flatten(c.Days()), 1)
}

func TestDayGroupingAndSenderRuns(t *testing.T) {
	day1 := time.Date(2026, 3, 13, 23, 50, 0, 0, time.Local)
	day2 := time.Date(2026, 3, 14, 0, 5, 0, 0, time.Local)
	c := timeline.NewController("me", []*domain.Message{
		msg("m1", "me", day1, 1),
		msg("m2", "me", day1.Add(time.Minute), 2),
		msg("m3", "them", day1.Add(2*time.Minute), 3),
		msg("m4", "them", day2, 4),
	})

	days := c.Days()
	require.Len(t, days, 2)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.Local), days[0].Date)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local), days[1].Date)

	// Consecutive messages of one sender collapse the sender header, and a
	// new day restarts the run even for the same sender.
	first := days[0].Entries
	require.Len(t, first, 3)
	assert.True(t, first[0].ShowSender)
	assert.False(t, first[1].ShowSender)
	assert.True(t, first[2].ShowSender)
	assert.True(t, days[1].Entries[0].ShowSender)
}

func TestOptimisticReconcile(t *testing.T) {
	c := timeline.NewController("me", nil)

	c.AppendPending("ref-1", "hello there", nil)

	entries := flatten(c.Days())
	require.Len(t, entries, 1)
	assert.Equal(t, timeline.StatusPending, entries[0].Status)
	assert.Equal(t, "ref-1", entries[0].ClientRef)
	assert.True(t, entries[0].Own)

	// The authoritative insertion event carries the correlation id: the
	// optimistic copy is replaced, not duplicated.
	confirmed := msg("m1", "me", time.Now(), 1)
	confirmed.ClientRef = "ref-1"
	c.Apply(confirmed)

	entries = flatten(c.Days())
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, timeline.StatusSent, entries[0].Status)
}

func TestCounterpartRefDoesNotReconcile(t *testing.T) {
	c := timeline.NewController("me", nil)
	c.AppendPending("ref-1", "mine", nil)

	// A counterpart message reusing the same ref value must not eat the
	// pending entry.
	theirs := msg("m1", "them", time.Now(), 1)
	theirs.ClientRef = "ref-1"
	c.Apply(theirs)

	assert.Len(t, flatten(c.Days()), 2)
}

func TestFailedSendLifecycle(t *testing.T) {
	c := timeline.NewController("me", nil)

	c.AppendPending("ref-1", "doomed", nil)
	c.MarkFailed("ref-1")

	entries := flatten(c.Days())
	require.Len(t, entries, 1)
	assert.Equal(t, timeline.StatusFailed, entries[0].Status)

	c.Retract("ref-1")
	assert.Empty(t, flatten(c.Days()))
}

func TestApplyRead(t *testing.T) {
	at := time.Now()
	c := timeline.NewController("me", []*domain.Message{
		msg("mine", "me", at, 1),
		msg("theirs", "them", at.Add(time.Second), 2),
	})

	c.ApplyRead("them", []string{"mine", "theirs"})

	entries := flatten(c.Days())
	require.Len(t, entries, 2)
	assert.Equal(t, timeline.StatusRead, entries[0].Status)
	// The counterpart's message is not addressed to them; unaffected, and
	// never carries a status indicator.
	assert.False(t, entries[1].Message.IsRead)
	assert.Empty(t, entries[1].Status)
}
