package runtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_Typing_Entries_Expire(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker(5 * time.Second)
	now := time.Now().UTC()
	tracker.now = func() time.Time { return now }

	conv, alice := uuid.New(), uuid.New()
	tracker.MarkTyping(conv, alice)
	req.Equal([]uuid.UUID{alice}, tracker.TypingIn(conv))

	now = now.Add(6 * time.Second)
	req.Empty(tracker.TypingIn(conv))
}

func Test_Renewal_Extends_The_Window(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker(5 * time.Second)
	now := time.Now().UTC()
	tracker.now = func() time.Time { return now }

	conv, alice := uuid.New(), uuid.New()
	tracker.MarkTyping(conv, alice)

	now = now.Add(4 * time.Second)
	tracker.MarkTyping(conv, alice)

	now = now.Add(4 * time.Second)
	req.Equal([]uuid.UUID{alice}, tracker.TypingIn(conv))
}

func Test_ClearTyping_Is_Immediate(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker(5 * time.Second)

	conv, alice, bob := uuid.New(), uuid.New(), uuid.New()
	tracker.MarkTyping(conv, alice)
	tracker.MarkTyping(conv, bob)
	tracker.ClearTyping(conv, alice)

	req.Equal([]uuid.UUID{bob}, tracker.TypingIn(conv))
}

func Test_Sweep_Prunes_Expired_Entries(t *testing.T) {
	req := require.New(t)
	tracker := NewPresenceTracker(5 * time.Second)
	now := time.Now().UTC()
	tracker.now = func() time.Time { return now }

	convA, convB := uuid.New(), uuid.New()
	tracker.MarkTyping(convA, uuid.New())
	now = now.Add(6 * time.Second)
	tracker.MarkTyping(convB, uuid.New())
	tracker.sweep()

	req.Empty(tracker.typing[convA])
	req.Len(tracker.typing[convB], 1)
}
