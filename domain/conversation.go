package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationKind string

const (
	KindDirect    ConversationKind = "direct"
	KindGroup     ConversationKind = "group"
	KindBroadcast ConversationKind = "broadcast"
)

func ToConversationKind(s string) (ConversationKind, bool) {
	switch ConversationKind(s) {
	case KindDirect, KindGroup, KindBroadcast:
		return ConversationKind(s), true
	default:
		return "", false
	}
}

// Conversation is a messaging context. A direct conversation has exactly
// two memberships, a group at least two, and the broadcast channel is
// visible to every active account without explicit membership.
type Conversation struct {
	ID          uuid.UUID
	Name        string // required when membership size > 2
	Kind        ConversationKind
	Description string
	// Key is the symmetric key material for confidential conversations.
	// Nil means message bodies are stored as plaintext. Generated at
	// creation time, never rotated; distribution is out of scope.
	Key            []byte
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
}

// Encrypted reports whether message bodies in this conversation are
// sealed at rest.
func (c Conversation) Encrypted() bool {
	return len(c.Key) > 0
}

// Membership grants a principal visibility and participation in one
// conversation. The (conversation, account) pair is unique.
type Membership struct {
	ConversationID uuid.UUID
	AccountID      uuid.UUID
	JoinedAt       time.Time
	// IsModerator is scoped to this conversation only. Global roles do
	// not need it.
	IsModerator bool
}
