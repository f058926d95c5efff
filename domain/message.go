package domain

import (
	"time"

	"github.com/google/uuid"
)

const MessageKindText = "text"

// Message is one committed entry of a conversation transcript.
//
// Exactly one of Content and Ciphertext holds the body: Ciphertext when
// the parent conversation carries a key, Content otherwise. Edits keep
// the identity and CreatedAt; deletion is a hard row removal.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	// SenderID is uuid.Nil when the sender account was later removed.
	SenderID   uuid.UUID
	Kind       string
	Content    string
	Ciphertext []byte
	// ReplyTo, when not uuid.Nil, references a message in the same
	// conversation.
	ReplyTo   uuid.UUID
	Edited    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// Seq is the commit sequence inside the conversation, allocated by
	// the store transaction. It defines delivery order and serves as
	// the mutation id for dispatcher dedup.
	Seq uint64
}
