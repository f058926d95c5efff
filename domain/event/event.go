// Package event defines the committed-mutation events the dispatcher
// re-publishes to live subscribers.
package event

import (
	"time"

	"campus-chat/domain"

	"github.com/google/uuid"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

type EntityType string

const (
	EntityConversation EntityType = "conversation"
	EntityMembership   EntityType = "membership"
	EntityMessage      EntityType = "message"
	EntityAnnouncement EntityType = "announcement"
)

// AnnouncementStream is the implicit global stream every subscriber is
// interested in, independent of conversation membership.
const AnnouncementStream = "announcements"

// ChangeEvent is one committed mutation. Exactly one payload pointer is
// set, matching Entity. Seq is the commit sequence of the mutation inside
// its stream; (stream, seq) identifies the mutation for dedup.
type ChangeEvent struct {
	Kind        ChangeKind `json:"kind"`
	Entity      EntityType `json:"entity"`
	Seq         uint64     `json:"seq"`
	CommittedAt time.Time  `json:"committed_at"`

	// ConversationID scopes conversation, membership and message events.
	// It is uuid.Nil for announcements.
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`

	Conversation *domain.Conversation `json:"conversation,omitempty"`
	Membership   *domain.Membership   `json:"membership,omitempty"`
	Message      *domain.Message      `json:"message,omitempty"`
	Announcement *domain.Announcement `json:"announcement,omitempty"`

	// DecryptFailed marks a delivery whose body could not be opened for
	// this subscriber. The event is still delivered, body empty, so one
	// bad row never aborts the rest of the stream.
	DecryptFailed bool `json:"decrypt_failed,omitempty"`
}

// StreamID names the ordered stream this event belongs to.
func (e ChangeEvent) StreamID() string {
	if e.Entity == EntityAnnouncement {
		return AnnouncementStream
	}
	return e.ConversationID.String()
}
