package services

import (
	"context"

	"campus-chat/domain"
	"campus-chat/domain/event"
	"campus-chat/encryption"
	cerrors "campus-chat/errors"
	"campus-chat/policy"

	"github.com/google/uuid"
)

// MessageView is a transcript entry as handed to a reader: body opened,
// or flagged when the stored ciphertext failed authentication. One bad
// row never aborts the page it sits in.
type MessageView struct {
	domain.Message
	DecryptFailed bool     `json:"decrypt_failed,omitempty"`
	Flagged       []string `json:"flagged,omitempty"`
	Language      string   `json:"language,omitempty"`
}

// SendMessage moderates, seals and commits a new message, then hands
// the stored row to the dispatcher. The stream lock spans commit and
// publish so the shard sees commits in order.
func (s *MessagingService) SendMessage(ctx context.Context, p domain.Principal, convID uuid.UUID, content string, replyTo uuid.UUID) (MessageView, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return MessageView{}, err
	}
	conv, membership, err := s.readConversation(principal, convID)
	if err != nil {
		return MessageView{}, err
	}

	msg := domain.Message{
		ConversationID: convID,
		SenderID:       principal.AccountID,
		Kind:           domain.MessageKindText,
		ReplyTo:        replyTo,
	}
	if !policy.CanCreateMessage(principal, conv, membership, msg) {
		return MessageView{}, cerrors.ErrUnauthorized
	}

	moderated := s.moderator.Moderate(content)
	if conv.Encrypted() {
		box, err := encryption.Seal([]byte(moderated.Text), conv.Key)
		if err != nil {
			return MessageView{}, err
		}
		msg.Ciphertext = box
	} else {
		msg.Content = moderated.Text
	}

	lock := s.streamLock(convID.String())
	lock.Lock()
	stored, err := s.messages.Append(msg)
	if err != nil {
		lock.Unlock()
		return MessageView{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeCreated,
		Entity:         event.EntityMessage,
		Seq:            stored.Seq,
		ConversationID: convID,
		Message:        &stored,
	})
	lock.Unlock()

	if s.index != nil {
		if err := s.index.IndexMessage(stored.ID, convID, moderated.Text); err != nil {
			s.log.Warn("Indexing failed", "message", stored.ID, "error", err)
		}
	}

	view := MessageView{Message: stored, Flagged: moderated.Flagged, Language: moderated.Language}
	view.Content = moderated.Text
	view.Ciphertext = nil
	return view, nil
}

// EditMessage rewrites the body. Only the original sender may edit, and
// the message keeps its identity and transcript position.
func (s *MessagingService) EditMessage(ctx context.Context, p domain.Principal, messageID uuid.UUID, content string) (MessageView, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return MessageView{}, err
	}
	existing, err := withRetry(func() (domain.Message, error) {
		return s.messages.Get(messageID)
	})
	if err != nil {
		return MessageView{}, err
	}
	conv, _, err := s.readConversation(principal, existing.ConversationID)
	if err != nil {
		return MessageView{}, err
	}
	if !policy.CanUpdateMessage(principal, existing) {
		return MessageView{}, cerrors.ErrUnauthorized
	}

	moderated := s.moderator.Moderate(content)
	patch := domain.Message{ID: messageID}
	if conv.Encrypted() {
		box, err := encryption.Seal([]byte(moderated.Text), conv.Key)
		if err != nil {
			return MessageView{}, err
		}
		patch.Ciphertext = box
	} else {
		patch.Content = moderated.Text
	}

	lock := s.streamLock(conv.ID.String())
	lock.Lock()
	updated, mutSeq, err := s.messages.Update(patch)
	if err != nil {
		lock.Unlock()
		return MessageView{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeUpdated,
		Entity:         event.EntityMessage,
		Seq:            mutSeq,
		ConversationID: conv.ID,
		Message:        &updated,
	})
	lock.Unlock()

	if s.index != nil {
		if err := s.index.IndexMessage(updated.ID, conv.ID, moderated.Text); err != nil {
			s.log.Warn("Indexing failed", "message", updated.ID, "error", err)
		}
	}

	view := MessageView{Message: updated, Flagged: moderated.Flagged, Language: moderated.Language}
	view.Content = moderated.Text
	view.Ciphertext = nil
	return view, nil
}

// DeleteMessage removes the row for every reader. Allowed for the
// sender and for global moderators, members or not.
func (s *MessagingService) DeleteMessage(ctx context.Context, p domain.Principal, messageID uuid.UUID) error {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return err
	}
	existing, err := withRetry(func() (domain.Message, error) {
		return s.messages.Get(messageID)
	})
	if err != nil {
		return err
	}
	conv, membership, err := s.conversationForModeration(principal, existing.ConversationID)
	if err != nil {
		return err
	}
	if !policy.CanReadMessage(principal, conv, membership) {
		return cerrors.ErrNotFound
	}
	if !policy.CanDeleteMessage(principal, existing) {
		return cerrors.ErrUnauthorized
	}

	lock := s.streamLock(conv.ID.String())
	lock.Lock()
	deleted, mutSeq, err := s.messages.Delete(messageID)
	if err != nil {
		lock.Unlock()
		return err
	}
	// The event names the row; the body is gone.
	deleted.Content = ""
	deleted.Ciphertext = nil
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeDeleted,
		Entity:         event.EntityMessage,
		Seq:            mutSeq,
		ConversationID: conv.ID,
		Message:        &deleted,
	})
	lock.Unlock()

	if s.index != nil {
		if err := s.index.Remove(messageID); err != nil {
			s.log.Warn("Index removal failed", "message", messageID, "error", err)
		}
	}
	return nil
}

// conversationForModeration loads conversation and membership without
// collapsing a policy denial into NotFound; the caller decides.
func (s *MessagingService) conversationForModeration(p domain.Principal, convID uuid.UUID) (domain.Conversation, *domain.Membership, error) {
	conv, err := withRetry(func() (domain.Conversation, error) {
		return s.conversations.Get(convID)
	})
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	membership, err := s.conversations.GetMembership(convID, p.AccountID)
	if err != nil {
		return domain.Conversation{}, nil, err
	}
	return conv, membership, nil
}

// ListMessages returns one page of the transcript, chronological within
// the page, newest page first. The cursor comes from the previous call.
func (s *MessagingService) ListMessages(p domain.Principal, convID uuid.UUID, cursor *string, limit int) ([]MessageView, *string, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return nil, nil, err
	}
	conv, membership, err := s.readConversation(principal, convID)
	if err != nil {
		return nil, nil, err
	}
	if !policy.CanReadMessage(principal, conv, membership) {
		return nil, nil, cerrors.ErrNotFound
	}

	type page struct {
		messages []domain.Message
		next     *string
	}
	result, err := withRetry(func() (page, error) {
		messages, next, err := s.messages.List(convID, cursor, limit)
		return page{messages: messages, next: next}, err
	})
	if err != nil {
		return nil, nil, err
	}

	views := make([]MessageView, 0, len(result.messages))
	for _, msg := range result.messages {
		views = append(views, s.openMessage(msg, conv))
	}
	return views, result.next, nil
}

// openMessage produces the reader-facing view of one stored row.
func (s *MessagingService) openMessage(msg domain.Message, conv domain.Conversation) MessageView {
	view := MessageView{Message: msg}
	if !conv.Encrypted() || len(msg.Ciphertext) == 0 {
		return view
	}
	plaintext, err := encryption.Open(msg.Ciphertext, conv.Key)
	if err != nil {
		s.stats.DecryptErrors.Add(1)
		s.log.Error("Sealed body cannot be opened",
			"message", msg.ID, "conversation", conv.ID, "error", err)
		view.Content = ""
		view.Ciphertext = nil
		view.DecryptFailed = true
		return view
	}
	view.Content = string(plaintext)
	view.Ciphertext = nil
	return view
}

// SearchMessages runs a full-text query over the transcript index and
// filters the hits through the policy engine, so a result never leaks a
// message the principal cannot read.
func (s *MessagingService) SearchMessages(ctx context.Context, p domain.Principal, query string, limit int) ([]MessageView, error) {
	if s.index == nil {
		return nil, nil
	}
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var views []MessageView
	readable := make(map[uuid.UUID]*domain.Conversation)
	for _, hit := range hits {
		conv, ok := readable[hit.ConversationID]
		if !ok {
			loaded, membership, err := s.conversationForModeration(principal, hit.ConversationID)
			if err != nil || !policy.CanReadMessage(principal, loaded, membership) {
				readable[hit.ConversationID] = nil
				continue
			}
			conv = &loaded
			readable[hit.ConversationID] = conv
		}
		if conv == nil {
			continue
		}
		msg, err := s.messages.Get(hit.MessageID)
		if err != nil {
			// Index may lag a deletion.
			continue
		}
		views = append(views, s.openMessage(msg, *conv))
	}
	return views, nil
}
