package services

import (
	"context"
	"errors"
	"fmt"

	"campus-chat/domain"
	"campus-chat/domain/event"
	"campus-chat/encryption"
	cerrors "campus-chat/errors"
	"campus-chat/policy"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// CreateConversationParams carries everything needed to open a new
// conversation. MemberIDs must include the creator; the creator's
// membership is granted moderator.
type CreateConversationParams struct {
	Kind        domain.ConversationKind
	Name        string
	Description string
	MemberIDs   []uuid.UUID
	Encrypted   bool
}

func (s *MessagingService) CreateConversation(ctx context.Context, p domain.Principal, params CreateConversationParams) (domain.Conversation, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Conversation{}, err
	}

	memberIDs := lo.Uniq(params.MemberIDs)
	if !lo.Contains(memberIDs, principal.AccountID) {
		memberIDs = append(memberIDs, principal.AccountID)
	}

	switch params.Kind {
	case domain.KindDirect:
		if len(memberIDs) != 2 {
			return domain.Conversation{}, fmt.Errorf("%w: a direct conversation has exactly two members", cerrors.ErrConflict)
		}
	case domain.KindGroup:
		if len(memberIDs) < 2 {
			return domain.Conversation{}, fmt.Errorf("%w: a group needs at least two members", cerrors.ErrConflict)
		}
	case domain.KindBroadcast:
		if !policy.CanManageAnnouncements(principal) {
			return domain.Conversation{}, cerrors.ErrUnauthorized
		}
	default:
		return domain.Conversation{}, fmt.Errorf("%w: unknown conversation kind", cerrors.ErrConflict)
	}
	if len(memberIDs) > 2 && params.Name == "" {
		return domain.Conversation{}, fmt.Errorf("%w: a conversation with more than two members needs a name", cerrors.ErrConflict)
	}

	// Every member must exist before the roster is committed.
	for _, id := range memberIDs {
		if _, err := s.accounts.Get(id); err != nil {
			return domain.Conversation{}, err
		}
	}

	conv := domain.Conversation{
		Name:        params.Name,
		Kind:        params.Kind,
		Description: params.Description,
		CreatedBy:   principal.AccountID,
	}
	if params.Encrypted {
		key, err := encryption.GenerateKey()
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.Key = key
	}
	if !policy.CanCreateConversation(principal, conv) {
		return domain.Conversation{}, cerrors.ErrUnauthorized
	}

	members := lo.Map(memberIDs, func(id uuid.UUID, _ int) domain.Membership {
		return domain.Membership{
			AccountID:   id,
			IsModerator: id == principal.AccountID,
		}
	})

	// The ID is allocated up front so the stream lock covers the commit;
	// a first message racing the creation cannot publish ahead of it.
	conv.ID = uuid.New()
	lock := s.streamLock(conv.ID.String())
	lock.Lock()
	defer lock.Unlock()
	created, seq, err := s.conversations.Create(conv, members)
	if err != nil {
		return domain.Conversation{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeCreated,
		Entity:         event.EntityConversation,
		Seq:            seq,
		ConversationID: created.ID,
		Conversation:   eventView(created),
	})
	return created, nil
}

// eventView strips key material from a conversation payload. Events
// reach client connections as-is; the key never leaves the engine.
func eventView(conv domain.Conversation) *domain.Conversation {
	conv.Key = nil
	return &conv
}

func (s *MessagingService) GetConversation(p domain.Principal, convID uuid.UUID) (domain.Conversation, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv, _, err := s.readConversation(principal, convID)
	return conv, err
}

// ListConversations returns the principal's conversations plus the
// broadcast channel, which is visible without membership.
func (s *MessagingService) ListConversations(p domain.Principal) ([]domain.Conversation, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return nil, err
	}
	conversations, err := withRetry(func() ([]domain.Conversation, error) {
		return s.conversations.ListForAccount(principal.AccountID)
	})
	if err != nil {
		return nil, err
	}
	broadcast, err := s.conversations.GetBroadcast()
	switch {
	case err == nil:
		already := lo.ContainsBy(conversations, func(c domain.Conversation) bool {
			return c.ID == broadcast.ID
		})
		if !already {
			conversations = append(conversations, broadcast)
		}
	case !errors.Is(err, cerrors.ErrNotFound):
		return nil, err
	}
	return conversations, nil
}

// UpdateConversation renames or re-describes a conversation. Kind, key
// material and creator never change.
func (s *MessagingService) UpdateConversation(ctx context.Context, p domain.Principal, conv domain.Conversation) (domain.Conversation, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Conversation{}, err
	}
	existing, membership, err := s.readConversation(principal, conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !policy.CanUpdateConversation(principal, existing, membership) {
		return domain.Conversation{}, cerrors.ErrUnauthorized
	}

	lock := s.streamLock(conv.ID.String())
	lock.Lock()
	defer lock.Unlock()
	updated, seq, err := s.conversations.Update(conv)
	if err != nil {
		return domain.Conversation{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeUpdated,
		Entity:         event.EntityConversation,
		Seq:            seq,
		ConversationID: updated.ID,
		Conversation:   eventView(updated),
	})
	return updated, nil
}

// DeleteConversation removes the conversation with its roster and
// transcript. Subscribers watching the stream still receive the final
// deletion event.
func (s *MessagingService) DeleteConversation(ctx context.Context, p domain.Principal, convID uuid.UUID) error {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return err
	}
	existing, membership, err := s.readConversation(principal, convID)
	if err != nil {
		return err
	}
	if !policy.CanDeleteConversation(principal, existing, membership) {
		return cerrors.ErrUnauthorized
	}

	lock := s.streamLock(convID.String())
	lock.Lock()
	defer lock.Unlock()
	seq, err := s.conversations.Delete(convID)
	if err != nil {
		return err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeDeleted,
		Entity:         event.EntityConversation,
		Seq:            seq,
		ConversationID: convID,
		Conversation:   eventView(existing),
	})
	return nil
}

func (s *MessagingService) ListParticipants(p domain.Principal, convID uuid.UUID) ([]domain.Membership, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return nil, err
	}
	conv, membership, err := s.readConversation(principal, convID)
	if err != nil {
		return nil, err
	}
	if !policy.CanReadMembership(principal, conv, membership) {
		return nil, cerrors.ErrNotFound
	}
	return withRetry(func() ([]domain.Membership, error) {
		return s.conversations.ListMembers(convID)
	})
}

func (s *MessagingService) AddParticipant(ctx context.Context, p domain.Principal, convID, accountID uuid.UUID) (domain.Membership, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Membership{}, err
	}
	conv, own, err := s.readConversation(principal, convID)
	if err != nil {
		return domain.Membership{}, err
	}
	if !policy.CanManageRoster(principal, conv, own) {
		return domain.Membership{}, cerrors.ErrUnauthorized
	}
	if conv.Kind == domain.KindDirect {
		return domain.Membership{}, fmt.Errorf("%w: a direct conversation roster is fixed", cerrors.ErrConflict)
	}
	if _, err := s.accounts.Get(accountID); err != nil {
		return domain.Membership{}, err
	}

	lock := s.streamLock(convID.String())
	lock.Lock()
	defer lock.Unlock()
	added, seq, err := s.conversations.AddMember(domain.Membership{
		ConversationID: convID,
		AccountID:      accountID,
	})
	if err != nil {
		return domain.Membership{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeCreated,
		Entity:         event.EntityMembership,
		Seq:            seq,
		ConversationID: convID,
		Membership:     &added,
	})
	return added, nil
}

// RemoveParticipant drops a member. Leaving is self-service; removing
// somebody else takes roster rights.
func (s *MessagingService) RemoveParticipant(ctx context.Context, p domain.Principal, convID, accountID uuid.UUID) error {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return err
	}
	conv, own, err := s.readConversation(principal, convID)
	if err != nil {
		return err
	}
	if accountID != principal.AccountID && !policy.CanManageRoster(principal, conv, own) {
		return cerrors.ErrUnauthorized
	}
	if conv.Kind == domain.KindDirect {
		return fmt.Errorf("%w: a direct conversation roster is fixed", cerrors.ErrConflict)
	}

	lock := s.streamLock(convID.String())
	lock.Lock()
	defer lock.Unlock()
	removed, seq, err := s.conversations.RemoveMember(convID, accountID)
	if err != nil {
		return err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeDeleted,
		Entity:         event.EntityMembership,
		Seq:            seq,
		ConversationID: convID,
		Membership:     &removed,
	})
	return nil
}

// SetConversationModerator grants or revokes conversation-scoped
// moderation.
func (s *MessagingService) SetConversationModerator(ctx context.Context, p domain.Principal, convID, accountID uuid.UUID, isModerator bool) (domain.Membership, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Membership{}, err
	}
	conv, own, err := s.readConversation(principal, convID)
	if err != nil {
		return domain.Membership{}, err
	}
	if !policy.CanManageRoster(principal, conv, own) {
		return domain.Membership{}, cerrors.ErrUnauthorized
	}

	lock := s.streamLock(convID.String())
	lock.Lock()
	defer lock.Unlock()
	updated, seq, err := s.conversations.SetMemberModerator(convID, accountID, isModerator)
	if err != nil {
		return domain.Membership{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:           event.ChangeUpdated,
		Entity:         event.EntityMembership,
		Seq:            seq,
		ConversationID: convID,
		Membership:     &updated,
	})
	return updated, nil
}
