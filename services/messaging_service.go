package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"campus-chat/contract"
	"campus-chat/domain"
	"campus-chat/domain/event"
	cerrors "campus-chat/errors"
	"campus-chat/moderation"
	"campus-chat/observability"
	"campus-chat/policy"
	"campus-chat/repositories"
	"campus-chat/runtime"
	"campus-chat/search"

	"github.com/google/uuid"
)

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// Publisher hands committed mutations to the dispatcher.
type Publisher interface {
	Publish(ctx context.Context, e event.ChangeEvent) error
}

// MessagingService is the facade in front of the store, the policy
// engine, the codec and the dispatcher. Handlers call it, nothing else.
//
// Writes to one conversation are serialized: the per-conversation lock
// is held across commit and publish, so the dispatcher receives
// mutations in exactly the order the store committed them.
type MessagingService struct {
	log           *slog.Logger
	accounts      repositories.IAccountRepository
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
	announcements repositories.IAnnouncementRepository
	dispatcher    Publisher
	registry      contract.IRegistry
	presence      *runtime.PresenceTracker
	moderator     *moderation.Moderator
	index         *search.Index
	stats         *observability.Stats

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMessagingService(
	log *slog.Logger,
	accounts repositories.IAccountRepository,
	conversations repositories.IConversationRepository,
	messages repositories.IMessageRepository,
	announcements repositories.IAnnouncementRepository,
	dispatcher Publisher,
	registry contract.IRegistry,
	presence *runtime.PresenceTracker,
	moderator *moderation.Moderator,
	index *search.Index,
	stats *observability.Stats,
) *MessagingService {
	return &MessagingService{
		log:           log,
		accounts:      accounts,
		conversations: conversations,
		messages:      messages,
		announcements: announcements,
		dispatcher:    dispatcher,
		registry:      registry,
		presence:      presence,
		moderator:     moderator,
		index:         index,
		stats:         stats,
		locks:         make(map[string]*sync.Mutex),
	}
}

// streamLock returns the mutex serializing commits on one stream.
// Locks are never reclaimed; the universe of streams is small and the
// mutexes are cheap.
func (s *MessagingService) streamLock(streamID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if lock, ok := s.locks[streamID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[streamID] = lock
	return lock
}

// requirePrincipal resolves the acting principal against the current
// account row. The token's role claim is replaced with the stored one,
// and a deactivated account is rejected outright.
func (s *MessagingService) requirePrincipal(p domain.Principal) (domain.Principal, error) {
	account, err := withRetry(func() (domain.Account, error) {
		return s.accounts.Get(p.AccountID)
	})
	if err != nil {
		if errors.Is(err, cerrors.ErrNotFound) {
			return domain.Principal{}, cerrors.ErrUnauthorized
		}
		return domain.Principal{}, err
	}
	if !account.Active {
		return domain.Principal{}, cerrors.ErrUnauthorized
	}
	return domain.Principal{AccountID: account.ID, Role: account.Role}, nil
}

// withRetry re-runs an idempotent read while the store reports
// ErrUnavailable. Writes are never retried; a timed-out write may have
// committed, and replaying it would double the mutation.
func withRetry[T any](read func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	backoff := retryBackoff
	for attempt := 0; attempt < retryAttempts; attempt++ {
		result, err = read()
		if err == nil || !errors.Is(err, cerrors.ErrUnavailable) {
			return result, err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return result, err
}

// publish hands the event to the dispatcher. The caller holds the
// stream lock, so events enter the shard in commit order. The row is
// already committed at this point; a caller that cancelled mid-request
// must not suppress its delivery, hence WithoutCancel.
func (s *MessagingService) publish(ctx context.Context, e event.ChangeEvent) {
	e.CommittedAt = time.Now().UTC()
	if err := s.dispatcher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn("Publish failed", "stream", e.StreamID(), "seq", e.Seq, "error", err)
	}
}

// readConversation loads the conversation and the principal's
// membership, collapsing both "absent" and "not allowed to see" into
// ErrNotFound.
func (s *MessagingService) readConversation(p domain.Principal, convID uuid.UUID) (domain.Conversation, *domain.Membership, error) {
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
	if !policy.CanReadConversation(p, conv, membership) {
		return domain.Conversation{}, nil, cerrors.ErrNotFound
	}
	return conv, membership, nil
}

// Subscribe registers a live connection interested in the given
// conversations. Read access is checked per conversation up front; the
// dispatcher rechecks it on every delivery. Every subscriber implicitly
// follows the global announcement stream. The returned function tears
// the subscription down.
func (s *MessagingService) Subscribe(p domain.Principal, sink contract.EventSink, convIDs ...uuid.UUID) (string, func(), error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return "", nil, err
	}

	streams := []string{event.AnnouncementStream}
	for _, convID := range convIDs {
		if _, _, err := s.readConversation(principal, convID); err != nil {
			return "", nil, err
		}
		streams = append(streams, convID.String())
	}

	sub := &contract.Subscriber{
		ID:        uuid.NewString(),
		Principal: principal,
		Sink:      sink,
	}
	s.registry.Subscribe(sub, streams...)
	s.stats.Subscribers.Add(1)

	unsubscribe := func() {
		s.registry.Unsubscribe(sub.ID)
		s.stats.Subscribers.Add(-1)
	}
	return sub.ID, unsubscribe, nil
}

// SetTyping marks or clears the principal's typing state. Presence is
// scoped to conversations the principal can read.
func (s *MessagingService) SetTyping(p domain.Principal, convID uuid.UUID, typing bool) error {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return err
	}
	if _, _, err := s.readConversation(principal, convID); err != nil {
		return err
	}
	if typing {
		s.presence.MarkTyping(convID, principal.AccountID)
	} else {
		s.presence.ClearTyping(convID, principal.AccountID)
	}
	return nil
}

// ListTyping returns the accounts currently typing in the conversation.
func (s *MessagingService) ListTyping(p domain.Principal, convID uuid.UUID) ([]uuid.UUID, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.readConversation(principal, convID); err != nil {
		return nil, err
	}
	return s.presence.TypingIn(convID), nil
}
