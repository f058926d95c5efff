package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"campus-chat/domain"
	"campus-chat/domain/event"
	cerrors "campus-chat/errors"
	"campus-chat/moderation"
	"campus-chat/observability"
	"campus-chat/repositories"
	"campus-chat/runtime"
	"campus-chat/search"
	"campus-chat/sink"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures everything the facade hands to the
// dispatcher, in publish order. A non-nil gate makes every Publish
// block after recording until the gate closes.
type recordingPublisher struct {
	mu     sync.Mutex
	events []event.ChangeEvent
	gate   chan struct{}
}

func (p *recordingPublisher) Publish(_ context.Context, e event.ChangeEvent) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *recordingPublisher) byStream(streamID string) []event.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.ChangeEvent
	for _, e := range p.events {
		if e.StreamID() == streamID {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	service       *MessagingService
	log           *slog.Logger
	accounts      repositories.IAccountRepository
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
	announcements repositories.IAnnouncementRepository
	registry      *runtime.Registry
	publisher     *recordingPublisher
	presence      *runtime.PresenceTracker
	moderator     *moderation.Moderator
	index         *search.Index
	stats         *observability.Stats
	seq           int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	accounts := repositories.NewAccountRepository(db, log)
	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log)
	announcements := repositories.NewAnnouncementRepository(db, log)

	moderator, err := moderation.NewModerator([]string{"badger"})
	require.NoError(t, err)
	index, err := search.OpenInMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	registry := runtime.NewRegistry()
	publisher := &recordingPublisher{}
	presence := runtime.NewPresenceTracker(5 * time.Second)
	stats := &observability.Stats{}
	service := NewMessagingService(log, accounts, conversations, messages, announcements,
		publisher, registry, presence, moderator, index, stats)

	return &fixture{
		service:       service,
		log:           log,
		accounts:      accounts,
		conversations: conversations,
		messages:      messages,
		announcements: announcements,
		registry:      registry,
		publisher:     publisher,
		presence:      presence,
		moderator:     moderator,
		index:         index,
		stats:         stats,
	}
}

// account seeds a row directly; provisioning through the facade is
// exercised in its own test.
func (f *fixture) account(t *testing.T, role domain.Role, active bool) domain.Account {
	t.Helper()
	f.seq++
	created, err := f.accounts.Create(domain.Account{
		Email:       fmt.Sprintf("account-%d@school.test", f.seq),
		DisplayName: fmt.Sprintf("Account %d", f.seq),
		Role:        role,
		Active:      active,
	})
	require.NoError(t, err)
	return created
}

func principalOf(a domain.Account) domain.Principal {
	return domain.Principal{AccountID: a.ID, Role: a.Role}
}

func Test_Creation_Event_Precedes_The_First_Message(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)

	gate := make(chan struct{})
	f.publisher.gate = gate

	created := make(chan error, 1)
	go func() {
		_, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
			Kind:      domain.KindDirect,
			MemberIDs: []uuid.UUID{alice.ID, bob.ID},
		})
		created <- err
	}()

	// The creation event is recorded once the row has committed, with
	// the stream lock still held across the publish.
	req.Eventually(func() bool { return f.publisher.count() == 1 }, time.Second, 5*time.Millisecond)
	f.publisher.mu.Lock()
	convID := f.publisher.events[0].ConversationID
	f.publisher.mu.Unlock()

	sent := make(chan error, 1)
	go func() {
		_, err := f.service.SendMessage(ctx, principalOf(alice), convID, "first", uuid.Nil)
		sent <- err
	}()

	// The first message queues behind the creation publish instead of
	// overtaking it.
	time.Sleep(50 * time.Millisecond)
	req.Equal(1, f.publisher.count())

	close(gate)
	req.NoError(<-created)
	req.NoError(<-sent)

	events := f.publisher.byStream(convID.String())
	req.Len(events, 2)
	req.Equal(event.EntityConversation, events[0].Entity)
	req.Equal(event.EntityMessage, events[1].Entity)
	req.Less(events[0].Seq, events[1].Seq)
}

func Test_Direct_Send_And_List(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID},
	})
	req.NoError(err)

	sent, err := f.service.SendMessage(ctx, principalOf(alice), conv.ID, "hi", uuid.Nil)
	req.NoError(err)
	req.Equal("hi", sent.Content)

	// Bob reads exactly one message, the one Alice sent.
	views, next, err := f.service.ListMessages(principalOf(bob), conv.ID, nil, 50)
	req.NoError(err)
	req.Nil(next)
	req.Len(views, 1)
	req.Equal("hi", views[0].Content)
	req.Equal(alice.ID, views[0].SenderID)
	req.Equal(sent.Seq, views[0].Seq)

	// Creation then message, in commit order on the conversation stream.
	published := f.publisher.byStream(conv.ID.String())
	req.Len(published, 2)
	req.Equal(event.EntityConversation, published[0].Entity)
	req.Equal(event.EntityMessage, published[1].Entity)
	req.Less(published[0].Seq, published[1].Seq)
}

func Test_NonMember_Reads_Look_Absent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)
	carol := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID},
	})
	req.NoError(err)

	_, err = f.service.GetConversation(principalOf(carol), conv.ID)
	req.ErrorIs(err, cerrors.ErrNotFound)

	_, _, err = f.service.ListMessages(principalOf(carol), conv.ID, nil, 50)
	req.ErrorIs(err, cerrors.ErrNotFound)

	_, err = f.service.SendMessage(ctx, principalOf(carol), conv.ID, "let me in", uuid.Nil)
	req.ErrorIs(err, cerrors.ErrNotFound)

	_, _, err = f.service.Subscribe(principalOf(carol), sink.NewChannelSink(1), conv.ID)
	req.ErrorIs(err, cerrors.ErrNotFound)
}

func Test_Direct_Conversation_Has_Exactly_Two_Members(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)
	carol := f.account(t, domain.RoleMember, true)

	_, err := f.service.CreateConversation(context.Background(), principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID, carol.ID},
	})
	req.ErrorIs(err, cerrors.ErrConflict)
}

func Test_Large_Group_Needs_A_Name(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)
	carol := f.account(t, domain.RoleMember, true)

	_, err := f.service.CreateConversation(context.Background(), principalOf(alice), CreateConversationParams{
		Kind:      domain.KindGroup,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID, carol.ID},
	})
	req.ErrorIs(err, cerrors.ErrConflict)

	_, err = f.service.CreateConversation(context.Background(), principalOf(alice), CreateConversationParams{
		Kind:      domain.KindGroup,
		Name:      "homework club",
		MemberIDs: []uuid.UUID{alice.ID, bob.ID, carol.ID},
	})
	req.NoError(err)
}

func Test_Global_Moderator_Deletes_In_A_Foreign_Conversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	dave := f.account(t, domain.RoleMember, true)
	moderator := f.account(t, domain.RoleModerator, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, dave.ID},
	})
	req.NoError(err)
	sent, err := f.service.SendMessage(ctx, principalOf(alice), conv.ID, "off topic", uuid.Nil)
	req.NoError(err)

	// The moderator is not on the roster but moderates community-wide.
	req.NoError(f.service.DeleteMessage(ctx, principalOf(moderator), sent.ID))

	_, err = f.messages.Get(sent.ID)
	req.ErrorIs(err, cerrors.ErrNotFound)
}

func Test_Edits_Belong_To_The_Sender_Alone(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	owner := f.account(t, domain.RoleOwner, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, owner.ID},
	})
	req.NoError(err)
	sent, err := f.service.SendMessage(ctx, principalOf(alice), conv.ID, "original", uuid.Nil)
	req.NoError(err)

	// Even the community owner may not rewrite somebody else's words.
	_, err = f.service.EditMessage(ctx, principalOf(owner), sent.ID, "rewritten")
	req.ErrorIs(err, cerrors.ErrUnauthorized)

	edited, err := f.service.EditMessage(ctx, principalOf(alice), sent.ID, "corrected")
	req.NoError(err)
	req.Equal("corrected", edited.Content)
	req.Equal(sent.ID, edited.ID)
	req.Equal(sent.Seq, edited.Seq)
}

func Test_Suspended_Principal_Is_Refused(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	suspended := f.account(t, domain.RoleMember, false)

	_, err := f.service.ListConversations(principalOf(suspended))
	req.ErrorIs(err, cerrors.ErrUnauthorized)

	_, _, err = f.service.Subscribe(principalOf(suspended), sink.NewChannelSink(1))
	req.ErrorIs(err, cerrors.ErrUnauthorized)
}

func Test_Role_Comes_From_The_Store_Not_The_Claim(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	plain := f.account(t, domain.RoleMember, true)
	inflated := domain.Principal{AccountID: plain.ID, Role: domain.RoleOwner}

	_, err := f.service.CreateAnnouncement(context.Background(), inflated, domain.Announcement{
		Title: "forged", Body: "should not land",
	})
	req.ErrorIs(err, cerrors.ErrUnauthorized)
}

func Test_Encrypted_Transcript_Roundtrip(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID},
		Encrypted: true,
	})
	req.NoError(err)

	sent, err := f.service.SendMessage(ctx, principalOf(alice), conv.ID, "meet at the library", uuid.Nil)
	req.NoError(err)
	req.Equal("meet at the library", sent.Content)
	req.Nil(sent.Ciphertext)

	// At rest the body is sealed.
	stored, err := f.messages.Get(sent.ID)
	req.NoError(err)
	req.Empty(stored.Content)
	req.NotEmpty(stored.Ciphertext)

	views, _, err := f.service.ListMessages(principalOf(bob), conv.ID, nil, 10)
	req.NoError(err)
	req.Len(views, 1)
	req.False(views[0].DecryptFailed)
	req.Equal("meet at the library", views[0].Content)
	req.Nil(views[0].Ciphertext)

	// Key material never rides along on published events.
	published := f.publisher.byStream(conv.ID.String())
	req.NotEmpty(published)
	req.Equal(event.EntityConversation, published[0].Entity)
	req.Nil(published[0].Conversation.Key)
}

func Test_Moderation_Masks_Before_Sealing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID},
	})
	req.NoError(err)

	sent, err := f.service.SendMessage(ctx, principalOf(alice), conv.ID, "the badger is loose", uuid.Nil)
	req.NoError(err)
	req.Equal("the ****** is loose", sent.Content)
	req.Equal([]string{"badger"}, sent.Flagged)

	// The stored row never carries the unmasked body.
	stored, err := f.messages.Get(sent.ID)
	req.NoError(err)
	req.Equal("the ****** is loose", stored.Content)
}

func Test_Announcements_Are_Pinned_First_And_Gated(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	member := f.account(t, domain.RoleMember, true)
	moderator := f.account(t, domain.RoleModerator, true)

	_, err := f.service.CreateAnnouncement(ctx, principalOf(member), domain.Announcement{Title: "nope"})
	req.ErrorIs(err, cerrors.ErrUnauthorized)

	_, err = f.service.CreateAnnouncement(ctx, principalOf(moderator), domain.Announcement{
		Title: "bake sale", Body: "friday",
	})
	req.NoError(err)
	pinned, err := f.service.CreateAnnouncement(ctx, principalOf(moderator), domain.Announcement{
		Title: "snow day", Body: "school closed", Pinned: true,
	})
	req.NoError(err)
	req.Equal(moderator.ID, pinned.AuthorID)

	listed, err := f.service.ListAnnouncements(principalOf(member))
	req.NoError(err)
	req.Len(listed, 2)
	req.Equal("snow day", listed[0].Title)

	published := f.publisher.byStream(event.AnnouncementStream)
	req.Len(published, 2)
	req.Less(published[0].Seq, published[1].Seq)
}

func Test_Subscribe_Follows_Announcements_Implicitly(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice := f.account(t, domain.RoleMember, true)
	channelSink := sink.NewChannelSink(8)

	subscriberID, unsubscribe, err := f.service.Subscribe(principalOf(alice), channelSink)
	req.NoError(err)
	req.NotEmpty(subscriberID)
	req.Equal(int64(1), f.stats.Subscribers.Load())

	subs := f.registry.SubscribersForStream(event.AnnouncementStream)
	req.Len(subs, 1)
	req.Equal(subscriberID, subs[0].ID)

	unsubscribe()
	req.Empty(f.registry.SubscribersForStream(event.AnnouncementStream))
	req.Equal(int64(0), f.stats.Subscribers.Load())
}

func Test_Typing_Is_Scoped_To_Readers(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)
	carol := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID},
	})
	req.NoError(err)

	req.NoError(f.service.SetTyping(principalOf(alice), conv.ID, true))

	typing, err := f.service.ListTyping(principalOf(bob), conv.ID)
	req.NoError(err)
	req.Equal([]uuid.UUID{alice.ID}, typing)

	req.ErrorIs(f.service.SetTyping(principalOf(carol), conv.ID, true), cerrors.ErrNotFound)

	req.NoError(f.service.SetTyping(principalOf(alice), conv.ID, false))
	typing, err = f.service.ListTyping(principalOf(bob), conv.ID)
	req.NoError(err)
	req.Empty(typing)
}

func Test_Provisioning_And_Login(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	owner := f.account(t, domain.RoleOwner, true)
	member := f.account(t, domain.RoleMember, true)

	// Only global roles provision accounts.
	_, err := f.service.CreateAccount(principalOf(member), domain.Account{
		Email: "new@school.test", DisplayName: "New Kid", Role: domain.RoleMember,
	}, "a long enough password")
	req.ErrorIs(err, cerrors.ErrUnauthorized)

	created, err := f.service.CreateAccount(principalOf(owner), domain.Account{
		Email: "new@school.test", DisplayName: "New Kid", Role: domain.RoleMember,
	}, "a long enough password")
	req.NoError(err)
	req.True(created.Active)

	logged, err := f.service.Authenticate("new@school.test", "a long enough password")
	req.NoError(err)
	req.Equal(created.ID, logged.ID)

	_, err = f.service.Authenticate("new@school.test", "wrong password")
	req.ErrorIs(err, cerrors.ErrUnauthorized)
	_, err = f.service.Authenticate("nobody@school.test", "a long enough password")
	req.ErrorIs(err, cerrors.ErrUnauthorized)

	// Suspension closes the door.
	_, err = f.service.SetActive(principalOf(owner), created.ID, false)
	req.NoError(err)
	_, err = f.service.Authenticate("new@school.test", "a long enough password")
	req.ErrorIs(err, cerrors.ErrUnauthorized)
}

func Test_Leaving_Is_Self_Service(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)
	carol := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindGroup,
		Name:      "science club",
		MemberIDs: []uuid.UUID{alice.ID, bob.ID, carol.ID},
	})
	req.NoError(err)

	// Bob cannot evict Carol, but he can leave.
	req.ErrorIs(f.service.RemoveParticipant(ctx, principalOf(bob), conv.ID, carol.ID), cerrors.ErrUnauthorized)
	req.NoError(f.service.RemoveParticipant(ctx, principalOf(bob), conv.ID, bob.ID))

	_, err = f.service.GetConversation(principalOf(bob), conv.ID)
	req.ErrorIs(err, cerrors.ErrNotFound)
}

func Test_Direct_Roster_Is_Fixed(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)
	carol := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID},
	})
	req.NoError(err)

	_, err = f.service.AddParticipant(ctx, principalOf(alice), conv.ID, carol.ID)
	req.ErrorIs(err, cerrors.ErrConflict)
	req.ErrorIs(f.service.RemoveParticipant(ctx, principalOf(alice), conv.ID, bob.ID), cerrors.ErrConflict)
}

func Test_Search_Never_Leaks_Across_Rosters(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice := f.account(t, domain.RoleMember, true)
	bob := f.account(t, domain.RoleMember, true)
	carol := f.account(t, domain.RoleMember, true)

	conv, err := f.service.CreateConversation(ctx, principalOf(alice), CreateConversationParams{
		Kind:      domain.KindDirect,
		MemberIDs: []uuid.UUID{alice.ID, bob.ID},
	})
	req.NoError(err)
	_, err = f.service.SendMessage(ctx, principalOf(alice), conv.ID, "quantum homework due tomorrow", uuid.Nil)
	req.NoError(err)

	views, err := f.service.SearchMessages(ctx, principalOf(bob), "quantum", 10)
	req.NoError(err)
	req.Len(views, 1)
	req.Equal("quantum homework due tomorrow", views[0].Content)

	views, err = f.service.SearchMessages(ctx, principalOf(carol), "quantum", 10)
	req.NoError(err)
	req.Empty(views)
}

func Test_Broadcast_Channel_Is_Visible_To_All(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	owner := f.account(t, domain.RoleOwner, true)
	member := f.account(t, domain.RoleMember, true)

	broadcast, err := f.service.CreateConversation(ctx, principalOf(owner), CreateConversationParams{
		Kind: domain.KindBroadcast,
		Name: "school news",
	})
	req.NoError(err)

	_, err = f.service.SendMessage(ctx, principalOf(owner), broadcast.ID, "welcome back", uuid.Nil)
	req.NoError(err)

	// Non-members read the broadcast but cannot post to it.
	views, _, err := f.service.ListMessages(principalOf(member), broadcast.ID, nil, 10)
	req.NoError(err)
	req.Len(views, 1)
	req.Equal("welcome back", views[0].Content)

	_, err = f.service.SendMessage(ctx, principalOf(member), broadcast.ID, "me too", uuid.Nil)
	req.ErrorIs(err, cerrors.ErrUnauthorized)

	listed, err := f.service.ListConversations(principalOf(member))
	req.NoError(err)
	req.Len(listed, 1)
	req.Equal(broadcast.ID, listed[0].ID)
}

func Test_Broadcast_Creation_Needs_A_Global_Role(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	member := f.account(t, domain.RoleMember, true)
	_, err := f.service.CreateConversation(context.Background(), principalOf(member), CreateConversationParams{
		Kind: domain.KindBroadcast,
		Name: "fake news",
	})
	req.ErrorIs(err, cerrors.ErrUnauthorized)
}
