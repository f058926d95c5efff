package repositories

import (
	"log/slog"
	"testing"
	"time"

	"campus-chat/domain"
	cerrors "campus-chat/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_Create_Account_Enforces_Unique_Email(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewAccountRepository(db, slog.Default())

	first, err := repository.Create(domain.Account{
		Email:       "alice@school.example",
		DisplayName: "Alice",
		Role:        domain.RoleMember,
		Active:      true,
	})
	req.NoError(err)
	req.NotEqual(uuid.Nil, first.ID)

	_, err = repository.Create(domain.Account{
		Email:       "Alice@School.example",
		DisplayName: "Alice again",
		Role:        domain.RoleMember,
	})
	req.ErrorIs(err, cerrors.ErrConflict)

	byEmail, err := repository.GetByEmail("alice@school.example")
	req.NoError(err)
	req.Equal(first.ID, byEmail.ID)
}

func Test_Update_Account_Keeps_Email(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewAccountRepository(db, slog.Default())

	account, err := repository.Create(domain.Account{
		Email:       "bob@school.example",
		DisplayName: "Bob",
		Role:        domain.RoleMember,
		Active:      true,
	})
	req.NoError(err)

	account.Email = "hijack@school.example"
	account.DisplayName = "Bobby"
	updated, err := repository.Update(account)
	req.NoError(err)
	req.Equal("bob@school.example", updated.Email)
	req.Equal("Bobby", updated.DisplayName)
}

func Test_TouchLastSeen(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewAccountRepository(db, slog.Default())

	account, err := repository.Create(domain.Account{Email: "carol@school.example", DisplayName: "Carol", Role: domain.RoleMember})
	req.NoError(err)

	at := time.Now().UTC().Truncate(time.Second)
	req.NoError(repository.TouchLastSeen(account.ID, at))

	reloaded, err := repository.Get(account.ID)
	req.NoError(err)
	req.Equal(at, reloaded.LastSeenAt)
}

func Test_Delete_Account_Nulls_Authorship(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	accounts := NewAccountRepository(db, slog.Default())
	conversations := NewConversationRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default())

	alice, err := accounts.Create(domain.Account{Email: "alice@school.example", DisplayName: "Alice", Role: domain.RoleMember, Active: true})
	req.NoError(err)
	bob, err := accounts.Create(domain.Account{Email: "bob@school.example", DisplayName: "Bob", Role: domain.RoleMember, Active: true})
	req.NoError(err)

	conv, _, err := conversations.Create(
		domain.Conversation{Name: "history", Kind: domain.KindGroup, CreatedBy: alice.ID},
		[]domain.Membership{{AccountID: alice.ID}, {AccountID: bob.ID}},
	)
	req.NoError(err)
	stored, err := messages.Append(domain.Message{ConversationID: conv.ID, SenderID: bob.ID, Content: "I was here"})
	req.NoError(err)

	req.NoError(accounts.Delete(bob.ID))

	_, err = accounts.Get(bob.ID)
	req.ErrorIs(err, cerrors.ErrNotFound)

	// Membership is gone but the message survives with no sender.
	membership, err := conversations.GetMembership(conv.ID, bob.ID)
	req.NoError(err)
	req.Nil(membership)

	orphan, err := messages.Get(stored.ID)
	req.NoError(err)
	req.Equal(uuid.Nil, orphan.SenderID)
	req.Equal("I was here", orphan.Content)
}
