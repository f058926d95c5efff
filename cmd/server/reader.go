package main

import (
	"campus-chat/domain"
	"campus-chat/repositories"

	"github.com/google/uuid"
)

// dispatcherReader narrows the repositories to the read operations the
// dispatcher re-runs on every fan-out decision.
type dispatcherReader struct {
	accounts      repositories.IAccountRepository
	conversations repositories.IConversationRepository
}

func (r *dispatcherReader) GetAccount(id uuid.UUID) (domain.Account, error) {
	return r.accounts.Get(id)
}

func (r *dispatcherReader) GetConversation(id uuid.UUID) (domain.Conversation, error) {
	return r.conversations.Get(id)
}

func (r *dispatcherReader) GetMembership(convID, accountID uuid.UUID) (*domain.Membership, error) {
	return r.conversations.GetMembership(convID, accountID)
}
