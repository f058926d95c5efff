package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campus-chat/domain"
	cerrors "campus-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IConversationRepository interface {
	// Create commits the conversation together with its initial
	// memberships and returns the stream sequence of the mutation.
	Create(conv domain.Conversation, members []domain.Membership) (domain.Conversation, uint64, error)
	Get(id uuid.UUID) (domain.Conversation, error)
	GetBroadcast() (domain.Conversation, error)
	Update(conv domain.Conversation) (domain.Conversation, uint64, error)
	// Delete cascades memberships and messages; the returned sequence
	// orders the final deletion event.
	Delete(id uuid.UUID) (uint64, error)
	ListForAccount(accountID uuid.UUID) ([]domain.Conversation, error)
	GetMembership(convID, accountID uuid.UUID) (*domain.Membership, error)
	ListMembers(convID uuid.UUID) ([]domain.Membership, error)
	AddMember(m domain.Membership) (domain.Membership, uint64, error)
	RemoveMember(convID, accountID uuid.UUID) (domain.Membership, uint64, error)
	SetMemberModerator(convID, accountID uuid.UUID, isModerator bool) (domain.Membership, uint64, error)
}

type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, log: log}
}

func membershipKeys(m domain.Membership) (string, string) {
	conv, acct := m.ConversationID.String(), m.AccountID.String()
	return prefixMembership + conv + ":" + acct, prefixMemberOf + acct + ":" + conv
}

func (r *ConversationRepository) Create(conv domain.Conversation, members []domain.Membership) (domain.Conversation, uint64, error) {
	now := time.Now().UTC()
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.LastActivityAt = now

	var seq uint64
	err := r.db.Update(func(txn *badger.Txn) error {
		if conv.Kind == domain.KindBroadcast {
			if _, err := txn.Get([]byte(keyBroadcastConv)); err == nil {
				return fmt.Errorf("%w: broadcast channel already exists", cerrors.ErrConflict)
			}
			if err := txn.Set([]byte(keyBroadcastConv), []byte(conv.ID.String())); err != nil {
				return err
			}
		}
		if err := setJSON(txn, prefixConversation+conv.ID.String(), conv); err != nil {
			return err
		}
		for i := range members {
			members[i].ConversationID = conv.ID
			members[i].JoinedAt = now
			forward, reverse := membershipKeys(members[i])
			if err := setJSON(txn, forward, members[i]); err != nil {
				return err
			}
			if err := txn.Set([]byte(reverse), nil); err != nil {
				return err
			}
		}
		var err error
		seq, err = nextSeq(txn, convSeqKey(conv.ID.String()))
		return err
	})
	if err != nil {
		return domain.Conversation{}, 0, mapStoreErr(err)
	}
	return conv, seq, nil
}

func (r *ConversationRepository) Get(id uuid.UUID) (domain.Conversation, error) {
	var conv domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixConversation+id.String(), &conv)
	})
	if err != nil {
		return domain.Conversation{}, mapStoreErr(err)
	}
	return conv, nil
}

func (r *ConversationRepository) GetBroadcast() (domain.Conversation, error) {
	var conv domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyBroadcastConv))
		if err != nil {
			return err
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, prefixConversation+id, &conv)
	})
	if err != nil {
		return domain.Conversation{}, mapStoreErr(err)
	}
	return conv, nil
}

func (r *ConversationRepository) Update(conv domain.Conversation) (domain.Conversation, uint64, error) {
	var seq uint64
	err := r.db.Update(func(txn *badger.Txn) error {
		var existing domain.Conversation
		if err := getJSON(txn, prefixConversation+conv.ID.String(), &existing); err != nil {
			return err
		}
		// Kind, key material and creator are immutable after creation.
		conv.Kind = existing.Kind
		conv.Key = existing.Key
		conv.CreatedBy = existing.CreatedBy
		conv.CreatedAt = existing.CreatedAt
		conv.LastActivityAt = existing.LastActivityAt
		conv.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, prefixConversation+conv.ID.String(), conv); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, convSeqKey(conv.ID.String()))
		return err
	})
	if err != nil {
		return domain.Conversation{}, 0, mapStoreErr(err)
	}
	return conv, seq, nil
}

func (r *ConversationRepository) Delete(id uuid.UUID) (uint64, error) {
	var seq uint64
	err := r.db.Update(func(txn *badger.Txn) error {
		var conv domain.Conversation
		if err := getJSON(txn, prefixConversation+id.String(), &conv); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, convSeqKey(id.String()))
		if err != nil {
			return err
		}

		var doomed [][]byte
		doomed = append(doomed, []byte(prefixConversation+id.String()))
		if conv.Kind == domain.KindBroadcast {
			doomed = append(doomed, []byte(keyBroadcastConv))
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		membPrefix := []byte(prefixMembership + id.String() + ":")
		for it.Seek(membPrefix); it.ValidForPrefix(membPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			acct := strings.TrimPrefix(string(key), string(membPrefix))
			doomed = append(doomed, key, []byte(prefixMemberOf+acct+":"+id.String()))
		}
		msgPrefix := []byte(prefixMessage + id.String() + ":")
		for it.Seek(msgPrefix); it.ValidForPrefix(msgPrefix); it.Next() {
			var msg domain.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			doomed = append(doomed, it.Item().KeyCopy(nil), []byte(prefixMessageID+msg.ID.String()))
		}

		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return seq, nil
}

func (r *ConversationRepository) ListForAccount(accountID uuid.UUID) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		reverse := []byte(prefixMemberOf + accountID.String() + ":")
		for it.Seek(reverse); it.ValidForPrefix(reverse); it.Next() {
			convID := strings.TrimPrefix(string(it.Item().Key()), string(reverse))
			var conv domain.Conversation
			if err := getJSON(txn, prefixConversation+convID, &conv); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			conversations = append(conversations, conv)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return conversations, nil
}

// GetMembership returns nil without error when no row exists; the policy
// engine treats the nil as "not a member".
func (r *ConversationRepository) GetMembership(convID, accountID uuid.UUID) (*domain.Membership, error) {
	var m domain.Membership
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixMembership+convID.String()+":"+accountID.String(), &m)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &m, nil
}

func (r *ConversationRepository) ListMembers(convID uuid.UUID) ([]domain.Membership, error) {
	var members []domain.Membership
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixMembership + convID.String() + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m domain.Membership
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			members = append(members, m)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return members, nil
}

func (r *ConversationRepository) AddMember(m domain.Membership) (domain.Membership, uint64, error) {
	m.JoinedAt = time.Now().UTC()
	var seq uint64
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixConversation + m.ConversationID.String())); err != nil {
			return err
		}
		forward, reverse := membershipKeys(m)
		if _, err := txn.Get([]byte(forward)); err == nil {
			return fmt.Errorf("%w: already a member", cerrors.ErrConflict)
		}
		if err := setJSON(txn, forward, m); err != nil {
			return err
		}
		if err := txn.Set([]byte(reverse), nil); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, convSeqKey(m.ConversationID.String()))
		return err
	})
	if err != nil {
		return domain.Membership{}, 0, mapStoreErr(err)
	}
	return m, seq, nil
}

func (r *ConversationRepository) RemoveMember(convID, accountID uuid.UUID) (domain.Membership, uint64, error) {
	var (
		m   domain.Membership
		seq uint64
	)
	err := r.db.Update(func(txn *badger.Txn) error {
		forward := prefixMembership + convID.String() + ":" + accountID.String()
		if err := getJSON(txn, forward, &m); err != nil {
			return err
		}
		if err := txn.Delete([]byte(forward)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixMemberOf + accountID.String() + ":" + convID.String())); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, convSeqKey(convID.String()))
		return err
	})
	if err != nil {
		return domain.Membership{}, 0, mapStoreErr(err)
	}
	return m, seq, nil
}

func (r *ConversationRepository) SetMemberModerator(convID, accountID uuid.UUID, isModerator bool) (domain.Membership, uint64, error) {
	var (
		m   domain.Membership
		seq uint64
	)
	err := r.db.Update(func(txn *badger.Txn) error {
		forward := prefixMembership + convID.String() + ":" + accountID.String()
		if err := getJSON(txn, forward, &m); err != nil {
			return err
		}
		m.IsModerator = isModerator
		if err := setJSON(txn, forward, m); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, convSeqKey(convID.String()))
		return err
	})
	if err != nil {
		return domain.Membership{}, 0, mapStoreErr(err)
	}
	return m, seq, nil
}
