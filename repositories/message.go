package repositories

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campus-chat/domain"
	cerrors "campus-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	// Append commits the message, allocates its conversation sequence and
	// advances the conversation's last_activity_at in the same
	// transaction.
	Append(msg domain.Message) (domain.Message, error)
	Get(id uuid.UUID) (domain.Message, error)
	// Update rewrites the body of an existing message, marking it edited.
	// The returned sequence orders the update event; the message keeps
	// its creation sequence and transcript position.
	Update(msg domain.Message) (domain.Message, uint64, error)
	Delete(id uuid.UUID) (domain.Message, uint64, error)
	// List returns a newest-first page, chronological within the page.
	// cursor is the padded sequence returned by the previous call.
	List(convID uuid.UUID, cursor *string, limit int) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

func (r *MessageRepository) Append(msg domain.Message) (domain.Message, error) {
	now := time.Now().UTC()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Kind == "" {
		msg.Kind = domain.MessageKindText
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	err := r.db.Update(func(txn *badger.Txn) error {
		convKey := prefixConversation + msg.ConversationID.String()
		var conv domain.Conversation
		if err := getJSON(txn, convKey, &conv); err != nil {
			return err
		}

		// A reply must point inside the same conversation.
		if msg.ReplyTo != uuid.Nil {
			locator, err := resolveLocator(txn, msg.ReplyTo)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: reply target does not exist", cerrors.ErrConflict)
				}
				return err
			}
			var parent domain.Message
			if err := getJSON(txn, locator, &parent); err != nil {
				return err
			}
			if parent.ConversationID != msg.ConversationID {
				return fmt.Errorf("%w: reply crosses conversations", cerrors.ErrConflict)
			}
		}

		seq, err := nextSeq(txn, convSeqKey(msg.ConversationID.String()))
		if err != nil {
			return err
		}
		msg.Seq = seq

		key := messageKey(msg.ConversationID.String(), seq)
		if err := setJSON(txn, key, msg); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixMessageID+msg.ID.String()), []byte(key)); err != nil {
			return err
		}

		// last_activity_at tracks the newest committed message.
		conv.LastActivityAt = msg.CreatedAt
		return setJSON(txn, convKey, conv)
	})
	if err != nil {
		return domain.Message{}, mapStoreErr(err)
	}
	return msg, nil
}

func resolveLocator(txn *badger.Txn, id uuid.UUID) (string, error) {
	item, err := txn.Get([]byte(prefixMessageID + id.String()))
	if err != nil {
		return "", err
	}
	var locator string
	err = item.Value(func(val []byte) error {
		locator = string(val)
		return nil
	})
	return locator, err
}

func (r *MessageRepository) Get(id uuid.UUID) (domain.Message, error) {
	var msg domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		locator, err := resolveLocator(txn, id)
		if err != nil {
			return err
		}
		return getJSON(txn, locator, &msg)
	})
	if err != nil {
		return domain.Message{}, mapStoreErr(err)
	}
	return msg, nil
}

func (r *MessageRepository) Update(msg domain.Message) (domain.Message, uint64, error) {
	var mutSeq uint64
	err := r.db.Update(func(txn *badger.Txn) error {
		locator, err := resolveLocator(txn, msg.ID)
		if err != nil {
			return err
		}
		var existing domain.Message
		if err := getJSON(txn, locator, &existing); err != nil {
			return err
		}
		// Identity, position and creation time survive an edit.
		existing.Content = msg.Content
		existing.Ciphertext = msg.Ciphertext
		existing.Edited = true
		existing.UpdatedAt = time.Now().UTC()
		msg = existing
		if err := setJSON(txn, locator, existing); err != nil {
			return err
		}
		mutSeq, err = nextSeq(txn, convSeqKey(existing.ConversationID.String()))
		return err
	})
	if err != nil {
		return domain.Message{}, 0, mapStoreErr(err)
	}
	return msg, mutSeq, nil
}

// Delete is a hard row removal, not a tombstone.
func (r *MessageRepository) Delete(id uuid.UUID) (domain.Message, uint64, error) {
	var (
		msg    domain.Message
		mutSeq uint64
	)
	err := r.db.Update(func(txn *badger.Txn) error {
		locator, err := resolveLocator(txn, id)
		if err != nil {
			return err
		}
		if err := getJSON(txn, locator, &msg); err != nil {
			return err
		}
		if err := txn.Delete([]byte(locator)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixMessageID + id.String())); err != nil {
			return err
		}
		mutSeq, err = nextSeq(txn, convSeqKey(msg.ConversationID.String()))
		return err
	})
	if err != nil {
		return domain.Message{}, 0, mapStoreErr(err)
	}
	return msg, mutSeq, nil
}

// List walks the conversation log backwards from the cursor. Thanks to
// the padded sequence in the key, reverse iteration yields newest first;
// the page is flipped before return so it reads chronologically.
func (r *MessageRepository) List(convID uuid.UUID, cursor *string, limit int) ([]domain.Message, *string, error) {
	var (
		page    []domain.Message
		lastKey string
	)
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := prefixMessage + convID.String() + ":"
		prefix := []byte(prefixStr)

		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past the highest possible sequence, then walk back.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}
		it.Seek(seekKey)

		// When the cursor row was deleted, Seek already sits on the next
		// older message; advancing would drop it from the page.
		if cursor != nil && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(page) == limit {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			var msg domain.Message
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			page = append(page, msg)
		}
		return nil
	})
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	if len(page) == 0 {
		return nil, nil, nil
	}
	// Chronological within the page.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, &lastKey, nil
}
