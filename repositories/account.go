package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"campus-chat/domain"
	cerrors "campus-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IAccountRepository interface {
	Create(account domain.Account) (domain.Account, error)
	Get(id uuid.UUID) (domain.Account, error)
	GetByEmail(email string) (domain.Account, error)
	List() ([]domain.Account, error)
	Update(account domain.Account) (domain.Account, error)
	TouchLastSeen(id uuid.UUID, at time.Time) error
	// Delete removes the account, cascades its memberships and nulls its
	// authorship references on surviving messages.
	Delete(id uuid.UUID) error
}

type AccountRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewAccountRepository(db *badger.DB, log *slog.Logger) *AccountRepository {
	return &AccountRepository{db: db, log: log}
}

func (r *AccountRepository) Create(account domain.Account) (domain.Account, error) {
	now := time.Now().UTC()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	err := r.db.Update(func(txn *badger.Txn) error {
		emailKey := prefixAccountEmail + strings.ToLower(account.Email)
		if _, err := txn.Get([]byte(emailKey)); err == nil {
			return fmt.Errorf("%w: email already registered", cerrors.ErrConflict)
		}
		if err := txn.Set([]byte(emailKey), []byte(account.ID.String())); err != nil {
			return err
		}
		return setJSON(txn, prefixAccount+account.ID.String(), account)
	})
	if err != nil {
		return domain.Account{}, mapStoreErr(err)
	}
	return account, nil
}

func (r *AccountRepository) Get(id uuid.UUID) (domain.Account, error) {
	var account domain.Account
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixAccount+id.String(), &account)
	})
	if err != nil {
		return domain.Account{}, mapStoreErr(err)
	}
	return account, nil
}

func (r *AccountRepository) GetByEmail(email string) (domain.Account, error) {
	var account domain.Account
	err := r.db.View(func(txn *badger.Txn) error {
		var id string
		item, err := txn.Get([]byte(prefixAccountEmail + strings.ToLower(email)))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, prefixAccount+id, &account)
	})
	if err != nil {
		return domain.Account{}, mapStoreErr(err)
	}
	return account, nil
}

func (r *AccountRepository) List() ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixAccount)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var account domain.Account
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &account)
			}); err != nil {
				return err
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].DisplayName < accounts[j].DisplayName
	})
	return accounts, nil
}

func (r *AccountRepository) Update(account domain.Account) (domain.Account, error) {
	account.UpdatedAt = time.Now().UTC()
	err := r.db.Update(func(txn *badger.Txn) error {
		var existing domain.Account
		if err := getJSON(txn, prefixAccount+account.ID.String(), &existing); err != nil {
			return err
		}
		// Email is immutable here; provisioning owns it.
		account.Email = existing.Email
		account.CreatedAt = existing.CreatedAt
		return setJSON(txn, prefixAccount+account.ID.String(), account)
	})
	if err != nil {
		return domain.Account{}, mapStoreErr(err)
	}
	return account, nil
}

func (r *AccountRepository) TouchLastSeen(id uuid.UUID, at time.Time) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		var account domain.Account
		if err := getJSON(txn, prefixAccount+id.String(), &account); err != nil {
			return err
		}
		account.LastSeenAt = at
		return setJSON(txn, prefixAccount+id.String(), account)
	})
	return mapStoreErr(err)
}

// Delete removes the account row, its email index and all its
// memberships in one transaction, then nulls authorship references with
// a scan. For a school-sized store the scan stays cheap.
func (r *AccountRepository) Delete(id uuid.UUID) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		var account domain.Account
		if err := getJSON(txn, prefixAccount+id.String(), &account); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixAccount + id.String())); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixAccountEmail + strings.ToLower(account.Email))); err != nil {
			return err
		}

		// Cascade memberships via the reverse index.
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		reverse := []byte(prefixMemberOf + id.String() + ":")
		var doomed [][]byte
		for it.Seek(reverse); it.ValidForPrefix(reverse); it.Next() {
			key := it.Item().KeyCopy(nil)
			convID := strings.TrimPrefix(string(key), string(reverse))
			doomed = append(doomed, key, []byte(prefixMembership+convID+":"+id.String()))
		}
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		// Null out authorship on surviving messages.
		msgIt := txn.NewIterator(badger.DefaultIteratorOptions)
		defer msgIt.Close()
		msgPrefix := []byte(prefixMessage)
		for msgIt.Seek(msgPrefix); msgIt.ValidForPrefix(msgPrefix); msgIt.Next() {
			var msg domain.Message
			key := msgIt.Item().KeyCopy(nil)
			if err := msgIt.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			if msg.SenderID != id {
				continue
			}
			msg.SenderID = uuid.Nil
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	return mapStoreErr(err)
}
