// Package repositories is the badger-backed system of record for the
// five relations: accounts, conversations, memberships, messages and
// announcements. Rows are stored as JSON under prefixed keys; ordered
// scans rely on zero-padded commit sequence numbers in the key, and all
// multi-row writes happen inside a single badger transaction so commit
// is atomic.
package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	cerrors "campus-chat/errors"

	"github.com/dgraph-io/badger/v4"
)

// Key layout. The 19-digit zero padding keeps lexicographic order equal
// to numeric sequence order (fits any uint64).
const (
	prefixAccount      = "acct:"
	prefixAccountEmail = "acctmail:"
	prefixConversation = "conv:"
	prefixMembership   = "memb:"     // memb:{conv}:{acct}
	prefixMemberOf     = "membacct:" // membacct:{acct}:{conv}, reverse index
	prefixMessage      = "msg:"      // msg:{conv}:{seq 019d}
	prefixMessageID    = "msgid:"    // msgid:{id} -> msg key locator
	prefixAnnouncement = "ann:"
	keyBroadcastConv   = "convbroadcast"
	keySeqAnnouncement = "seq:ann"
	seqPad             = "%019d"
)

func convSeqKey(convID string) string { return "seq:conv:" + convID }

func messageKey(convID string, seq uint64) string {
	return fmt.Sprintf(prefixMessage+"%s:"+seqPad, convID, seq)
}

func getJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// nextSeq increments and returns the counter stored at key. Run inside
// the same transaction as the mutation it orders, so the sequence is
// allocated atomically with the commit.
func nextSeq(txn *badger.Txn, key string) (uint64, error) {
	var current uint64
	item, err := txn.Get([]byte(key))
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			parsed, parseErr := strconv.ParseUint(string(val), 10, 64)
			if parseErr != nil {
				return parseErr
			}
			current = parsed
			return nil
		})
		if err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
		current = 0
	default:
		return 0, err
	}
	current++
	if err := txn.Set([]byte(key), []byte(strconv.FormatUint(current, 10))); err != nil {
		return 0, err
	}
	return current, nil
}

// mapStoreErr folds badger failures into the domain taxonomy: a missing
// key is ErrNotFound, anything else means the store could not complete
// the transaction.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cerrors.ErrNotFound
	}
	if errors.Is(err, cerrors.ErrNotFound) || errors.Is(err, cerrors.ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", cerrors.ErrUnavailable, err)
}
