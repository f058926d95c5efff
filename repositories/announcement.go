package repositories

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"campus-chat/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IAnnouncementRepository interface {
	Create(ann domain.Announcement) (domain.Announcement, uint64, error)
	Get(id uuid.UUID) (domain.Announcement, error)
	Update(ann domain.Announcement) (domain.Announcement, uint64, error)
	Delete(id uuid.UUID) (domain.Announcement, uint64, error)
	// List orders pinned announcements first, then by recency.
	List() ([]domain.Announcement, error)
}

type AnnouncementRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewAnnouncementRepository(db *badger.DB, log *slog.Logger) *AnnouncementRepository {
	return &AnnouncementRepository{db: db, log: log}
}

func (r *AnnouncementRepository) Create(ann domain.Announcement) (domain.Announcement, uint64, error) {
	now := time.Now().UTC()
	if ann.ID == uuid.Nil {
		ann.ID = uuid.New()
	}
	ann.CreatedAt = now
	ann.UpdatedAt = now

	var seq uint64
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, prefixAnnouncement+ann.ID.String(), ann); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, keySeqAnnouncement)
		return err
	})
	if err != nil {
		return domain.Announcement{}, 0, mapStoreErr(err)
	}
	return ann, seq, nil
}

func (r *AnnouncementRepository) Get(id uuid.UUID) (domain.Announcement, error) {
	var ann domain.Announcement
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixAnnouncement+id.String(), &ann)
	})
	if err != nil {
		return domain.Announcement{}, mapStoreErr(err)
	}
	return ann, nil
}

func (r *AnnouncementRepository) Update(ann domain.Announcement) (domain.Announcement, uint64, error) {
	var seq uint64
	err := r.db.Update(func(txn *badger.Txn) error {
		var existing domain.Announcement
		if err := getJSON(txn, prefixAnnouncement+ann.ID.String(), &existing); err != nil {
			return err
		}
		ann.AuthorID = existing.AuthorID
		ann.CreatedAt = existing.CreatedAt
		ann.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, prefixAnnouncement+ann.ID.String(), ann); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, keySeqAnnouncement)
		return err
	})
	if err != nil {
		return domain.Announcement{}, 0, mapStoreErr(err)
	}
	return ann, seq, nil
}

func (r *AnnouncementRepository) Delete(id uuid.UUID) (domain.Announcement, uint64, error) {
	var (
		ann domain.Announcement
		seq uint64
	)
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, prefixAnnouncement+id.String(), &ann); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixAnnouncement + id.String())); err != nil {
			return err
		}
		var err error
		seq, err = nextSeq(txn, keySeqAnnouncement)
		return err
	})
	if err != nil {
		return domain.Announcement{}, 0, mapStoreErr(err)
	}
	return ann, seq, nil
}

func (r *AnnouncementRepository) List() ([]domain.Announcement, error) {
	var announcements []domain.Announcement
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixAnnouncement)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ann domain.Announcement
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ann)
			}); err != nil {
				return err
			}
			announcements = append(announcements, ann)
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	sort.SliceStable(announcements, func(i, j int) bool {
		if announcements[i].Pinned != announcements[j].Pinned {
			return announcements[i].Pinned
		}
		return announcements[i].CreatedAt.After(announcements[j].CreatedAt)
	})
	return announcements, nil
}
