package repositories

import (
	"log/slog"
	"testing"

	"campus-chat/domain"
	cerrors "campus-chat/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_Announcements_List_Pinned_First(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewAnnouncementRepository(db, slog.Default())
	author := uuid.New()

	older, _, err := repository.Create(domain.Announcement{Title: "older", Body: "b", AuthorID: author})
	req.NoError(err)
	pinned, _, err := repository.Create(domain.Announcement{Title: "pinned", Body: "b", AuthorID: author, Pinned: true})
	req.NoError(err)
	newest, _, err := repository.Create(domain.Announcement{Title: "newest", Body: "b", AuthorID: author})
	req.NoError(err)

	listed, err := repository.List()
	req.NoError(err)
	req.Len(listed, 3)
	req.Equal(pinned.ID, listed[0].ID)
	req.Equal(newest.ID, listed[1].ID)
	req.Equal(older.ID, listed[2].ID)
}

func Test_Announcement_Sequences_Are_Global(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewAnnouncementRepository(db, slog.Default())
	author := uuid.New()

	created, seq1, err := repository.Create(domain.Announcement{Title: "t", Body: "b", AuthorID: author})
	req.NoError(err)
	created.Body = "rewritten"
	_, seq2, err := repository.Update(created)
	req.NoError(err)
	_, seq3, err := repository.Delete(created.ID)
	req.NoError(err)

	req.Less(seq1, seq2)
	req.Less(seq2, seq3)

	_, err = repository.Get(created.ID)
	req.ErrorIs(err, cerrors.ErrNotFound)
}
