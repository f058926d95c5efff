package search

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	index, err := OpenInMemory(slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func Test_Search_Finds_Indexed_Bodies(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	convID := uuid.New()
	msgID := uuid.New()
	req.NoError(index.IndexMessage(msgID, convID, "the homework is due on friday"))
	req.NoError(index.IndexMessage(uuid.New(), uuid.New(), "lunch menu for next week"))

	hits, err := index.Search(context.Background(), "homework", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal(msgID, hits[0].MessageID)
	req.Equal(convID, hits[0].ConversationID)
}

func Test_Search_Misses_Return_No_Hits(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	req.NoError(index.IndexMessage(uuid.New(), uuid.New(), "the homework is due on friday"))

	hits, err := index.Search(context.Background(), "basketball", 10)
	req.NoError(err)
	req.Empty(hits)
}

func Test_Update_Replaces_The_Previous_Body(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	convID := uuid.New()
	msgID := uuid.New()
	req.NoError(index.IndexMessage(msgID, convID, "meeting at noon"))
	req.NoError(index.IndexMessage(msgID, convID, "meeting moved to three"))

	hits, err := index.Search(context.Background(), "noon", 10)
	req.NoError(err)
	req.Empty(hits)

	hits, err = index.Search(context.Background(), "three", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal(msgID, hits[0].MessageID)
}

func Test_Remove_Drops_The_Document(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	msgID := uuid.New()
	req.NoError(index.IndexMessage(msgID, uuid.New(), "soon to be deleted"))
	req.NoError(index.Remove(msgID))

	hits, err := index.Search(context.Background(), "deleted", 10)
	req.NoError(err)
	req.Empty(hits)
}

func Test_Search_Respects_The_Limit(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)

	convID := uuid.New()
	for i := 0; i < 5; i++ {
		req.NoError(index.IndexMessage(uuid.New(), convID, "field trip permission slip"))
	}

	hits, err := index.Search(context.Background(), "permission", 2)
	req.NoError(err)
	req.Len(hits, 2)
}
