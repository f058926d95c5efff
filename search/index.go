package search

import (
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

// Index is the full-text transcript index. Bodies are indexed in
// plaintext after moderation but before sealing; results carry only
// locators, so the caller still has to read (and be authorized for)
// the message itself.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

// Hit locates one matching message.
type Hit struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
}

func Open(path string, log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	return &Index{writer: writer, log: log}, nil
}

// OpenInMemory builds a non-persistent index, used by tests.
func OpenInMemory(log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, err
	}
	return &Index{writer: writer, log: log}, nil
}

func (i *Index) IndexMessage(messageID, conversationID uuid.UUID, body string) error {
	doc := bluge.NewDocument(messageID.String()).
		AddField(bluge.NewTextField("body", body)).
		AddField(bluge.NewKeywordField("conversation", conversationID.String()).StoreValue())
	return i.writer.Update(doc.ID(), doc)
}

func (i *Index) Remove(messageID uuid.UUID) error {
	return i.writer.Delete(bluge.Identifier(messageID.String()))
}

// Search returns up to limit locators for messages whose body matches
// the query, best score first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	match := bluge.NewMatchQuery(query).SetField("body")
	request := bluge.NewTopNSearch(limit, match)
	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for {
		next, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		var hit Hit
		err = next.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID, _ = uuid.Parse(string(value))
			case "conversation":
				hit.ConversationID, _ = uuid.Parse(string(value))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if hit.MessageID != uuid.Nil {
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}
