package domain

import (
	"time"

	"github.com/google/uuid"
)

// Announcement is a community-wide notice, independent from the
// conversation transcript. Listing order is pinned-first, then recency.
type Announcement struct {
	ID        uuid.UUID
	Title     string
	Body      string
	AuthorID  uuid.UUID
	Pinned    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
