package services

import (
	"context"

	"campus-chat/domain"
	"campus-chat/domain/event"
	cerrors "campus-chat/errors"
	"campus-chat/policy"

	"github.com/google/uuid"
)

// CreateAnnouncement publishes a community-wide notice to the global
// announcement stream.
func (s *MessagingService) CreateAnnouncement(ctx context.Context, p domain.Principal, ann domain.Announcement) (domain.Announcement, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Announcement{}, err
	}
	if !policy.CanManageAnnouncements(principal) {
		return domain.Announcement{}, cerrors.ErrUnauthorized
	}
	ann.AuthorID = principal.AccountID

	lock := s.streamLock(event.AnnouncementStream)
	lock.Lock()
	defer lock.Unlock()
	created, seq, err := s.announcements.Create(ann)
	if err != nil {
		return domain.Announcement{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:         event.ChangeCreated,
		Entity:       event.EntityAnnouncement,
		Seq:          seq,
		Announcement: &created,
	})
	return created, nil
}

func (s *MessagingService) UpdateAnnouncement(ctx context.Context, p domain.Principal, ann domain.Announcement) (domain.Announcement, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Announcement{}, err
	}
	if !policy.CanManageAnnouncements(principal) {
		return domain.Announcement{}, cerrors.ErrUnauthorized
	}

	lock := s.streamLock(event.AnnouncementStream)
	lock.Lock()
	defer lock.Unlock()
	updated, seq, err := s.announcements.Update(ann)
	if err != nil {
		return domain.Announcement{}, err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:         event.ChangeUpdated,
		Entity:       event.EntityAnnouncement,
		Seq:          seq,
		Announcement: &updated,
	})
	return updated, nil
}

func (s *MessagingService) DeleteAnnouncement(ctx context.Context, p domain.Principal, id uuid.UUID) error {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return err
	}
	if !policy.CanManageAnnouncements(principal) {
		return cerrors.ErrUnauthorized
	}

	lock := s.streamLock(event.AnnouncementStream)
	lock.Lock()
	defer lock.Unlock()
	deleted, seq, err := s.announcements.Delete(id)
	if err != nil {
		return err
	}
	s.publish(ctx, event.ChangeEvent{
		Kind:         event.ChangeDeleted,
		Entity:       event.EntityAnnouncement,
		Seq:          seq,
		Announcement: &deleted,
	})
	return nil
}

// ListAnnouncements is readable by every authenticated principal,
// pinned notices first.
func (s *MessagingService) ListAnnouncements(p domain.Principal) ([]domain.Announcement, error) {
	if _, err := s.requirePrincipal(p); err != nil {
		return nil, err
	}
	return withRetry(func() ([]domain.Announcement, error) {
		return s.announcements.List()
	})
}
