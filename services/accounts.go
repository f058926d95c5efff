package services

import (
	"errors"
	"fmt"
	"time"

	"campus-chat/auth"
	"campus-chat/domain"
	cerrors "campus-chat/errors"
	"campus-chat/policy"

	"github.com/google/uuid"
)

// Authenticate verifies the credential and returns the account row.
// Wrong email and wrong password are indistinguishable to the caller,
// and a suspended account cannot log in.
func (s *MessagingService) Authenticate(email, password string) (domain.Account, error) {
	account, err := withRetry(func() (domain.Account, error) {
		return s.accounts.GetByEmail(email)
	})
	if err != nil {
		if errors.Is(err, cerrors.ErrNotFound) {
			return domain.Account{}, cerrors.ErrUnauthorized
		}
		return domain.Account{}, err
	}
	match, err := auth.ComparePassword(password, account.PasswordHash)
	if err != nil || !match {
		return domain.Account{}, cerrors.ErrUnauthorized
	}
	if !account.Active {
		return domain.Account{}, cerrors.ErrUnauthorized
	}
	return account, nil
}

// CreateAccount provisions a new account row. Reserved to global
// owner/moderator principals; regular signup does not exist, the school
// registers its people.
func (s *MessagingService) CreateAccount(p domain.Principal, account domain.Account, password string) (domain.Account, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Account{}, err
	}
	if !principal.Role.Global() {
		return domain.Account{}, cerrors.ErrUnauthorized
	}
	if _, ok := domain.ToRole(string(account.Role)); !ok {
		return domain.Account{}, fmt.Errorf("%w: unknown role %q", cerrors.ErrConflict, account.Role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Account{}, err
	}
	account.PasswordHash = hash
	account.Active = true
	return s.accounts.Create(account)
}

// GetAccount returns any account row; profiles are community-visible.
func (s *MessagingService) GetAccount(p domain.Principal, id uuid.UUID) (domain.Account, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Account{}, err
	}
	account, err := withRetry(func() (domain.Account, error) {
		return s.accounts.Get(id)
	})
	if err != nil {
		return domain.Account{}, err
	}
	if !policy.CanReadAccount(principal, account) {
		return domain.Account{}, cerrors.ErrNotFound
	}
	return account, nil
}

func (s *MessagingService) ListAccounts(p domain.Principal) ([]domain.Account, error) {
	if _, err := s.requirePrincipal(p); err != nil {
		return nil, err
	}
	return withRetry(func() ([]domain.Account, error) {
		return s.accounts.List()
	})
}

// UpdateProfile changes the principal's own display name.
func (s *MessagingService) UpdateProfile(p domain.Principal, displayName string) (domain.Account, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Account{}, err
	}
	account, err := s.accounts.Get(principal.AccountID)
	if err != nil {
		return domain.Account{}, err
	}
	if !policy.CanUpdateAccount(principal, account) {
		return domain.Account{}, cerrors.ErrUnauthorized
	}
	account.DisplayName = displayName
	return s.accounts.Update(account)
}

// UpdateRole changes the community-wide role of an account. Reserved to
// global owner/moderator principals.
func (s *MessagingService) UpdateRole(p domain.Principal, id uuid.UUID, role domain.Role) (domain.Account, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Account{}, err
	}
	if !principal.Role.Global() {
		return domain.Account{}, cerrors.ErrUnauthorized
	}
	if _, ok := domain.ToRole(string(role)); !ok {
		return domain.Account{}, fmt.Errorf("%w: unknown role %q", cerrors.ErrConflict, role)
	}
	account, err := s.accounts.Get(id)
	if err != nil {
		return domain.Account{}, err
	}
	if !policy.CanUpdateAccount(principal, account) {
		return domain.Account{}, cerrors.ErrUnauthorized
	}
	account.Role = role
	return s.accounts.Update(account)
}

// SetActive suspends or reinstates an account. A suspended account
// keeps its rows but every operation it attempts is refused, and the
// dispatcher stops delivering to its live connections.
func (s *MessagingService) SetActive(p domain.Principal, id uuid.UUID, active bool) (domain.Account, error) {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return domain.Account{}, err
	}
	if !principal.Role.Global() {
		return domain.Account{}, cerrors.ErrUnauthorized
	}
	account, err := s.accounts.Get(id)
	if err != nil {
		return domain.Account{}, err
	}
	account.Active = active
	return s.accounts.Update(account)
}

// DeleteAccount removes the account, its memberships and its authorship
// references. Surviving messages keep their bodies with a nil sender.
func (s *MessagingService) DeleteAccount(p domain.Principal, id uuid.UUID) error {
	principal, err := s.requirePrincipal(p)
	if err != nil {
		return err
	}
	target, err := s.accounts.Get(id)
	if err != nil {
		return err
	}
	if !policy.CanDeleteAccount(principal, target) {
		return cerrors.ErrUnauthorized
	}
	return s.accounts.Delete(id)
}

// TouchLastSeen is called by the transport layer on authenticated
// activity. Best effort; a failed touch never fails the request.
func (s *MessagingService) TouchLastSeen(accountID uuid.UUID) {
	if err := s.accounts.TouchLastSeen(accountID, time.Now().UTC()); err != nil {
		s.log.Debug("Last seen touch failed", "account", accountID, "error", err)
	}
}
