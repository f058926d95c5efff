// Package domain contains the core entities of the messaging system.
// Types here carry no behavior beyond small invariant helpers; they are
// shared by the policy engine, the store and the dispatcher.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Global reports whether the role carries community-wide moderation
// rights. A global role never needs a membership to moderate.
func (r Role) Global() bool {
	return r == RoleOwner || r == RoleModerator
}

func ToRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOwner, RoleModerator, RoleMember:
		return Role(s), true
	default:
		return "", false
	}
}

// Account is a principal known to the system. Provisioning happens
// outside this engine; rows arrive already created.
type Account struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
	Role        Role
	Active      bool
	// PasswordHash is the encoded argon2id credential. The transport
	// layer strips it before a row reaches a client.
	PasswordHash string
	LastSeenAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is the authenticated identity acting in a request, as
// extracted from the transport layer. The role is a claim snapshot;
// authorization on the fan-out path re-reads the account row.
type Principal struct {
	AccountID uuid.UUID
	Role      Role
}
