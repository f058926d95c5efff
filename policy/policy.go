// Package policy is the authorization engine. Every function is pure:
// it receives the acting principal and the rows it needs and returns a
// verdict, nothing else. The same functions run on the direct read path
// and on every dispatcher fan-out decision, so a demotion or a roster
// change between commit and delivery is always honored.
//
// Tie-break rule: a global owner/moderator role supersedes per-conversation
// membership checks everywhere moderation is concerned.
package policy

import (
	"campus-chat/domain"
)

// CanReadAccount: any authenticated principal may read any account row.
func CanReadAccount(_ domain.Principal, _ domain.Account) bool {
	return true
}

// CanUpdateAccount allows profile updates on self, and role/active
// updates by global owner/moderator principals on any row.
func CanUpdateAccount(p domain.Principal, target domain.Account) bool {
	return p.AccountID == target.ID || p.Role.Global()
}

// CanDeleteAccount restricts removal to owners acting on somebody else.
func CanDeleteAccount(p domain.Principal, target domain.Account) bool {
	return p.Role == domain.RoleOwner && p.AccountID != target.ID
}

// CanReadConversation: membership, broadcast kind, or a global role.
// membership is nil when the principal holds no row in the conversation.
func CanReadConversation(p domain.Principal, conv domain.Conversation, membership *domain.Membership) bool {
	if p.Role.Global() {
		return true
	}
	if conv.Kind == domain.KindBroadcast {
		return true
	}
	return membership != nil
}

// CanCreateConversation: any authenticated principal, provided the row
// being inserted names them as creator.
func CanCreateConversation(p domain.Principal, conv domain.Conversation) bool {
	return conv.CreatedBy == p.AccountID
}

// CanUpdateConversation: conversation-scoped moderator or global role.
func CanUpdateConversation(p domain.Principal, _ domain.Conversation, membership *domain.Membership) bool {
	if p.Role.Global() {
		return true
	}
	return membership != nil && membership.IsModerator
}

// CanDeleteConversation follows the update rule.
func CanDeleteConversation(p domain.Principal, conv domain.Conversation, membership *domain.Membership) bool {
	return CanUpdateConversation(p, conv, membership)
}

// CanReadMembership: members of the conversation see its roster.
func CanReadMembership(p domain.Principal, conv domain.Conversation, own *domain.Membership) bool {
	return CanReadConversation(p, conv, own)
}

// CanManageRoster covers membership create/update/delete.
func CanManageRoster(p domain.Principal, _ domain.Conversation, own *domain.Membership) bool {
	if p.Role.Global() {
		return true
	}
	return own != nil && own.IsModerator
}

// CanReadMessage follows the parent conversation's read rule.
func CanReadMessage(p domain.Principal, conv domain.Conversation, membership *domain.Membership) bool {
	return CanReadConversation(p, conv, membership)
}

// CanCreateMessage requires the principal to be the sender, plus either
// membership or, for the broadcast channel, a global role.
func CanCreateMessage(p domain.Principal, conv domain.Conversation, membership *domain.Membership, msg domain.Message) bool {
	if p.AccountID != msg.SenderID {
		return false
	}
	if membership != nil {
		return true
	}
	return conv.Kind == domain.KindBroadcast && p.Role.Global()
}

// CanUpdateMessage: edits belong to the original sender alone.
func CanUpdateMessage(p domain.Principal, msg domain.Message) bool {
	return p.AccountID == msg.SenderID
}

// CanDeleteMessage: the original sender or any global owner/moderator.
func CanDeleteMessage(p domain.Principal, msg domain.Message) bool {
	return p.AccountID == msg.SenderID || p.Role.Global()
}

// CanReadAnnouncement: unconditional for authenticated principals.
func CanReadAnnouncement(_ domain.Principal, _ domain.Announcement) bool {
	return true
}

// CanManageAnnouncements covers announcement create/update/delete.
func CanManageAnnouncements(p domain.Principal) bool {
	return p.Role.Global()
}
