// Package identity implements Namespace & Identity (C3): the user/workspace
// registry, membership, invitations, and share tokens, grounded on the
// teacher's internal/auth Store.
package identity

import (
	"context"
	"time"
)

// Role is the membership level carried on a workspace edge.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSubuser Role = "subuser"
	RoleNone    Role = "none"
)

// InvitationStatus tracks an Invitation's lifecycle.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationRevoked  InvitationStatus = "revoked"
)

// User is a registered principal. Namespace is always "user_<id>".
type User struct {
	ID        string
	Name      string
	PwHash    string
	Namespace string
	CreatedAt time.Time
}

// Workspace is a group namespace ("group_<id>") with membership edges.
type Workspace struct {
	ID        string
	Name      string
	Owner     string
	Namespace string
	CreatedAt time.Time
}

// Invitation is a pending or resolved workspace invite.
type Invitation struct {
	ID        string
	Workspace string
	Inviter   string
	Invitee   string
	Role      Role
	Status    InvitationStatus
	ExpiresAt time.Time
}

// ShareToken grants redeemable, rate-limited workspace access.
type ShareToken struct {
	Token         string
	Workspace     string
	Role          Role
	MaxUses       int
	UsesRemaining int
	ExpiresAt     time.Time
	Revoked       bool
}

// Registry is the C3 contract.
type Registry interface {
	CreateUser(ctx context.Context, name, pwHash string) (*User, error)
	CreateWorkspace(ctx context.Context, owner, name string) (*Workspace, error)
	Invite(ctx context.Context, inviter, workspace, invitee string, role Role) (*Invitation, error)
	Accept(ctx context.Context, invitee, inviteID string) error
	Decline(ctx context.Context, invitee, inviteID string) error
	IssueShareToken(ctx context.Context, admin, workspace string, role Role, maxUses int, ttl time.Duration) (*ShareToken, error)
	RedeemShareToken(ctx context.Context, user, token string) (Role, error)
	IsMember(ctx context.Context, user, workspace string) (Role, error)
	ListMembers(ctx context.Context, workspace string) (map[string]Role, error)
	RemoveMember(ctx context.Context, workspace, user string) error
	// ListNamespaces returns every namespace this registry has minted, for
	// background passes (e.g. Reflection) that must iterate all namespaces.
	ListNamespaces(ctx context.Context) ([]string, error)
}

func userNamespace(id string) string  { return "user_" + id }
func groupNamespace(id string) string { return "group_" + id }
