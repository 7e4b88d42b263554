package identity

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/rmkerrors"
)

// postgresRegistry embeds the shared registry logic but persists
// invitations and share tokens in Postgres instead of process memory,
// grounded on the teacher's auth.Store sessions table pattern.
type postgresRegistry struct {
	*registry
	pool *pgxpool.Pool
}

// NewPostgresRegistry builds a Registry whose invitations and share tokens
// survive process restarts.
func NewPostgresRegistry(ctx context.Context, store graph.Store, pool *pgxpool.Pool) (Registry, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rmk_invitations (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			inviter TEXT NOT NULL,
			invitee TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rmk_share_tokens (
			token TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			role TEXT NOT NULL,
			max_uses INTEGER NOT NULL,
			uses_remaining INTEGER NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "identity schema bootstrap", err)
		}
	}
	return &postgresRegistry{registry: &registry{store: store}, pool: pool}, nil
}

func (r *postgresRegistry) Invite(ctx context.Context, inviter, workspace, invitee string, role Role) (*Invitation, error) {
	wsRole, err := r.IsMember(ctx, inviter, workspace)
	if err != nil {
		return nil, err
	}
	if wsRole != RoleAdmin {
		return nil, rmkerrors.New(rmkerrors.Forbidden, "only workspace admins may invite")
	}
	inv := &Invitation{
		Workspace: workspace,
		Inviter:   inviter,
		Invitee:   invitee,
		Role:      role,
		Status:    InvitationPending,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	err = r.pool.QueryRow(ctx, `
INSERT INTO rmk_invitations(id, workspace, inviter, invitee, role, status, expires_at)
VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6)
RETURNING id
`, workspace, inviter, invitee, string(role), string(InvitationPending), inv.ExpiresAt).Scan(&inv.ID)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "insert invitation", err)
	}
	return inv, nil
}

func (r *postgresRegistry) resolve(ctx context.Context, invitee, inviteID string, status InvitationStatus) (*Invitation, error) {
	var inv Invitation
	var expiresAt time.Time
	var role, curStatus string
	err := r.pool.QueryRow(ctx, `SELECT workspace, inviter, invitee, role, status, expires_at FROM rmk_invitations WHERE id=$1`, inviteID).
		Scan(&inv.Workspace, &inv.Inviter, &inv.Invitee, &role, &curStatus, &expiresAt)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.NotFound, "invitation not found", err)
	}
	inv.ID = inviteID
	inv.Role = Role(role)
	inv.ExpiresAt = expiresAt
	if inv.Invitee != invitee {
		return nil, rmkerrors.New(rmkerrors.Forbidden, "invitation belongs to a different user")
	}
	if InvitationStatus(curStatus) != InvitationPending {
		return nil, rmkerrors.New(rmkerrors.Conflict, "invitation is not pending")
	}
	if time.Now().After(expiresAt) {
		return nil, rmkerrors.New(rmkerrors.Conflict, "invitation expired")
	}
	if _, err := r.pool.Exec(ctx, `UPDATE rmk_invitations SET status=$2 WHERE id=$1`, inviteID, string(status)); err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "update invitation", err)
	}
	inv.Status = status
	return &inv, nil
}

func (r *postgresRegistry) Accept(ctx context.Context, invitee, inviteID string) error {
	inv, err := r.resolve(ctx, invitee, inviteID, InvitationAccepted)
	if err != nil {
		return err
	}
	rel := graph.EdgeHasMember
	if inv.Role == RoleAdmin {
		rel = graph.EdgeHasAdmin
	}
	return r.store.UpsertEdge(ctx, graph.Edge{Source: invitee, Rel: rel, Target: inv.Workspace, Weight: 1.0})
}

func (r *postgresRegistry) Decline(ctx context.Context, invitee, inviteID string) error {
	_, err := r.resolve(ctx, invitee, inviteID, InvitationDeclined)
	return err
}

func (r *postgresRegistry) IssueShareToken(ctx context.Context, admin, workspace string, role Role, maxUses int, ttl time.Duration) (*ShareToken, error) {
	wsRole, err := r.IsMember(ctx, admin, workspace)
	if err != nil {
		return nil, err
	}
	if wsRole != RoleAdmin {
		return nil, rmkerrors.New(rmkerrors.Forbidden, "only workspace admins may issue share tokens")
	}
	tok, err := randomToken(24)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.Internal, "generate share token", err)
	}
	if maxUses <= 0 {
		maxUses = 1
	}
	st := &ShareToken{Token: tok, Workspace: workspace, Role: role, MaxUses: maxUses, UsesRemaining: maxUses, ExpiresAt: time.Now().Add(ttl)}
	_, err = r.pool.Exec(ctx, `
INSERT INTO rmk_share_tokens(token, workspace, role, max_uses, uses_remaining, expires_at) VALUES ($1,$2,$3,$4,$5,$6)
`, st.Token, st.Workspace, string(st.Role), st.MaxUses, st.UsesRemaining, st.ExpiresAt)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "insert share token", err)
	}
	return st, nil
}

func (r *postgresRegistry) RedeemShareToken(ctx context.Context, user, token string) (Role, error) {
	var workspace, role string
	var usesRemaining int
	var expiresAt time.Time
	var revoked bool
	err := r.pool.QueryRow(ctx, `
UPDATE rmk_share_tokens SET uses_remaining = uses_remaining - 1
WHERE token=$1 AND revoked=FALSE AND uses_remaining > 0 AND expires_at > now()
RETURNING workspace, role, uses_remaining, expires_at, revoked
`, token).Scan(&workspace, &role, &usesRemaining, &expiresAt, &revoked)
	if err != nil {
		return RoleNone, rmkerrors.Wrap(rmkerrors.Conflict, "share token not redeemable", err)
	}
	rel := graph.EdgeHasMember
	if Role(role) == RoleAdmin {
		rel = graph.EdgeHasAdmin
	}
	if err := r.store.UpsertEdge(ctx, graph.Edge{Source: user, Rel: rel, Target: workspace, Weight: 1.0}); err != nil {
		return RoleNone, err
	}
	return Role(role), nil
}
