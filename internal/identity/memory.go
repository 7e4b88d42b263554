package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/rmkerrors"
)

// registry is the Registry implementation shared by the in-memory and
// Postgres-backed registries: both persist user/workspace state as graph
// nodes and edges (per the data model's "User"/"Workspace" node kinds),
// and keep invitations/share tokens in a side table since the spec treats
// them as kernel-internal bookkeeping rather than graph-visible nodes.
type registry struct {
	store graph.Store

	mu          sync.Mutex
	invitations map[string]*Invitation
	tokens      map[string]*ShareToken
	namespaces  map[string]bool
}

// NewMemoryRegistry builds a Registry that persists User/Workspace nodes
// into store but keeps invitations and share tokens in process memory.
// Grounded on the teacher's auth.Store, generalized from a Postgres-only
// implementation to work against any graph.Store.
func NewMemoryRegistry(store graph.Store) Registry {
	return &registry{
		store:       store,
		invitations: make(map[string]*Invitation),
		tokens:      make(map[string]*ShareToken),
		namespaces:  make(map[string]bool),
	}
}

func (r *registry) rememberNamespace(ns string) {
	r.mu.Lock()
	if r.namespaces == nil {
		r.namespaces = make(map[string]bool)
	}
	r.namespaces[ns] = true
	r.mu.Unlock()
}

// ListNamespaces returns every namespace minted by CreateUser/CreateWorkspace
// on this registry instance. Namespace membership is tracked in process
// memory regardless of backend, since it exists only to feed the Reflection
// Loop's per-tick namespace set, not as durable state.
func (r *registry) ListNamespaces(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.namespaces))
	for ns := range r.namespaces {
		out = append(out, ns)
	}
	return out, nil
}

func randomToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateUser's id doubles as the node id within its own namespace, so
// membership edges and namespace derivation never require a lookup: the
// namespace is always userNamespace(id).
func (r *registry) CreateUser(ctx context.Context, name, pwHash string) (*User, error) {
	id := uuid.NewString()
	ns := userNamespace(id)
	if _, err := r.store.Upsert(ctx, &graph.Node{
		ID:         id,
		Namespace:  ns,
		Name:       name,
		Kind:       graph.KindUser,
		Attributes: map[string]string{"pw_hash": pwHash},
	}); err != nil {
		return nil, err
	}
	r.rememberNamespace(ns)
	return &User{ID: id, Name: name, PwHash: pwHash, Namespace: ns, CreatedAt: time.Now()}, nil
}

// CreateWorkspace mirrors CreateUser's id scheme: the returned Workspace.ID
// is both the node id and the group namespace suffix.
func (r *registry) CreateWorkspace(ctx context.Context, owner, name string) (*Workspace, error) {
	id := uuid.NewString()
	ns := groupNamespace(id)
	if _, err := r.store.Upsert(ctx, &graph.Node{
		ID:         id,
		Namespace:  ns,
		Name:       name,
		Kind:       graph.KindWorkspace,
		Attributes: map[string]string{"owner": owner},
	}); err != nil {
		return nil, err
	}
	if err := r.store.UpsertEdge(ctx, graph.Edge{Source: owner, Rel: graph.EdgeHasAdmin, Target: id, Weight: 1.0}); err != nil {
		return nil, err
	}
	r.rememberNamespace(ns)
	return &Workspace{ID: id, Name: name, Owner: owner, Namespace: ns, CreatedAt: time.Now()}, nil
}

func (r *registry) Invite(ctx context.Context, inviter, workspace, invitee string, role Role) (*Invitation, error) {
	wsRole, err := r.IsMember(ctx, inviter, workspace)
	if err != nil {
		return nil, err
	}
	if wsRole != RoleAdmin {
		return nil, rmkerrors.New(rmkerrors.Forbidden, "only workspace admins may invite")
	}
	inv := &Invitation{
		ID:        uuid.NewString(),
		Workspace: workspace,
		Inviter:   inviter,
		Invitee:   invitee,
		Role:      role,
		Status:    InvitationPending,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	r.mu.Lock()
	r.invitations[inv.ID] = inv
	r.mu.Unlock()
	return inv, nil
}

func (r *registry) resolveInvitation(ctx context.Context, invitee, inviteID string, status InvitationStatus) (*Invitation, error) {
	r.mu.Lock()
	inv, ok := r.invitations[inviteID]
	r.mu.Unlock()
	if !ok {
		return nil, rmkerrors.New(rmkerrors.NotFound, "invitation not found")
	}
	if inv.Invitee != invitee {
		return nil, rmkerrors.New(rmkerrors.Forbidden, "invitation belongs to a different user")
	}
	if inv.Status != InvitationPending {
		return nil, rmkerrors.New(rmkerrors.Conflict, "invitation is not pending")
	}
	if time.Now().After(inv.ExpiresAt) {
		return nil, rmkerrors.New(rmkerrors.Conflict, "invitation expired")
	}
	r.mu.Lock()
	inv.Status = status
	r.mu.Unlock()
	return inv, nil
}

func (r *registry) Accept(ctx context.Context, invitee, inviteID string) error {
	inv, err := r.resolveInvitation(ctx, invitee, inviteID, InvitationAccepted)
	if err != nil {
		return err
	}
	rel := graph.EdgeHasMember
	if inv.Role == RoleAdmin {
		rel = graph.EdgeHasAdmin
	}
	return r.store.UpsertEdge(ctx, graph.Edge{Source: invitee, Rel: rel, Target: inv.Workspace, Weight: 1.0})
}

func (r *registry) Decline(ctx context.Context, invitee, inviteID string) error {
	_, err := r.resolveInvitation(ctx, invitee, inviteID, InvitationDeclined)
	return err
}

func (r *registry) IssueShareToken(ctx context.Context, admin, workspace string, role Role, maxUses int, ttl time.Duration) (*ShareToken, error) {
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
	st := &ShareToken{
		Token:         tok,
		Workspace:     workspace,
		Role:          role,
		MaxUses:       maxUses,
		UsesRemaining: maxUses,
		ExpiresAt:     time.Now().Add(ttl),
	}
	r.mu.Lock()
	r.tokens[tok] = st
	r.mu.Unlock()
	return st, nil
}

func (r *registry) RedeemShareToken(ctx context.Context, user, token string) (Role, error) {
	r.mu.Lock()
	st, ok := r.tokens[token]
	if !ok {
		r.mu.Unlock()
		return RoleNone, rmkerrors.New(rmkerrors.NotFound, "share token not found")
	}
	if st.Revoked {
		r.mu.Unlock()
		return RoleNone, rmkerrors.New(rmkerrors.Conflict, "share token revoked")
	}
	if time.Now().After(st.ExpiresAt) {
		r.mu.Unlock()
		return RoleNone, rmkerrors.New(rmkerrors.Conflict, "share token expired")
	}
	if st.UsesRemaining <= 0 {
		r.mu.Unlock()
		return RoleNone, rmkerrors.New(rmkerrors.Conflict, "share token exhausted")
	}
	st.UsesRemaining--
	role := st.Role
	workspace := st.Workspace
	r.mu.Unlock()

	rel := graph.EdgeHasMember
	if role == RoleAdmin {
		rel = graph.EdgeHasAdmin
	}
	if err := r.store.UpsertEdge(ctx, graph.Edge{Source: user, Rel: rel, Target: workspace, Weight: 1.0}); err != nil {
		return RoleNone, err
	}
	return role, nil
}

func (r *registry) IsMember(ctx context.Context, user, workspace string) (Role, error) {
	sub, err := r.store.Expand(ctx, workspaceNamespaceOf(workspace), []string{user}, 1, []graph.EdgeKind{graph.EdgeHasAdmin, graph.EdgeHasMember})
	if err != nil {
		return RoleNone, err
	}
	for _, e := range sub.Edges {
		if e.Source != user || e.Target != workspace {
			continue
		}
		if e.Rel == graph.EdgeHasAdmin {
			return RoleAdmin, nil
		}
		if e.Rel == graph.EdgeHasMember {
			return RoleSubuser, nil
		}
	}
	return RoleNone, nil
}

// workspaceNamespaceOf derives a workspace's namespace from its id, which
// CreateWorkspace always mints as the namespace's group_ suffix.
func workspaceNamespaceOf(workspaceID string) string {
	return groupNamespace(workspaceID)
}

func (r *registry) ListMembers(ctx context.Context, workspace string) (map[string]Role, error) {
	edges, err := r.store.IncomingEdges(ctx, workspace, []graph.EdgeKind{graph.EdgeHasAdmin, graph.EdgeHasMember})
	if err != nil {
		return nil, err
	}
	out := make(map[string]Role)
	for _, e := range edges {
		switch e.Rel {
		case graph.EdgeHasAdmin:
			out[e.Source] = RoleAdmin
		case graph.EdgeHasMember:
			out[e.Source] = RoleSubuser
		}
	}
	return out, nil
}

func (r *registry) RemoveMember(ctx context.Context, workspace, user string) error {
	adminEdge := graph.Edge{Source: user, Rel: graph.EdgeHasAdmin, Target: workspace}
	memberEdge := graph.Edge{Source: user, Rel: graph.EdgeHasMember, Target: workspace}
	return r.store.BatchWrite(ctx, workspaceNamespaceOf(workspace), []graph.WriteOp{
		{DeleteEdge: &adminEdge},
		{DeleteEdge: &memberEdge},
	})
}
