package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singularity-rmk/internal/graph"
)

func TestCreateWorkspaceGrantsAdminEdge(t *testing.T) {
	store := graph.NewMemoryStore()
	reg := NewMemoryRegistry(store)
	ctx := context.Background()

	owner, err := reg.CreateUser(ctx, "owner", "hash")
	require.NoError(t, err)

	ownerNode, err := store.QueryByName(ctx, owner.Namespace, "owner", graph.KindUser)
	require.NoError(t, err)
	require.Len(t, ownerNode, 1)

	ws, err := reg.CreateWorkspace(ctx, ownerNode[0].ID, "team")
	require.NoError(t, err)

	wsNode, err := store.QueryByName(ctx, ws.Namespace, "team", graph.KindWorkspace)
	require.NoError(t, err)
	require.Len(t, wsNode, 1)

	role, err := reg.IsMember(ctx, ownerNode[0].ID, wsNode[0].ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestShareTokenRedeemExhausts(t *testing.T) {
	store := graph.NewMemoryStore()
	reg := NewMemoryRegistry(store)
	ctx := context.Background()

	owner, _ := reg.CreateUser(ctx, "owner", "hash")
	ownerNode, _ := store.QueryByName(ctx, owner.Namespace, "owner", graph.KindUser)
	ws, _ := reg.CreateWorkspace(ctx, ownerNode[0].ID, "team")
	wsNode, _ := store.QueryByName(ctx, ws.Namespace, "team", graph.KindWorkspace)

	tok, err := reg.IssueShareToken(ctx, ownerNode[0].ID, wsNode[0].ID, RoleSubuser, 1, time.Hour)
	require.NoError(t, err)

	invitee, _ := reg.CreateUser(ctx, "invitee", "hash")
	inviteeNode, _ := store.QueryByName(ctx, invitee.Namespace, "invitee", graph.KindUser)

	role, err := reg.RedeemShareToken(ctx, inviteeNode[0].ID, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleSubuser, role)

	_, err = reg.RedeemShareToken(ctx, inviteeNode[0].ID, tok.Token)
	assert.Error(t, err)
}

func TestInviteRequiresAdmin(t *testing.T) {
	store := graph.NewMemoryStore()
	reg := NewMemoryRegistry(store)
	ctx := context.Background()

	owner, _ := reg.CreateUser(ctx, "owner", "hash")
	ownerNode, _ := store.QueryByName(ctx, owner.Namespace, "owner", graph.KindUser)
	ws, _ := reg.CreateWorkspace(ctx, ownerNode[0].ID, "team")
	wsNode, _ := store.QueryByName(ctx, ws.Namespace, "team", graph.KindWorkspace)

	outsider, _ := reg.CreateUser(ctx, "outsider", "hash")
	outsiderNode, _ := store.QueryByName(ctx, outsider.Namespace, "outsider", graph.KindUser)

	_, err := reg.Invite(ctx, outsiderNode[0].ID, wsNode[0].ID, "someone", RoleSubuser)
	assert.Error(t, err)
}

func TestListNamespacesIncludesUsersAndWorkspaces(t *testing.T) {
	store := graph.NewMemoryStore()
	reg := NewMemoryRegistry(store)
	ctx := context.Background()

	owner, _ := reg.CreateUser(ctx, "owner", "hash")
	ownerNode, _ := store.QueryByName(ctx, owner.Namespace, "owner", graph.KindUser)
	ws, _ := reg.CreateWorkspace(ctx, ownerNode[0].ID, "team")

	namespaces, err := reg.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Contains(t, namespaces, owner.Namespace)
	assert.Contains(t, namespaces, ws.Namespace)
}
