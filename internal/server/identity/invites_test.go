package identity

import (
	"context"
	"testing"
	"time"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/stretchr/testify/require"
)

func TestInvite_CreateAndAccept(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	owner, err := svc.Register(ctx, "owner@example.com", "Owner")
	require.NoError(t, err)
	guest, err := svc.Register(ctx, "guest@example.com", "Guest")
	require.NoError(t, err)

	inv, err := svc.CreateInvite(ctx, owner.Token, "guest@example.com", state.RoleMember)
	require.NoError(t, err)
	require.Equal(t, state.InvitePending, inv.Status)

	mem, err := svc.AcceptInvite(ctx, guest.Token, inv.Code)
	require.NoError(t, err)
	require.Equal(t, owner.Workspace.ID, mem.WorkspaceID)
	require.Equal(t, state.RoleMember, mem.Role)

	s := snapshot(t, st)
	stored := s.InviteByCode(inv.Code)
	require.Equal(t, state.InviteAccepted, stored.Status)
	require.Equal(t, guest.User.ID, stored.AcceptedByUserID)
}

func TestInvite_SecondAcceptFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	owner, _ := svc.Register(ctx, "owner@example.com", "Owner")
	g1, _ := svc.Register(ctx, "g1@example.com", "G1")
	g2, _ := svc.Register(ctx, "g2@example.com", "G2")

	inv, err := svc.CreateInvite(ctx, owner.Token, "", state.RoleViewer)
	require.NoError(t, err)

	_, err = svc.AcceptInvite(ctx, g1.Token, inv.Code)
	require.NoError(t, err)
	_, err = svc.AcceptInvite(ctx, g2.Token, inv.Code)
	require.True(t, common.IsKind(err, common.KindConflict))
}

func TestInvite_ExpiredCodeFails(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	owner, _ := svc.Register(ctx, "owner@example.com", "Owner")
	guest, _ := svc.Register(ctx, "guest@example.com", "Guest")

	inv, err := svc.CreateInvite(ctx, owner.Token, "", state.RoleMember)
	require.NoError(t, err)

	clk.Advance(8 * 24 * time.Hour)
	// Guest token is still valid (30d TTL) but the invite is past its 7d TTL.
	_, err = svc.AcceptInvite(ctx, guest.Token, inv.Code)
	require.True(t, common.IsKind(err, common.KindConflict))
}

func TestInvite_RequiresAdmin(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	owner, _ := svc.Register(ctx, "owner@example.com", "Owner")

	// Demote the caller to member in place; inviting now fails.
	require.NoError(t, st.Transact(ctx, func(s *state.State) error {
		s.MembershipFor(owner.Workspace.ID, owner.User.ID).Role = state.RoleMember
		return nil
	}))
	_, err := svc.CreateInvite(ctx, owner.Token, "", state.RoleViewer)
	require.True(t, common.IsKind(err, common.KindForbidden))
}

func TestInvite_OwnerRoleNotGrantable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	owner, _ := svc.Register(ctx, "owner@example.com", "Owner")
	_, err := svc.CreateInvite(ctx, owner.Token, "", state.RoleOwner)
	require.True(t, common.IsKind(err, common.KindBadRequest))
}

func TestInvite_ExistingMemberCannotAccept(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	owner, _ := svc.Register(ctx, "owner@example.com", "Owner")
	inv, err := svc.CreateInvite(ctx, owner.Token, "", state.RoleMember)
	require.NoError(t, err)

	_, err = svc.AcceptInvite(ctx, owner.Token, inv.Code)
	require.True(t, common.IsKind(err, common.KindConflict))
}
