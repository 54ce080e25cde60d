package identity

import (
	"context"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/google/uuid"
)

const inviteCodeBytes = 16

// CreateInvite mints a single-use invite code for the caller's workspace.
// Requires admin. The owner role cannot be granted by invite.
func (svc *Service) CreateInvite(ctx context.Context, token, email string, role state.Role) (*state.Invite, error) {
	if !role.Valid() {
		return nil, common.BadRequestf("unknown role %q", role)
	}
	if role == state.RoleOwner {
		return nil, common.BadRequestf("a workspace has exactly one owner")
	}

	var out state.Invite
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleAdmin); err != nil {
			return err
		}
		code, err := common.MakeRandHexString(inviteCodeBytes)
		if err != nil {
			return common.Internal("invite code generation failed", err)
		}
		inv := state.Invite{
			ID:          uuid.NewString(),
			WorkspaceID: p.Workspace.ID,
			Code:        code,
			Email:       email,
			Role:        role,
			Status:      state.InvitePending,
			ExpiresAt:   now.Add(inviteTTL),
			CreatedAt:   now,
		}
		s.Invites = append(s.Invites, inv)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "invite.create", "invite", inv.ID, email)
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptInvite consumes a pending invite and creates a membership for the
// caller in the invite's workspace. A second accept, an expired code, or an
// existing membership all fail without side effects.
func (svc *Service) AcceptInvite(ctx context.Context, token, code string) (*state.Membership, error) {
	var out state.Membership
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		inv := s.InviteByCode(code)
		if inv == nil {
			return common.NotFoundf("invite not found")
		}
		if inv.Status != state.InvitePending {
			return common.Conflictf("invite already %s", inv.Status)
		}
		if !now.Before(inv.ExpiresAt) {
			return common.Conflictf("invite expired")
		}
		if s.MembershipFor(inv.WorkspaceID, p.User.ID) != nil {
			return common.Conflictf("already a member of workspace %s", inv.WorkspaceID)
		}

		mem := state.Membership{
			WorkspaceID: inv.WorkspaceID,
			UserID:      p.User.ID,
			Role:        inv.Role,
			CreatedAt:   now,
		}
		s.Memberships = append(s.Memberships, mem)
		inv.Status = state.InviteAccepted
		inv.AcceptedByUserID = p.User.ID
		s.AppendAudit(now, inv.WorkspaceID, p.User.ID, "invite.accept", "invite", inv.ID, string(inv.Role))
		out = mem
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
