package identity

import (
	"context"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/google/uuid"
)

const deviceCodeBytes = 8

// DeviceStart opens an unauthenticated device-code handshake: the CLI polls
// exchange with this code while the user approves it in a browser.
func (svc *Service) DeviceStart(ctx context.Context) (*state.DeviceCode, error) {
	var out state.DeviceCode
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		code, err := common.MakeRandHexString(deviceCodeBytes)
		if err != nil {
			return common.Internal("device code generation failed", err)
		}
		dc := state.DeviceCode{
			Code:      code,
			Status:    state.DevicePending,
			ExpiresAt: now.Add(deviceCodeTTL),
			CreatedAt: now,
		}
		s.DeviceCodes = append(s.DeviceCodes, dc)
		out = dc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeviceApprove binds a pending code to the approving browser principal.
// Transitions are monotonic: a code that is not pending cannot be approved.
func (svc *Service) DeviceApprove(ctx context.Context, token, code string) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if p.Token.Kind != state.TokenBrowser {
			return common.Forbiddenf("device approval requires a browser session")
		}
		dc := s.DeviceCodeByCode(code)
		if dc == nil {
			return common.NotFoundf("device code not found")
		}
		if !now.Before(dc.ExpiresAt) {
			return common.Conflictf("device code expired")
		}
		if dc.Status != state.DevicePending {
			return common.Conflictf("device code already %s", dc.Status)
		}
		dc.Status = state.DeviceApproved
		dc.UserID = p.User.ID
		dc.WorkspaceID = p.Workspace.ID
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "device.approve", "device_code", dc.Code, "")
		return nil
	})
}

// DeviceExchange consumes an approved code and mints a long-lived API token
// for the user who approved it. The code moves to exchanged and cannot be
// replayed.
func (svc *Service) DeviceExchange(ctx context.Context, code string) (*AuthResult, error) {
	var out AuthResult
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		dc := s.DeviceCodeByCode(code)
		if dc == nil {
			return common.NotFoundf("device code not found")
		}
		if !now.Before(dc.ExpiresAt) {
			return common.Unauthorizedf("device code expired")
		}
		if dc.Status == state.DeviceExchanged {
			return common.Conflictf("device code already exchanged")
		}
		if dc.Status != state.DeviceApproved {
			return common.Conflictf("device code not approved")
		}

		user := s.UserByID(dc.UserID)
		ws := s.WorkspaceByID(dc.WorkspaceID)
		if user == nil || ws == nil {
			return common.Unauthorizedf("approving principal no longer exists")
		}
		dc.Status = state.DeviceExchanged
		tok, err := mintToken(s, now, state.TokenAPI, user.ID, ws.ID, "", uuid.NewString(), apiTokenTTL)
		if err != nil {
			return err
		}
		s.AppendAudit(now, ws.ID, user.ID, "device.exchange", "auth_token", tok.ID, "")
		out = AuthResult{User: *user, Workspace: *ws, Token: tok.Token, ExpiresAt: tok.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
