package identity

import (
	"context"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const recoveryCodeBytes = 5

// GenerateRecoveryCodes replaces the caller's unused recovery codes with a
// fresh batch and returns the plaintexts. Only bcrypt hashes are stored, so
// this is the single moment the plaintexts exist.
func (svc *Service) GenerateRecoveryCodes(ctx context.Context, token string) ([]string, error) {
	var plaintexts []string
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}

		kept := s.RecoveryCodes[:0]
		for _, rc := range s.RecoveryCodes {
			if rc.UserID == p.User.ID && rc.UsedAt.IsZero() {
				continue
			}
			kept = append(kept, rc)
		}
		s.RecoveryCodes = kept

		plaintexts = make([]string, 0, recoveryCodeCount)
		for i := 0; i < recoveryCodeCount; i++ {
			plain, err := common.MakeRandHexString(recoveryCodeBytes)
			if err != nil {
				return common.Internal("recovery code generation failed", err)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
			if err != nil {
				return common.Internal("recovery code hashing failed", err)
			}
			s.RecoveryCodes = append(s.RecoveryCodes, state.RecoveryCode{
				ID:        uuid.NewString(),
				UserID:    p.User.ID,
				Hash:      hash,
				CreatedAt: now,
			})
			plaintexts = append(plaintexts, plain)
		}
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "user.generate_recovery_codes", "user", p.User.ID, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintexts, nil
}

// RedeemRecoveryCode burns one unused code and mints a browser token: the
// break-glass login path when no passkey or token is available.
func (svc *Service) RedeemRecoveryCode(ctx context.Context, email, code string) (*AuthResult, error) {
	var out AuthResult
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		user := s.UserByEmail(email)
		if user == nil {
			return common.Unauthorizedf("invalid recovery code")
		}

		var matched *state.RecoveryCode
		for i := range s.RecoveryCodes {
			rc := &s.RecoveryCodes[i]
			if rc.UserID != user.ID || !rc.UsedAt.IsZero() {
				continue
			}
			if bcrypt.CompareHashAndPassword(rc.Hash, []byte(code)) == nil {
				matched = rc
				break
			}
		}
		if matched == nil {
			return common.Unauthorizedf("invalid recovery code")
		}
		matched.UsedAt = now

		ws := svc.defaultWorkspace(s, user.ID)
		if ws == nil {
			return common.Unauthorizedf("user %s has no workspace", user.ID)
		}
		tok, err := mintToken(s, now, state.TokenBrowser, user.ID, ws.ID, "", uuid.NewString(), browserTokenTTL)
		if err != nil {
			return err
		}
		s.AppendAudit(now, ws.ID, user.ID, "auth.login", "auth_token", tok.ID, "recovery_code")
		out = AuthResult{User: *user, Workspace: *ws, Token: tok.Token, ExpiresAt: tok.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
