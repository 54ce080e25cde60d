package identity

import (
	"context"
	"time"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// runtimeClaims are the JWT claims of a runtime token. The signed string is
// also stored as an AuthToken so revocation (logout-all) works without a
// deny list.
type runtimeClaims struct {
	jwt.RegisteredClaims
	SessionID   string `json:"sid"`
	WorkspaceID string `json:"wid"`
}

func signRuntimeToken(secret []byte, sessionID, workspaceID string, now time.Time, ttl time.Duration) (string, error) {
	claims := runtimeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseRuntimeToken(secret []byte, tokenString string, now time.Time) (*runtimeClaims, error) {
	claims := &runtimeClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, common.Unauthorizedf("invalid runtime token")
	}
	return claims, nil
}

// RuntimePrincipal is the resolved agent behind a runtime token.
type RuntimePrincipal struct {
	SessionID   string
	WorkspaceID string
	UserID      string
	Session     state.Session
}

// MintRuntimeToken issues a short-lived JWT bound to one running session in
// the caller's workspace. The token inherits the caller's auth-session
// grouping, so LogoutAll revokes it too.
func (svc *Service) MintRuntimeToken(ctx context.Context, token, sessionID string) (string, time.Time, error) {
	var (
		signed    string
		expiresAt time.Time
	)
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.WorkspaceID != p.Workspace.ID || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}
		if sess.State != state.SessionRunning {
			return common.Conflictf("session %s is %s, not running", sessionID, sess.State)
		}

		signed, err = signRuntimeToken(svc.jwtSecret, sess.ID, p.Workspace.ID, now, runtimeTokenTTL)
		if err != nil {
			return common.Internal("runtime token signing failed", err)
		}
		expiresAt = now.Add(runtimeTokenTTL)
		s.AuthTokens = append(s.AuthTokens, state.AuthToken{
			ID:            uuid.NewString(),
			Token:         signed,
			UserID:        p.User.ID,
			WorkspaceID:   p.Workspace.ID,
			Kind:          state.TokenRuntime,
			SessionID:     sess.ID,
			AuthSessionID: p.Token.AuthSessionID,
			ExpiresAt:     expiresAt,
			CreatedAt:     now,
		})
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "auth.mint_runtime_token", "session", sess.ID, "")
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RequireRuntimeToken verifies a runtime JWT (signature and expiry), checks
// it has not been revoked, and confirms the bound session is still running.
func (svc *Service) RequireRuntimeToken(ctx context.Context, tokenString string) (*RuntimePrincipal, error) {
	var out RuntimePrincipal
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		claims, err := parseRuntimeToken(svc.jwtSecret, tokenString, now)
		if err != nil {
			return err
		}
		stored := s.TokenBySecret(tokenString)
		if stored == nil || stored.Kind != state.TokenRuntime {
			return common.Unauthorizedf("unknown runtime token")
		}
		if !stored.ValidAt(now) {
			return common.Unauthorizedf("runtime token expired or revoked")
		}
		sess := s.SessionByID(claims.SessionID)
		if sess == nil || sess.State != state.SessionRunning {
			return common.Conflictf("session %s is not running", claims.SessionID)
		}
		out = RuntimePrincipal{
			SessionID:   sess.ID,
			WorkspaceID: claims.WorkspaceID,
			UserID:      stored.UserID,
			Session:     *sess,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
