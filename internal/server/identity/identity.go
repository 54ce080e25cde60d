// Package identity implements the identity & access manager: users,
// workspaces, memberships, invites, auth tokens, device codes, recovery
// codes, and runtime tokens. Every operation runs as one state-store
// transaction; nothing here mutates shared state outside one.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/google/uuid"
)

const (
	browserTokenTTL = 30 * 24 * time.Hour
	apiTokenTTL     = 90 * 24 * time.Hour
	runtimeTokenTTL = 15 * time.Minute
	deviceCodeTTL   = 10 * time.Minute
	inviteTTL       = 7 * 24 * time.Hour

	recoveryCodeCount = 8
	tokenSecretBytes  = 32
)

// CredentialVerifier validates a WebAuthn assertion or attestation. The
// core treats its output as a boolean plus a stable credential id.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential []byte) (ok bool, credentialID string, err error)
}

type Service struct {
	st        *store.Store
	clock     clock.Clock
	verifier  CredentialVerifier
	jwtSecret []byte
	log       logging.Logger
}

func NewService(st *store.Store, clk clock.Clock, verifier CredentialVerifier, jwtSecret []byte, log logging.Logger) *Service {
	return &Service{st: st, clock: clk, verifier: verifier, jwtSecret: jwtSecret, log: log}
}

// Principal is the resolved caller of an operation: value copies of the
// entities behind a valid token. Mutating ops re-find entities by id.
type Principal struct {
	User       state.User
	Workspace  state.Workspace
	Membership state.Membership
	Token      state.AuthToken
}

// Require fails with Forbidden unless the principal holds at least min.
func (p *Principal) Require(min state.Role) error {
	if !p.Membership.Role.AtLeast(min) {
		return common.Forbiddenf("role %s required", min)
	}
	return nil
}

// ResolvePrincipal authenticates a token secret against the draft. It is a
// pure function so other services can authenticate inside their own
// transactions.
func ResolvePrincipal(s *state.State, now time.Time, secret string) (*Principal, error) {
	if secret == "" {
		return nil, common.Unauthorizedf("missing token")
	}
	tok := s.TokenBySecret(secret)
	if tok == nil {
		return nil, common.Unauthorizedf("unknown token")
	}
	if !tok.ValidAt(now) {
		return nil, common.Unauthorizedf("token expired or revoked")
	}
	user := s.UserByID(tok.UserID)
	ws := s.WorkspaceByID(tok.WorkspaceID)
	if user == nil || ws == nil {
		return nil, common.Unauthorizedf("token references a removed principal")
	}
	mem := s.MembershipFor(ws.ID, user.ID)
	if mem == nil {
		return nil, common.Unauthorizedf("membership revoked")
	}
	return &Principal{User: *user, Workspace: *ws, Membership: *mem, Token: *tok}, nil
}

// AuthResult is returned by every operation that mints a credential.
type AuthResult struct {
	User      state.User
	Workspace state.Workspace
	Token     string
	ExpiresAt time.Time
}

// Register creates a User (if the email is unseen, case-insensitively) plus
// its default Workspace and owner Membership atomically, then mints a fresh
// browser token. Calling it twice with the same email is idempotent apart
// from the token.
func (svc *Service) Register(ctx context.Context, email, name string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return nil, common.BadRequestf("invalid email %q", email)
	}

	var out AuthResult
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		user := s.UserByEmail(email)
		if user == nil {
			created := state.User{
				ID:        uuid.NewString(),
				Email:     email,
				Name:      name,
				CreatedAt: now,
			}
			ws := state.Workspace{
				ID:          uuid.NewString(),
				Name:        defaultWorkspaceName(email, name),
				OwnerUserID: created.ID,
				Plan:        state.PlanFree,
				CreatedAt:   now,
			}
			s.Users = append(s.Users, created)
			s.Workspaces = append(s.Workspaces, ws)
			s.Memberships = append(s.Memberships, state.Membership{
				WorkspaceID: ws.ID,
				UserID:      created.ID,
				Role:        state.RoleOwner,
				CreatedAt:   now,
			})
			s.AppendAudit(now, ws.ID, created.ID, "user.register", "user", created.ID, email)
			user = s.UserByID(created.ID)
		}

		ws := svc.defaultWorkspace(s, user.ID)
		if ws == nil {
			return common.Unauthorizedf("user %s has no workspace", user.ID)
		}
		tok, err := mintToken(s, now, state.TokenBrowser, user.ID, ws.ID, "", uuid.NewString(), browserTokenTTL)
		if err != nil {
			return err
		}
		s.AppendAudit(now, ws.ID, user.ID, "auth.login", "auth_token", tok.ID, "register")
		out = AuthResult{User: *user, Workspace: *ws, Token: tok.Token, ExpiresAt: tok.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Login resolves an existing user/workspace pair and mints a new browser
// token without invalidating prior ones.
func (svc *Service) Login(ctx context.Context, email string) (*AuthResult, error) {
	var out AuthResult
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		user := s.UserByEmail(email)
		if user == nil {
			return common.Unauthorizedf("unknown user")
		}
		ws := svc.defaultWorkspace(s, user.ID)
		if ws == nil {
			return common.Unauthorizedf("user %s has no workspace", user.ID)
		}
		tok, err := mintToken(s, now, state.TokenBrowser, user.ID, ws.ID, "", uuid.NewString(), browserTokenTTL)
		if err != nil {
			return err
		}
		s.AppendAudit(now, ws.ID, user.ID, "auth.login", "auth_token", tok.ID, "password")
		out = AuthResult{User: *user, Workspace: *ws, Token: tok.Token, ExpiresAt: tok.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Authenticate resolves the principal behind a token, failing with
// Unauthorized when the token is missing, expired, revoked, or references a
// removed user, workspace, or membership.
func (svc *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	var p *Principal
	err := svc.st.Transact(ctx, func(s *state.State) error {
		var err error
		p, err = ResolvePrincipal(s, svc.clock.Now(), token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Logout revokes exactly the presented token.
func (svc *Service) Logout(ctx context.Context, token string) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		tok := s.TokenBySecret(token)
		tok.RevokedAt = now
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "auth.logout", "auth_token", tok.ID, "")
		return nil
	})
}

// LogoutAll revokes every token sharing the caller's auth-session grouping,
// including runtime and API tokens minted under it.
func (svc *Service) LogoutAll(ctx context.Context, token string) (int, error) {
	var revoked int
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		for i := range s.AuthTokens {
			t := &s.AuthTokens[i]
			if t.AuthSessionID == p.Token.AuthSessionID && t.RevokedAt.IsZero() {
				t.RevokedAt = now
				revoked++
			}
		}
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "auth.logout_all", "auth_session", p.Token.AuthSessionID, "")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// RegisterPasskey verifies an attestation through the injected credential
// verifier and pins the resulting credential id to the caller's user.
func (svc *Service) RegisterPasskey(ctx context.Context, token string, attestation []byte) error {
	ok, credentialID, err := svc.verifier.Verify(ctx, attestation)
	if err != nil {
		return common.Internal("credential verification failed", err)
	}
	if !ok {
		return common.Unauthorizedf("attestation rejected")
	}
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		user := s.UserByID(p.User.ID)
		user.PasskeyCredentialID = credentialID
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "user.register_passkey", "user", user.ID, "")
		return nil
	})
}

// LoginWithPasskey authenticates a WebAuthn assertion and mints a browser
// token for the matching user.
func (svc *Service) LoginWithPasskey(ctx context.Context, assertion []byte) (*AuthResult, error) {
	ok, credentialID, err := svc.verifier.Verify(ctx, assertion)
	if err != nil {
		return nil, common.Internal("credential verification failed", err)
	}
	if !ok {
		return nil, common.Unauthorizedf("assertion rejected")
	}

	var out AuthResult
	err = svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		var user *state.User
		for i := range s.Users {
			if s.Users[i].PasskeyCredentialID == credentialID && credentialID != "" {
				user = &s.Users[i]
				break
			}
		}
		if user == nil {
			return common.Unauthorizedf("no user for credential")
		}
		ws := svc.defaultWorkspace(s, user.ID)
		if ws == nil {
			return common.Unauthorizedf("user %s has no workspace", user.ID)
		}
		tok, err := mintToken(s, now, state.TokenBrowser, user.ID, ws.ID, "", uuid.NewString(), browserTokenTTL)
		if err != nil {
			return err
		}
		s.AppendAudit(now, ws.ID, user.ID, "auth.login", "auth_token", tok.ID, "passkey")
		out = AuthResult{User: *user, Workspace: *ws, Token: tok.Token, ExpiresAt: tok.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// defaultWorkspace picks the workspace the user owns, falling back to the
// first workspace they are a member of.
func (svc *Service) defaultWorkspace(s *state.State, userID string) *state.Workspace {
	for i := range s.Workspaces {
		if s.Workspaces[i].OwnerUserID == userID {
			return &s.Workspaces[i]
		}
	}
	for i := range s.Memberships {
		if s.Memberships[i].UserID == userID {
			return s.WorkspaceByID(s.Memberships[i].WorkspaceID)
		}
	}
	return nil
}

func defaultWorkspaceName(email, name string) string {
	if name != "" {
		return name
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func mintToken(s *state.State, now time.Time, kind state.TokenKind, userID, workspaceID, sessionID, authSessionID string, ttl time.Duration) (state.AuthToken, error) {
	secret, err := common.MakeRandHexString(tokenSecretBytes)
	if err != nil {
		return state.AuthToken{}, common.Internal("token generation failed", err)
	}
	tok := state.AuthToken{
		ID:            uuid.NewString(),
		Token:         secret,
		UserID:        userID,
		WorkspaceID:   workspaceID,
		Kind:          kind,
		SessionID:     sessionID,
		AuthSessionID: authSessionID,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	s.AuthTokens = append(s.AuthTokens, tok)
	return tok, nil
}
