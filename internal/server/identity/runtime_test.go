package identity

import (
	"context"
	"testing"
	"time"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/stretchr/testify/require"
)

func addSession(t *testing.T, st *store.Store, id, wsID string, ss state.SessionState) {
	t.Helper()
	require.NoError(t, st.Transact(context.Background(), func(s *state.State) error {
		s.Sessions = append(s.Sessions, state.Session{
			ID: id, WorkspaceID: wsID, TemplateID: "tpl-1", Name: id, State: ss,
		})
		return nil
	}))
}

func TestRuntimeToken_MintAndVerify(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	addSession(t, st, "sess-1", res.Workspace.ID, state.SessionRunning)

	tok, expiresAt, err := svc.MintRuntimeToken(ctx, res.Token, "sess-1")
	require.NoError(t, err)
	require.False(t, expiresAt.IsZero())

	rp, err := svc.RequireRuntimeToken(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, "sess-1", rp.SessionID)
	require.Equal(t, res.Workspace.ID, rp.WorkspaceID)
	require.Equal(t, res.User.ID, rp.UserID)
}

func TestRuntimeToken_OnlyForRunningSessions(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	addSession(t, st, "sess-created", res.Workspace.ID, state.SessionCreated)

	_, _, err = svc.MintRuntimeToken(ctx, res.Token, "sess-created")
	require.True(t, common.IsKind(err, common.KindConflict))

	_, _, err = svc.MintRuntimeToken(ctx, res.Token, "missing")
	require.True(t, common.IsKind(err, common.KindNotFound))
}

func TestRuntimeToken_WorkspaceScoped(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	alice, _ := svc.Register(ctx, "alice@example.com", "Alice")
	bob, _ := svc.Register(ctx, "bob@example.com", "Bob")
	addSession(t, st, "sess-1", alice.Workspace.ID, state.SessionRunning)

	_, _, err := svc.MintRuntimeToken(ctx, bob.Token, "sess-1")
	require.True(t, common.IsKind(err, common.KindNotFound))
}

func TestRuntimeToken_ExpiresAfterTTL(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Register(ctx, "alice@example.com", "Alice")
	addSession(t, st, "sess-1", res.Workspace.ID, state.SessionRunning)

	tok, _, err := svc.MintRuntimeToken(ctx, res.Token, "sess-1")
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	_, err = svc.RequireRuntimeToken(ctx, tok)
	require.True(t, common.IsKind(err, common.KindUnauthorized))
}

func TestRuntimeToken_RejectsWhenSessionStops(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Register(ctx, "alice@example.com", "Alice")
	addSession(t, st, "sess-1", res.Workspace.ID, state.SessionRunning)

	tok, _, err := svc.MintRuntimeToken(ctx, res.Token, "sess-1")
	require.NoError(t, err)

	require.NoError(t, st.Transact(ctx, func(s *state.State) error {
		s.SessionByID("sess-1").State = state.SessionSleeping
		return nil
	}))
	_, err = svc.RequireRuntimeToken(ctx, tok)
	require.True(t, common.IsKind(err, common.KindConflict))
}

func TestRuntimeToken_TamperedSignature(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Register(ctx, "alice@example.com", "Alice")
	addSession(t, st, "sess-1", res.Workspace.ID, state.SessionRunning)

	tok, _, err := svc.MintRuntimeToken(ctx, res.Token, "sess-1")
	require.NoError(t, err)

	_, err = svc.RequireRuntimeToken(ctx, tok+"x")
	require.True(t, common.IsKind(err, common.KindUnauthorized))
}
