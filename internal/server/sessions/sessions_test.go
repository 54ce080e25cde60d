package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/dispatch"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/objectstore"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/devplane-io/devplane/internal/server/templates"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct{}

func (stubVerifier) Verify(context.Context, []byte) (bool, string, error) { return true, "c", nil }

type fixture struct {
	svc   *Service
	tpls  *templates.Service
	ident *identity.Service
	st    *store.Store
	clk   *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(store.NewMemoryBacking(), logging.Discard())
	t.Cleanup(st.Close)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	objects := objectstore.NewMemory()
	ident := identity.NewService(st, clk, stubVerifier{}, []byte("k"), logging.Discard())
	tpls := templates.NewService(st, clk, objects, &templates.LogRunner{Objects: objects}, dispatch.Nop{}, logging.Discard())
	return &fixture{
		svc:   NewService(st, clk, logging.Discard()),
		tpls:  tpls,
		ident: ident,
		st:    st,
		clk:   clk,
	}
}

// promotedTemplate builds and promotes one version so sessions can start.
func (f *fixture) promotedTemplate(t *testing.T, token, name string) *state.Template {
	t.Helper()
	ctx := context.Background()
	tpl, err := f.tpls.Create(ctx, token, name)
	require.NoError(t, err)
	ver, err := f.tpls.AddVersion(ctx, token, tpl.ID, "v1", state.Manifest{Image: "ubuntu:24.04"})
	require.NoError(t, err)
	detail, err := f.tpls.Get(ctx, token, tpl.ID)
	require.NoError(t, err)
	require.NoError(t, f.tpls.ProcessBuildByID(ctx, detail.Builds[0].ID))
	_, err = f.tpls.Promote(ctx, token, tpl.ID, ver.ID)
	require.NoError(t, err)
	got, err := f.tpls.Get(ctx, token, tpl.ID)
	require.NoError(t, err)
	return &got.Template
}

func (f *fixture) register(t *testing.T, email string) *identity.AuthResult {
	t.Helper()
	res, err := f.ident.Register(context.Background(), email, "")
	require.NoError(t, err)
	return res
}

func TestLifecycle_FullLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.register(t, "o@example.com")
	tpl := f.promotedTemplate(t, owner.Token, "base")

	sess, err := f.svc.Create(ctx, owner.Token, tpl.ID, "dev")
	require.NoError(t, err)
	require.Equal(t, state.SessionCreated, sess.State)

	started, err := f.svc.Start(ctx, owner.Token, sess.ID)
	require.NoError(t, err)
	require.Equal(t, state.SessionStarting, started.State)

	require.NoError(t, f.svc.MarkRunning(ctx, sess.ID))
	require.NoError(t, f.svc.Stop(ctx, owner.Token, sess.ID))
	require.NoError(t, f.svc.MarkStopped(ctx, sess.ID))

	detail, err := f.svc.Get(ctx, owner.Token, sess.ID)
	require.NoError(t, err)
	require.Equal(t, state.SessionSleeping, detail.Session.State)

	// Restart loop: sleeping → starting → running again.
	_, err = f.svc.Start(ctx, owner.Token, sess.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkRunning(ctx, sess.ID))

	detail, err = f.svc.Get(ctx, owner.Token, sess.ID)
	require.NoError(t, err)
	states := make([]state.SessionState, 0, len(detail.Events))
	for _, ev := range detail.Events {
		states = append(states, ev.State)
	}
	require.Equal(t, []state.SessionState{
		state.SessionCreated, state.SessionStarting, state.SessionRunning,
		state.SessionStopping, state.SessionSleeping,
		state.SessionStarting, state.SessionRunning,
	}, states)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.register(t, "o@example.com")
	tpl := f.promotedTemplate(t, owner.Token, "base")
	sess, _ := f.svc.Create(ctx, owner.Token, tpl.ID, "dev")

	// created cannot stop or be marked running.
	require.True(t, common.IsKind(f.svc.Stop(ctx, owner.Token, sess.ID), common.KindConflict))
	require.True(t, common.IsKind(f.svc.MarkRunning(ctx, sess.ID), common.KindConflict))

	_, err := f.svc.Start(ctx, owner.Token, sess.ID)
	require.NoError(t, err)
	// starting cannot start again.
	_, err = f.svc.Start(ctx, owner.Token, sess.ID)
	require.True(t, common.IsKind(err, common.KindConflict))
}

func TestCreate_RequiresPromotedUnarchivedTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.register(t, "o@example.com")

	bare, err := f.tpls.Create(ctx, owner.Token, "bare")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, owner.Token, bare.ID, "dev")
	require.True(t, common.IsKind(err, common.KindConflict))

	tpl := f.promotedTemplate(t, owner.Token, "base")
	require.NoError(t, f.tpls.Archive(ctx, owner.Token, tpl.ID))
	_, err = f.svc.Create(ctx, owner.Token, tpl.ID, "dev")
	require.True(t, common.IsKind(err, common.KindConflict))
}

func TestCreate_NameUniqueAmongNonDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.register(t, "o@example.com")
	tpl := f.promotedTemplate(t, owner.Token, "base")

	sess, err := f.svc.Create(ctx, owner.Token, tpl.ID, "dev")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, owner.Token, tpl.ID, "dev")
	require.True(t, common.IsKind(err, common.KindConflict))

	// Deleting frees the name.
	require.NoError(t, f.svc.Delete(ctx, owner.Token, sess.ID))
	_, err = f.svc.Create(ctx, owner.Token, tpl.ID, "dev")
	require.NoError(t, err)
}

func TestStart_QuotaCountsStartingAndRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.register(t, "o@example.com")
	tpl := f.promotedTemplate(t, owner.Token, "base")

	// Free plan allows one running session.
	a, _ := f.svc.Create(ctx, owner.Token, tpl.ID, "a")
	b, _ := f.svc.Create(ctx, owner.Token, tpl.ID, "b")

	_, err := f.svc.Start(ctx, owner.Token, a.ID)
	require.NoError(t, err)

	// a is only starting, not yet running, and still occupies the slot.
	_, err = f.svc.Start(ctx, owner.Token, b.ID)
	require.True(t, common.IsKind(err, common.KindConflict))

	// Sleeping frees it.
	require.NoError(t, f.svc.MarkRunning(ctx, a.ID))
	require.NoError(t, f.svc.Stop(ctx, owner.Token, a.ID))
	require.NoError(t, f.svc.MarkStopped(ctx, a.ID))
	_, err = f.svc.Start(ctx, owner.Token, b.ID)
	require.NoError(t, err)
}

func TestStop_RecordsRuntimeMinutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.register(t, "o@example.com")
	tpl := f.promotedTemplate(t, owner.Token, "base")
	sess, _ := f.svc.Create(ctx, owner.Token, tpl.ID, "dev")

	_, err := f.svc.Start(ctx, owner.Token, sess.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkRunning(ctx, sess.ID))

	f.clk.Advance(42 * time.Minute)
	require.NoError(t, f.svc.Stop(ctx, owner.Token, sess.ID))
	require.NoError(t, f.svc.MarkStopped(ctx, sess.ID))

	var minutes []int64
	require.NoError(t, f.st.Transact(ctx, func(s *state.State) error {
		for _, ev := range s.UsageEvents {
			if ev.Kind == "runtime_minutes" && ev.Details == sess.ID {
				minutes = append(minutes, ev.Value)
			}
		}
		return nil
	}))
	// One zero-valued event at start, the elapsed total at sleep.
	require.Equal(t, []int64{0, 42}, minutes)
}

func TestDelete_TerminalFromAnyState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.register(t, "o@example.com")
	tpl := f.promotedTemplate(t, owner.Token, "base")
	sess, _ := f.svc.Create(ctx, owner.Token, tpl.ID, "dev")

	_, err := f.svc.Start(ctx, owner.Token, sess.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkRunning(ctx, sess.ID))
	require.NoError(t, f.svc.Delete(ctx, owner.Token, sess.ID))

	// No operation works on a deleted session, delete included.
	require.True(t, common.IsKind(f.svc.Delete(ctx, owner.Token, sess.ID), common.KindNotFound))
	_, err = f.svc.Start(ctx, owner.Token, sess.ID)
	require.True(t, common.IsKind(err, common.KindNotFound))
	require.True(t, common.IsKind(f.svc.MarkRunning(ctx, sess.ID), common.KindNotFound))

	list, err := f.svc.List(ctx, owner.Token)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestWorkspaceIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "a@example.com")
	bob := f.register(t, "b@example.com")
	tpl := f.promotedTemplate(t, alice.Token, "base")
	sess, _ := f.svc.Create(ctx, alice.Token, tpl.ID, "dev")

	_, err := f.svc.Start(ctx, bob.Token, sess.ID)
	require.True(t, common.IsKind(err, common.KindNotFound))
	_, err = f.svc.Get(ctx, bob.Token, sess.ID)
	require.True(t, common.IsKind(err, common.KindNotFound))
	require.True(t, common.IsKind(f.svc.Delete(ctx, bob.Token, sess.ID), common.KindNotFound))
}
