package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/stretchr/testify/require"
)

func TestFileBacking_LoadMissingFile(t *testing.T) {
	fb := NewFileBacking(filepath.Join(t.TempDir(), "state.json"))
	s, err := fb.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, s.Users)
}

// save(load()) must be idempotent: loading, saving without mutation, and
// loading again yields identical collections including order.
func TestFileBacking_RoundTripPreservesOrder(t *testing.T) {
	ctx := context.Background()
	fb := NewFileBacking(filepath.Join(t.TempDir(), "state.json"))

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	orig := state.New()
	for _, id := range []string{"s3", "s1", "s2"} {
		orig.Sessions = append(orig.Sessions, state.Session{
			ID: id, WorkspaceID: "w1", Name: "n-" + id,
			State: state.SessionSleeping, CreatedAt: now,
		})
	}
	orig.TemplateVersions = append(orig.TemplateVersions, state.TemplateVersion{
		ID:       "v1",
		Status:   state.VersionReady,
		Manifest: state.Manifest{Image: "img", Features: []string{"ssh"}, Env: map[string]string{"K": "v"}},
	})
	require.NoError(t, fb.Save(ctx, orig, nil))

	first, err := fb.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, fb.Save(ctx, first, first))

	second, err := fb.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	ids := []string{}
	for _, sess := range second.Sessions {
		ids = append(ids, sess.ID)
	}
	require.Equal(t, []string{"s3", "s1", "s2"}, ids)
	require.Equal(t, orig.TemplateVersions[0].Manifest, second.TemplateVersions[0].Manifest)
}

func TestFileBacking_AtomicOverwrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	fb := NewFileBacking(path)

	s := state.New()
	s.Users = append(s.Users, state.User{ID: "u1"})
	require.NoError(t, fb.Save(ctx, s, nil))

	s.Users[0].Name = "renamed"
	require.NoError(t, fb.Save(ctx, s, nil))

	got, err := fb.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Users[0].Name)
}
