package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClone_Independence(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New()
	s.Users = append(s.Users, User{ID: "u1", Email: "a@x.com", CreatedAt: now})
	s.TemplateVersions = append(s.TemplateVersions, TemplateVersion{
		ID:       "v1",
		Manifest: Manifest{Image: "ubuntu:24.04", Features: []string{"ssh"}, Env: map[string]string{"A": "1"}},
	})
	s.RecoveryCodes = append(s.RecoveryCodes, RecoveryCode{ID: "r1", Hash: []byte{1, 2, 3}})

	c := s.Clone()
	c.Users[0].Email = "b@y.com"
	c.Users = append(c.Users, User{ID: "u2"})
	c.TemplateVersions[0].Manifest.Features[0] = "gpu"
	c.TemplateVersions[0].Manifest.Env["A"] = "2"
	c.RecoveryCodes[0].Hash[0] = 9

	require.Equal(t, "a@x.com", s.Users[0].Email)
	require.Len(t, s.Users, 1)
	require.Equal(t, []string{"ssh"}, s.TemplateVersions[0].Manifest.Features)
	require.Equal(t, "1", s.TemplateVersions[0].Manifest.Env["A"])
	require.Equal(t, byte(1), s.RecoveryCodes[0].Hash[0])
}

func TestUserByEmail_CaseInsensitive(t *testing.T) {
	s := New()
	s.Users = append(s.Users, User{ID: "u1", Email: "Alice@Example.com"})
	require.NotNil(t, s.UserByEmail("alice@example.COM"))
	require.Nil(t, s.UserByEmail("bob@example.com"))
}

func TestSessionByName_SkipsDeleted(t *testing.T) {
	s := New()
	s.Sessions = append(s.Sessions,
		Session{ID: "s1", WorkspaceID: "w1", Name: "dev", State: SessionDeleted},
		Session{ID: "s2", WorkspaceID: "w1", Name: "dev", State: SessionRunning},
	)
	got := s.SessionByName("w1", "DEV")
	require.NotNil(t, got)
	require.Equal(t, "s2", got.ID)
}

func TestRunningSessionCount(t *testing.T) {
	s := New()
	s.Sessions = append(s.Sessions,
		Session{WorkspaceID: "w1", State: SessionRunning},
		Session{WorkspaceID: "w1", State: SessionStarting},
		Session{WorkspaceID: "w1", State: SessionSleeping},
		Session{WorkspaceID: "w2", State: SessionRunning},
	)
	require.Equal(t, 2, s.RunningSessionCount("w1"))
	require.Equal(t, 1, s.RunningSessionCount("w2"))
}

func TestWorkspaceLimits_Overrides(t *testing.T) {
	w := Workspace{Plan: PlanFree}
	require.Equal(t, PlanLimits{MaxTemplates: 3, MaxRunningSessions: 1}, w.Limits())

	w.Overrides = QuotaOverrides{MaxRunningSessions: 7}
	got := w.Limits()
	require.Equal(t, 3, got.MaxTemplates)
	require.Equal(t, 7, got.MaxRunningSessions)

	w = Workspace{Plan: PlanEnterprise}
	require.Equal(t, 200, w.Limits().MaxTemplates)
}

func TestTokenValidAt(t *testing.T) {
	now := time.Now()
	tok := AuthToken{ExpiresAt: now.Add(time.Hour)}
	require.True(t, tok.ValidAt(now))
	require.False(t, tok.ValidAt(now.Add(2*time.Hour)))

	tok.RevokedAt = now
	require.False(t, tok.ValidAt(now))
}

func TestRoleAtLeast(t *testing.T) {
	require.True(t, RoleOwner.AtLeast(RoleAdmin))
	require.True(t, RoleAdmin.AtLeast(RoleAdmin))
	require.False(t, RoleMember.AtLeast(RoleAdmin))
	require.True(t, RoleViewer.AtLeast(RoleViewer))
}

func TestKnownCollection(t *testing.T) {
	require.True(t, KnownCollection(CollSessions))
	require.False(t, KnownCollection("widgets"))
	require.Len(t, Collections, 17)
}
