// Package sessions implements the session lifecycle orchestrator: the
// created → starting → running → stopping → sleeping restart loop, the
// terminal deleted state, quota checks, and the usage/event side effects of
// every transition.
package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/google/uuid"
)

type Service struct {
	st    *store.Store
	clock clock.Clock
	log   logging.Logger
}

func NewService(st *store.Store, clk clock.Clock, log logging.Logger) *Service {
	return &Service{st: st, clock: clk, log: log}
}

// Create registers a session in state created. The template must exist in
// the caller's workspace, be unarchived, and have a promoted active
// version; the name must be unique among non-deleted sessions.
func (svc *Service) Create(ctx context.Context, token, templateID, name string) (*state.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, common.BadRequestf("session name is required")
	}

	var out state.Session
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		tpl := s.TemplateByID(templateID)
		if tpl == nil || tpl.WorkspaceID != p.Workspace.ID {
			return common.NotFoundf("template %s not found", templateID)
		}
		if !tpl.ArchivedAt.IsZero() {
			return common.Conflictf("template %s is archived", templateID)
		}
		if tpl.ActiveVersionID == "" {
			return common.Conflictf("template %s has no promoted version", templateID)
		}
		if s.SessionByName(p.Workspace.ID, name) != nil {
			return common.Conflictf("session %q already exists", name)
		}

		sess := state.Session{
			ID:          uuid.NewString(),
			WorkspaceID: p.Workspace.ID,
			TemplateID:  tpl.ID,
			Name:        name,
			State:       state.SessionCreated,
			CreatedAt:   now,
		}
		s.Sessions = append(s.Sessions, sess)
		s.AppendSessionEvent(now, sess.ID, state.SessionCreated, "")
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "session.create", "session", sess.ID, name)
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Start moves a created or sleeping session to starting. The workspace
// quota counts starting and running sessions together, so two concurrent
// starts cannot both squeeze under the limit.
func (svc *Service) Start(ctx context.Context, token, sessionID string) (*state.Session, error) {
	var out state.Session
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.WorkspaceID != p.Workspace.ID || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}
		if sess.State != state.SessionCreated && sess.State != state.SessionSleeping {
			return common.Conflictf("session %s is %s, cannot start", sessionID, sess.State)
		}
		tpl := s.TemplateByID(sess.TemplateID)
		if tpl == nil || tpl.ActiveVersionID == "" {
			return common.Conflictf("template %s has no promoted version", sess.TemplateID)
		}
		ver := s.VersionByID(tpl.ActiveVersionID)
		if ver == nil || ver.Status != state.VersionReady {
			return common.Conflictf("active version of template %s is not ready", sess.TemplateID)
		}
		limits := p.Workspace.Limits()
		if s.RunningSessionCount(p.Workspace.ID) >= limits.MaxRunningSessions {
			return common.Conflictf("running session quota reached (%d)", limits.MaxRunningSessions)
		}

		sess.State = state.SessionStarting
		sess.LastStartedAt = now
		s.AppendSessionEvent(now, sess.ID, state.SessionStarting, "")
		s.AppendUsage(now, p.Workspace.ID, "runtime_minutes", 0, sess.ID)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "session.start", "session", sess.ID, "")
		out = *sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRunning is the runtime's callback confirming the container came up.
// It is an internal entrypoint, not authenticated.
func (svc *Service) MarkRunning(ctx context.Context, sessionID string) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}
		if sess.State != state.SessionStarting {
			return common.Conflictf("session %s is %s, not starting", sessionID, sess.State)
		}
		sess.State = state.SessionRunning
		s.AppendSessionEvent(now, sess.ID, state.SessionRunning, "")
		return nil
	})
}

// Stop asks a running session to wind down: running → stopping. The
// runtime confirms via MarkStopped.
func (svc *Service) Stop(ctx context.Context, token, sessionID string) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.WorkspaceID != p.Workspace.ID || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}
		if sess.State != state.SessionRunning {
			return common.Conflictf("session %s is %s, not running", sessionID, sess.State)
		}
		sess.State = state.SessionStopping
		s.AppendSessionEvent(now, sess.ID, state.SessionStopping, "")
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "session.stop", "session", sess.ID, "")
		return nil
	})
}

// MarkStopped completes the wind-down: stopping → sleeping, recording the
// elapsed runtime minutes. Internal entrypoint.
func (svc *Service) MarkStopped(ctx context.Context, sessionID string) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}
		if sess.State != state.SessionStopping {
			return common.Conflictf("session %s is %s, not stopping", sessionID, sess.State)
		}
		PutToSleep(s, sess, now, "")
		return nil
	})
}

// PutToSleep transitions a session to sleeping and records the runtime
// usage since its last start. Shared with the reconcile sweep, which
// sleeps idle running sessions directly.
func PutToSleep(s *state.State, sess *state.Session, now time.Time, details string) {
	var minutes int64
	if !sess.LastStartedAt.IsZero() {
		minutes = int64(now.Sub(sess.LastStartedAt) / time.Minute)
	}
	sess.State = state.SessionSleeping
	sess.LastStoppedAt = now
	s.AppendSessionEvent(now, sess.ID, state.SessionSleeping, details)
	s.AppendUsage(now, sess.WorkspaceID, "runtime_minutes", minutes, sess.ID)
}

// Delete is terminal from any non-deleted state. Storage is reclaimed
// later by the reconcile sweep, not here.
func (svc *Service) Delete(ctx context.Context, token, sessionID string) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.WorkspaceID != p.Workspace.ID || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}
		sess.State = state.SessionDeleted
		s.AppendSessionEvent(now, sess.ID, state.SessionDeleted, "")
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "session.delete", "session", sess.ID, "")
		return nil
	})
}

// List returns the caller's non-deleted sessions.
func (svc *Service) List(ctx context.Context, token string) ([]state.Session, error) {
	var out []state.Session
	err := svc.st.Transact(ctx, func(s *state.State) error {
		p, err := identity.ResolvePrincipal(s, svc.clock.Now(), token)
		if err != nil {
			return err
		}
		for _, sess := range s.Sessions {
			if sess.WorkspaceID == p.Workspace.ID && sess.State != state.SessionDeleted {
				out = append(out, sess)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SessionDetail bundles a session with its event history.
type SessionDetail struct {
	Session state.Session
	Events  []state.SessionEvent
}

func (svc *Service) Get(ctx context.Context, token, sessionID string) (*SessionDetail, error) {
	var out SessionDetail
	err := svc.st.Transact(ctx, func(s *state.State) error {
		p, err := identity.ResolvePrincipal(s, svc.clock.Now(), token)
		if err != nil {
			return err
		}
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.WorkspaceID != p.Workspace.ID || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}
		out.Session = *sess
		for _, ev := range s.SessionEvents {
			if ev.SessionID == sess.ID {
				out.Events = append(out.Events, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
