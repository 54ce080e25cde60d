// Package reconcile implements the periodic sweep: stuck-build recovery,
// build draining, stale-session sleep, and physical purge of deleted or
// long-sleeping sessions, expired grants, and orphaned snapshots. Every
// condition it finds is non-fatal; it aggregates counters and continues.
package reconcile

import (
	"context"
	"time"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/objectstore"
	"github.com/devplane-io/devplane/internal/server/sessions"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/devplane-io/devplane/internal/server/templates"
)

const (
	// BuildStalenessThreshold marks a building-status build abandoned.
	BuildStalenessThreshold = 10 * time.Minute

	// SessionIdleThreshold puts a running session to sleep.
	SessionIdleThreshold = 30 * time.Minute

	// SleepingRetention bounds how long a sleeping session survives before
	// the purge reclaims it.
	SleepingRetention = 30 * 24 * time.Hour
)

// Report counts what one sweep acted on.
type Report struct {
	RecoveredStuckBuilds   int `json:"recoveredStuckBuilds"`
	ProcessedBuilds        int `json:"processedBuilds"`
	SleptStaleSessions     int `json:"sleptStaleSessions"`
	PurgedDeletedSessions  int `json:"purgedDeletedSessions"`
	PurgedSleepingSessions int `json:"purgedSleepingSessions"`
	PurgedExpiredGrants    int `json:"purgedExpiredGrants"`
	PurgedOrphanSnapshots  int `json:"purgedOrphanSnapshots"`
}

type Service struct {
	st      *store.Store
	clock   clock.Clock
	tpls    *templates.Service
	objects objectstore.Store
	log     logging.Logger
}

func NewService(st *store.Store, clk clock.Clock, tpls *templates.Service, objects objectstore.Store, log logging.Logger) *Service {
	return &Service{st: st, clock: clk, tpls: tpls, objects: objects, log: log}
}

// Run executes one sweep. Safe to call repeatedly or concurrently; the
// single-writer store serializes each phase, and every phase re-checks its
// preconditions against current state.
func (svc *Service) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	pending, err := svc.recoverAndCollectBuilds(ctx, report)
	if err != nil {
		return nil, err
	}
	for _, buildID := range pending {
		if err := svc.tpls.ProcessBuildByID(ctx, buildID); err != nil {
			svc.log.Warn(ctx, "sweep build processing failed", "buildID", buildID, "err", err)
			continue
		}
		report.ProcessedBuilds++
	}

	if err := svc.sleepStaleSessions(ctx, report); err != nil {
		return nil, err
	}

	orphanKeys, err := svc.purge(ctx, report)
	if err != nil {
		return nil, err
	}
	// Object deletes run after the purge commit; a failure here leaves an
	// unreferenced blob that the next sweep cannot see, so log it loudly.
	for _, key := range orphanKeys {
		if err := svc.objects.Delete(ctx, key); err != nil {
			svc.log.Error(ctx, "purged snapshot blob not deleted", "key", key, "err", err)
		}
	}

	svc.log.Info(ctx, "reconcile sweep finished",
		"recoveredStuckBuilds", report.RecoveredStuckBuilds,
		"processedBuilds", report.ProcessedBuilds,
		"sleptStaleSessions", report.SleptStaleSessions,
		"purgedDeletedSessions", report.PurgedDeletedSessions,
		"purgedSleepingSessions", report.PurgedSleepingSessions,
		"purgedExpiredGrants", report.PurgedExpiredGrants,
		"purgedOrphanSnapshots", report.PurgedOrphanSnapshots)
	return report, nil
}

// recoverAndCollectBuilds requeues stuck builds and returns every build id
// currently queued or retrying.
func (svc *Service) recoverAndCollectBuilds(ctx context.Context, report *Report) ([]string, error) {
	var pending []string
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		for i := range s.TemplateBuilds {
			build := &s.TemplateBuilds[i]
			if templates.BuildStale(*build, now, BuildStalenessThreshold) {
				build.Status = state.BuildRetrying
				if ver := s.VersionByID(build.TemplateVersionID); ver != nil {
					ver.Status = state.VersionQueued
					if tpl := s.TemplateByID(ver.TemplateID); tpl != nil {
						s.AppendAudit(now, tpl.WorkspaceID, "", "build.recover_stuck", "template_build", build.ID, "")
					}
				}
				report.RecoveredStuckBuilds++
			}
			if build.Status == state.BuildQueued || build.Status == state.BuildRetrying {
				pending = append(pending, build.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (svc *Service) sleepStaleSessions(ctx context.Context, report *Report) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		for i := range s.Sessions {
			sess := &s.Sessions[i]
			if sess.State != state.SessionRunning {
				continue
			}
			if sess.LastStartedAt.IsZero() || now.Sub(sess.LastStartedAt) < SessionIdleThreshold {
				continue
			}
			sessions.PutToSleep(s, sess, now, "idle")
			s.AppendAudit(now, sess.WorkspaceID, "", "session.sleep_idle", "session", sess.ID, "")
			report.SleptStaleSessions++
		}
		return nil
	})
}

// purge physically removes reclaimable rows and returns the object keys of
// snapshots whose records went away.
func (svc *Service) purge(ctx context.Context, report *Report) ([]string, error) {
	var orphanKeys []string
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()

		purged := make(map[string]bool)
		keptSessions := s.Sessions[:0]
		for _, sess := range s.Sessions {
			switch {
			case sess.State == state.SessionDeleted:
				purged[sess.ID] = true
				s.AppendAudit(now, sess.WorkspaceID, "", "session.purge", "session", sess.ID, "deleted")
				report.PurgedDeletedSessions++
			case sess.State == state.SessionSleeping && !sess.LastStoppedAt.IsZero() && now.Sub(sess.LastStoppedAt) >= SleepingRetention:
				purged[sess.ID] = true
				s.AppendAudit(now, sess.WorkspaceID, "", "session.purge", "session", sess.ID, "sleeping retention")
				report.PurgedSleepingSessions++
			default:
				keptSessions = append(keptSessions, sess)
			}
		}
		s.Sessions = keptSessions

		if len(purged) > 0 {
			keptEvents := s.SessionEvents[:0]
			for _, ev := range s.SessionEvents {
				if !purged[ev.SessionID] {
					keptEvents = append(keptEvents, ev)
				}
			}
			s.SessionEvents = keptEvents
		}

		// Snapshots whose session is gone, via this purge or earlier ones.
		live := make(map[string]bool, len(s.Sessions))
		for _, sess := range s.Sessions {
			live[sess.ID] = true
		}
		keptSnapshots := s.Snapshots[:0]
		for _, snap := range s.Snapshots {
			if live[snap.SessionID] {
				keptSnapshots = append(keptSnapshots, snap)
				continue
			}
			orphanKeys = append(orphanKeys, objectstore.SnapshotKey(snap.ID))
			report.PurgedOrphanSnapshots++
		}
		s.Snapshots = keptSnapshots

		keptGrants := s.UploadGrants[:0]
		for _, grant := range s.UploadGrants {
			if grant.UsedAt.IsZero() && !now.Before(grant.ExpiresAt) {
				report.PurgedExpiredGrants++
				continue
			}
			keptGrants = append(keptGrants, grant)
		}
		s.UploadGrants = keptGrants
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphanKeys, nil
}
