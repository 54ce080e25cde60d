package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/objectstore"
	"github.com/devplane-io/devplane/internal/server/state"
)

// BuildInput is what a runner needs to produce an environment bundle.
type BuildInput struct {
	BuildID           string
	TemplateVersionID string
	Manifest          state.Manifest
}

// BuildResult reports a successful run.
type BuildResult struct {
	BundleBytes int64
}

// BuildRunner executes one build outside any state transaction. A nil
// error means the bundle exists in the object store.
type BuildRunner interface {
	Run(ctx context.Context, in BuildInput) (*BuildResult, error)
}

// LogRunner is the default runner: it materializes a trivial bundle and a
// build log in the object store. Real image builds plug in behind the same
// interface.
type LogRunner struct {
	Objects objectstore.Store
}

func (r *LogRunner) Run(ctx context.Context, in BuildInput) (*BuildResult, error) {
	bundle := []byte(fmt.Sprintf("image=%s features=%v\n", in.Manifest.Image, in.Manifest.Features))
	if err := r.Objects.Put(ctx, objectstore.BundleKey(in.TemplateVersionID), bundle, "application/gzip"); err != nil {
		return nil, err
	}
	log := fmt.Sprintf("build %s: pulled %s\nbuild %s: bundle written (%d bytes)\n",
		in.BuildID, in.Manifest.Image, in.BuildID, len(bundle))
	if err := r.Objects.Put(ctx, objectstore.BuildLogKey(in.BuildID), []byte(log), "text/plain"); err != nil {
		return nil, err
	}
	return &BuildResult{BundleBytes: int64(len(bundle))}, nil
}

// ProcessBuildByID drives one build through claim → run → record. It is an
// internal entrypoint (dispatcher and reconcile sweep), not authenticated.
// Idempotent per invocation: a build that is not queued or retrying is left
// untouched.
//
// The runner executes between two transactions so the single-writer store
// is never blocked on external work.
func (svc *Service) ProcessBuildByID(ctx context.Context, buildID string) error {
	var (
		claimed bool
		input   BuildInput
	)
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		build := s.BuildByID(buildID)
		if build == nil {
			return common.NotFoundf("build %s not found", buildID)
		}
		if build.Status != state.BuildQueued && build.Status != state.BuildRetrying {
			return nil
		}
		ver := s.VersionByID(build.TemplateVersionID)
		if ver == nil {
			return common.Internal("build without version", fmt.Errorf("build %s references version %s", buildID, build.TemplateVersionID))
		}
		build.Status = state.BuildBuilding
		build.Attempts++
		build.StartedAt = now
		ver.Status = state.VersionBuilding
		claimed = true
		input = BuildInput{
			BuildID:           build.ID,
			TemplateVersionID: ver.ID,
			Manifest:          ver.Manifest.Clone(),
		}
		return nil
	})
	if err != nil || !claimed {
		return err
	}

	result, runErr := svc.runner.Run(ctx, input)
	return svc.recordBuildOutcome(ctx, buildID, result, runErr)
}

func (svc *Service) recordBuildOutcome(ctx context.Context, buildID string, result *BuildResult, runErr error) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		build := s.BuildByID(buildID)
		if build == nil {
			return common.NotFoundf("build %s vanished mid-run", buildID)
		}
		ver := s.VersionByID(build.TemplateVersionID)
		if ver == nil {
			return common.Internal("build without version", fmt.Errorf("build %s", buildID))
		}
		wsID := svc.workspaceOfVersion(s, ver)

		build.FinishedAt = now
		if runErr == nil {
			build.Status = state.BuildSucceeded
			build.LastError = ""
			ver.Status = state.VersionReady
			ver.Attempts = build.Attempts
			ver.BuiltAt = now
			if result != nil {
				ver.BundleBytes = result.BundleBytes
			}
			s.AppendUsage(now, wsID, "template_builds", 1, ver.ID)
			s.AppendAudit(now, wsID, "", "build.succeed", "template_build", build.ID, ver.Version)
			return nil
		}

		build.LastError = runErr.Error()
		ver.Attempts = build.Attempts
		ver.Status = state.VersionFailed
		if build.Attempts >= maxBuildAttempts {
			build.Status = state.BuildDeadLettered
			s.AppendAudit(now, wsID, "", "build.dead_letter", "template_build", build.ID, runErr.Error())
		} else {
			build.Status = state.BuildFailed
			s.AppendAudit(now, wsID, "", "build.fail", "template_build", build.ID, runErr.Error())
		}
		return nil
	})
}

func (svc *Service) workspaceOfVersion(s *state.State, ver *state.TemplateVersion) string {
	if tpl := s.TemplateByID(ver.TemplateID); tpl != nil {
		return tpl.WorkspaceID
	}
	return ""
}

// Retry reopens exactly one failed build: status failed → retrying, version
// back to queued. Dead-lettered builds are out of its reach.
func (svc *Service) Retry(ctx context.Context, token, buildID string) error {
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		build := s.BuildByID(buildID)
		if build == nil {
			return common.NotFoundf("build %s not found", buildID)
		}
		ver := s.VersionByID(build.TemplateVersionID)
		if ver == nil || svc.workspaceOfVersion(s, ver) != p.Workspace.ID {
			return common.NotFoundf("build %s not found", buildID)
		}
		if build.Status == state.BuildDeadLettered {
			return common.Conflictf("build %s is dead-lettered; use the bulk retry", buildID)
		}
		if build.Status != state.BuildFailed {
			return common.Conflictf("build %s is %s, not failed", buildID, build.Status)
		}
		build.Status = state.BuildRetrying
		ver.Status = state.VersionQueued
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "build.retry", "template_build", build.ID, "")
		return nil
	})
	if err != nil {
		return err
	}
	svc.dispatch.EnqueueBuild(buildID)
	return nil
}

// RetryDeadLettered reopens every dead-lettered build in the caller's
// workspace. Requires admin. Returns the ids it requeued.
func (svc *Service) RetryDeadLettered(ctx context.Context, token string) ([]string, error) {
	var reopened []string
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleAdmin); err != nil {
			return err
		}
		for i := range s.TemplateBuilds {
			build := &s.TemplateBuilds[i]
			if build.Status != state.BuildDeadLettered {
				continue
			}
			ver := s.VersionByID(build.TemplateVersionID)
			if ver == nil || svc.workspaceOfVersion(s, ver) != p.Workspace.ID {
				continue
			}
			build.Status = state.BuildRetrying
			ver.Status = state.VersionQueued
			reopened = append(reopened, build.ID)
		}
		if len(reopened) > 0 {
			s.AppendAudit(now, p.Workspace.ID, p.User.ID, "build.retry_dead_lettered", "workspace", p.Workspace.ID,
				fmt.Sprintf("%d builds", len(reopened)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range reopened {
		svc.dispatch.EnqueueBuild(id)
	}
	return reopened, nil
}

// BuildStale reports whether a building-status build has exceeded the
// staleness threshold. Used by the reconcile sweep.
func BuildStale(build state.TemplateBuild, now time.Time, threshold time.Duration) bool {
	return build.Status == state.BuildBuilding && !build.StartedAt.IsZero() && now.Sub(build.StartedAt) >= threshold
}
