// Package templates implements the template & build pipeline: template
// CRUD, versioned manifests, the queued/retrying build ladder with a
// dead-letter threshold, and promotion via immutable binding releases.
package templates

import (
	"context"
	"strings"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/dispatch"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/objectstore"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/google/uuid"
)

// maxBuildAttempts is the dead-letter threshold: a build whose attempt
// count reaches it on failure becomes dead_lettered.
const maxBuildAttempts = 2

// supportedFeatures are the manifest feature flags a version may request.
var supportedFeatures = map[string]bool{
	"docker":          true,
	"gpu":             true,
	"ssh":             true,
	"web-ide":         true,
	"port-forwarding": true,
}

type Service struct {
	st       *store.Store
	clock    clock.Clock
	objects  objectstore.Store
	runner   BuildRunner
	dispatch dispatch.Dispatcher
	log      logging.Logger
}

func NewService(st *store.Store, clk clock.Clock, objects objectstore.Store, runner BuildRunner, d dispatch.Dispatcher, log logging.Logger) *Service {
	return &Service{st: st, clock: clk, objects: objects, runner: runner, dispatch: d, log: log}
}

// Create registers a template in the caller's workspace. Names are unique
// per workspace case-insensitively; the plan's template quota applies.
func (svc *Service) Create(ctx context.Context, token, name string) (*state.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, common.BadRequestf("template name is required")
	}

	var out state.Template
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		if s.TemplateByName(p.Workspace.ID, name) != nil {
			return common.Conflictf("template %q already exists", name)
		}
		limits := p.Workspace.Limits()
		if s.TemplateCount(p.Workspace.ID) >= limits.MaxTemplates {
			return common.Conflictf("template quota reached (%d)", limits.MaxTemplates)
		}

		tpl := state.Template{
			ID:          uuid.NewString(),
			WorkspaceID: p.Workspace.ID,
			Name:        name,
			CreatedAt:   now,
		}
		s.Templates = append(s.Templates, tpl)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "template.create", "template", tpl.ID, name)
		out = tpl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddVersion validates the manifest, creates the version/build pair
// atomically (both queued), and notifies the dispatcher after commit.
func (svc *Service) AddVersion(ctx context.Context, token, templateID, version string, manifest state.Manifest) (*state.TemplateVersion, error) {
	if err := validateManifest(manifest); err != nil {
		return nil, err
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, common.BadRequestf("version string is required")
	}

	var (
		out     state.TemplateVersion
		buildID string
	)
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
		for i := range s.TemplateVersions {
			v := &s.TemplateVersions[i]
			if v.TemplateID == tpl.ID && v.Version == version {
				return common.Conflictf("version %q already exists", version)
			}
		}

		ver := state.TemplateVersion{
			ID:         uuid.NewString(),
			TemplateID: tpl.ID,
			Version:    version,
			Status:     state.VersionQueued,
			Manifest:   manifest,
			CreatedAt:  now,
		}
		build := state.TemplateBuild{
			ID:                uuid.NewString(),
			TemplateVersionID: ver.ID,
			Status:            state.BuildQueued,
			CreatedAt:         now,
		}
		s.TemplateVersions = append(s.TemplateVersions, ver)
		s.TemplateBuilds = append(s.TemplateBuilds, build)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "template.add_version", "template_version", ver.ID, version)
		out = ver
		buildID = build.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	svc.dispatch.EnqueueBuild(buildID)
	return &out, nil
}

func validateManifest(m state.Manifest) error {
	if strings.TrimSpace(m.Image) == "" {
		return common.BadRequestf("manifest image is required")
	}
	for _, f := range m.Features {
		if !supportedFeatures[f] {
			return common.BadRequestf("unsupported manifest feature %q", f)
		}
	}
	return nil
}

// Promote requires the target version to be ready; it repoints the
// template's active version and appends an immutable BindingRelease.
func (svc *Service) Promote(ctx context.Context, token, templateID, versionID string) (*state.BindingRelease, error) {
	var out state.BindingRelease
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
		ver := s.VersionByID(versionID)
		if ver == nil || ver.TemplateID != tpl.ID {
			return common.NotFoundf("version %s not found", versionID)
		}
		if ver.Status != state.VersionReady {
			return common.Conflictf("version %s is %s, not ready", versionID, ver.Status)
		}

		tpl.ActiveVersionID = ver.ID
		rel := state.BindingRelease{
			ID:                uuid.NewString(),
			WorkspaceID:       p.Workspace.ID,
			TemplateID:        tpl.ID,
			TemplateVersionID: ver.ID,
			CreatedAt:         now,
		}
		s.BindingReleases = append(s.BindingReleases, rel)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "template.promote", "template_version", ver.ID, ver.Version)
		out = rel
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Archive blocks new session creation against the template; existing
// sessions keep running.
func (svc *Service) Archive(ctx context.Context, token, templateID string) error {
	return svc.st.Transact(ctx, func(s *state.State) error {
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
			return common.Conflictf("template %s already archived", templateID)
		}
		tpl.ArchivedAt = now
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "template.archive", "template", tpl.ID, "")
		return nil
	})
}

// Delete removes the template, its versions, builds, and the stored bundle
// and build-log blobs. It is refused while any non-deleted session still
// references the template. Blob deletion happens after the state commit;
// a crash in between leaves orphans for the reconcile sweep's purge side.
func (svc *Service) Delete(ctx context.Context, token, templateID string) error {
	var blobKeys []string
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleAdmin); err != nil {
			return err
		}
		tpl := s.TemplateByID(templateID)
		if tpl == nil || tpl.WorkspaceID != p.Workspace.ID {
			return common.NotFoundf("template %s not found", templateID)
		}
		for i := range s.Sessions {
			sess := &s.Sessions[i]
			if sess.TemplateID == tpl.ID && sess.State != state.SessionDeleted {
				return common.Conflictf("session %s still references template %s", sess.ID, tpl.ID)
			}
		}

		versionIDs := make(map[string]bool)
		keptVersions := s.TemplateVersions[:0]
		for _, v := range s.TemplateVersions {
			if v.TemplateID == tpl.ID {
				versionIDs[v.ID] = true
				blobKeys = append(blobKeys, objectstore.BundleKey(v.ID))
				continue
			}
			keptVersions = append(keptVersions, v)
		}
		s.TemplateVersions = keptVersions

		keptBuilds := s.TemplateBuilds[:0]
		for _, b := range s.TemplateBuilds {
			if versionIDs[b.TemplateVersionID] {
				blobKeys = append(blobKeys, objectstore.BuildLogKey(b.ID))
				continue
			}
			keptBuilds = append(keptBuilds, b)
		}
		s.TemplateBuilds = keptBuilds

		kept := s.Templates[:0]
		for _, t := range s.Templates {
			if t.ID != tpl.ID {
				kept = append(kept, t)
			}
		}
		s.Templates = kept
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "template.delete", "template", templateID, "")
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range blobKeys {
		if err := svc.objects.Delete(ctx, key); err != nil {
			svc.log.Warn(ctx, "blob cleanup failed", "key", key, "err", err)
		}
	}
	return nil
}

// TemplateDetail bundles a template with its versions and builds.
type TemplateDetail struct {
	Template state.Template
	Versions []state.TemplateVersion
	Builds   []state.TemplateBuild
}

// List returns every template of the caller's workspace, archived included.
func (svc *Service) List(ctx context.Context, token string) ([]state.Template, error) {
	var out []state.Template
	err := svc.st.Transact(ctx, func(s *state.State) error {
		p, err := identity.ResolvePrincipal(s, svc.clock.Now(), token)
		if err != nil {
			return err
		}
		for _, tpl := range s.Templates {
			if tpl.WorkspaceID == p.Workspace.ID {
				out = append(out, tpl)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one template with its versions and builds.
func (svc *Service) Get(ctx context.Context, token, templateID string) (*TemplateDetail, error) {
	var out TemplateDetail
	err := svc.st.Transact(ctx, func(s *state.State) error {
		p, err := identity.ResolvePrincipal(s, svc.clock.Now(), token)
		if err != nil {
			return err
		}
		tpl := s.TemplateByID(templateID)
		if tpl == nil || tpl.WorkspaceID != p.Workspace.ID {
			return common.NotFoundf("template %s not found", templateID)
		}
		out.Template = *tpl
		versionIDs := make(map[string]bool)
		for _, v := range s.TemplateVersions {
			if v.TemplateID == tpl.ID {
				out.Versions = append(out.Versions, v)
				versionIDs[v.ID] = true
			}
		}
		for _, b := range s.TemplateBuilds {
			if versionIDs[b.TemplateVersionID] {
				out.Builds = append(out.Builds, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
