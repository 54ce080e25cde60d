// Package uploads implements the upload grant & snapshot manager. A grant
// is a single-use capability: consuming it commits the used marker before
// the object write, so a concurrent double consume can never write twice.
package uploads

import (
	"context"
	"time"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/common"
	"github.com/devplane-io/devplane/internal/logging"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/objectstore"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
	"github.com/google/uuid"
)

const (
	// GrantTTL bounds how long an issued grant stays consumable.
	GrantTTL = 15 * time.Minute

	// maxDirectBundleBytes is the hard ceiling for non-granted bundle
	// uploads.
	maxDirectBundleBytes = 32 << 20
)

type Service struct {
	st      *store.Store
	clock   clock.Clock
	objects objectstore.Store
	log     logging.Logger
}

func NewService(st *store.Store, clk clock.Clock, objects objectstore.Store, log logging.Logger) *Service {
	return &Service{st: st, clock: clk, objects: objects, log: log}
}

// CreateBundleGrant issues a grant for uploading a prebuilt bundle to one
// template version in the caller's workspace.
func (svc *Service) CreateBundleGrant(ctx context.Context, token, versionID, contentType string, maxBytes int64) (*state.UploadGrant, error) {
	var out state.UploadGrant
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		ver := s.VersionByID(versionID)
		if ver == nil || workspaceOfVersion(s, ver) != p.Workspace.ID {
			return common.NotFoundf("version %s not found", versionID)
		}

		grant := state.UploadGrant{
			ID:          uuid.NewString(),
			Target:      state.GrantBundle,
			TargetID:    ver.ID,
			ContentType: contentType,
			MaxBytes:    maxBytes,
			ExpiresAt:   now.Add(GrantTTL),
			CreatedAt:   now,
		}
		s.UploadGrants = append(s.UploadGrants, grant)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "grant.create", "upload_grant", grant.ID, string(state.GrantBundle))
		out = grant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSnapshotGrant creates the snapshot record up front and issues a
// grant targeting it. The snapshot has zero bytes until the grant is
// consumed; the reconcile sweep purges orphans whose grant expired unused.
func (svc *Service) CreateSnapshotGrant(ctx context.Context, token, sessionID, label, contentType string, maxBytes int64) (*state.UploadGrant, *state.Snapshot, error) {
	var (
		outGrant state.UploadGrant
		outSnap  state.Snapshot
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
		sess := s.SessionByID(sessionID)
		if sess == nil || sess.WorkspaceID != p.Workspace.ID || sess.State == state.SessionDeleted {
			return common.NotFoundf("session %s not found", sessionID)
		}

		snap := state.Snapshot{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Label:     label,
			CreatedAt: now,
		}
		grant := state.UploadGrant{
			ID:          uuid.NewString(),
			Target:      state.GrantSnapshot,
			TargetID:    snap.ID,
			ContentType: contentType,
			MaxBytes:    maxBytes,
			ExpiresAt:   now.Add(GrantTTL),
			CreatedAt:   now,
		}
		s.Snapshots = append(s.Snapshots, snap)
		s.UploadGrants = append(s.UploadGrants, grant)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "grant.create", "upload_grant", grant.ID, string(state.GrantSnapshot))
		outGrant = grant
		outSnap = snap
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &outGrant, &outSnap, nil
}

// ConsumeGrant validates and burns the grant, then writes the object and
// records the byte count on the target entity. The used marker commits
// before the object write: a grant can cause at most one write, and a
// crash in between burns the grant rather than risking a double write.
func (svc *Service) ConsumeGrant(ctx context.Context, grantID string, body []byte, contentType string) error {
	var (
		target   state.GrantTarget
		targetID string
	)
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		grant := s.GrantByID(grantID)
		if grant == nil {
			return common.NotFoundf("grant %s not found", grantID)
		}
		if !grant.UsedAt.IsZero() {
			return common.Conflictf("grant %s already used", grantID)
		}
		if !now.Before(grant.ExpiresAt) {
			return common.Conflictf("grant %s expired", grantID)
		}
		if grant.ContentType != "" && grant.ContentType != contentType {
			return common.BadRequestf("grant expects content type %q", grant.ContentType)
		}
		if grant.MaxBytes > 0 && int64(len(body)) > grant.MaxBytes {
			return common.BadRequestf("payload exceeds grant limit of %d bytes", grant.MaxBytes)
		}
		grant.UsedAt = now
		target = grant.Target
		targetID = grant.TargetID
		return nil
	})
	if err != nil {
		return err
	}

	var key string
	switch target {
	case state.GrantBundle:
		key = objectstore.BundleKey(targetID)
	case state.GrantSnapshot:
		key = objectstore.SnapshotKey(targetID)
	}
	if err := svc.objects.Put(ctx, key, body, contentType); err != nil {
		return common.Internal("object write failed", err)
	}

	return svc.st.Transact(ctx, func(s *state.State) error {
		switch target {
		case state.GrantBundle:
			if ver := s.VersionByID(targetID); ver != nil {
				ver.BundleBytes = int64(len(body))
			}
		case state.GrantSnapshot:
			if snap := s.SnapshotByID(targetID); snap != nil {
				snap.Bytes = int64(len(body))
			}
		}
		return nil
	})
}

// UploadBundle is the direct path for interactive flows, bounded by a hard
// byte ceiling.
func (svc *Service) UploadBundle(ctx context.Context, token, versionID string, body []byte, contentType string) error {
	if int64(len(body)) > maxDirectBundleBytes {
		return common.BadRequestf("bundle exceeds direct upload limit of %d bytes", int64(maxDirectBundleBytes))
	}
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		ver := s.VersionByID(versionID)
		if ver == nil || workspaceOfVersion(s, ver) != p.Workspace.ID {
			return common.NotFoundf("version %s not found", versionID)
		}
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "bundle.upload", "template_version", ver.ID, "")
		return nil
	})
	if err != nil {
		return err
	}
	if err := svc.objects.Put(ctx, objectstore.BundleKey(versionID), body, contentType); err != nil {
		return common.Internal("object write failed", err)
	}
	return svc.st.Transact(ctx, func(s *state.State) error {
		if ver := s.VersionByID(versionID); ver != nil {
			ver.BundleBytes = int64(len(body))
		}
		return nil
	})
}

// CreateSnapshot is the direct snapshot path: record plus object in one
// call.
func (svc *Service) CreateSnapshot(ctx context.Context, token, sessionID, label string, body []byte, contentType string) (*state.Snapshot, error) {
	var out state.Snapshot
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
		snap := state.Snapshot{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Label:     label,
			Bytes:     int64(len(body)),
			CreatedAt: now,
		}
		s.Snapshots = append(s.Snapshots, snap)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "snapshot.create", "snapshot", snap.ID, label)
		out = snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := svc.objects.Put(ctx, objectstore.SnapshotKey(out.ID), body, contentType); err != nil {
		return nil, common.Internal("object write failed", err)
	}
	return &out, nil
}

// GetSnapshot returns the record and its stored content.
func (svc *Service) GetSnapshot(ctx context.Context, token, snapshotID string) (*state.Snapshot, *objectstore.Object, error) {
	var out state.Snapshot
	err := svc.st.Transact(ctx, func(s *state.State) error {
		p, err := identity.ResolvePrincipal(s, svc.clock.Now(), token)
		if err != nil {
			return err
		}
		snap := s.SnapshotByID(snapshotID)
		if snap == nil || workspaceOfSnapshot(s, snap) != p.Workspace.ID {
			return common.NotFoundf("snapshot %s not found", snapshotID)
		}
		out = *snap
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	obj, err := svc.objects.Get(ctx, objectstore.SnapshotKey(snapshotID))
	if err != nil {
		return nil, nil, common.Internal("object read failed", err)
	}
	return &out, obj, nil
}

// DeleteSnapshot removes the record and deletes the object synchronously,
// in the same logical operation rather than deferring to the sweep.
func (svc *Service) DeleteSnapshot(ctx context.Context, token, snapshotID string) error {
	err := svc.st.Transact(ctx, func(s *state.State) error {
		now := svc.clock.Now()
		p, err := identity.ResolvePrincipal(s, now, token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleMember); err != nil {
			return err
		}
		snap := s.SnapshotByID(snapshotID)
		if snap == nil || workspaceOfSnapshot(s, snap) != p.Workspace.ID {
			return common.NotFoundf("snapshot %s not found", snapshotID)
		}
		kept := s.Snapshots[:0]
		for _, sn := range s.Snapshots {
			if sn.ID != snapshotID {
				kept = append(kept, sn)
			}
		}
		s.Snapshots = kept
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "snapshot.delete", "snapshot", snapshotID, "")
		return nil
	})
	if err != nil {
		return err
	}
	if err := svc.objects.Delete(ctx, objectstore.SnapshotKey(snapshotID)); err != nil {
		return common.Internal("object delete failed", err)
	}
	return nil
}

// RestoreSnapshot points a session at a snapshot's content and records the
// restore on the event stream.
func (svc *Service) RestoreSnapshot(ctx context.Context, token, sessionID, snapshotID string) error {
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
		snap := s.SnapshotByID(snapshotID)
		if snap == nil || workspaceOfSnapshot(s, snap) != p.Workspace.ID {
			return common.NotFoundf("snapshot %s not found", snapshotID)
		}
		sess.LastRestoredSnapshotID = snap.ID
		s.AppendSessionEvent(now, sess.ID, sess.State, "restored "+snap.ID)
		s.AppendAudit(now, p.Workspace.ID, p.User.ID, "snapshot.restore", "session", sess.ID, snap.ID)
		return nil
	})
}

func workspaceOfVersion(s *state.State, ver *state.TemplateVersion) string {
	if tpl := s.TemplateByID(ver.TemplateID); tpl != nil {
		return tpl.WorkspaceID
	}
	return ""
}

func workspaceOfSnapshot(s *state.State, snap *state.Snapshot) string {
	if sess := s.SessionByID(snap.SessionID); sess != nil {
		return sess.WorkspaceID
	}
	return ""
}
