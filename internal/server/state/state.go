package state

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Collection names, in document order. The postgres backing keeps one table
// per name; scoped transactions validate requested names against this list.
const (
	CollUsers            = "users"
	CollWorkspaces       = "workspaces"
	CollMemberships      = "memberships"
	CollInvites          = "invites"
	CollAuthTokens       = "auth_tokens"
	CollDeviceCodes      = "device_codes"
	CollRecoveryCodes    = "recovery_codes"
	CollTemplates        = "templates"
	CollTemplateVersions = "template_versions"
	CollTemplateBuilds   = "template_builds"
	CollBindingReleases  = "binding_releases"
	CollSessions         = "sessions"
	CollSessionEvents    = "session_events"
	CollSnapshots        = "snapshots"
	CollUploadGrants     = "upload_grants"
	CollUsageEvents      = "usage_events"
	CollAuditLogs        = "audit_logs"
)

// Collections lists every collection name in document order.
var Collections = []string{
	CollUsers, CollWorkspaces, CollMemberships, CollInvites, CollAuthTokens,
	CollDeviceCodes, CollRecoveryCodes, CollTemplates, CollTemplateVersions,
	CollTemplateBuilds, CollBindingReleases, CollSessions, CollSessionEvents,
	CollSnapshots, CollUploadGrants, CollUsageEvents, CollAuditLogs,
}

// KnownCollection reports whether name is a registered collection.
func KnownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// State is the document-of-collections owned by the store. Each collection
// is an ordered slice; order is preserved across persistence round trips.
type State struct {
	Users            []User            `json:"users"`
	Workspaces       []Workspace       `json:"workspaces"`
	Memberships      []Membership      `json:"memberships"`
	Invites          []Invite          `json:"invites"`
	AuthTokens       []AuthToken       `json:"authTokens"`
	DeviceCodes      []DeviceCode      `json:"deviceCodes"`
	RecoveryCodes    []RecoveryCode    `json:"recoveryCodes"`
	Templates        []Template        `json:"templates"`
	TemplateVersions []TemplateVersion `json:"templateVersions"`
	TemplateBuilds   []TemplateBuild   `json:"templateBuilds"`
	BindingReleases  []BindingRelease  `json:"bindingReleases"`
	Sessions         []Session         `json:"sessions"`
	SessionEvents    []SessionEvent    `json:"sessionEvents"`
	Snapshots        []Snapshot        `json:"snapshots"`
	UploadGrants     []UploadGrant     `json:"uploadGrants"`
	UsageEvents      []UsageEvent      `json:"usageEvents"`
	AuditLogs        []AuditLog        `json:"auditLogs"`
}

// New returns an empty document.
func New() *State { return &State{} }

// Clone produces a deep, independent copy: the transaction draft. Mutating
// the clone never affects the receiver.
func (s *State) Clone() *State {
	out := &State{
		Users:            append([]User(nil), s.Users...),
		Workspaces:       append([]Workspace(nil), s.Workspaces...),
		Memberships:      append([]Membership(nil), s.Memberships...),
		Invites:          append([]Invite(nil), s.Invites...),
		AuthTokens:       append([]AuthToken(nil), s.AuthTokens...),
		DeviceCodes:      append([]DeviceCode(nil), s.DeviceCodes...),
		RecoveryCodes:    append([]RecoveryCode(nil), s.RecoveryCodes...),
		Templates:        append([]Template(nil), s.Templates...),
		TemplateVersions: append([]TemplateVersion(nil), s.TemplateVersions...),
		TemplateBuilds:   append([]TemplateBuild(nil), s.TemplateBuilds...),
		BindingReleases:  append([]BindingRelease(nil), s.BindingReleases...),
		Sessions:         append([]Session(nil), s.Sessions...),
		SessionEvents:    append([]SessionEvent(nil), s.SessionEvents...),
		Snapshots:        append([]Snapshot(nil), s.Snapshots...),
		UploadGrants:     append([]UploadGrant(nil), s.UploadGrants...),
		UsageEvents:      append([]UsageEvent(nil), s.UsageEvents...),
		AuditLogs:        append([]AuditLog(nil), s.AuditLogs...),
	}
	// Reference-typed fields need their own copies.
	for i := range out.TemplateVersions {
		out.TemplateVersions[i].Manifest = out.TemplateVersions[i].Manifest.Clone()
	}
	for i := range out.RecoveryCodes {
		out.RecoveryCodes[i].Hash = append([]byte(nil), out.RecoveryCodes[i].Hash...)
	}
	return out
}

// --- finders ---
//
// Finders return pointers into the collection slices so transaction bodies
// can mutate records in place. A pointer is invalidated by a later append to
// the same collection; callers must re-find after such appends.

func (s *State) UserByID(id string) *User {
	for i := range s.Users {
		if s.Users[i].ID == id {
			return &s.Users[i]
		}
	}
	return nil
}

// UserByEmail matches case-insensitively; email uniqueness is enforced at
// registration with the same comparison.
func (s *State) UserByEmail(email string) *User {
	for i := range s.Users {
		if strings.EqualFold(s.Users[i].Email, email) {
			return &s.Users[i]
		}
	}
	return nil
}

func (s *State) WorkspaceByID(id string) *Workspace {
	for i := range s.Workspaces {
		if s.Workspaces[i].ID == id {
			return &s.Workspaces[i]
		}
	}
	return nil
}

func (s *State) MembershipFor(workspaceID, userID string) *Membership {
	for i := range s.Memberships {
		if s.Memberships[i].WorkspaceID == workspaceID && s.Memberships[i].UserID == userID {
			return &s.Memberships[i]
		}
	}
	return nil
}

func (s *State) InviteByCode(code string) *Invite {
	for i := range s.Invites {
		if s.Invites[i].Code == code {
			return &s.Invites[i]
		}
	}
	return nil
}

func (s *State) TokenBySecret(secret string) *AuthToken {
	for i := range s.AuthTokens {
		if s.AuthTokens[i].Token == secret {
			return &s.AuthTokens[i]
		}
	}
	return nil
}

func (s *State) DeviceCodeByCode(code string) *DeviceCode {
	for i := range s.DeviceCodes {
		if s.DeviceCodes[i].Code == code {
			return &s.DeviceCodes[i]
		}
	}
	return nil
}

func (s *State) TemplateByID(id string) *Template {
	for i := range s.Templates {
		if s.Templates[i].ID == id {
			return &s.Templates[i]
		}
	}
	return nil
}

// TemplateByName matches case-insensitively within a workspace.
func (s *State) TemplateByName(workspaceID, name string) *Template {
	for i := range s.Templates {
		if s.Templates[i].WorkspaceID == workspaceID && strings.EqualFold(s.Templates[i].Name, name) {
			return &s.Templates[i]
		}
	}
	return nil
}

func (s *State) VersionByID(id string) *TemplateVersion {
	for i := range s.TemplateVersions {
		if s.TemplateVersions[i].ID == id {
			return &s.TemplateVersions[i]
		}
	}
	return nil
}

func (s *State) BuildByID(id string) *TemplateBuild {
	for i := range s.TemplateBuilds {
		if s.TemplateBuilds[i].ID == id {
			return &s.TemplateBuilds[i]
		}
	}
	return nil
}

// BuildForVersion returns the build paired 1:1 with a template version.
func (s *State) BuildForVersion(versionID string) *TemplateBuild {
	for i := range s.TemplateBuilds {
		if s.TemplateBuilds[i].TemplateVersionID == versionID {
			return &s.TemplateBuilds[i]
		}
	}
	return nil
}

func (s *State) SessionByID(id string) *Session {
	for i := range s.Sessions {
		if s.Sessions[i].ID == id {
			return &s.Sessions[i]
		}
	}
	return nil
}

// SessionByName matches case-insensitively among non-deleted sessions of a
// workspace.
func (s *State) SessionByName(workspaceID, name string) *Session {
	for i := range s.Sessions {
		sess := &s.Sessions[i]
		if sess.WorkspaceID == workspaceID && sess.State != SessionDeleted && strings.EqualFold(sess.Name, name) {
			return sess
		}
	}
	return nil
}

func (s *State) SnapshotByID(id string) *Snapshot {
	for i := range s.Snapshots {
		if s.Snapshots[i].ID == id {
			return &s.Snapshots[i]
		}
	}
	return nil
}

func (s *State) GrantByID(id string) *UploadGrant {
	for i := range s.UploadGrants {
		if s.UploadGrants[i].ID == id {
			return &s.UploadGrants[i]
		}
	}
	return nil
}

// --- counters ---

// RunningSessionCount counts sessions occupying a running-session quota
// slot: starting and running both hold a slot.
func (s *State) RunningSessionCount(workspaceID string) int {
	n := 0
	for i := range s.Sessions {
		if s.Sessions[i].WorkspaceID != workspaceID {
			continue
		}
		switch s.Sessions[i].State {
		case SessionStarting, SessionRunning:
			n++
		}
	}
	return n
}

// TemplateCount counts non-archived templates of a workspace.
func (s *State) TemplateCount(workspaceID string) int {
	n := 0
	for i := range s.Templates {
		if s.Templates[i].WorkspaceID == workspaceID && s.Templates[i].ArchivedAt.IsZero() {
			n++
		}
	}
	return n
}

// --- append-only ledgers ---
//
// Audit and usage entries are appended inside the same transaction as the
// mutation they describe, never eventually-consistent with it.

func (s *State) AppendAudit(now time.Time, workspaceID, actorUserID, action, targetType, targetID, details string) {
	s.AuditLogs = append(s.AuditLogs, AuditLog{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Details:     details,
		CreatedAt:   now,
	})
}

func (s *State) AppendUsage(now time.Time, workspaceID, kind string, value int64, details string) {
	s.UsageEvents = append(s.UsageEvents, UsageEvent{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Kind:        kind,
		Value:       value,
		Details:     details,
		CreatedAt:   now,
	})
}

func (s *State) AppendSessionEvent(now time.Time, sessionID string, st SessionState, details string) {
	s.SessionEvents = append(s.SessionEvents, SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		State:     st,
		Details:   details,
		CreatedAt: now,
	})
}
