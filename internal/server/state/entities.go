// Package state defines the entity collections owned by the state store:
// one coherent document that every domain transaction reads, mutates as a
// draft, and commits. Collection order is semantically meaningful and must
// survive persistence round trips.
package state

import "time"

// Role of a workspace membership. Ordered: viewer < member < admin < owner.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// TokenKind distinguishes how an auth token may be used.
type TokenKind string

const (
	TokenBrowser TokenKind = "browser"
	TokenAPI     TokenKind = "api"
	TokenRuntime TokenKind = "runtime"
)

// InviteStatus of a workspace invite.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
)

// DeviceCodeStatus moves forward only: pending -> approved -> exchanged.
type DeviceCodeStatus string

const (
	DevicePending   DeviceCodeStatus = "pending"
	DeviceApproved  DeviceCodeStatus = "approved"
	DeviceExchanged DeviceCodeStatus = "exchanged"
)

// VersionStatus of a template version.
type VersionStatus string

const (
	VersionQueued   VersionStatus = "queued"
	VersionBuilding VersionStatus = "building"
	VersionReady    VersionStatus = "ready"
	VersionFailed   VersionStatus = "failed"
)

// BuildStatus of a template build. DeadLettered is terminal except via
// bulk retry.
type BuildStatus string

const (
	BuildQueued       BuildStatus = "queued"
	BuildBuilding     BuildStatus = "building"
	BuildRetrying     BuildStatus = "retrying"
	BuildSucceeded    BuildStatus = "succeeded"
	BuildFailed       BuildStatus = "failed"
	BuildDeadLettered BuildStatus = "dead_lettered"
)

// SessionState of a session. Deleted is terminal.
type SessionState string

const (
	SessionCreated  SessionState = "created"
	SessionStarting SessionState = "starting"
	SessionRunning  SessionState = "running"
	SessionStopping SessionState = "stopping"
	SessionSleeping SessionState = "sleeping"
	SessionDeleted  SessionState = "deleted"
)

// GrantTarget identifies what an upload grant writes to.
type GrantTarget string

const (
	GrantBundle   GrantTarget = "bundle"
	GrantSnapshot GrantTarget = "snapshot"
)

type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	Name                string    `json:"name"`
	PasskeyCredentialID string    `json:"passkeyCredentialId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// QuotaOverrides holds per-workspace quota values; zero means "use the plan
// default".
type QuotaOverrides struct {
	MaxTemplates       int `json:"maxTemplates,omitempty"`
	MaxRunningSessions int `json:"maxRunningSessions,omitempty"`
}

type Workspace struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	OwnerUserID string         `json:"ownerUserId"`
	Plan        Plan           `json:"plan"`
	Overrides   QuotaOverrides `json:"quotaOverrides"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Membership grants a user a role in a workspace. (workspaceId, userId) is
// the composite key; exactly one owner membership exists per workspace.
type Membership struct {
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Invite struct {
	ID               string       `json:"id"`
	WorkspaceID      string       `json:"workspaceId"`
	Code             string       `json:"code"`
	Email            string       `json:"email"`
	Role             Role         `json:"role"`
	Status           InviteStatus `json:"status"`
	AcceptedByUserID string       `json:"acceptedByUserId,omitempty"`
	ExpiresAt        time.Time    `json:"expiresAt"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// AuthToken is valid while it is neither revoked nor expired. Runtime
// tokens are bound to exactly one session.
type AuthToken struct {
	ID            string    `json:"id"`
	Token         string    `json:"token"`
	UserID        string    `json:"userId"`
	WorkspaceID   string    `json:"workspaceId"`
	Kind          TokenKind `json:"kind"`
	SessionID     string    `json:"sessionId,omitempty"`
	AuthSessionID string    `json:"authSessionId"`
	ExpiresAt     time.Time `json:"expiresAt"`
	RevokedAt     time.Time `json:"revokedAt,omitzero"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ValidAt reports whether the token is usable at instant now.
func (t AuthToken) ValidAt(now time.Time) bool {
	return t.RevokedAt.IsZero() && now.Before(t.ExpiresAt)
}

type DeviceCode struct {
	Code        string           `json:"code"`
	UserID      string           `json:"userId,omitempty"`
	WorkspaceID string           `json:"workspaceId,omitempty"`
	Status      DeviceCodeStatus `json:"status"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// RecoveryCode stores only the bcrypt hash of a one-time login secret.
type RecoveryCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Hash      []byte    `json:"hash"`
	UsedAt    time.Time `json:"usedAt,omitzero"`
	CreatedAt time.Time `json:"createdAt"`
}

type Template struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspaceId"`
	Name            string    `json:"name"`
	ActiveVersionID string    `json:"activeVersionId,omitempty"`
	ArchivedAt      time.Time `json:"archivedAt,omitzero"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Manifest describes the environment a template version builds into.
type Manifest struct {
	Image    string            `json:"image"`
	Features []string          `json:"features,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// Clone deep-copies the manifest so a caller can hold it outside a
// transaction.
func (m Manifest) Clone() Manifest {
	out := Manifest{Image: m.Image}
	if m.Features != nil {
		out.Features = append([]string(nil), m.Features...)
	}
	if m.Env != nil {
		out.Env = make(map[string]string, len(m.Env))
		for k, v := range m.Env {
			out.Env[k] = v
		}
	}
	return out
}

type TemplateVersion struct {
	ID          string        `json:"id"`
	TemplateID  string        `json:"templateId"`
	Version     string        `json:"version"`
	Status      VersionStatus `json:"status"`
	Manifest    Manifest      `json:"manifest"`
	Attempts    int           `json:"attempts"`
	BundleBytes int64         `json:"bundleBytes,omitempty"`
	BuiltAt     time.Time     `json:"builtAt,omitzero"`
	CreatedAt   time.Time     `json:"createdAt"`
}

type TemplateBuild struct {
	ID                string      `json:"id"`
	TemplateVersionID string      `json:"templateVersionId"`
	Status            BuildStatus `json:"status"`
	Attempts          int         `json:"attempts"`
	LastError         string      `json:"lastError,omitempty"`
	StartedAt         time.Time   `json:"startedAt,omitzero"`
	FinishedAt        time.Time   `json:"finishedAt,omitzero"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// BindingRelease is the immutable record of a promotion.
type BindingRelease struct {
	ID                string    `json:"id"`
	WorkspaceID       string    `json:"workspaceId"`
	TemplateID        string    `json:"templateId"`
	TemplateVersionID string    `json:"templateVersionId"`
	CreatedAt         time.Time `json:"createdAt"`
}

type Session struct {
	ID                     string       `json:"id"`
	WorkspaceID            string       `json:"workspaceId"`
	TemplateID             string       `json:"templateId"`
	Name                   string       `json:"name"`
	State                  SessionState `json:"state"`
	LastStartedAt          time.Time    `json:"lastStartedAt,omitzero"`
	LastStoppedAt          time.Time    `json:"lastStoppedAt,omitzero"`
	LastRestoredSnapshotID string       `json:"lastRestoredSnapshotId,omitempty"`
	CreatedAt              time.Time    `json:"createdAt"`
}

type SessionEvent struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	State     SessionState `json:"state"`
	Details   string       `json:"details,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

type Snapshot struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Label     string    `json:"label"`
	Bytes     int64     `json:"bytes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UploadGrant is a single-use capability: consuming it sets UsedAt and any
// later consume attempt is rejected.
type UploadGrant struct {
	ID          string      `json:"id"`
	Target      GrantTarget `json:"target"`
	TargetID    string      `json:"targetId"`
	ContentType string      `json:"contentType"`
	MaxBytes    int64       `json:"maxBytes,omitempty"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	UsedAt      time.Time   `json:"usedAt,omitzero"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type UsageEvent struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Kind        string    `json:"kind"`
	Value       int64     `json:"value"`
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AuditLog struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	ActorUserID string    `json:"actorUserId,omitempty"`
	Action      string    `json:"action"`
	TargetType  string    `json:"targetType"`
	TargetID    string    `json:"targetId"`
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
