package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/devplane-io/devplane/internal/dbx"
	"github.com/devplane-io/devplane/internal/server/migrations"
	"github.com/devplane-io/devplane/internal/server/state"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresBacking is the normalized-row backing: one table per collection,
// each row (key, position, payload). Save performs a minimal diff against
// the previous snapshot: unchanged rows (same key, same position, same
// serialized payload) emit no SQL; moved or changed rows are upserted; rows
// no longer present are deleted. The explicit position column preserves
// array order through the table round trip.
type PostgresBacking struct {
	db *sql.DB
}

func NewPostgresBacking(db *sql.DB) *PostgresBacking {
	return &PostgresBacking{db: db}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func (p *PostgresBacking) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, p.db, ".")
}

func (p *PostgresBacking) Load(ctx context.Context) (*state.State, error) {
	return p.LoadCollections(ctx, state.Collections)
}

func (p *PostgresBacking) LoadCollections(ctx context.Context, names []string) (*state.State, error) {
	s := state.New()
	for _, name := range names {
		c, err := collectionByName(name)
		if err != nil {
			return nil, err
		}
		payloads, err := p.loadRows(ctx, c.table)
		if err != nil {
			return nil, err
		}
		if err := c.decode(s, payloads); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return s, nil
}

func (p *PostgresBacking) loadRows(ctx context.Context, table string) ([][]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY position`, table)
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		payloads = append(payloads, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return payloads, nil
}

func (p *PostgresBacking) Save(ctx context.Context, next, prev *state.State) error {
	return p.SaveCollections(ctx, next, prev, state.Collections)
}

func (p *PostgresBacking) SaveCollections(ctx context.Context, next, prev *state.State, names []string) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, name := range names {
			c, err := collectionByName(name)
			if err != nil {
				return err
			}
			if err := saveCollection(ctx, tx, c, next, prev); err != nil {
				return fmt.Errorf("save %s: %w", name, err)
			}
		}
		return nil
	})
}

type prevRow struct {
	pos     int
	payload string
}

func saveCollection(ctx context.Context, tx dbx.DBTX, c collection, next, prev *state.State) error {
	nextRows, err := c.encode(next)
	if err != nil {
		return err
	}
	prevRows, err := c.encode(prev)
	if err != nil {
		return err
	}

	prevIndex := make(map[string]prevRow, len(prevRows))
	for i, r := range prevRows {
		prevIndex[r.key] = prevRow{pos: i, payload: string(r.payload)}
	}

	upsert := fmt.Sprintf(
		`INSERT INTO %s (key, position, payload)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET position = EXCLUDED.position, payload = EXCLUDED.payload`,
		c.table)
	del := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, c.table)

	seen := make(map[string]struct{}, len(nextRows))
	for i, r := range nextRows {
		if _, dup := seen[r.key]; dup {
			return fmt.Errorf("duplicate key %q", r.key)
		}
		seen[r.key] = struct{}{}

		if old, ok := prevIndex[r.key]; ok && old.pos == i && old.payload == string(r.payload) {
			continue // unchanged row, no SQL
		}
		if _, err := tx.ExecContext(ctx, upsert, r.key, i, r.payload); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}

	for _, r := range prevRows {
		if _, ok := seen[r.key]; !ok {
			if _, err := tx.ExecContext(ctx, del, r.key); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
	}
	return nil
}

// --- collection registry ---

type row struct {
	key     string
	payload []byte
}

type collection struct {
	name   string
	table  string
	encode func(*state.State) ([]row, error)
	decode func(*state.State, [][]byte) error
}

func coll[T any](name string, slice func(*state.State) *[]T, key func(T) string) collection {
	return collection{
		name:  name,
		table: name,
		encode: func(s *state.State) ([]row, error) {
			items := *slice(s)
			rows := make([]row, len(items))
			for i, it := range items {
				b, err := json.Marshal(it)
				if err != nil {
					return nil, err
				}
				rows[i] = row{key: key(it), payload: b}
			}
			return rows, nil
		},
		decode: func(s *state.State, payloads [][]byte) error {
			out := make([]T, len(payloads))
			for i, p := range payloads {
				if err := json.Unmarshal(p, &out[i]); err != nil {
					return err
				}
			}
			*slice(s) = out
			return nil
		},
	}
}

var collections = []collection{
	coll(state.CollUsers, func(s *state.State) *[]state.User { return &s.Users },
		func(v state.User) string { return v.ID }),
	coll(state.CollWorkspaces, func(s *state.State) *[]state.Workspace { return &s.Workspaces },
		func(v state.Workspace) string { return v.ID }),
	coll(state.CollMemberships, func(s *state.State) *[]state.Membership { return &s.Memberships },
		func(v state.Membership) string { return v.WorkspaceID + "/" + v.UserID }),
	coll(state.CollInvites, func(s *state.State) *[]state.Invite { return &s.Invites },
		func(v state.Invite) string { return v.ID }),
	coll(state.CollAuthTokens, func(s *state.State) *[]state.AuthToken { return &s.AuthTokens },
		func(v state.AuthToken) string { return v.ID }),
	coll(state.CollDeviceCodes, func(s *state.State) *[]state.DeviceCode { return &s.DeviceCodes },
		func(v state.DeviceCode) string { return v.Code }),
	coll(state.CollRecoveryCodes, func(s *state.State) *[]state.RecoveryCode { return &s.RecoveryCodes },
		func(v state.RecoveryCode) string { return v.ID }),
	coll(state.CollTemplates, func(s *state.State) *[]state.Template { return &s.Templates },
		func(v state.Template) string { return v.ID }),
	coll(state.CollTemplateVersions, func(s *state.State) *[]state.TemplateVersion { return &s.TemplateVersions },
		func(v state.TemplateVersion) string { return v.ID }),
	coll(state.CollTemplateBuilds, func(s *state.State) *[]state.TemplateBuild { return &s.TemplateBuilds },
		func(v state.TemplateBuild) string { return v.ID }),
	coll(state.CollBindingReleases, func(s *state.State) *[]state.BindingRelease { return &s.BindingReleases },
		func(v state.BindingRelease) string { return v.ID }),
	coll(state.CollSessions, func(s *state.State) *[]state.Session { return &s.Sessions },
		func(v state.Session) string { return v.ID }),
	coll(state.CollSessionEvents, func(s *state.State) *[]state.SessionEvent { return &s.SessionEvents },
		func(v state.SessionEvent) string { return v.ID }),
	coll(state.CollSnapshots, func(s *state.State) *[]state.Snapshot { return &s.Snapshots },
		func(v state.Snapshot) string { return v.ID }),
	coll(state.CollUploadGrants, func(s *state.State) *[]state.UploadGrant { return &s.UploadGrants },
		func(v state.UploadGrant) string { return v.ID }),
	coll(state.CollUsageEvents, func(s *state.State) *[]state.UsageEvent { return &s.UsageEvents },
		func(v state.UsageEvent) string { return v.ID }),
	coll(state.CollAuditLogs, func(s *state.State) *[]state.AuditLog { return &s.AuditLogs },
		func(v state.AuditLog) string { return v.ID }),
}

func collectionByName(name string) (collection, error) {
	for _, c := range collections {
		if c.name == name {
			return c, nil
		}
	}
	return collection{}, fmt.Errorf("unknown collection %q", name)
}
