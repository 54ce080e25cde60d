// Package ledger exposes read access to the append-only usage and audit
// streams. Writes happen inside the mutating operations themselves, in the
// same transaction as the mutation they describe.
package ledger

import (
	"context"

	"github.com/devplane-io/devplane/internal/clock"
	"github.com/devplane-io/devplane/internal/server/identity"
	"github.com/devplane-io/devplane/internal/server/state"
	"github.com/devplane-io/devplane/internal/server/store"
)

type Service struct {
	st    *store.Store
	clock clock.Clock
}

func NewService(st *store.Store, clk clock.Clock) *Service {
	return &Service{st: st, clock: clk}
}

// UsageSummary aggregates one workspace's usage events per kind.
type UsageSummary struct {
	WorkspaceID string           `json:"workspaceId"`
	Totals      map[string]int64 `json:"totals"`
	Events      int              `json:"events"`
}

// GetUsage is a linear scan over the event stream, filtered by the
// caller's workspace and optionally one kind, aggregated per call. Simple
// on purpose: the write path stays a bare append.
func (svc *Service) GetUsage(ctx context.Context, token, kind string) (*UsageSummary, error) {
	var out UsageSummary
	err := svc.st.Transact(ctx, func(s *state.State) error {
		p, err := identity.ResolvePrincipal(s, svc.clock.Now(), token)
		if err != nil {
			return err
		}
		out.WorkspaceID = p.Workspace.ID
		out.Totals = make(map[string]int64)
		for _, ev := range s.UsageEvents {
			if ev.WorkspaceID != p.Workspace.ID {
				continue
			}
			if kind != "" && ev.Kind != kind {
				continue
			}
			out.Totals[ev.Kind] += ev.Value
			out.Events++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAudit returns the workspace's audit trail, oldest first. Requires
// admin; the trail names other members' actions. A non-positive limit
// returns everything.
func (svc *Service) ListAudit(ctx context.Context, token string, limit int) ([]state.AuditLog, error) {
	var out []state.AuditLog
	err := svc.st.Transact(ctx, func(s *state.State) error {
		p, err := identity.ResolvePrincipal(s, svc.clock.Now(), token)
		if err != nil {
			return err
		}
		if err := p.Require(state.RoleAdmin); err != nil {
			return err
		}
		for _, entry := range s.AuditLogs {
			if entry.WorkspaceID == p.Workspace.ID {
				out = append(out, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
