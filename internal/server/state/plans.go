package state

// Plan is a workspace's billing plan; each plan governs the workspace
// quotas below.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// PlanLimits are the quota ceilings a plan grants.
type PlanLimits struct {
	MaxTemplates       int
	MaxRunningSessions int
}

// planLimits is the fixed quota table. Deliberately constants, not
// configuration.
var planLimits = map[Plan]PlanLimits{
	PlanFree:       {MaxTemplates: 3, MaxRunningSessions: 1},
	PlanPro:        {MaxTemplates: 20, MaxRunningSessions: 5},
	PlanEnterprise: {MaxTemplates: 200, MaxRunningSessions: 50},
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

// Limits returns the effective quota ceilings for a workspace: the plan
// defaults with any positive per-workspace overrides applied.
func (w Workspace) Limits() PlanLimits {
	l, ok := planLimits[w.Plan]
	if !ok {
		l = planLimits[PlanFree]
	}
	if w.Overrides.MaxTemplates > 0 {
		l.MaxTemplates = w.Overrides.MaxTemplates
	}
	if w.Overrides.MaxRunningSessions > 0 {
		l.MaxRunningSessions = w.Overrides.MaxRunningSessions
	}
	return l
}
