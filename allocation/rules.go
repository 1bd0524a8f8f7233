/*
Package allocation credits employees with their role's monthly point
entitlement.

PURPOSE:
  Two components live here:
  - RoleTable: the per-role entitlement rules (how many points a role
    earns per monthly period). Mutable by HR; a change takes effect only
    for future allocation runs because the engine reads the table at run
    time.
  - Engine: the once-per-period batch that credits every active employee
    through the point ledger (engine.go).

SEE ALSO:
  - engine.go: RunAllocation and the idempotency guard
  - points/ledger.go: The only mutation path the engine uses
*/
package allocation

import (
	"context"
	"time"

	"github.com/warp/incentive-engine/points"
)

// =============================================================================
// ROLE ALLOCATION RULES
// =============================================================================

type RoleID string

// Rule is the monthly point entitlement for one organizational role.
type Rule struct {
	RoleID     RoleID
	PointValue int64
	UpdatedAt  time.Time
}

// RuleStore persists role entitlement rules.
type RuleStore interface {
	SaveRoleRule(ctx context.Context, rule Rule) error
	GetRoleRule(ctx context.Context, roleID RoleID) (*Rule, error)
	ListRoleRules(ctx context.Context) ([]Rule, error)
}

// RoleTable validates and serves role entitlement rules.
type RoleTable struct {
	Store RuleStore
}

func NewRoleTable(store RuleStore) *RoleTable {
	return &RoleTable{Store: store}
}

// Upsert creates or replaces the rule for a role. A zero entitlement is an
// explicit "no allocation for this role"; negative values are rejected.
func (t *RoleTable) Upsert(ctx context.Context, roleID RoleID, pointValue int64) (Rule, error) {
	if roleID == "" {
		return Rule{}, &points.InvalidValueError{Reason: "role id is required"}
	}
	if pointValue < 0 {
		return Rule{}, &points.InvalidValueError{Reason: "role entitlement must be non-negative"}
	}

	rule := Rule{RoleID: roleID, PointValue: pointValue, UpdatedAt: time.Now().UTC()}
	if err := t.Store.SaveRoleRule(ctx, rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// Get returns the rule for a role, or NotFoundError if none is configured.
func (t *RoleTable) Get(ctx context.Context, roleID RoleID) (Rule, error) {
	rule, err := t.Store.GetRoleRule(ctx, roleID)
	if err != nil {
		return Rule{}, err
	}
	if rule == nil {
		return Rule{}, &points.NotFoundError{Kind: "rule", ID: string(roleID)}
	}
	return *rule, nil
}

// List returns all configured rules.
func (t *RoleTable) List(ctx context.Context) ([]Rule, error) {
	return t.Store.ListRoleRules(ctx)
}
