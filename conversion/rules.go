/*
Package conversion turns accumulated points into currency through a
request/approval workflow.

PURPOSE:
  Two components live here:
  - RuleTable: the tiered point-to-currency exchange rates. A tier maps a
    point threshold to a currency payout; the payout for a request is
    applied proportionally from the best applicable tier.
  - Workflow: the pending -> approved|rejected state machine for employee
    redemption requests (workflow.go).

TIER SELECTION:
  A tier applies to a request when its threshold is at most the points
  requested. Among applicable active tiers the BEST one wins: the highest
  money-per-point rate, ties broken by the larger threshold. The payout is
  proportional:

    moneyOffered = pointRequested / tier.pointValue * tier.moneyValue

MONEY:
  Payouts use decimal.Decimal. Currency never touches floats.

SEE ALSO:
  - workflow.go: Request lifecycle
  - points/ledger.go: The redeem debit on approval
*/
package conversion

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/incentive-engine/points"
)

// =============================================================================
// CONVERSION RULES (TIERS)
// =============================================================================

type RuleID string

// Rule is one conversion tier.
type Rule struct {
	ID         RuleID
	PointValue int64
	MoneyValue decimal.Decimal
	IsActive   bool
	UpdatedAt  time.Time
}

// Rate returns the money paid per point at this tier.
func (r Rule) Rate() decimal.Decimal {
	return r.MoneyValue.Div(decimal.NewFromInt(r.PointValue))
}

// InvalidTierError reports rejected conversion rule data.
type InvalidTierError struct {
	Reason string
}

func (e *InvalidTierError) Error() string {
	return "invalid conversion tier: " + e.Reason
}

func (e *InvalidTierError) Unwrap() error { return points.ErrInvalidTier }

// RuleStore persists conversion tiers.
type RuleStore interface {
	SaveConversionRule(ctx context.Context, rule Rule) error
	GetConversionRule(ctx context.Context, id RuleID) (*Rule, error)
	ListConversionRules(ctx context.Context) ([]Rule, error)
}

// RuleTable validates and serves conversion tiers.
type RuleTable struct {
	Store RuleStore
}

func NewRuleTable(store RuleStore) *RuleTable {
	return &RuleTable{Store: store}
}

// Upsert creates or replaces a tier. Fails with InvalidTierError if the
// threshold or the payout is not positive.
func (t *RuleTable) Upsert(ctx context.Context, rule Rule) (Rule, error) {
	if rule.ID == "" {
		return Rule{}, &InvalidTierError{Reason: "rule id is required"}
	}
	if rule.PointValue <= 0 {
		return Rule{}, &InvalidTierError{Reason: "point threshold must be positive"}
	}
	if !rule.MoneyValue.IsPositive() {
		return Rule{}, &InvalidTierError{Reason: "money value must be positive"}
	}

	rule.UpdatedAt = time.Now().UTC()
	if err := t.Store.SaveConversionRule(ctx, rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// Get returns a tier by id, or NotFoundError.
func (t *RuleTable) Get(ctx context.Context, id RuleID) (Rule, error) {
	rule, err := t.Store.GetConversionRule(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if rule == nil {
		return Rule{}, &points.NotFoundError{Kind: "rule", ID: string(id)}
	}
	return *rule, nil
}

// List returns all tiers, active or not, sorted ascending by threshold.
func (t *RuleTable) List(ctx context.Context) ([]Rule, error) {
	rules, err := t.Store.ListConversionRules(ctx)
	if err != nil {
		return nil, err
	}
	sortByThreshold(rules)
	return rules, nil
}

// ActiveRules returns the active tiers sorted ascending by threshold.
// An empty result is valid: no conversion is currently offered.
func (t *RuleTable) ActiveRules(ctx context.Context) ([]Rule, error) {
	rules, err := t.Store.ListConversionRules(ctx)
	if err != nil {
		return nil, err
	}
	active := rules[:0:0]
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sortByThreshold(active)
	return active, nil
}

func sortByThreshold(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].PointValue < rules[j].PointValue
	})
}

// =============================================================================
// TIER SELECTION
// =============================================================================

// BestRule picks the most favorable active tier applicable to the requested
// points: the highest money-per-point rate among tiers whose threshold is at
// most pointRequested, ties broken by the larger threshold. Returns nil when
// no tier applies.
func BestRule(rules []Rule, pointRequested int64) *Rule {
	var best *Rule
	for i := range rules {
		r := &rules[i]
		if !r.IsActive || r.PointValue > pointRequested {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		switch r.Rate().Cmp(best.Rate()) {
		case 1:
			best = r
		case 0:
			if r.PointValue > best.PointValue {
				best = r
			}
		}
	}
	return best
}

// Offer computes the proportional payout for pointRequested at the tier.
func (r Rule) Offer(pointRequested int64) decimal.Decimal {
	return decimal.NewFromInt(pointRequested).
		Div(decimal.NewFromInt(r.PointValue)).
		Mul(r.MoneyValue)
}
