package conversion_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incentive-engine/conversion"
	"github.com/warp/incentive-engine/points"
	"github.com/warp/incentive-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRuleTable(t *testing.T) *conversion.RuleTable {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return conversion.NewRuleTable(store)
}

func tier(id string, pointValue int64, moneyValue int64, active bool) conversion.Rule {
	return conversion.Rule{
		ID:         conversion.RuleID(id),
		PointValue: pointValue,
		MoneyValue: decimal.NewFromInt(moneyValue),
		IsActive:   active,
	}
}

// =============================================================================
// TIER VALIDATION TESTS
// =============================================================================

func TestRuleTable_Upsert_RejectsInvalidTiers(t *testing.T) {
	table := newTestRuleTable(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rule conversion.Rule
	}{
		{"empty id", tier("", 100, 20000, true)},
		{"zero points", tier("t1", 0, 20000, true)},
		{"negative points", tier("t1", -100, 20000, true)},
		{"zero money", tier("t1", 100, 0, true)},
		{"negative money", tier("t1", 100, -500, true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Upsert(ctx, tt.rule)
			assert.Error(t, err)

			var tierErr *conversion.InvalidTierError
			assert.ErrorAs(t, err, &tierErr)
			assert.ErrorIs(t, err, points.ErrInvalidTier)
		})
	}
}

func TestRuleTable_ActiveRules_FiltersAndSorts(t *testing.T) {
	table := newTestRuleTable(t)
	ctx := context.Background()

	for _, r := range []conversion.Rule{
		tier("gold", 500, 120000, true),
		tier("bronze", 100, 20000, true),
		tier("retired", 200, 50000, false),
		tier("silver", 300, 70000, true),
	} {
		_, err := table.Upsert(ctx, r)
		require.NoError(t, err)
	}

	active, err := table.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, conversion.RuleID("bronze"), active[0].ID)
	assert.Equal(t, conversion.RuleID("silver"), active[1].ID)
	assert.Equal(t, conversion.RuleID("gold"), active[2].ID)
}

func TestRuleTable_ActiveRules_EmptyTableIsValid(t *testing.T) {
	table := newTestRuleTable(t)

	active, err := table.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRuleTable_Get_Missing_NotFound(t *testing.T) {
	table := newTestRuleTable(t)

	_, err := table.Get(context.Background(), "nonexistent")
	assert.True(t, points.IsNotFound(err))
}

// =============================================================================
// RULE SELECTION TESTS
// =============================================================================

func TestBestRule_PicksHighestRateAtOrBelowRequest(t *testing.T) {
	// bronze: 200 per point, silver: ~233 per point, gold: 240 per point
	rules := []conversion.Rule{
		tier("bronze", 100, 20000, true),
		tier("silver", 300, 70000, true),
		tier("gold", 500, 120000, true),
	}

	tests := []struct {
		requested int64
		want      conversion.RuleID
	}{
		{100, "bronze"},
		{250, "bronze"},
		{300, "silver"},
		{499, "silver"},
		{500, "gold"},
		{10000, "gold"},
	}

	for _, tt := range tests {
		best := conversion.BestRule(rules, tt.requested)
		require.NotNil(t, best, "requested %d", tt.requested)
		assert.Equal(t, tt.want, best.ID, "requested %d", tt.requested)
	}
}

func TestBestRule_NoTierAtOrBelowRequest_Nil(t *testing.T) {
	rules := []conversion.Rule{tier("gold", 500, 120000, true)}

	assert.Nil(t, conversion.BestRule(rules, 499))
	assert.Nil(t, conversion.BestRule(nil, 100))
}

func TestBestRule_IgnoresInactiveTiers(t *testing.T) {
	rules := []conversion.Rule{
		tier("bronze", 100, 20000, true),
		tier("gold", 500, 150000, false),
	}

	best := conversion.BestRule(rules, 600)
	require.NotNil(t, best)
	assert.Equal(t, conversion.RuleID("bronze"), best.ID)
}

func TestBestRule_EqualRates_LargerThresholdWins(t *testing.T) {
	// Both tiers pay 200 per point; the larger commitment wins the tie.
	rules := []conversion.Rule{
		tier("small", 100, 20000, true),
		tier("large", 400, 80000, true),
	}

	best := conversion.BestRule(rules, 500)
	require.NotNil(t, best)
	assert.Equal(t, conversion.RuleID("large"), best.ID)
}

// =============================================================================
// OFFER CALCULATION TESTS
// =============================================================================

func TestRule_Offer_ScalesProportionally(t *testing.T) {
	// 100 points -> 20000, so 300 points -> 60000
	r := tier("bronze", 100, 20000, true)

	offer := r.Offer(300)
	assert.True(t, offer.Equal(decimal.NewFromInt(60000)), "got %s", offer)
}

func TestRule_Offer_FractionalRequest(t *testing.T) {
	// 150 points against a 100-point tier pays out 1.5x
	r := tier("bronze", 100, 20000, true)

	offer := r.Offer(150)
	assert.True(t, offer.Equal(decimal.NewFromInt(30000)), "got %s", offer)
}

func TestRule_Rate(t *testing.T) {
	r := tier("silver", 300, 70000, true)

	want := decimal.NewFromInt(70000).Div(decimal.NewFromInt(300))
	assert.True(t, r.Rate().Equal(want))
}
