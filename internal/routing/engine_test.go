package routing

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
)

type fakeMappings struct {
	byDomain map[string]*model.DomainMapping
}

func (f *fakeMappings) GetByDomain(ctx context.Context, domain string) (*model.DomainMapping, error) {
	return f.byDomain[domain], nil
}

type fakeTraffic struct {
	weights  []model.TrafficWeight
	rules    []model.TrafficRule
	replaced []model.TrafficWeight
}

func (f *fakeTraffic) Weights(ctx context.Context, domainID string) ([]model.TrafficWeight, error) {
	return f.weights, nil
}

func (f *fakeTraffic) ActiveRules(ctx context.Context, domainID string) ([]model.TrafficRule, error) {
	return f.rules, nil
}

func (f *fakeTraffic) ReplaceWeights(ctx context.Context, domainID string, weights []model.TrafficWeight) error {
	f.replaced = weights
	return nil
}

type fakeAliases struct {
	aliases []string
}

func (f *fakeAliases) List(ctx context.Context, projectID string) ([]string, error) {
	return f.aliases, nil
}

func routedMapping() *model.DomainMapping {
	pid := "proj-1"
	return &model.DomainMapping{
		ID:         "map-1",
		ProjectID:  &pid,
		Alias:      "production",
		Domain:     "example.com",
		DomainType: model.DomainTypeCustom,
		IsActive:   true,
	}
}

func newTestEngine(m *model.DomainMapping, traffic *fakeTraffic, aliases *fakeAliases) *Engine {
	mappings := &fakeMappings{byDomain: map[string]*model.DomainMapping{}}
	if m != nil {
		mappings.byDomain[m.Domain] = m
	}
	if aliases == nil {
		aliases = &fakeAliases{}
	}
	e := NewEngine(zerolog.Nop(), mappings, traffic, aliases)
	rng := rand.New(rand.NewSource(42))
	e.randFloat = rng.Float64
	return e
}

func twoWeights() []model.TrafficWeight {
	return []model.TrafficWeight{
		{ID: "w1", DomainID: "map-1", Alias: "production", Weight: 70},
		{ID: "w2", DomainID: "map-1", Alias: "canary", Weight: 30},
	}
}

func TestSelectVariant_UnknownDomain(t *testing.T) {
	e := newTestEngine(nil, &fakeTraffic{}, nil)

	_, err := e.SelectVariant(context.Background(), Request{Domain: "nope.example.com"})
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestSelectVariant_ResolvesAlternateDomain(t *testing.T) {
	e := newTestEngine(routedMapping(), &fakeTraffic{}, nil)

	sel, err := e.SelectVariant(context.Background(), Request{Domain: "www.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", sel.Mapping.Domain)
}

func TestSelectVariant_NoRoutingNeeded(t *testing.T) {
	e := newTestEngine(routedMapping(), &fakeTraffic{}, nil)

	sel, err := e.SelectVariant(context.Background(), Request{Domain: "example.com"})
	require.NoError(t, err)
	assert.False(t, sel.Routed)
	assert.False(t, sel.NewSelection)
	assert.Equal(t, "production", sel.Alias)
}

func TestSelectVariant_SingleWeightIsNoRouting(t *testing.T) {
	traffic := &fakeTraffic{weights: []model.TrafficWeight{{Alias: "production", Weight: 100}}}
	e := newTestEngine(routedMapping(), traffic, nil)

	sel, err := e.SelectVariant(context.Background(), Request{Domain: "example.com"})
	require.NoError(t, err)
	assert.False(t, sel.Routed)
}

func TestSelectVariant_RuleOverridesStickyAndWeights(t *testing.T) {
	traffic := &fakeTraffic{
		weights: twoWeights(),
		rules: []model.TrafficRule{
			{Alias: "beta", ConditionType: model.RuleConditionQueryParam, ConditionKey: "variant", ConditionValue: "beta", Priority: 1, IsActive: true},
		},
	}
	m := routedMapping()
	m.StickySessionsEnabled = true
	e := newTestEngine(m, traffic, nil)

	sel, err := e.SelectVariant(context.Background(), Request{
		Domain:       "example.com",
		StickyCookie: "production",
		QueryParams:  map[string]string{"variant": "beta"},
	})
	require.NoError(t, err)

	// The rule target need not be in the weight set, and a match always
	// reports a new selection.
	assert.Equal(t, "beta", sel.Alias)
	assert.True(t, sel.NewSelection)
	assert.Equal(t, ReasonRule, sel.Reason)
}

func TestSelectVariant_RulePriorityOrder(t *testing.T) {
	traffic := &fakeTraffic{
		weights: twoWeights(),
		rules: []model.TrafficRule{
			{Alias: "first", ConditionType: model.RuleConditionCookie, ConditionKey: "tier", ConditionValue: "gold", Priority: 1, IsActive: true},
			{Alias: "second", ConditionType: model.RuleConditionCookie, ConditionKey: "tier", ConditionValue: "gold", Priority: 2, IsActive: true},
		},
	}
	e := newTestEngine(routedMapping(), traffic, nil)

	sel, err := e.SelectVariant(context.Background(), Request{
		Domain:  "example.com",
		Cookies: map[string]string{"tier": "gold"},
	})
	require.NoError(t, err)
	assert.Equal(t, "first", sel.Alias)
}

func TestSelectVariant_StickyCookieEchoed(t *testing.T) {
	traffic := &fakeTraffic{weights: twoWeights()}
	m := routedMapping()
	m.StickySessionsEnabled = true
	e := newTestEngine(m, traffic, nil)

	sel, err := e.SelectVariant(context.Background(), Request{Domain: "example.com", StickyCookie: "canary"})
	require.NoError(t, err)

	assert.Equal(t, "canary", sel.Alias)
	assert.False(t, sel.NewSelection)
	assert.Equal(t, ReasonSticky, sel.Reason)
}

func TestSelectVariant_StickyCookieValidAsRuleTarget(t *testing.T) {
	traffic := &fakeTraffic{
		weights: twoWeights(),
		rules: []model.TrafficRule{
			{Alias: "beta", ConditionType: model.RuleConditionQueryParam, ConditionKey: "variant", ConditionValue: "beta", IsActive: true},
		},
	}
	m := routedMapping()
	m.StickySessionsEnabled = true
	e := newTestEngine(m, traffic, nil)

	// Follow-up request lost the query parameter but keeps the cookie set
	// from the earlier rule match.
	sel, err := e.SelectVariant(context.Background(), Request{Domain: "example.com", StickyCookie: "beta"})
	require.NoError(t, err)
	assert.Equal(t, "beta", sel.Alias)
	assert.False(t, sel.NewSelection)
}

func TestSelectVariant_InvalidStickyCookieRedraws(t *testing.T) {
	traffic := &fakeTraffic{weights: twoWeights()}
	m := routedMapping()
	m.StickySessionsEnabled = true
	e := newTestEngine(m, traffic, nil)

	sel, err := e.SelectVariant(context.Background(), Request{Domain: "example.com", StickyCookie: "deleted-alias"})
	require.NoError(t, err)

	assert.True(t, sel.NewSelection)
	assert.Equal(t, ReasonWeighted, sel.Reason)
	assert.Contains(t, []string{"production", "canary"}, sel.Alias)
}

func TestSelectVariant_StickyDisabledIgnoresCookie(t *testing.T) {
	traffic := &fakeTraffic{weights: twoWeights()}
	e := newTestEngine(routedMapping(), traffic, nil)

	sel, err := e.SelectVariant(context.Background(), Request{Domain: "example.com", StickyCookie: "canary"})
	require.NoError(t, err)
	assert.Equal(t, ReasonWeighted, sel.Reason)
}

func TestSelectVariant_WeightedDistribution(t *testing.T) {
	traffic := &fakeTraffic{weights: twoWeights()}
	e := newTestEngine(routedMapping(), traffic, nil)

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		sel, err := e.SelectVariant(context.Background(), Request{Domain: "example.com"})
		require.NoError(t, err)
		counts[sel.Alias]++
	}

	// 70/30 split within a generous statistical tolerance.
	assert.InDelta(t, 7000, counts["production"], 300)
	assert.InDelta(t, 3000, counts["canary"], 300)
}

func TestSetWeights_Valid(t *testing.T) {
	traffic := &fakeTraffic{}
	aliases := &fakeAliases{aliases: []string{"production", "canary"}}
	e := newTestEngine(routedMapping(), traffic, aliases)

	err := e.SetWeights(context.Background(), routedMapping(), []AliasWeight{
		{Alias: "production", Weight: 70},
		{Alias: "canary", Weight: 30},
	})
	require.NoError(t, err)
	require.Len(t, traffic.replaced, 2)
	assert.Equal(t, "map-1", traffic.replaced[0].DomainID)
	assert.NotEmpty(t, traffic.replaced[0].ID)
}

func TestSetWeights_EmptySetClears(t *testing.T) {
	traffic := &fakeTraffic{weights: twoWeights()}
	e := newTestEngine(routedMapping(), traffic, nil)

	err := e.SetWeights(context.Background(), routedMapping(), nil)
	require.NoError(t, err)
	assert.Empty(t, traffic.replaced)
}

func TestSetWeights_SumMustBe100(t *testing.T) {
	e := newTestEngine(routedMapping(), &fakeTraffic{}, &fakeAliases{aliases: []string{"production", "canary"}})

	err := e.SetWeights(context.Background(), routedMapping(), []AliasWeight{
		{Alias: "production", Weight: 70},
		{Alias: "canary", Weight: 20},
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "90")
}

func TestSetWeights_DuplicateAliasNamed(t *testing.T) {
	e := newTestEngine(routedMapping(), &fakeTraffic{}, nil)

	err := e.SetWeights(context.Background(), routedMapping(), []AliasWeight{
		{Alias: "production", Weight: 50},
		{Alias: "production", Weight: 50},
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "production")
}

func TestSetWeights_NegativeWeight(t *testing.T) {
	e := newTestEngine(routedMapping(), &fakeTraffic{}, nil)

	err := e.SetWeights(context.Background(), routedMapping(), []AliasWeight{
		{Alias: "production", Weight: 110},
		{Alias: "canary", Weight: -10},
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestSetWeights_UnknownAliasSuggestsValidSet(t *testing.T) {
	aliases := &fakeAliases{aliases: []string{"production", "canary"}}
	e := newTestEngine(routedMapping(), &fakeTraffic{}, aliases)

	err := e.SetWeights(context.Background(), routedMapping(), []AliasWeight{
		{Alias: "production", Weight: 70},
		{Alias: "stagin", Weight: 30},
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "stagin")
	assert.Contains(t, err.Error(), "canary, production")
}

func TestSetWeights_RedirectDomainRejected(t *testing.T) {
	e := newTestEngine(nil, &fakeTraffic{}, nil)
	m := &model.DomainMapping{ID: "map-r", Domain: "old.example.com", DomainType: model.DomainTypeRedirect}

	err := e.SetWeights(context.Background(), m, []AliasWeight{{Alias: "production", Weight: 100}})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}
