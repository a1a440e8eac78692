package routing

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// MappingSource resolves a domain to its mapping.
type MappingSource interface {
	GetByDomain(ctx context.Context, domain string) (*model.DomainMapping, error)
}

// TrafficSource reads and writes the weight/rule tables.
type TrafficSource interface {
	Weights(ctx context.Context, domainID string) ([]model.TrafficWeight, error)
	ActiveRules(ctx context.Context, domainID string) ([]model.TrafficRule, error)
	ReplaceWeights(ctx context.Context, domainID string, weights []model.TrafficWeight) error
}

// AliasSource lists a project's real deployment aliases.
type AliasSource interface {
	List(ctx context.Context, projectID string) ([]string, error)
}

// Request carries the signals a selection can depend on.
type Request struct {
	Domain       string
	StickyCookie string
	QueryParams  map[string]string
	Cookies      map[string]string
}

// Selection reasons.
const (
	ReasonRule     = "rule"
	ReasonSticky   = "sticky"
	ReasonWeighted = "weighted"
)

// Selection is the outcome of one routing decision. Routed is false when the
// domain has no routing configured (zero or one weight entries); Alias then
// holds the mapping's own alias. NewSelection tells the caller whether to
// set a fresh sticky cookie.
type Selection struct {
	Mapping      *model.DomainMapping `json:"-"`
	Alias        string               `json:"alias"`
	Routed       bool                 `json:"routed"`
	NewSelection bool                 `json:"new_selection"`
	Reason       string               `json:"reason,omitempty"`
}

// Engine decides which deployment alias serves a request. It is read-only
// and stateless per call.
type Engine struct {
	logger    zerolog.Logger
	mappings  MappingSource
	traffic   TrafficSource
	aliases   AliasSource
	randFloat func() float64
}

func NewEngine(logger zerolog.Logger, mappings MappingSource, traffic TrafficSource, aliases AliasSource) *Engine {
	return &Engine{
		logger:    logger.With().Str("component", "routing").Logger(),
		mappings:  mappings,
		traffic:   traffic,
		aliases:   aliases,
		randFloat: rand.Float64,
	}
}

// SelectVariant picks the alias for a request: rules first, then a valid
// sticky cookie, then a weighted random draw.
func (e *Engine) SelectVariant(ctx context.Context, req Request) (*Selection, error) {
	m, err := e.resolveMapping(ctx, req.Domain)
	if err != nil {
		return nil, err
	}

	if m.DomainType == model.DomainTypeRedirect {
		return &Selection{Mapping: m, Alias: m.Alias}, nil
	}

	weights, err := e.traffic.Weights(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	if len(weights) <= 1 {
		return &Selection{Mapping: m, Alias: m.Alias}, nil
	}

	rules, err := e.traffic.ActiveRules(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	// Rules win over everything, including a conflicting sticky cookie, and
	// may force an alias absent from the weight set.
	for _, rule := range rules {
		if ruleMatches(rule, req) {
			return &Selection{Mapping: m, Alias: rule.Alias, Routed: true, NewSelection: true, Reason: ReasonRule}, nil
		}
	}

	// A sticky cookie is honored when it names a weight-set alias or a
	// current rule target, so follow-up requests that lost the original
	// query parameter keep their variant.
	if m.StickySessionsEnabled && req.StickyCookie != "" {
		if aliasInWeights(req.StickyCookie, weights) || aliasInRuleTargets(req.StickyCookie, rules) {
			return &Selection{Mapping: m, Alias: req.StickyCookie, Routed: true, Reason: ReasonSticky}, nil
		}
	}

	return &Selection{Mapping: m, Alias: e.draw(weights), Routed: true, NewSelection: true, Reason: ReasonWeighted}, nil
}

// AliasWeight is one entry of a weight-set replacement.
type AliasWeight struct {
	Alias  string `json:"alias" validate:"required"`
	Weight int    `json:"weight" validate:"min=0"`
}

// SetWeights replaces a domain's weight set after validating it: empty, or
// summing to exactly 100 over unique non-negative aliases that all exist in
// the project's deployment-alias registry.
func (e *Engine) SetWeights(ctx context.Context, m *model.DomainMapping, weights []AliasWeight) error {
	if m.DomainType == model.DomainTypeRedirect {
		return errs.Validation("redirect domains cannot carry traffic weights")
	}

	if len(weights) > 0 {
		sum := 0
		seen := make(map[string]bool, len(weights))
		for _, w := range weights {
			if w.Weight < 0 {
				return errs.Validation("weight for alias %q must not be negative", w.Alias)
			}
			if seen[w.Alias] {
				return errs.Validation("alias %q appears more than once", w.Alias)
			}
			seen[w.Alias] = true
			sum += w.Weight
		}
		if sum != 100 {
			return errs.Validation("weights must sum to exactly 100, got %d", sum)
		}

		if m.ProjectID == nil {
			return errs.Validation("mapping %s has no project", m.Domain)
		}
		known, err := e.aliases.List(ctx, *m.ProjectID)
		if err != nil {
			return fmt.Errorf("list deployment aliases: %w", err)
		}
		knownSet := make(map[string]bool, len(known))
		for _, a := range known {
			knownSet[a] = true
		}
		sort.Strings(known)
		for _, w := range weights {
			if !knownSet[w.Alias] {
				return errs.Validation("alias %q does not exist for this project, valid aliases: %s",
					w.Alias, strings.Join(known, ", "))
			}
		}
	}

	rows := make([]model.TrafficWeight, 0, len(weights))
	for _, w := range weights {
		rows = append(rows, model.TrafficWeight{
			ID:       platform.NewID(),
			DomainID: m.ID,
			Alias:    w.Alias,
			Weight:   w.Weight,
		})
	}
	if err := e.traffic.ReplaceWeights(ctx, m.ID, rows); err != nil {
		return fmt.Errorf("replace weights: %w", err)
	}

	e.logger.Info().Str("domain", m.Domain).Int("entries", len(rows)).Msg("traffic weights replaced")
	return nil
}

func (e *Engine) resolveMapping(ctx context.Context, domain string) (*model.DomainMapping, error) {
	m, err := e.mappings.GetByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("resolve mapping: %w", err)
	}
	if m == nil {
		if alt := platform.AlternateDomain(domain); alt != "" {
			m, err = e.mappings.GetByDomain(ctx, alt)
			if err != nil {
				return nil, fmt.Errorf("resolve alternate mapping: %w", err)
			}
		}
	}
	if m == nil {
		return nil, errs.NotFound("no mapping for domain %s", domain)
	}
	return m, nil
}

// draw picks an alias by subtracting weights in list order from a uniform
// draw over their sum. The last alias is the deterministic fallback.
func (e *Engine) draw(weights []model.TrafficWeight) string {
	total := 0
	for _, w := range weights {
		total += w.Weight
	}
	r := e.randFloat() * float64(total)
	for _, w := range weights {
		r -= float64(w.Weight)
		if r <= 0 {
			return w.Alias
		}
	}
	return weights[len(weights)-1].Alias
}

func ruleMatches(rule model.TrafficRule, req Request) bool {
	switch rule.ConditionType {
	case model.RuleConditionQueryParam:
		return req.QueryParams[rule.ConditionKey] == rule.ConditionValue
	case model.RuleConditionCookie:
		return req.Cookies[rule.ConditionKey] == rule.ConditionValue
	default:
		return false
	}
}

func aliasInWeights(alias string, weights []model.TrafficWeight) bool {
	for _, w := range weights {
		if w.Alias == alias {
			return true
		}
	}
	return false
}

func aliasInRuleTargets(alias string, rules []model.TrafficRule) bool {
	for _, r := range rules {
		if r.Alias == alias {
			return true
		}
	}
	return false
}
