package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

type TrafficStore struct {
	db DB
}

func NewTrafficStore(db DB) *TrafficStore {
	return &TrafficStore{db: db}
}

// Weights returns the weight set for a domain in insertion order. The order
// matters: the weighted draw subtracts weights in list order.
func (s *TrafficStore) Weights(ctx context.Context, domainID string) ([]model.TrafficWeight, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, domain_id, alias, weight, created_at, updated_at
		 FROM traffic_weights WHERE domain_id = $1 ORDER BY created_at, id`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list traffic weights for %s: %w", domainID, err)
	}
	defer rows.Close()

	var weights []model.TrafficWeight
	for rows.Next() {
		var w model.TrafficWeight
		if err := rows.Scan(&w.ID, &w.DomainID, &w.Alias, &w.Weight, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan traffic weight: %w", err)
		}
		weights = append(weights, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traffic weights: %w", err)
	}
	return weights, nil
}

// ReplaceWeights swaps the whole weight set for a domain. Validation happens
// in the routing engine before this is called.
func (s *TrafficStore) ReplaceWeights(ctx context.Context, domainID string, weights []model.TrafficWeight) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM traffic_weights WHERE domain_id = $1`, domainID); err != nil {
		return fmt.Errorf("clear traffic weights for %s: %w", domainID, err)
	}
	now := time.Now()
	for _, w := range weights {
		_, err := s.db.Exec(ctx,
			`INSERT INTO traffic_weights (id, domain_id, alias, weight, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			platform.NewID(), domainID, w.Alias, w.Weight, now, now)
		if err != nil {
			return fmt.Errorf("insert traffic weight %s: %w", w.Alias, err)
		}
	}
	return nil
}

// ActiveRules returns the active rules for a domain in ascending priority,
// the order they are evaluated in.
func (s *TrafficStore) ActiveRules(ctx context.Context, domainID string) ([]model.TrafficRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, domain_id, alias, condition_type, condition_key, condition_value, priority,
		        is_active, label, created_at, updated_at
		 FROM traffic_rules WHERE domain_id = $1 AND is_active = true
		 ORDER BY priority ASC, created_at ASC`, domainID)
	if err != nil {
		return nil, fmt.Errorf("list traffic rules for %s: %w", domainID, err)
	}
	defer rows.Close()

	var rules []model.TrafficRule
	for rows.Next() {
		var r model.TrafficRule
		if err := rows.Scan(&r.ID, &r.DomainID, &r.Alias, &r.ConditionType, &r.ConditionKey,
			&r.ConditionValue, &r.Priority, &r.IsActive, &r.Label, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan traffic rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traffic rules: %w", err)
	}
	return rules, nil
}
