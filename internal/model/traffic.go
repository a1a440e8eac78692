package model

import "time"

// TrafficWeight assigns a share of unruled traffic to a deployment alias.
// The set for a domain is either empty or sums to exactly 100.
type TrafficWeight struct {
	ID        string    `json:"id" db:"id"`
	DomainID  string    `json:"domain_id" db:"domain_id"`
	Alias     string    `json:"alias" db:"alias"`
	Weight    int       `json:"weight" db:"weight"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Traffic rule condition types.
const (
	RuleConditionQueryParam = "query_param"
	RuleConditionCookie     = "cookie"
)

// TrafficRule forces a deployment alias when a request signal matches.
// Rules are evaluated in ascending priority; first exact match wins.
type TrafficRule struct {
	ID             string    `json:"id" db:"id"`
	DomainID       string    `json:"domain_id" db:"domain_id"`
	Alias          string    `json:"alias" db:"alias"`
	ConditionType  string    `json:"condition_type" db:"condition_type"`
	ConditionKey   string    `json:"condition_key" db:"condition_key"`
	ConditionValue string    `json:"condition_value" db:"condition_value"`
	Priority       int       `json:"priority" db:"priority"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	Label          *string   `json:"label,omitempty" db:"label"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
