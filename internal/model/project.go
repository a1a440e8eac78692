package model

import "time"

// Project is the slice of the external project registry this core consumes.
type Project struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	IsPublic         bool      `json:"is_public" db:"is_public"`
	CustomDomainsOn  bool      `json:"custom_domains_on" db:"custom_domains_on"`
	DefaultAlias     string    `json:"default_alias" db:"default_alias"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// DeploymentAlias resolves {project, alias} to deployed content.
type DeploymentAlias struct {
	ProjectID      string  `json:"project_id"`
	Alias          string  `json:"alias"`
	CommitSHA      string  `json:"commit_sha"`
	IsPreview      bool    `json:"is_preview"`
	ProxyRuleSetID *string `json:"proxy_rule_set_id,omitempty"`
}

// ProxyRule is one entry of a proxy-rule set, ordered by position.
type ProxyRule struct {
	PathPattern   string  `json:"path_pattern"`
	TargetURL     string  `json:"target_url"`
	StripPrefix   bool    `json:"strip_prefix"`
	TimeoutMs     int     `json:"timeout_ms"`
	AuthTransform *string `json:"auth_transform,omitempty"`
}
