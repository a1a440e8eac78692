package model

import "time"

// Redirect types map directly to HTTP status codes.
const (
	RedirectTypePermanent = 301
	RedirectTypeTemporary = 302
)

// DomainRedirect points an entire source domain at an existing mapping's domain.
type DomainRedirect struct {
	ID             string    `json:"id" db:"id"`
	SourceDomain   string    `json:"source_domain" db:"source_domain"`
	TargetDomainID string    `json:"target_domain_id" db:"target_domain_id"`
	RedirectType   int       `json:"redirect_type" db:"redirect_type"`
	SSLEnabled     bool      `json:"ssl_enabled" db:"ssl_enabled"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	ConfigPath     *string   `json:"config_path,omitempty" db:"config_path"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PathRedirect rewrites a path on a mapped domain. SourcePath may end in "/*"
// for wildcard capture substituted into TargetPath's "$1".
type PathRedirect struct {
	ID              string    `json:"id" db:"id"`
	DomainMappingID string    `json:"domain_mapping_id" db:"domain_mapping_id"`
	SourcePath      string    `json:"source_path" db:"source_path"`
	TargetPath      string    `json:"target_path" db:"target_path"`
	RedirectType    int       `json:"redirect_type" db:"redirect_type"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	Priority        string    `json:"priority" db:"priority"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
