package model

import "time"

// Domain types.
const (
	DomainTypeSubdomain = "subdomain"
	DomainTypeCustom    = "custom"
	DomainTypeRedirect  = "redirect"
)

// WWW behaviors for a www/apex pair. One mapping governs both forms.
const (
	WWWBehaviorRedirectToWWW  = "redirect-to-www"
	WWWBehaviorRedirectToRoot = "redirect-to-root"
	WWWBehaviorServeBoth      = "serve-both"
)

// SSL renewal statuses stored on a mapping.
const (
	SSLRenewalStatusSuccess = "success"
	SSLRenewalStatusFailed  = "failed"
)

type DomainMapping struct {
	ID                    string     `json:"id" db:"id"`
	ProjectID             *string    `json:"project_id,omitempty" db:"project_id"`
	Alias                 string     `json:"alias" db:"alias"`
	Path                  string     `json:"path" db:"path"`
	Domain                string     `json:"domain" db:"domain"`
	DomainType            string     `json:"domain_type" db:"domain_type"`
	IsActive              bool       `json:"is_active" db:"is_active"`
	IsPublic              *bool      `json:"is_public,omitempty" db:"is_public"`
	UnauthorizedBehavior  string     `json:"unauthorized_behavior" db:"unauthorized_behavior"`
	RequiredRole          *string    `json:"required_role,omitempty" db:"required_role"`
	IsPrimary             bool       `json:"is_primary" db:"is_primary"`
	IsSPA                 bool       `json:"is_spa" db:"is_spa"`
	WWWBehavior           *string    `json:"www_behavior,omitempty" db:"www_behavior"`
	RedirectTarget        *string    `json:"redirect_target,omitempty" db:"redirect_target"`
	SSLEnabled            bool       `json:"ssl_enabled" db:"ssl_enabled"`
	SSLExpiresAt          *time.Time `json:"ssl_expires_at,omitempty" db:"ssl_expires_at"`
	DNSVerified           bool       `json:"dns_verified" db:"dns_verified"`
	DNSVerifiedAt         *time.Time `json:"dns_verified_at,omitempty" db:"dns_verified_at"`
	ConfigPath            *string    `json:"config_path,omitempty" db:"config_path"`
	AutoRenewSSL          bool       `json:"auto_renew_ssl" db:"auto_renew_ssl"`
	SSLRenewedAt          *time.Time `json:"ssl_renewed_at,omitempty" db:"ssl_renewed_at"`
	SSLRenewalStatus      *string    `json:"ssl_renewal_status,omitempty" db:"ssl_renewal_status"`
	SSLRenewalError       *string    `json:"ssl_renewal_error,omitempty" db:"ssl_renewal_error"`
	StickySessionsEnabled bool       `json:"sticky_sessions_enabled" db:"sticky_sessions_enabled"`
	StickySessionDuration int        `json:"sticky_session_duration" db:"sticky_session_duration"`
	CreatedBy             *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// WWWBehaviorOrDefault returns the stored behavior or "" when unset.
func (m *DomainMapping) WWWBehaviorOrDefault() string {
	if m.WWWBehavior == nil {
		return ""
	}
	return *m.WWWBehavior
}

// Public reports the effective visibility; nil means inherit from the project.
func (m *DomainMapping) Public() bool {
	return m.IsPublic != nil && *m.IsPublic
}
