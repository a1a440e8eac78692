package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/pagehost/internal/model"
)

const domainMappingColumns = `id, project_id, alias, path, domain, domain_type, is_active, is_public,
	unauthorized_behavior, required_role, is_primary, is_spa, www_behavior, redirect_target,
	ssl_enabled, ssl_expires_at, dns_verified, dns_verified_at, config_path, auto_renew_ssl,
	ssl_renewed_at, ssl_renewal_status, ssl_renewal_error, sticky_sessions_enabled,
	sticky_session_duration, created_by, created_at, updated_at`

type DomainMappingStore struct {
	db DB
}

func NewDomainMappingStore(db DB) *DomainMappingStore {
	return &DomainMappingStore{db: db}
}

func scanMapping(row pgx.Row) (*model.DomainMapping, error) {
	var m model.DomainMapping
	err := row.Scan(&m.ID, &m.ProjectID, &m.Alias, &m.Path, &m.Domain, &m.DomainType, &m.IsActive,
		&m.IsPublic, &m.UnauthorizedBehavior, &m.RequiredRole, &m.IsPrimary, &m.IsSPA,
		&m.WWWBehavior, &m.RedirectTarget, &m.SSLEnabled, &m.SSLExpiresAt, &m.DNSVerified,
		&m.DNSVerifiedAt, &m.ConfigPath, &m.AutoRenewSSL, &m.SSLRenewedAt, &m.SSLRenewalStatus,
		&m.SSLRenewalError, &m.StickySessionsEnabled, &m.StickySessionDuration, &m.CreatedBy,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *DomainMappingStore) Create(ctx context.Context, m *model.DomainMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
		m.UpdatedAt = m.CreatedAt
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO domain_mappings (`+domainMappingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		         $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
		m.ID, m.ProjectID, m.Alias, m.Path, m.Domain, m.DomainType, m.IsActive, m.IsPublic,
		m.UnauthorizedBehavior, m.RequiredRole, m.IsPrimary, m.IsSPA, m.WWWBehavior,
		m.RedirectTarget, m.SSLEnabled, m.SSLExpiresAt, m.DNSVerified, m.DNSVerifiedAt,
		m.ConfigPath, m.AutoRenewSSL, m.SSLRenewedAt, m.SSLRenewalStatus, m.SSLRenewalError,
		m.StickySessionsEnabled, m.StickySessionDuration, m.CreatedBy, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert domain mapping: %w", err)
	}
	return nil
}

func (s *DomainMappingStore) GetByID(ctx context.Context, id string) (*model.DomainMapping, error) {
	m, err := scanMapping(s.db.QueryRow(ctx,
		`SELECT `+domainMappingColumns+` FROM domain_mappings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get domain mapping %s: %w", id, err)
	}
	return m, nil
}

// GetByDomain returns nil, nil when no mapping exists for the exact domain.
func (s *DomainMappingStore) GetByDomain(ctx context.Context, domain string) (*model.DomainMapping, error) {
	m, err := scanMapping(s.db.QueryRow(ctx,
		`SELECT `+domainMappingColumns+` FROM domain_mappings WHERE domain = $1`, domain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get domain mapping for %s: %w", domain, err)
	}
	return m, nil
}

// GetPrimary returns the single primary mapping, or nil when none exists.
func (s *DomainMappingStore) GetPrimary(ctx context.Context) (*model.DomainMapping, error) {
	m, err := scanMapping(s.db.QueryRow(ctx,
		`SELECT `+domainMappingColumns+` FROM domain_mappings WHERE is_primary = true`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get primary mapping: %w", err)
	}
	return m, nil
}

func (s *DomainMappingStore) list(ctx context.Context, query string, args ...any) ([]model.DomainMapping, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list domain mappings: %w", err)
	}
	defer rows.Close()

	var mappings []model.DomainMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain mappings: %w", err)
	}
	return mappings, nil
}

// ListAll returns every mapping, used by the startup config sweep.
func (s *DomainMappingStore) ListAll(ctx context.Context) ([]model.DomainMapping, error) {
	return s.list(ctx, `SELECT `+domainMappingColumns+` FROM domain_mappings ORDER BY domain`)
}

// ListSubdomains returns all subdomain-type mappings, optionally only those
// without SSL enabled.
func (s *DomainMappingStore) ListSubdomains(ctx context.Context, withoutSSLOnly bool) ([]model.DomainMapping, error) {
	q := `SELECT ` + domainMappingColumns + ` FROM domain_mappings WHERE domain_type = $1`
	if withoutSSLOnly {
		q += ` AND ssl_enabled = false`
	}
	q += ` ORDER BY domain`
	return s.list(ctx, q, model.DomainTypeSubdomain)
}

// ListRenewable returns active custom mappings with SSL enabled and
// auto-renew turned on, the population scanned by the renewal scheduler.
func (s *DomainMappingStore) ListRenewable(ctx context.Context) ([]model.DomainMapping, error) {
	return s.list(ctx,
		`SELECT `+domainMappingColumns+` FROM domain_mappings
		 WHERE domain_type = $1 AND is_active = true AND ssl_enabled = true AND auto_renew_ssl = true
		 ORDER BY domain`, model.DomainTypeCustom)
}

func (s *DomainMappingStore) Update(ctx context.Context, m *model.DomainMapping) error {
	_, err := s.db.Exec(ctx,
		`UPDATE domain_mappings SET
		   alias = $1, path = $2, is_active = $3, is_public = $4, unauthorized_behavior = $5,
		   required_role = $6, is_spa = $7, www_behavior = $8, redirect_target = $9,
		   ssl_enabled = $10, ssl_expires_at = $11, dns_verified = $12, dns_verified_at = $13,
		   config_path = $14, auto_renew_ssl = $15, ssl_renewed_at = $16, ssl_renewal_status = $17,
		   ssl_renewal_error = $18, sticky_sessions_enabled = $19, sticky_session_duration = $20,
		   updated_at = now()
		 WHERE id = $21`,
		m.Alias, m.Path, m.IsActive, m.IsPublic, m.UnauthorizedBehavior, m.RequiredRole,
		m.IsSPA, m.WWWBehavior, m.RedirectTarget, m.SSLEnabled, m.SSLExpiresAt, m.DNSVerified,
		m.DNSVerifiedAt, m.ConfigPath, m.AutoRenewSSL, m.SSLRenewedAt, m.SSLRenewalStatus,
		m.SSLRenewalError, m.StickySessionsEnabled, m.StickySessionDuration, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update domain mapping %s: %w", m.ID, err)
	}
	return nil
}

func (s *DomainMappingStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM domain_mappings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete domain mapping %s: %w", id, err)
	}
	return nil
}

// SetSSLState updates only the SSL columns of a mapping.
func (s *DomainMappingStore) SetSSLState(ctx context.Context, id string, enabled bool, expiresAt *time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE domain_mappings SET ssl_enabled = $1, ssl_expires_at = $2, updated_at = now() WHERE id = $3`,
		enabled, expiresAt, id)
	if err != nil {
		return fmt.Errorf("set ssl state for mapping %s: %w", id, err)
	}
	return nil
}
