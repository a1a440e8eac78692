package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/pagehost/internal/model"
)

const domainRedirectColumns = `id, source_domain, target_domain_id, redirect_type, ssl_enabled,
	is_active, config_path, created_at, updated_at`

type DomainRedirectStore struct {
	db DB
}

func NewDomainRedirectStore(db DB) *DomainRedirectStore {
	return &DomainRedirectStore{db: db}
}

func scanRedirect(row pgx.Row) (*model.DomainRedirect, error) {
	var r model.DomainRedirect
	err := row.Scan(&r.ID, &r.SourceDomain, &r.TargetDomainID, &r.RedirectType, &r.SSLEnabled,
		&r.IsActive, &r.ConfigPath, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *DomainRedirectStore) Create(ctx context.Context, r *model.DomainRedirect) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
		r.UpdatedAt = r.CreatedAt
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO domain_redirects (`+domainRedirectColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.SourceDomain, r.TargetDomainID, r.RedirectType, r.SSLEnabled,
		r.IsActive, r.ConfigPath, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert domain redirect: %w", err)
	}
	return nil
}

func (s *DomainRedirectStore) GetBySourceDomain(ctx context.Context, sourceDomain string) (*model.DomainRedirect, error) {
	r, err := scanRedirect(s.db.QueryRow(ctx,
		`SELECT `+domainRedirectColumns+` FROM domain_redirects WHERE source_domain = $1`, sourceDomain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get domain redirect for %s: %w", sourceDomain, err)
	}
	return r, nil
}

func (s *DomainRedirectStore) ListByTarget(ctx context.Context, targetDomainID string) ([]model.DomainRedirect, error) {
	return s.list(ctx,
		`SELECT `+domainRedirectColumns+` FROM domain_redirects WHERE target_domain_id = $1 ORDER BY source_domain`,
		targetDomainID)
}

// ListAll returns every redirect, used by the startup config sweep.
func (s *DomainRedirectStore) ListAll(ctx context.Context) ([]model.DomainRedirect, error) {
	return s.list(ctx, `SELECT `+domainRedirectColumns+` FROM domain_redirects ORDER BY source_domain`)
}

func (s *DomainRedirectStore) list(ctx context.Context, query string, args ...any) ([]model.DomainRedirect, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list domain redirects: %w", err)
	}
	defer rows.Close()

	var redirects []model.DomainRedirect
	for rows.Next() {
		r, err := scanRedirect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain redirect: %w", err)
		}
		redirects = append(redirects, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain redirects: %w", err)
	}
	return redirects, nil
}

func (s *DomainRedirectStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM domain_redirects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete domain redirect %s: %w", id, err)
	}
	return nil
}
