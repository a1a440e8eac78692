package registry

import (
	"context"
	"fmt"

	"github.com/edvin/pagehost/internal/model"
)

type PathRedirectStore struct {
	db DB
}

func NewPathRedirectStore(db DB) *PathRedirectStore {
	return &PathRedirectStore{db: db}
}

// ListActive returns the active path redirects for a mapping ordered by
// ascending numeric priority. Priority is stored as a numeric string; the
// cast keeps "10" sorting after "2".
func (s *PathRedirectStore) ListActive(ctx context.Context, domainMappingID string) ([]model.PathRedirect, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, domain_mapping_id, source_path, target_path, redirect_type, is_active, priority,
		        created_at, updated_at
		 FROM path_redirects
		 WHERE domain_mapping_id = $1 AND is_active = true
		 ORDER BY priority::numeric ASC`, domainMappingID)
	if err != nil {
		return nil, fmt.Errorf("list path redirects for %s: %w", domainMappingID, err)
	}
	defer rows.Close()

	var redirects []model.PathRedirect
	for rows.Next() {
		var p model.PathRedirect
		if err := rows.Scan(&p.ID, &p.DomainMappingID, &p.SourcePath, &p.TargetPath,
			&p.RedirectType, &p.IsActive, &p.Priority, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan path redirect: %w", err)
		}
		redirects = append(redirects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate path redirects: %w", err)
	}
	return redirects, nil
}
