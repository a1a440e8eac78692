package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/pagehost/internal/model"
)

type RenewalHistoryStore struct {
	db DB
}

func NewRenewalHistoryStore(db DB) *RenewalHistoryStore {
	return &RenewalHistoryStore{db: db}
}

// Append inserts a history row. Rows are never updated or deleted.
func (s *RenewalHistoryStore) Append(ctx context.Context, r *model.SSLRenewalHistoryRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO ssl_renewal_history
		   (id, domain_id, certificate_type, domain, status, error_message,
		    previous_expires_at, new_expires_at, triggered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.DomainID, r.CertificateType, r.Domain, r.Status, r.ErrorMessage,
		r.PreviousExpiresAt, r.NewExpiresAt, r.TriggeredBy, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append renewal history: %w", err)
	}
	return nil
}

func (s *RenewalHistoryStore) ListRecent(ctx context.Context, limit int) ([]model.SSLRenewalHistoryRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, domain_id, certificate_type, domain, status, error_message,
		        previous_expires_at, new_expires_at, triggered_by, created_at
		 FROM ssl_renewal_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list renewal history: %w", err)
	}
	defer rows.Close()

	var records []model.SSLRenewalHistoryRecord
	for rows.Next() {
		var r model.SSLRenewalHistoryRecord
		if err := rows.Scan(&r.ID, &r.DomainID, &r.CertificateType, &r.Domain, &r.Status,
			&r.ErrorMessage, &r.PreviousExpiresAt, &r.NewExpiresAt, &r.TriggeredBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan renewal history: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate renewal history: %w", err)
	}
	return records, nil
}
