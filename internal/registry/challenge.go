package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/pagehost/internal/model"
)

const challengeColumns = `id, base_domain, record_name, record_values, token, order_state,
	status, expires_at, created_at, updated_at`

type ChallengeStore struct {
	db DB
}

func NewChallengeStore(db DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

func (s *ChallengeStore) Create(ctx context.Context, c *model.SSLChallenge) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
		c.UpdatedAt = c.CreatedAt
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO ssl_challenges (`+challengeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.BaseDomain, c.RecordName, c.RecordValues, c.Token, c.OrderState,
		c.Status, c.ExpiresAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ssl challenge: %w", err)
	}
	return nil
}

// GetByBaseDomain returns nil, nil when no challenge exists for the base domain.
func (s *ChallengeStore) GetByBaseDomain(ctx context.Context, baseDomain string) (*model.SSLChallenge, error) {
	var c model.SSLChallenge
	err := s.db.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM ssl_challenges WHERE base_domain = $1`, baseDomain,
	).Scan(&c.ID, &c.BaseDomain, &c.RecordName, &c.RecordValues, &c.Token, &c.OrderState,
		&c.Status, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ssl challenge for %s: %w", baseDomain, err)
	}
	return &c, nil
}

func (s *ChallengeStore) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE ssl_challenges SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set ssl challenge %s status: %w", id, err)
	}
	return nil
}

func (s *ChallengeStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM ssl_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ssl challenge %s: %w", id, err)
	}
	return nil
}
