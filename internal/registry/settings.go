package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

type SettingsStore struct {
	db DB
}

func NewSettingsStore(db DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the stored value, or fallback when the key is absent.
func (s *SettingsStore) Get(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM ssl_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fallback, nil
		}
		return "", fmt.Errorf("get ssl setting %s: %w", key, err)
	}
	return value, nil
}

// GetInt parses the stored value as an integer, falling back on absence or
// a malformed value.
func (s *SettingsStore) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	value, err := s.Get(ctx, key, strconv.Itoa(fallback))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// GetBool parses the stored value as a boolean, falling back on absence or
// a malformed value.
func (s *SettingsStore) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	value, err := s.Get(ctx, key, strconv.FormatBool(fallback))
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, nil
	}
	return b, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ssl_settings (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set ssl setting %s: %w", key, err)
	}
	return nil
}
