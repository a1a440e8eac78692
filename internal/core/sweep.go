package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/nginx"
)

// OrphanSweeper removes managed config files outside the expected set.
// *nginx.Coordinator satisfies it.
type OrphanSweeper interface {
	CleanOrphaned(expected map[string]bool) ([]string, error)
}

// MappingLister enumerates all mapping rows for the sweep.
type MappingLister interface {
	ListAll(ctx context.Context) ([]model.DomainMapping, error)
}

// RedirectLister enumerates all redirect rows for the sweep.
type RedirectLister interface {
	ListAll(ctx context.Context) ([]model.DomainRedirect, error)
}

// SweepOrphanedConfigs removes domain and redirect configs whose registry
// rows no longer exist, reconciling the sites directory with the registry
// at startup. Returns the removed filenames.
func SweepOrphanedConfigs(ctx context.Context, logger zerolog.Logger,
	mappings MappingLister, redirects RedirectLister, sweeper OrphanSweeper) ([]string, error) {
	ms, err := mappings.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list domain mappings: %w", err)
	}
	rs, err := redirects.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list domain redirects: %w", err)
	}

	expected := make(map[string]bool, len(ms)+len(rs))
	for _, m := range ms {
		expected[nginx.DomainConfigName(m.ID)] = true
	}
	for _, r := range rs {
		expected[nginx.RedirectConfigName(r.ID)] = true
	}

	removed, err := sweeper.CleanOrphaned(expected)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		logger.Info().Strs("files", removed).Msg("removed orphaned configs")
	}
	return removed, nil
}
