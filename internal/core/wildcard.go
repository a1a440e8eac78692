package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/errs"
)

// WildcardService drives the wildcard certificate lifecycle and the SSL
// cascades it triggers across subdomain mappings.
type WildcardService struct {
	logger     zerolog.Logger
	baseDomain string
	sslRoot    string
	authority  acme.Authority
	mappings   MappingStore
	configs    *ConfigManager
}

func NewWildcardService(logger zerolog.Logger, baseDomain, sslRoot string, authority acme.Authority, mappings MappingStore, configs *ConfigManager) *WildcardService {
	return &WildcardService{
		logger:     logger.With().Str("component", "wildcard").Logger(),
		baseDomain: baseDomain,
		sslRoot:    sslRoot,
		authority:  authority,
		mappings:   mappings,
		configs:    configs,
	}
}

// Start opens (or returns the existing) DNS-01 challenge for the platform's
// wildcard.
func (s *WildcardService) Start(ctx context.Context) (*acme.WildcardStart, error) {
	return s.authority.StartWildcard(ctx, s.baseDomain)
}

// Complete finalizes the pending challenge. On issuance, every subdomain
// currently without SSL gets it enabled and its config regenerated,
// irrespective of individual auto-renew settings.
func (s *WildcardService) Complete(ctx context.Context) (*acme.IssuedCert, error) {
	issued, err := s.authority.CompleteWildcard(ctx, s.baseDomain)
	if err != nil {
		return nil, err
	}

	subs, err := s.mappings.ListSubdomains(ctx, true)
	if err != nil {
		return issued, fmt.Errorf("list subdomains for SSL cascade: %w", err)
	}
	for i := range subs {
		m := &subs[i]
		if err := s.mappings.SetSSLState(ctx, m.ID, true, &issued.ExpiresAt); err != nil {
			s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to enable SSL")
			continue
		}
		m.SSLEnabled = true
		m.SSLExpiresAt = &issued.ExpiresAt
		if err := s.configs.ApplyMapping(ctx, m); err != nil {
			s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to regenerate config with SSL")
		}
	}

	s.logger.Info().Int("subdomains", len(subs)).Msg("wildcard issued, SSL cascade applied")
	return issued, nil
}

// Cancel abandons the pending challenge.
func (s *WildcardService) Cancel(ctx context.Context) error {
	return s.authority.CancelWildcard(ctx, s.baseDomain)
}

// Propagation checks whether the challenge's TXT records are visible.
func (s *WildcardService) Propagation(ctx context.Context) (*acme.Propagation, error) {
	return s.authority.CheckDNSPropagation(ctx, s.baseDomain)
}

// Inspect summarizes the wildcard certificate on disk.
func (s *WildcardService) Inspect() (*acme.CertInfo, error) {
	info, err := acme.InspectFile(s.certPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.NotFound("no wildcard certificate for %s", s.baseDomain)
		}
		return nil, err
	}
	return info, nil
}

// DeleteCert removes the wildcard pair and disables SSL on every subdomain,
// regenerating their configs without it.
func (s *WildcardService) DeleteCert(ctx context.Context) error {
	for _, path := range []string{s.certPath(), s.keyPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	subs, err := s.mappings.ListSubdomains(ctx, false)
	if err != nil {
		return fmt.Errorf("list subdomains for SSL cascade: %w", err)
	}
	for i := range subs {
		m := &subs[i]
		if !m.SSLEnabled {
			continue
		}
		if err := s.mappings.SetSSLState(ctx, m.ID, false, nil); err != nil {
			s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to disable SSL")
			continue
		}
		m.SSLEnabled = false
		m.SSLExpiresAt = nil
		if err := s.configs.ApplyMapping(ctx, m); err != nil {
			s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to regenerate config without SSL")
		}
	}

	s.logger.Info().Int("subdomains", len(subs)).Msg("wildcard deleted, SSL disabled")
	return nil
}

func (s *WildcardService) certPath() string {
	return filepath.Join(s.sslRoot, "wildcard."+s.baseDomain+".crt")
}

func (s *WildcardService) keyPath() string {
	return filepath.Join(s.sslRoot, "wildcard."+s.baseDomain+".key")
}
