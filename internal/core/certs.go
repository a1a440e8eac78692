package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// HistorySink records renewal attempts. *registry.RenewalHistoryStore
// satisfies it.
type HistorySink interface {
	Append(ctx context.Context, r *model.SSLRenewalHistoryRecord) error
}

// CertificateService issues individual certificates for custom and redirect
// domains.
type CertificateService struct {
	logger    zerolog.Logger
	authority acme.Authority
	mappings  MappingStore
	history   HistorySink
	configs   *ConfigManager
}

func NewCertificateService(logger zerolog.Logger, authority acme.Authority, mappings MappingStore, history HistorySink, configs *ConfigManager) *CertificateService {
	return &CertificateService{
		logger:    logger.With().Str("component", "certs").Logger(),
		authority: authority,
		mappings:  mappings,
		history:   history,
		configs:   configs,
	}
}

// RequestSSL obtains a certificate for a verified custom or redirect domain
// via HTTP-01, enables SSL on the mapping, regenerates its config, and
// records the outcome in renewal history.
func (s *CertificateService) RequestSSL(ctx context.Context, id string) (*acme.IssuedCert, error) {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load domain mapping: %w", err)
	}
	if m == nil {
		return nil, errs.NotFound("domain mapping %s not found", id)
	}
	if m.DomainType == model.DomainTypeSubdomain {
		return nil, errs.Validation("%s is covered by the wildcard certificate", m.Domain)
	}
	if !m.DNSVerified {
		return nil, errs.Validation("domain %s is not DNS-verified yet", m.Domain)
	}

	// The www/apex alternate rides along as a SAN when the mapping governs
	// both forms.
	alternate := ""
	if m.WWWBehavior != nil {
		alternate = platform.AlternateDomain(m.Domain)
	}

	issued, err := s.authority.IssueDomain(ctx, m.Domain, alternate)
	if err != nil {
		s.record(ctx, m, model.RenewalStatusFailed, nil, err)
		return nil, err
	}

	if err := s.mappings.SetSSLState(ctx, m.ID, true, &issued.ExpiresAt); err != nil {
		return nil, fmt.Errorf("enable SSL: %w", err)
	}
	m.SSLEnabled = true
	m.SSLExpiresAt = &issued.ExpiresAt
	if err := s.configs.ApplyMapping(ctx, m); err != nil {
		s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to regenerate config with SSL")
	}

	s.record(ctx, m, model.RenewalStatusSuccess, &issued.ExpiresAt, nil)
	s.logger.Info().Str("domain", m.Domain).Time("expires_at", issued.ExpiresAt).Msg("certificate issued")
	return issued, nil
}

func (s *CertificateService) record(ctx context.Context, m *model.DomainMapping, status string, newExpiry *time.Time, cause error) {
	rec := &model.SSLRenewalHistoryRecord{
		ID:                platform.NewID(),
		DomainID:          &m.ID,
		CertificateType:   model.CertTypeIndividual,
		Domain:            m.Domain,
		Status:            status,
		PreviousExpiresAt: m.SSLExpiresAt,
		NewExpiresAt:      newExpiry,
		TriggeredBy:       model.RenewalTriggerManual,
	}
	if cause != nil {
		msg := cause.Error()
		rec.ErrorMessage = &msg
	}
	if err := s.history.Append(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to append renewal history")
	}
}
