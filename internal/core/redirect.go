package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// RedirectService orchestrates standalone domain redirects with the same
// provision-or-roll-back semantics as domain mappings.
type RedirectService struct {
	logger    zerolog.Logger
	validate  *validator.Validate
	redirects RedirectStore
	mappings  MappingStore
	configs   *ConfigManager
	edge      EdgeNotifier
}

func NewRedirectService(logger zerolog.Logger, redirects RedirectStore, mappings MappingStore, configs *ConfigManager, edge EdgeNotifier) *RedirectService {
	return &RedirectService{
		logger:    logger.With().Str("component", "redirects").Logger(),
		validate:  validator.New(),
		redirects: redirects,
		mappings:  mappings,
		configs:   configs,
		edge:      edge,
	}
}

// CreateRedirectInput is the validated payload for Create.
type CreateRedirectInput struct {
	SourceDomain   string `json:"source_domain" validate:"required,fqdn"`
	TargetDomainID string `json:"target_domain_id" validate:"required"`
	RedirectType   int    `json:"redirect_type" validate:"required,oneof=301 302"`
}

// Create validates, persists and provisions a domain redirect; a failed
// apply deletes the row again.
func (s *RedirectService) Create(ctx context.Context, in CreateRedirectInput) (*model.DomainRedirect, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errs.Validation("invalid redirect input: %v", err)
	}
	source := strings.ToLower(strings.TrimSpace(in.SourceDomain))

	target, err := s.mappings.GetByID(ctx, in.TargetDomainID)
	if err != nil {
		return nil, fmt.Errorf("load target mapping: %w", err)
	}
	if target == nil {
		return nil, errs.Validation("target domain mapping %s does not exist", in.TargetDomainID)
	}
	if target.Domain == source {
		return nil, errs.Validation("redirect source must differ from its target")
	}

	if existing, err := s.redirects.GetBySourceDomain(ctx, source); err != nil {
		return nil, fmt.Errorf("check redirect uniqueness: %w", err)
	} else if existing != nil {
		return nil, errs.Conflict("a redirect from %s already exists", source)
	}
	if mapped, err := s.mappings.GetByDomain(ctx, source); err != nil {
		return nil, fmt.Errorf("check source domain: %w", err)
	} else if mapped != nil {
		return nil, errs.Conflict("%s is already a mapped domain", source)
	}

	r := &model.DomainRedirect{
		ID:             platform.NewID(),
		SourceDomain:   source,
		TargetDomainID: target.ID,
		RedirectType:   in.RedirectType,
		IsActive:       true,
	}
	configPath := s.configs.RedirectConfigPath(r.ID)
	r.ConfigPath = &configPath

	if err := s.redirects.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("insert redirect: %w", err)
	}

	if err := s.configs.ApplyRedirect(r, target.Domain); err != nil {
		if delErr := s.redirects.Delete(ctx, r.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("source", source).Msg("rollback delete failed")
		}
		return nil, errs.Conflict("failed to provision config for redirect %s: %v", source, err)
	}

	if err := s.edge.AddDomain(ctx, source); err != nil {
		s.logger.Warn().Err(err).Str("source", source).Msg("edge add notification failed")
	}

	s.logger.Info().Str("source", source).Str("target", target.Domain).Msg("domain redirect created")
	return r, nil
}

// Remove deletes the redirect row first, then best-effort cleans its config
// and notifies the edge.
func (s *RedirectService) Remove(ctx context.Context, sourceDomain string) error {
	r, err := s.redirects.GetBySourceDomain(ctx, sourceDomain)
	if err != nil {
		return fmt.Errorf("load redirect: %w", err)
	}
	if r == nil {
		return errs.NotFound("no redirect from %s", sourceDomain)
	}

	if err := s.redirects.Delete(ctx, r.ID); err != nil {
		return fmt.Errorf("delete redirect: %w", err)
	}
	if err := s.configs.RemoveRedirect(r); err != nil {
		s.logger.Warn().Err(err).Str("source", r.SourceDomain).Msg("failed to remove config")
	}
	if err := s.edge.RemoveDomain(ctx, r.SourceDomain); err != nil {
		s.logger.Warn().Err(err).Str("source", r.SourceDomain).Msg("edge remove notification failed")
	}

	s.logger.Info().Str("source", r.SourceDomain).Msg("domain redirect removed")
	return nil
}
