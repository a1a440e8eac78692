package core

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// reservedSubdomains cannot be claimed by tenants.
var reservedSubdomains = map[string]bool{
	"www": true, "api": true, "admin": true, "mail": true, "smtp": true,
	"ftp": true, "ns1": true, "ns2": true, "cdn": true, "status": true,
}

// DomainServiceParams bundles the collaborators DomainService orchestrates.
type DomainServiceParams struct {
	Logger     zerolog.Logger
	BaseDomain string
	PlatformIP string
	SSLRoot    string
	EdgeMode   bool
	Mappings   MappingStore
	Redirects  RedirectSource
	Projects   ProjectSource
	Aliases    AliasSource
	Configs    *ConfigManager
	Edge       EdgeNotifier
	Resolver   HostResolver
}

// DomainService orchestrates domain mapping lifecycle: validation, registry
// persistence, config generation and apply, and edge notification, with
// compensating rollback when initial provisioning fails.
type DomainService struct {
	logger     zerolog.Logger
	validate   *validator.Validate
	baseDomain string
	platformIP string
	sslRoot    string
	edgeMode   bool
	mappings   MappingStore
	redirects  RedirectSource
	projects   ProjectSource
	aliases    AliasSource
	configs    *ConfigManager
	edge       EdgeNotifier
	resolver   HostResolver

	// healthCheck probes a domain's well-known health path; replaced in
	// tests.
	healthCheck func(ctx context.Context, domain string) error
}

func NewDomainService(p DomainServiceParams) *DomainService {
	s := &DomainService{
		logger:     p.Logger.With().Str("component", "domains").Logger(),
		validate:   validator.New(),
		baseDomain: p.BaseDomain,
		platformIP: p.PlatformIP,
		sslRoot:    p.SSLRoot,
		edgeMode:   p.EdgeMode,
		mappings:   p.Mappings,
		redirects:  p.Redirects,
		projects:   p.Projects,
		aliases:    p.Aliases,
		configs:    p.Configs,
		edge:       p.Edge,
		resolver:   p.Resolver,
	}
	s.healthCheck = s.probeHealth
	return s
}

// CreateDomainInput is the validated payload for Create.
type CreateDomainInput struct {
	ProjectID      string `json:"project_id"`
	Alias          string `json:"alias"`
	Path           string `json:"path"`
	Domain         string `json:"domain" validate:"required,fqdn"`
	DomainType     string `json:"domain_type" validate:"required,oneof=subdomain custom redirect"`
	RedirectTarget string `json:"redirect_target" validate:"omitempty,fqdn"`
	WWWBehavior    string `json:"www_behavior" validate:"omitempty,oneof=redirect-to-www redirect-to-root serve-both"`
	IsPrimary      bool   `json:"is_primary"`
	IsSPA          bool   `json:"is_spa"`
	CreatedBy      string `json:"created_by"`
}

// Create validates, persists and provisions a new domain mapping. If config
// generation or apply fails, the just-inserted row is deleted again and a
// conflict is raised: a mapping must never exist in the registry without a
// working config.
func (s *DomainService) Create(ctx context.Context, in CreateDomainInput) (*model.DomainMapping, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errs.Validation("invalid domain input: %v", err)
	}
	domain := strings.ToLower(strings.TrimSpace(in.Domain))

	var project *model.Project
	if in.DomainType == model.DomainTypeRedirect {
		target := strings.ToLower(strings.TrimSpace(in.RedirectTarget))
		if target == "" {
			return nil, errs.Validation("redirect domains require a redirect target")
		}
		if target == domain {
			return nil, errs.Validation("redirect target must differ from the domain itself")
		}
		in.RedirectTarget = target
	} else {
		if in.RedirectTarget != "" {
			return nil, errs.Validation("redirect target is only valid for redirect domains")
		}
		if in.ProjectID == "" {
			return nil, errs.Validation("%s domains require a project", in.DomainType)
		}
		var err error
		project, err = s.projects.GetByID(ctx, in.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("load project: %w", err)
		}
		if project == nil {
			return nil, errs.Validation("project %s does not exist", in.ProjectID)
		}
		if in.DomainType == model.DomainTypeCustom && !project.CustomDomainsOn {
			return nil, errs.Validation("custom domains are not enabled for project %s", project.Name)
		}
		if in.Alias == "" {
			in.Alias = project.DefaultAlias
		}
	}

	if err := s.checkDomainAllowed(domain, in); err != nil {
		return nil, err
	}
	if err := validatePath(in.Path); err != nil {
		return nil, err
	}

	if in.IsPrimary {
		existing, err := s.mappings.GetPrimary(ctx)
		if err != nil {
			return nil, fmt.Errorf("check primary mapping: %w", err)
		}
		if existing != nil {
			return nil, errs.Conflict("a primary mapping already exists (%s)", existing.Domain)
		}
	}

	if err := s.checkDomainUnique(ctx, domain); err != nil {
		return nil, err
	}

	m := s.buildMapping(domain, in)
	if err := s.mappings.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("insert domain mapping: %w", err)
	}

	if err := s.configs.ApplyMapping(ctx, m); err != nil {
		// Compensating rollback: the row must not outlive a failed apply.
		if delErr := s.mappings.Delete(ctx, m.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("domain", domain).Msg("rollback delete failed")
		}
		return nil, errs.Conflict("failed to provision config for %s: %v", domain, err)
	}

	if m.DomainType != model.DomainTypeSubdomain {
		if err := s.edge.AddDomain(ctx, domain); err != nil {
			s.logger.Warn().Err(err).Str("domain", domain).Msg("edge add notification failed")
		}
	}

	s.logger.Info().Str("domain", domain).Str("type", m.DomainType).Msg("domain mapping created")
	return m, nil
}

func (s *DomainService) checkDomainAllowed(domain string, in CreateDomainInput) error {
	isBase := domain == s.baseDomain || domain == "www."+s.baseDomain
	if isBase && !in.IsPrimary {
		return errs.Validation("%s is reserved for the primary mapping", domain)
	}
	if in.IsPrimary && !isBase {
		return errs.Validation("the primary mapping must use %s", s.baseDomain)
	}
	if in.DomainType == model.DomainTypeSubdomain && !isBase {
		label := platform.Subdomain(domain, s.baseDomain)
		if label == "" {
			return errs.Validation("%s is not a subdomain of %s", domain, s.baseDomain)
		}
		if strings.Contains(label, ".") {
			return errs.Validation("nested subdomains are not supported")
		}
		if reservedSubdomains[label] {
			return errs.Validation("subdomain %q is reserved", label)
		}
	}
	return nil
}

func (s *DomainService) checkDomainUnique(ctx context.Context, domain string) error {
	existing, err := s.mappings.GetByDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("check domain uniqueness: %w", err)
	}
	if existing != nil {
		return errs.Conflict("domain %s is already mapped", domain)
	}

	// A redirect source and a mapping must never claim the same server_name.
	redirect, err := s.redirects.GetBySourceDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("check redirect sources: %w", err)
	}
	if redirect != nil {
		return errs.Conflict("domain %s is already a redirect source", domain)
	}

	// Only one mapping may govern a www/apex pair.
	alt := platform.AlternateDomain(domain)
	altMapping, err := s.mappings.GetByDomain(ctx, alt)
	if err != nil {
		return fmt.Errorf("check alternate domain: %w", err)
	}
	if altMapping != nil && altMapping.DomainType != model.DomainTypeRedirect {
		return errs.Conflict("%s is already governed by the mapping for %s, use its wwwBehavior instead", domain, alt)
	}
	return nil
}

func (s *DomainService) buildMapping(domain string, in CreateDomainInput) *model.DomainMapping {
	now := time.Now()
	m := &model.DomainMapping{
		ID:           platform.NewID(),
		Alias:        in.Alias,
		Path:         in.Path,
		Domain:       domain,
		DomainType:   in.DomainType,
		IsActive:     true,
		IsPrimary:    in.IsPrimary,
		IsSPA:        in.IsSPA,
		AutoRenewSSL: true,
	}
	if in.ProjectID != "" {
		m.ProjectID = &in.ProjectID
	}
	if in.WWWBehavior != "" {
		m.WWWBehavior = &in.WWWBehavior
	}
	if in.RedirectTarget != "" {
		m.RedirectTarget = &in.RedirectTarget
	}
	if in.CreatedBy != "" {
		m.CreatedBy = &in.CreatedBy
	}

	// Cross-domain cookies do not work, so non-primary custom and redirect
	// domains are always public.
	if !m.IsPrimary && m.DomainType != model.DomainTypeSubdomain {
		public := true
		m.IsPublic = &public
	}

	switch m.DomainType {
	case model.DomainTypeSubdomain:
		// DNS for subdomains is platform-controlled.
		m.DNSVerified = true
		m.DNSVerifiedAt = &now
		m.SSLEnabled = s.edgeMode || s.wildcardCertValid(now)
	default:
		// SSL is requested explicitly after DNS verification.
		m.SSLEnabled = false
	}

	configPath := s.configs.MappingConfigPath(m.ID)
	m.ConfigPath = &configPath
	return m
}

// wildcardCertValid reports whether an unexpired wildcard cert is on disk.
func (s *DomainService) wildcardCertValid(now time.Time) bool {
	info, err := acme.InspectFile(filepath.Join(s.sslRoot, "wildcard."+s.baseDomain+".crt"))
	if err != nil {
		return false
	}
	return info.NotAfter.After(now)
}

func validatePath(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return errs.Validation("path must start with /")
	}
	if strings.Contains(path, "..") {
		return errs.Validation("path must not contain ..")
	}
	if strings.Contains(path, "//") {
		return errs.Validation("path must not contain //")
	}
	return nil
}

// UpdateDomainInput carries partial updates; nil fields are left unchanged.
type UpdateDomainInput struct {
	Alias                 *string `json:"alias"`
	Path                  *string `json:"path"`
	IsActive              *bool   `json:"is_active"`
	IsSPA                 *bool   `json:"is_spa"`
	WWWBehavior           *string `json:"www_behavior"`
	IsPublic              *bool   `json:"is_public"`
	RequiredRole          *string `json:"required_role"`
	UnauthorizedBehavior  *string `json:"unauthorized_behavior"`
	StickySessionsEnabled *bool   `json:"sticky_sessions_enabled"`
	StickySessionDuration *int    `json:"sticky_session_duration"`
	AutoRenewSSL          *bool   `json:"auto_renew_ssl"`
}

// Update applies partial changes. The registry row is the source of truth:
// config regeneration failures are logged, never raised, and filesystem
// state reconciles on the next successful apply.
func (s *DomainService) Update(ctx context.Context, id string, in UpdateDomainInput) (*model.DomainMapping, error) {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load domain mapping: %w", err)
	}
	if m == nil {
		return nil, errs.NotFound("domain mapping %s not found", id)
	}

	wasActive := m.IsActive
	routingChanged := false

	if in.Alias != nil && *in.Alias != m.Alias {
		m.Alias = *in.Alias
		routingChanged = true
	}
	if in.Path != nil && *in.Path != m.Path {
		if err := validatePath(*in.Path); err != nil {
			return nil, err
		}
		m.Path = *in.Path
		routingChanged = true
	}
	if in.IsActive != nil && *in.IsActive != m.IsActive {
		m.IsActive = *in.IsActive
		routingChanged = true
	}
	if in.IsSPA != nil && *in.IsSPA != m.IsSPA {
		m.IsSPA = *in.IsSPA
		routingChanged = true
	}
	if in.WWWBehavior != nil && *in.WWWBehavior != m.WWWBehaviorOrDefault() {
		if *in.WWWBehavior == "" {
			m.WWWBehavior = nil
		} else {
			m.WWWBehavior = in.WWWBehavior
		}
		routingChanged = true
	}

	if in.IsPublic != nil {
		public := *in.IsPublic
		if !public && m.DomainType == model.DomainTypeCustom && !m.IsPrimary {
			// Silently kept public: auth cookies cannot cross domains.
			s.logger.Debug().Str("domain", m.Domain).Msg("ignoring private flag on custom domain")
			public = true
		}
		m.IsPublic = &public
	}
	if in.RequiredRole != nil {
		m.RequiredRole = in.RequiredRole
	}
	if in.UnauthorizedBehavior != nil {
		m.UnauthorizedBehavior = *in.UnauthorizedBehavior
	}
	if in.StickySessionsEnabled != nil {
		m.StickySessionsEnabled = *in.StickySessionsEnabled
	}
	if in.StickySessionDuration != nil {
		m.StickySessionDuration = *in.StickySessionDuration
	}
	if in.AutoRenewSSL != nil {
		m.AutoRenewSSL = *in.AutoRenewSSL
	}

	if err := s.mappings.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("update domain mapping: %w", err)
	}

	if routingChanged {
		s.reconcileConfig(ctx, m, wasActive)
	}
	return m, nil
}

// reconcileConfig regenerates a mapping's config after a routing-relevant
// change. A deactivated primary swaps to the fallback page so the base
// domain always resolves; a reactivated one removes the fallback first to
// avoid a server_name collision.
func (s *DomainService) reconcileConfig(ctx context.Context, m *model.DomainMapping, wasActive bool) {
	log := s.logger.With().Str("domain", m.Domain).Logger()

	switch {
	case m.IsPrimary && !m.IsActive:
		if err := s.configs.RemoveMapping(m); err != nil {
			log.Warn().Err(err).Msg("failed to remove primary config")
		}
		if err := s.configs.ApplyFallback(); err != nil {
			log.Warn().Err(err).Msg("failed to apply fallback config")
		}
	case m.IsPrimary && m.IsActive:
		if !wasActive {
			if err := s.configs.RemoveFallback(); err != nil {
				log.Warn().Err(err).Msg("failed to remove stale fallback config")
			}
		}
		if err := s.configs.ApplyMapping(ctx, m); err != nil {
			log.Warn().Err(err).Msg("failed to regenerate config")
		}
	case !m.IsActive:
		if err := s.configs.RemoveMapping(m); err != nil {
			log.Warn().Err(err).Msg("failed to remove config")
		}
	default:
		if err := s.configs.ApplyMapping(ctx, m); err != nil {
			log.Warn().Err(err).Msg("failed to regenerate config")
		}
	}
}

// Remove deletes the registry row first, then best-effort cleans the
// filesystem and notifies the edge; cleanup failures never roll the
// deletion back.
func (s *DomainService) Remove(ctx context.Context, id string) error {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load domain mapping: %w", err)
	}
	if m == nil {
		return errs.NotFound("domain mapping %s not found", id)
	}

	if err := s.mappings.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete domain mapping: %w", err)
	}

	log := s.logger.With().Str("domain", m.Domain).Logger()
	if err := s.configs.RemoveMapping(m); err != nil {
		log.Warn().Err(err).Msg("failed to remove config")
	}
	if m.DomainType == model.DomainTypeCustom {
		if err := os.RemoveAll(filepath.Join(s.sslRoot, m.Domain)); err != nil {
			log.Warn().Err(err).Msg("failed to remove certificate directory")
		}
	}
	if m.IsPrimary {
		if err := s.configs.ApplyFallback(); err != nil {
			log.Warn().Err(err).Msg("failed to apply fallback config")
		}
	}
	if m.DomainType != model.DomainTypeSubdomain {
		if err := s.edge.RemoveDomain(ctx, m.Domain); err != nil {
			log.Warn().Err(err).Msg("edge remove notification failed")
		}
	}

	log.Info().Msg("domain mapping removed")
	return nil
}

// DNS verification outcomes.
const (
	VerifyStatusVerified     = "verified"
	VerifyStatusUnresolvable = "unresolvable"
	VerifyStatusUnreachable  = "unreachable"
	VerifyStatusMismatch     = "mismatch"
)

// VerifyResult reports a DNS verification attempt.
type VerifyResult struct {
	Verified  bool     `json:"verified"`
	Status    string   `json:"status"`
	Addresses []string `json:"addresses,omitempty"`
}

// VerifyDNS checks domain control. In edge mode the A record must equal the
// platform IP and the edge must acknowledge the domain before anything is
// persisted, since the edge call is what makes routing and TLS real.
// Self-hosted mode probes the health path instead, distinguishing "does not
// resolve" from "resolves but unreachable".
func (s *DomainService) VerifyDNS(ctx context.Context, id string) (*VerifyResult, error) {
	m, err := s.mappings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load domain mapping: %w", err)
	}
	if m == nil {
		return nil, errs.NotFound("domain mapping %s not found", id)
	}
	if m.DNSVerified {
		return &VerifyResult{Verified: true, Status: VerifyStatusVerified}, nil
	}

	addrs, err := s.resolver.LookupHost(ctx, m.Domain)
	if err != nil || len(addrs) == 0 {
		return &VerifyResult{Status: VerifyStatusUnresolvable}, nil
	}

	if s.edgeMode {
		if !containsAddr(addrs, s.platformIP) {
			return &VerifyResult{Status: VerifyStatusMismatch, Addresses: addrs}, nil
		}
		if err := s.edge.VerifyDomain(ctx, s.edgeVerifyRequest(m)); err != nil {
			// Persisting "verified" without edge acknowledgement would
			// fabricate a state the edge never saw.
			return nil, err
		}
		now := time.Now()
		m.DNSVerified = true
		m.DNSVerifiedAt = &now
		m.SSLEnabled = true
		if err := s.mappings.Update(ctx, m); err != nil {
			return nil, fmt.Errorf("persist verification: %w", err)
		}
		return &VerifyResult{Verified: true, Status: VerifyStatusVerified, Addresses: addrs}, nil
	}

	if err := s.healthCheck(ctx, m.Domain); err != nil {
		return &VerifyResult{Status: VerifyStatusUnreachable, Addresses: addrs}, nil
	}
	now := time.Now()
	m.DNSVerified = true
	m.DNSVerifiedAt = &now
	if err := s.mappings.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("persist verification: %w", err)
	}
	return &VerifyResult{Verified: true, Status: VerifyStatusVerified, Addresses: addrs}, nil
}

func (s *DomainService) edgeVerifyRequest(m *model.DomainMapping) EdgeVerifyRequest {
	req := EdgeVerifyRequest{
		Domain:         m.Domain,
		DomainType:     m.DomainType,
		WWWBehavior:    m.WWWBehavior,
		RedirectTarget: m.RedirectTarget,
	}
	if m.DomainType == model.DomainTypeCustom {
		alt := platform.AlternateDomain(m.Domain)
		req.AlternateDomain = &alt
	}
	return req
}

func (s *DomainService) probeHealth(ctx context.Context, domain string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+domain+"/_health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func containsAddr(addrs []string, want string) bool {
	for _, a := range addrs {
		if a == want {
			return true
		}
	}
	return false
}
