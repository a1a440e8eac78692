// Package renewal runs the recurring certificate renewal scan: one wildcard
// phase for the platform certificate and one per-domain phase for individual
// custom-domain certificates.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// WildcardRenewer finalizes a pending wildcard challenge and cascades SSL to
// subdomains. *core.WildcardService satisfies it.
type WildcardRenewer interface {
	Complete(ctx context.Context) (*acme.IssuedCert, error)
}

// DomainIssuer reissues an individual certificate over HTTP-01.
type DomainIssuer interface {
	IssueDomain(ctx context.Context, domain, alternate string) (*acme.IssuedCert, error)
}

// MappingSource is the slice of the mapping registry the scheduler touches.
type MappingSource interface {
	ListRenewable(ctx context.Context) ([]model.DomainMapping, error)
	SetSSLState(ctx context.Context, id string, enabled bool, expiresAt *time.Time) error
	Update(ctx context.Context, m *model.DomainMapping) error
}

// ChallengeSource looks up the pending wildcard challenge, if any.
type ChallengeSource interface {
	GetByBaseDomain(ctx context.Context, baseDomain string) (*model.SSLChallenge, error)
}

// Settings reads the renewal knobs from the settings registry.
type Settings interface {
	Get(ctx context.Context, key, fallback string) (string, error)
	GetInt(ctx context.Context, key string, fallback int) (int, error)
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)
}

// HistorySink appends renewal attempt records.
type HistorySink interface {
	Append(ctx context.Context, r *model.SSLRenewalHistoryRecord) error
}

// ConfigApplier regenerates and applies a mapping's proxy config.
type ConfigApplier interface {
	ApplyMapping(ctx context.Context, m *model.DomainMapping) error
}

// Notifier reports a run's failures to the configured address. Implementations
// must be safe to call with an empty failure list never occurring.
type Notifier interface {
	Notify(ctx context.Context, email string, failures []string) error
}

// LogNotifier is the default Notifier: it only logs. A mail transport can
// replace it without touching the scheduler.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, email string, failures []string) error {
	n.Logger.Warn().
		Str("email", email).
		Strs("failures", failures).
		Msg("certificate renewal failures")
	return nil
}

// Wildcard phase outcomes reported in Result.
const (
	WildcardDisabled = "disabled"
	WildcardNoCert   = "no-cert"
	WildcardNotDue   = "not-due"
	WildcardRenewed  = "renewed"
	WildcardFailed   = "failed"
)

const defaultThresholdDays = 30

// Result tallies one renewal run.
type Result struct {
	Wildcard string   `json:"wildcard"`
	Renewed  int      `json:"renewed"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Failures []string `json:"failures,omitempty"`
}

// Params collects the scheduler's collaborators.
type Params struct {
	Logger     zerolog.Logger
	CronSpec   string
	BaseDomain string
	SSLRoot    string
	Wildcard   WildcardRenewer
	Issuer     DomainIssuer
	Mappings   MappingSource
	Challenges ChallengeSource
	Settings   Settings
	History    HistorySink
	Configs    ConfigApplier
	Notifier   Notifier
}

// Scheduler scans certificates nearing expiry on a cron trigger or on
// demand. The in-flight guard is a single-process boolean: concurrent runs
// in one process are skipped, multiple processes are not coordinated.
type Scheduler struct {
	logger     zerolog.Logger
	cronSpec   string
	baseDomain string
	sslRoot    string
	wildcard   WildcardRenewer
	issuer     DomainIssuer
	mappings   MappingSource
	challenges ChallengeSource
	settings   Settings
	history    HistorySink
	configs    ConfigApplier
	notifier   Notifier

	cron    *cron.Cron
	running atomic.Bool
	now     func() time.Time
}

func NewScheduler(p Params) *Scheduler {
	return &Scheduler{
		logger:     p.Logger.With().Str("component", "renewal").Logger(),
		cronSpec:   p.CronSpec,
		baseDomain: p.BaseDomain,
		sslRoot:    p.SSLRoot,
		wildcard:   p.Wildcard,
		issuer:     p.Issuer,
		mappings:   p.Mappings,
		challenges: p.Challenges,
		settings:   p.Settings,
		history:    p.History,
		configs:    p.Configs,
		notifier:   p.Notifier,
		now:        time.Now,
	}
}

// Start registers the cron trigger and begins scheduling.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cronSpec, func() {
		if _, err := s.RunNow(context.Background(), model.RenewalTriggerAuto); err != nil {
			s.logger.Error().Err(err).Msg("scheduled renewal run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register renewal cron %q: %w", s.cronSpec, err)
	}
	s.cron.Start()
	s.logger.Info().Str("spec", s.cronSpec).Msg("renewal scheduler started")
	return nil
}

// Stop halts the cron trigger and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunNow executes one full scan. A run already in flight makes this a no-op
// returning nil, nil.
func (s *Scheduler) RunNow(ctx context.Context, triggeredBy string) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info().Msg("renewal run already in flight, skipping")
		return nil, nil
	}
	defer s.running.Store(false)

	runsTotal.WithLabelValues(triggeredBy).Inc()
	res := &Result{}

	threshold, err := s.settings.GetInt(ctx, model.SettingRenewalThresholdDays, defaultThresholdDays)
	if err != nil {
		return nil, fmt.Errorf("read renewal threshold: %w", err)
	}

	s.runWildcardPhase(ctx, triggeredBy, threshold, res)
	if err := s.runDomainPhase(ctx, triggeredBy, threshold, res); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("wildcard", res.Wildcard).
		Int("renewed", res.Renewed).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("renewal run complete")

	if len(res.Failures) > 0 {
		s.notifyFailures(ctx, res.Failures)
	}
	return res, nil
}

func (s *Scheduler) runWildcardPhase(ctx context.Context, triggeredBy string, threshold int, res *Result) {
	auto, err := s.settings.GetBool(ctx, model.SettingWildcardAutoRenew, true)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read wildcard auto-renew setting")
		auto = true
	}
	if !auto {
		res.Wildcard = WildcardDisabled
		return
	}

	certPath := filepath.Join(s.sslRoot, "wildcard."+s.baseDomain+".crt")
	info, err := acme.InspectFile(certPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Msg("failed to inspect wildcard certificate")
		}
		res.Wildcard = WildcardNoCert
		return
	}
	days := info.DaysUntilExpiry(s.now())
	if days > threshold {
		res.Wildcard = WildcardNotDue
		skippedTotal.WithLabelValues(model.CertTypeWildcard).Inc()
		return
	}

	prevExpiry := info.NotAfter

	// Unattended DNS-01 renewal needs TXT records already published for a
	// pending challenge; there is no DNS provider API to publish them here.
	ch, err := s.challenges.GetByBaseDomain(ctx, s.baseDomain)
	if err != nil {
		s.wildcardFailed(ctx, triggeredBy, &prevExpiry, fmt.Errorf("look up wildcard challenge: %w", err), res)
		return
	}
	if ch == nil || ch.Status != model.ChallengeStatusPending || ch.Expired(s.now()) {
		s.wildcardFailed(ctx, triggeredBy, &prevExpiry, fmt.Errorf(
			"wildcard certificate expires in %d days but no pending DNS-01 challenge exists; start one and publish its TXT records", days), res)
		return
	}

	issued, err := s.wildcard.Complete(ctx)
	if err != nil {
		s.wildcardFailed(ctx, triggeredBy, &prevExpiry, err, res)
		return
	}

	res.Wildcard = WildcardRenewed
	successTotal.WithLabelValues(model.CertTypeWildcard).Inc()
	s.appendHistory(ctx, &model.SSLRenewalHistoryRecord{
		ID:                platform.NewID(),
		CertificateType:   model.CertTypeWildcard,
		Domain:            "*." + s.baseDomain,
		Status:            model.RenewalStatusSuccess,
		PreviousExpiresAt: &prevExpiry,
		NewExpiresAt:      &issued.ExpiresAt,
		TriggeredBy:       triggeredBy,
	})
	s.logger.Info().Time("expires_at", issued.ExpiresAt).Msg("wildcard certificate renewed")
}

func (s *Scheduler) wildcardFailed(ctx context.Context, triggeredBy string, prevExpiry *time.Time, cause error, res *Result) {
	res.Wildcard = WildcardFailed
	res.Failed++
	res.Failures = append(res.Failures, fmt.Sprintf("wildcard *.%s: %v", s.baseDomain, cause))
	failureTotal.WithLabelValues(model.CertTypeWildcard).Inc()

	msg := cause.Error()
	s.appendHistory(ctx, &model.SSLRenewalHistoryRecord{
		ID:                platform.NewID(),
		CertificateType:   model.CertTypeWildcard,
		Domain:            "*." + s.baseDomain,
		Status:            model.RenewalStatusFailed,
		ErrorMessage:      &msg,
		PreviousExpiresAt: prevExpiry,
		TriggeredBy:       triggeredBy,
	})
	s.logger.Error().Err(cause).Msg("wildcard renewal failed")
}

func (s *Scheduler) runDomainPhase(ctx context.Context, triggeredBy string, threshold int, res *Result) error {
	mappings, err := s.mappings.ListRenewable(ctx)
	if err != nil {
		return fmt.Errorf("list renewable domains: %w", err)
	}

	for i := range mappings {
		m := &mappings[i]
		if m.SSLExpiresAt != nil {
			days := int(time.Until(*m.SSLExpiresAt).Hours() / 24)
			if days > threshold {
				res.Skipped++
				skippedTotal.WithLabelValues(model.CertTypeIndividual).Inc()
				continue
			}
		}
		s.renewDomain(ctx, triggeredBy, m, res)
	}
	return nil
}

// renewDomain attempts one reissue; its failure never aborts the scan.
func (s *Scheduler) renewDomain(ctx context.Context, triggeredBy string, m *model.DomainMapping, res *Result) {
	alternate := ""
	if m.WWWBehavior != nil {
		alternate = platform.AlternateDomain(m.Domain)
	}
	prevExpiry := m.SSLExpiresAt

	issued, err := s.issuer.IssueDomain(ctx, m.Domain, alternate)
	now := s.now()
	if err != nil {
		res.Failed++
		res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", m.Domain, err))
		failureTotal.WithLabelValues(model.CertTypeIndividual).Inc()

		msg := err.Error()
		status := model.SSLRenewalStatusFailed
		m.SSLRenewedAt = &now
		m.SSLRenewalStatus = &status
		m.SSLRenewalError = &msg
		if uerr := s.mappings.Update(ctx, m); uerr != nil {
			s.logger.Warn().Err(uerr).Str("domain", m.Domain).Msg("failed to store renewal failure")
		}
		s.appendHistory(ctx, &model.SSLRenewalHistoryRecord{
			ID:                platform.NewID(),
			DomainID:          &m.ID,
			CertificateType:   model.CertTypeIndividual,
			Domain:            m.Domain,
			Status:            model.RenewalStatusFailed,
			ErrorMessage:      &msg,
			PreviousExpiresAt: prevExpiry,
			TriggeredBy:       triggeredBy,
		})
		s.logger.Error().Err(err).Str("domain", m.Domain).Msg("certificate renewal failed")
		return
	}

	status := model.SSLRenewalStatusSuccess
	m.SSLEnabled = true
	m.SSLExpiresAt = &issued.ExpiresAt
	m.SSLRenewedAt = &now
	m.SSLRenewalStatus = &status
	m.SSLRenewalError = nil
	if err := s.mappings.Update(ctx, m); err != nil {
		s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to store renewal outcome")
	}
	if err := s.configs.ApplyMapping(ctx, m); err != nil {
		s.logger.Warn().Err(err).Str("domain", m.Domain).Msg("failed to regenerate config after renewal")
	}

	res.Renewed++
	successTotal.WithLabelValues(model.CertTypeIndividual).Inc()
	s.appendHistory(ctx, &model.SSLRenewalHistoryRecord{
		ID:                platform.NewID(),
		DomainID:          &m.ID,
		CertificateType:   model.CertTypeIndividual,
		Domain:            m.Domain,
		Status:            model.RenewalStatusSuccess,
		PreviousExpiresAt: prevExpiry,
		NewExpiresAt:      &issued.ExpiresAt,
		TriggeredBy:       triggeredBy,
	})
	s.logger.Info().Str("domain", m.Domain).Time("expires_at", issued.ExpiresAt).Msg("certificate renewed")
}

func (s *Scheduler) notifyFailures(ctx context.Context, failures []string) {
	email, err := s.settings.Get(ctx, model.SettingNotificationEmail, "")
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read notification email")
		return
	}
	if email == "" {
		return
	}
	if err := s.notifier.Notify(ctx, email, failures); err != nil {
		s.logger.Warn().Err(err).Msg("failure notification failed")
	}
}

func (s *Scheduler) appendHistory(ctx context.Context, r *model.SSLRenewalHistoryRecord) {
	if err := s.history.Append(ctx, r); err != nil {
		s.logger.Warn().Err(err).Str("domain", r.Domain).Msg("failed to append renewal history")
	}
}
