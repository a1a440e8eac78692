package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/model"
)

type fakeMappings struct {
	byID       map[string]*model.DomainMapping
	deleted    []string
	failDelete bool
}

func newFakeMappings(ms ...*model.DomainMapping) *fakeMappings {
	f := &fakeMappings{byID: make(map[string]*model.DomainMapping)}
	for _, m := range ms {
		f.byID[m.ID] = m
	}
	return f
}

func (f *fakeMappings) Create(ctx context.Context, m *model.DomainMapping) error {
	f.byID[m.ID] = m
	return nil
}

func (f *fakeMappings) GetByID(ctx context.Context, id string) (*model.DomainMapping, error) {
	return f.byID[id], nil
}

func (f *fakeMappings) GetByDomain(ctx context.Context, domain string) (*model.DomainMapping, error) {
	for _, m := range f.byID {
		if m.Domain == domain {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMappings) GetPrimary(ctx context.Context) (*model.DomainMapping, error) {
	for _, m := range f.byID {
		if m.IsPrimary {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMappings) ListAll(ctx context.Context) ([]model.DomainMapping, error) {
	var out []model.DomainMapping
	for _, m := range f.byID {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeMappings) ListSubdomains(ctx context.Context, withoutSSLOnly bool) ([]model.DomainMapping, error) {
	var out []model.DomainMapping
	for _, m := range f.byID {
		if m.DomainType != model.DomainTypeSubdomain || !m.IsActive {
			continue
		}
		if withoutSSLOnly && m.SSLEnabled {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeMappings) Update(ctx context.Context, m *model.DomainMapping) error {
	f.byID[m.ID] = m
	return nil
}

func (f *fakeMappings) Delete(ctx context.Context, id string) error {
	if f.failDelete {
		return fmt.Errorf("delete failed")
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMappings) SetSSLState(ctx context.Context, id string, enabled bool, expiresAt *time.Time) error {
	if m := f.byID[id]; m != nil {
		m.SSLEnabled = enabled
		m.SSLExpiresAt = expiresAt
	}
	return nil
}

type fakeRedirects struct {
	bySource map[string]*model.DomainRedirect
	deleted  []string
}

func newFakeRedirects() *fakeRedirects {
	return &fakeRedirects{bySource: make(map[string]*model.DomainRedirect)}
}

func (f *fakeRedirects) Create(ctx context.Context, r *model.DomainRedirect) error {
	f.bySource[r.SourceDomain] = r
	return nil
}

func (f *fakeRedirects) GetBySourceDomain(ctx context.Context, sourceDomain string) (*model.DomainRedirect, error) {
	return f.bySource[sourceDomain], nil
}

func (f *fakeRedirects) ListAll(ctx context.Context) ([]model.DomainRedirect, error) {
	var out []model.DomainRedirect
	for _, r := range f.bySource {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRedirects) Delete(ctx context.Context, id string) error {
	for src, r := range f.bySource {
		if r.ID == id {
			delete(f.bySource, src)
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeProjects struct {
	byID map[string]*model.Project
}

func (f *fakeProjects) GetByID(ctx context.Context, id string) (*model.Project, error) {
	return f.byID[id], nil
}

type fakeAliases struct {
	ruleSetID *string
	aliases   []string
}

func (f *fakeAliases) Get(ctx context.Context, projectID, alias string) (*model.DeploymentAlias, error) {
	return &model.DeploymentAlias{ProjectID: projectID, Alias: alias, ProxyRuleSetID: f.ruleSetID}, nil
}

func (f *fakeAliases) List(ctx context.Context, projectID string) ([]string, error) {
	return f.aliases, nil
}

type fakeProxyRules struct {
	rules []model.ProxyRule
}

func (f *fakeProxyRules) List(ctx context.Context, ruleSetID string) ([]model.ProxyRule, error) {
	return f.rules, nil
}

type fakePathRedirects struct {
	redirects []model.PathRedirect
}

func (f *fakePathRedirects) ListActive(ctx context.Context, domainMappingID string) ([]model.PathRedirect, error) {
	return f.redirects, nil
}

// fakeReloader applies configs to an in-memory map keyed by final path.
type fakeReloader struct {
	files     map[string]string
	pending   map[string]string
	removed   []string
	failApply bool
}

func newFakeReloader() *fakeReloader {
	return &fakeReloader{files: make(map[string]string), pending: make(map[string]string)}
}

func (f *fakeReloader) FinalPath(name string) string { return "/sites/" + name }

func (f *fakeReloader) Write(name, text string) (string, string, error) {
	tempPath := "/sites/." + name + ".tmp"
	f.pending[tempPath] = text
	return tempPath, f.FinalPath(name), nil
}

func (f *fakeReloader) Apply(tempPath, finalPath string) error {
	if f.failApply {
		return fmt.Errorf("apply failed")
	}
	f.files[finalPath] = f.pending[tempPath]
	delete(f.pending, tempPath)
	return nil
}

func (f *fakeReloader) Remove(path string) error {
	delete(f.files, path)
	f.removed = append(f.removed, path)
	return nil
}

type edgeCall struct {
	op     string
	domain string
}

type fakeEdge struct {
	calls      []edgeCall
	failVerify bool
	failAdd    bool
}

func (f *fakeEdge) AddDomain(ctx context.Context, domain string) error {
	f.calls = append(f.calls, edgeCall{"add", domain})
	if f.failAdd {
		return fmt.Errorf("edge unavailable")
	}
	return nil
}

func (f *fakeEdge) RemoveDomain(ctx context.Context, domain string) error {
	f.calls = append(f.calls, edgeCall{"remove", domain})
	return nil
}

func (f *fakeEdge) VerifyDomain(ctx context.Context, req EdgeVerifyRequest) error {
	f.calls = append(f.calls, edgeCall{"verify", req.Domain})
	if f.failVerify {
		return fmt.Errorf("edge unavailable")
	}
	return nil
}

type fakeResolver struct {
	addrs map[string][]string
}

func (f *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	addrs, ok := f.addrs[host]
	if !ok {
		return nil, fmt.Errorf("no such host")
	}
	return addrs, nil
}

type fakeHistory struct {
	records []*model.SSLRenewalHistoryRecord
}

func (f *fakeHistory) Append(ctx context.Context, r *model.SSLRenewalHistoryRecord) error {
	f.records = append(f.records, r)
	return nil
}

// fakeAuthority is a scriptable acme.Authority for orchestrator tests.
type fakeAuthority struct {
	issued       *acme.IssuedCert
	issueErr     error
	completeErr  error
	issuedFor    []string
	alternates   []string
	cancelCalled bool
}

func (f *fakeAuthority) StartWildcard(ctx context.Context, baseDomain string) (*acme.WildcardStart, error) {
	return &acme.WildcardStart{Challenge: &model.SSLChallenge{BaseDomain: baseDomain, Status: model.ChallengeStatusPending}}, nil
}

func (f *fakeAuthority) CompleteWildcard(ctx context.Context, baseDomain string) (*acme.IssuedCert, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return f.issued, nil
}

func (f *fakeAuthority) CancelWildcard(ctx context.Context, baseDomain string) error {
	f.cancelCalled = true
	return nil
}

func (f *fakeAuthority) CheckDNSPropagation(ctx context.Context, baseDomain string) (*acme.Propagation, error) {
	return &acme.Propagation{Propagated: true}, nil
}

func (f *fakeAuthority) IssueDomain(ctx context.Context, domain, alternate string) (*acme.IssuedCert, error) {
	f.issuedFor = append(f.issuedFor, domain)
	f.alternates = append(f.alternates, alternate)
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	if f.issued != nil {
		return f.issued, nil
	}
	return &acme.IssuedCert{Domain: domain, ExpiresAt: time.Now().Add(90 * 24 * time.Hour)}, nil
}
