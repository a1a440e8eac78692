package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/core"
	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/renewal"
	"github.com/edvin/pagehost/internal/routing"
)

type stubDomains struct {
	result  *core.VerifyResult
	mapping *model.DomainMapping
	err     error
	ids     []string
	created []core.CreateDomainInput
	removed []string
}

func (s *stubDomains) Create(ctx context.Context, in core.CreateDomainInput) (*model.DomainMapping, error) {
	s.created = append(s.created, in)
	if s.err != nil {
		return nil, s.err
	}
	return s.mapping, nil
}

func (s *stubDomains) Update(ctx context.Context, id string, in core.UpdateDomainInput) (*model.DomainMapping, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.mapping, nil
}

func (s *stubDomains) Remove(ctx context.Context, id string) error {
	s.removed = append(s.removed, id)
	return s.err
}

func (s *stubDomains) VerifyDNS(ctx context.Context, id string) (*core.VerifyResult, error) {
	s.ids = append(s.ids, id)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubRedirects struct {
	redirect *model.DomainRedirect
	err      error
	removed  []string
}

func (s *stubRedirects) Create(ctx context.Context, in core.CreateRedirectInput) (*model.DomainRedirect, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.redirect, nil
}

func (s *stubRedirects) Remove(ctx context.Context, sourceDomain string) error {
	s.removed = append(s.removed, sourceDomain)
	return s.err
}

type stubCerts struct {
	issued *acme.IssuedCert
	err    error
}

func (s *stubCerts) RequestSSL(ctx context.Context, id string) (*acme.IssuedCert, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.issued, nil
}

type stubWildcard struct {
	start      *acme.WildcardStart
	issued     *acme.IssuedCert
	info       *acme.CertInfo
	err        error
	canceled   bool
	deleted    bool
	propagated bool
}

func (s *stubWildcard) Start(ctx context.Context) (*acme.WildcardStart, error) {
	return s.start, s.err
}

func (s *stubWildcard) Complete(ctx context.Context) (*acme.IssuedCert, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.issued, nil
}

func (s *stubWildcard) Cancel(ctx context.Context) error {
	s.canceled = true
	return s.err
}

func (s *stubWildcard) Propagation(ctx context.Context) (*acme.Propagation, error) {
	return &acme.Propagation{Propagated: s.propagated}, s.err
}

func (s *stubWildcard) Inspect() (*acme.CertInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

func (s *stubWildcard) DeleteCert(ctx context.Context) error {
	s.deleted = true
	return s.err
}

type stubRenewal struct {
	result      *renewal.Result
	err         error
	triggeredBy string
}

func (s *stubRenewal) RunNow(ctx context.Context, triggeredBy string) (*renewal.Result, error) {
	s.triggeredBy = triggeredBy
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubRouting struct {
	selection *routing.Selection
	err       error
	weights   []routing.AliasWeight
	weightsID string
}

func (s *stubRouting) SelectVariant(ctx context.Context, req routing.Request) (*routing.Selection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.selection, nil
}

func (s *stubRouting) SetWeights(ctx context.Context, m *model.DomainMapping, weights []routing.AliasWeight) error {
	s.weightsID = m.ID
	s.weights = weights
	return s.err
}

type stubMappings struct {
	byID map[string]*model.DomainMapping
}

func (s *stubMappings) GetByID(ctx context.Context, id string) (*model.DomainMapping, error) {
	return s.byID[id], nil
}

type apiFixture struct {
	srv       *httptest.Server
	domains   *stubDomains
	certs     *stubCerts
	wildcard  *stubWildcard
	renewal   *stubRenewal
	routing   *stubRouting
	redirects *stubRedirects
	mappings  *stubMappings
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		domains: &stubDomains{
			result:  &core.VerifyResult{Verified: true, Status: core.VerifyStatusVerified},
			mapping: &model.DomainMapping{ID: "m1", Domain: "app.pagehost.app", Alias: "production"},
		},
		certs:     &stubCerts{issued: &acme.IssuedCert{Domain: "shop.example.com", ExpiresAt: time.Now().Add(90 * 24 * time.Hour)}},
		wildcard:  &stubWildcard{},
		renewal:   &stubRenewal{result: &renewal.Result{Wildcard: renewal.WildcardNotDue}},
		routing:   &stubRouting{selection: &routing.Selection{Alias: "production"}},
		redirects: &stubRedirects{redirect: &model.DomainRedirect{ID: "r1", SourceDomain: "old.example.net"}},
		mappings: &stubMappings{byID: map[string]*model.DomainMapping{
			"m1": {ID: "m1", Domain: "app.pagehost.app", Alias: "production"},
		}},
	}
	server := NewServer(Params{
		Logger:    zerolog.Nop(),
		Domains:   f.domains,
		Certs:     f.certs,
		Wildcard:  f.wildcard,
		Renewal:   f.renewal,
		Routing:   f.routing,
		Redirects: f.redirects,
		Mappings:  f.mappings,
	})
	f.srv = httptest.NewServer(server.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string) (*http.Response, map[string]any) {
	return f.doBody(t, method, path, "")
}

func (f *apiFixture) doBody(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRenewalRun(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/ops/renewal/run")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, renewal.WildcardNotDue, body["wildcard"])
	assert.Equal(t, "manual", f.renewal.triggeredBy)
}

func TestRenewalRun_AlreadyInFlight(t *testing.T) {
	f := newAPIFixture(t)
	f.renewal.result = nil

	resp, body := f.do(t, http.MethodPost, "/ops/renewal/run")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already in flight")
}

func TestVerifyDNS(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/ops/domains/m1/verify-dns")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, []string{"m1"}, f.domains.ids)
}

func TestVerifyDNS_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", errs.NotFound("no such mapping"), http.StatusNotFound},
		{"validation", errs.Validation("bad input"), http.StatusBadRequest},
		{"conflict", errs.Conflict("taken"), http.StatusConflict},
		{"recoverable", errs.ExternalRecoverable(nil, "edge unavailable"), http.StatusServiceUnavailable},
		{"external", errs.External(nil, "edge rejected"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.domains.err = tc.err

			resp, body := f.do(t, http.MethodPost, "/ops/domains/m1/verify-dns")
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRequestSSL(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/ops/domains/m1/ssl")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "shop.example.com", body["domain"])
}

func TestWildcardLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.wildcard.start = &acme.WildcardStart{Instructions: "publish the TXT records"}
	f.wildcard.issued = &acme.IssuedCert{Domain: "*.pagehost.app", ExpiresAt: time.Now().Add(90 * 24 * time.Hour)}
	f.wildcard.info = &acme.CertInfo{Subject: "*.pagehost.app"}
	f.wildcard.propagated = true

	resp, body := f.do(t, http.MethodPost, "/ops/ssl/wildcard/start")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "publish the TXT records", body["instructions"])

	resp, _ = f.do(t, http.MethodGet, "/ops/ssl/wildcard/propagation")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/ops/ssl/wildcard/complete")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*.pagehost.app", body["domain"])

	resp, body = f.do(t, http.MethodGet, "/ops/ssl/wildcard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*.pagehost.app", body["subject"])

	resp, _ = f.do(t, http.MethodPost, "/ops/ssl/wildcard/cancel")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.wildcard.canceled)

	resp, _ = f.do(t, http.MethodDelete, "/ops/ssl/wildcard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.wildcard.deleted)
}

func TestCreateDomain(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.doBody(t, http.MethodPost, "/ops/domains",
		`{"domain":"app.pagehost.app","project_id":"proj-1","domain_type":"subdomain"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "app.pagehost.app", body["domain"])

	require.Len(t, f.domains.created, 1)
	assert.Equal(t, "app.pagehost.app", f.domains.created[0].Domain)
}

func TestCreateDomain_Conflict(t *testing.T) {
	f := newAPIFixture(t)
	f.domains.err = errs.Conflict("domain app.pagehost.app is already mapped")

	resp, body := f.doBody(t, http.MethodPost, "/ops/domains",
		`{"domain":"app.pagehost.app","project_id":"proj-1","domain_type":"subdomain"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already mapped")
}

func TestRemoveDomain(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodDelete, "/ops/domains/m1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"m1"}, f.domains.removed)
}

func TestCreateRedirect(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.doBody(t, http.MethodPost, "/ops/redirects",
		`{"source_domain":"old.example.net","target_domain_id":"m1","redirect_type":301}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "old.example.net", body["source_domain"])
}

func TestRemoveRedirect(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodDelete, "/ops/redirects/old.example.net")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"old.example.net"}, f.redirects.removed)
}

func TestSelectVariant(t *testing.T) {
	f := newAPIFixture(t)
	f.routing.selection = &routing.Selection{Alias: "canary", Routed: true, Reason: routing.ReasonSticky}

	resp, body := f.do(t, http.MethodGet, "/ops/routing/select?domain=app.pagehost.app&sticky=canary")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "canary", body["alias"])
	assert.Equal(t, true, body["routed"])
}

func TestSelectVariant_RequiresDomain(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/ops/routing/select")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetWeights(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.doBody(t, http.MethodPut, "/ops/domains/m1/traffic",
		`{"weights":[{"alias":"production","weight":70},{"alias":"canary","weight":30}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "app.pagehost.app", body["domain"])

	assert.Equal(t, "m1", f.routing.weightsID)
	require.Len(t, f.routing.weights, 2)
	assert.Equal(t, routing.AliasWeight{Alias: "production", Weight: 70}, f.routing.weights[0])
}

func TestSetWeights_UnknownMapping(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.doBody(t, http.MethodPut, "/ops/domains/missing/traffic", `{"weights":[]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetWeights_ValidationError(t *testing.T) {
	f := newAPIFixture(t)
	f.routing.err = errs.Validation("weights must sum to 100")

	resp, body := f.doBody(t, http.MethodPut, "/ops/domains/m1/traffic",
		`{"weights":[{"alias":"production","weight":50}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "sum to 100")
}

func TestWildcardInspect_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	f.wildcard.err = errs.NotFound("no wildcard certificate")

	resp, _ := f.do(t, http.MethodGet, "/ops/ssl/wildcard")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
