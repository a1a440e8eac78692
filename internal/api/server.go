// Package api exposes the operational control surface of the control plane:
// health, manual renewal and DNS verification triggers, and the wildcard
// certificate lifecycle. It is not a tenant-facing CRUD API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/core"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/renewal"
	"github.com/edvin/pagehost/internal/routing"
)

// DomainOps is the domain orchestrator surface the API exposes.
type DomainOps interface {
	Create(ctx context.Context, in core.CreateDomainInput) (*model.DomainMapping, error)
	Update(ctx context.Context, id string, in core.UpdateDomainInput) (*model.DomainMapping, error)
	Remove(ctx context.Context, id string) error
	VerifyDNS(ctx context.Context, id string) (*core.VerifyResult, error)
}

// RedirectOps manages standalone domain redirects.
type RedirectOps interface {
	Create(ctx context.Context, in core.CreateRedirectInput) (*model.DomainRedirect, error)
	Remove(ctx context.Context, sourceDomain string) error
}

// CertOps issues individual certificates on demand.
type CertOps interface {
	RequestSSL(ctx context.Context, id string) (*acme.IssuedCert, error)
}

// WildcardOps drives the wildcard certificate lifecycle.
type WildcardOps interface {
	Start(ctx context.Context) (*acme.WildcardStart, error)
	Complete(ctx context.Context) (*acme.IssuedCert, error)
	Cancel(ctx context.Context) error
	Propagation(ctx context.Context) (*acme.Propagation, error)
	Inspect() (*acme.CertInfo, error)
	DeleteCert(ctx context.Context) error
}

// RenewalOps runs a renewal scan on demand.
type RenewalOps interface {
	RunNow(ctx context.Context, triggeredBy string) (*renewal.Result, error)
}

// RoutingOps exposes the traffic engine: debug variant selection and
// weight-set replacement.
type RoutingOps interface {
	SelectVariant(ctx context.Context, req routing.Request) (*routing.Selection, error)
	SetWeights(ctx context.Context, m *model.DomainMapping, weights []routing.AliasWeight) error
}

// MappingGetter resolves mapping ids for the traffic endpoints.
type MappingGetter interface {
	GetByID(ctx context.Context, id string) (*model.DomainMapping, error)
}

type Server struct {
	router    chi.Router
	logger    zerolog.Logger
	domains   DomainOps
	certs     CertOps
	wildcard  WildcardOps
	renewal   RenewalOps
	routing   RoutingOps
	redirects RedirectOps
	mappings  MappingGetter
}

// Params bundles the server's collaborators.
type Params struct {
	Logger    zerolog.Logger
	Domains   DomainOps
	Certs     CertOps
	Wildcard  WildcardOps
	Renewal   RenewalOps
	Routing   RoutingOps
	Redirects RedirectOps
	Mappings  MappingGetter
}

func NewServer(p Params) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    p.Logger,
		domains:   p.Domains,
		certs:     p.Certs,
		wildcard:  p.Wildcard,
		renewal:   p.Renewal,
		routing:   p.Routing,
		redirects: p.Redirects,
		mappings:  p.Mappings,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(p.Logger))
	s.router.Use(middleware.Recoverer)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/ops", func(r chi.Router) {
		r.Post("/renewal/run", s.handleRenewalRun)

		r.Post("/domains", s.handleCreateDomain)
		r.Patch("/domains/{id}", s.handleUpdateDomain)
		r.Delete("/domains/{id}", s.handleRemoveDomain)
		r.Post("/domains/{id}/verify-dns", s.handleVerifyDNS)
		r.Post("/domains/{id}/ssl", s.handleRequestSSL)
		r.Put("/domains/{id}/traffic", s.handleSetWeights)

		r.Post("/redirects", s.handleCreateRedirect)
		r.Delete("/redirects/{source}", s.handleRemoveRedirect)

		r.Get("/routing/select", s.handleSelectVariant)

		r.Route("/ssl/wildcard", func(r chi.Router) {
			r.Get("/", s.handleWildcardInspect)
			r.Delete("/", s.handleWildcardDelete)
			r.Post("/start", s.handleWildcardStart)
			r.Post("/complete", s.handleWildcardComplete)
			r.Post("/cancel", s.handleWildcardCancel)
			r.Get("/propagation", s.handleWildcardPropagation)
		})
	})
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the HTTP server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
