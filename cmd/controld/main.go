package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/pagehost/internal/acme"
	"github.com/edvin/pagehost/internal/api"
	"github.com/edvin/pagehost/internal/config"
	"github.com/edvin/pagehost/internal/core"
	"github.com/edvin/pagehost/internal/db"
	"github.com/edvin/pagehost/internal/logging"
	"github.com/edvin/pagehost/internal/metrics"
	"github.com/edvin/pagehost/internal/nginx"
	"github.com/edvin/pagehost/internal/registry"
	"github.com/edvin/pagehost/internal/renewal"
	"github.com/edvin/pagehost/internal/routing"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate("controld"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	stores := registry.NewStores(pool)

	var authority acme.Authority
	if cfg.AuthorityMode == config.AuthorityModeMock {
		logger.Warn().Msg("using mock certificate authority, certificates will be self-signed")
		authority = acme.NewFakeAuthority(logger, cfg.SSLRoot, stores.Challenges)
	} else {
		authority = acme.NewClient(logger, cfg.ACMEEmail, cfg.ACMEDirectoryURL,
			cfg.SSLRoot, cfg.ChallengeDir, stores.Challenges, acme.NewTXTLookup(cfg.DNSResolverAddr))
	}

	generator := &nginx.Generator{
		SSLRoot:      cfg.SSLRoot,
		DeployRoot:   cfg.DeployRoot,
		BaseDomain:   cfg.BaseDomain,
		ChallengeDir: cfg.ChallengeDir,
		EdgeMode:     cfg.EdgeMode,
	}
	coordinator := nginx.NewCoordinator(logger, cfg.SitesPath,
		time.Duration(cfg.ReloadSettleSeconds)*time.Second)

	var edge core.EdgeNotifier = core.NoopEdge{}
	if cfg.EdgeMode {
		edge = core.NewEdgeClient(cfg.EdgeWebhookURL, cfg.EdgeWebhookSecret)
	}

	configs := core.NewConfigManager(logger, generator, coordinator,
		stores.Projects, stores.Aliases, stores.ProxyRules, stores.PathRedirects)

	// Reconcile the sites directory with the registry before serving.
	if _, err := core.SweepOrphanedConfigs(ctx, logger, stores.Mappings, stores.Redirects, coordinator); err != nil {
		logger.Warn().Err(err).Msg("orphaned config sweep failed")
	}

	domains := core.NewDomainService(core.DomainServiceParams{
		Logger:     logger,
		BaseDomain: cfg.BaseDomain,
		PlatformIP: cfg.PlatformIP,
		SSLRoot:    cfg.SSLRoot,
		EdgeMode:   cfg.EdgeMode,
		Mappings:   stores.Mappings,
		Redirects:  stores.Redirects,
		Projects:   stores.Projects,
		Aliases:    stores.Aliases,
		Configs:    configs,
		Edge:       edge,
		Resolver:   &dnsResolver{},
	})
	wildcard := core.NewWildcardService(logger, cfg.BaseDomain, cfg.SSLRoot,
		authority, stores.Mappings, configs)
	certs := core.NewCertificateService(logger, authority, stores.Mappings,
		stores.History, configs)
	engine := routing.NewEngine(logger, stores.Mappings, stores.Traffic, stores.Aliases)
	redirects := core.NewRedirectService(logger, stores.Redirects, stores.Mappings, configs, edge)

	scheduler := renewal.NewScheduler(renewal.Params{
		Logger:     logger,
		CronSpec:   cfg.RenewalCronSpec,
		BaseDomain: cfg.BaseDomain,
		SSLRoot:    cfg.SSLRoot,
		Wildcard:   wildcard,
		Issuer:     authority,
		Mappings:   stores.Mappings,
		Challenges: stores.Challenges,
		Settings:   stores.Settings,
		History:    stores.History,
		Configs:    configs,
		Notifier:   renewal.LogNotifier{Logger: logger},
	})
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start renewal scheduler")
	}
	defer scheduler.Stop()

	server := api.NewServer(api.Params{
		Logger:    logger,
		Domains:   domains,
		Certs:     certs,
		Wildcard:  wildcard,
		Renewal:   scheduler,
		Routing:   engine,
		Redirects: redirects,
		Mappings:  stores.Mappings,
	})
	metricsServer := metrics.NewServer(cfg.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting ops API server")
		return server.ListenAndServe(gctx, cfg.HTTPListenAddr)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("shutdown complete")
}

// dnsResolver adapts net.DefaultResolver to the orchestrator's interface.
type dnsResolver struct{}

func (dnsResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}