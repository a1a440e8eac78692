package config

import (
	"fmt"
	"os"
	"strconv"
)

// Authority modes select the certificate authority client implementation
// once at startup.
const (
	AuthorityModeACME = "acme"
	AuthorityModeMock = "mock"
)

type Config struct {
	ServiceName    string
	DatabaseURL    string
	HTTPListenAddr string
	MetricsAddr    string
	LogLevel       string

	// BaseDomain is the platform's base domain; subdomain mappings live
	// under it and the wildcard certificate covers it.
	BaseDomain string
	// PlatformIP is the published A-record target used for DNS verification.
	PlatformIP string
	// EdgeMode is true when an external edge network terminates TLS and
	// routes traffic; subdomain/custom SSL is then forced off in generated
	// proxy configs.
	EdgeMode bool

	SSLRoot      string
	SitesPath    string
	DeployRoot   string
	ChallengeDir string
	// ReloadSettleSeconds is how long the reload coordinator waits for the
	// out-of-process config watcher after applying a config.
	ReloadSettleSeconds int

	AuthorityMode    string
	ACMEEmail        string
	ACMEDirectoryURL string
	DNSResolverAddr  string

	EdgeWebhookURL    string
	EdgeWebhookSecret string

	RenewalCronSpec string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:         getEnv("SERVICE_NAME", "controld"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		HTTPListenAddr:      getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:         getEnv("METRICS_LISTEN_ADDR", ":9100"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		BaseDomain:          getEnv("BASE_DOMAIN", ""),
		PlatformIP:          getEnv("PLATFORM_IP", ""),
		EdgeMode:            getEnvBool("EDGE_MODE", false),
		SSLRoot:             getEnv("SSL_ROOT", "/etc/pagehost/ssl"),
		SitesPath:           getEnv("SITES_PATH", "/etc/nginx/sites-enabled"),
		DeployRoot:          getEnv("DEPLOY_ROOT", "/var/www/deployments"),
		ChallengeDir:        getEnv("ACME_CHALLENGE_DIR", "/var/www/acme-challenges"),
		ReloadSettleSeconds: getEnvInt("RELOAD_SETTLE_SECONDS", 3),
		AuthorityMode:       getEnv("AUTHORITY_MODE", AuthorityModeACME),
		ACMEEmail:           getEnv("ACME_EMAIL", ""),
		ACMEDirectoryURL:    getEnv("ACME_DIRECTORY_URL", "https://acme-v02.api.letsencrypt.org/directory"),
		DNSResolverAddr:     getEnv("DNS_RESOLVER_ADDR", "8.8.8.8:53"),
		EdgeWebhookURL:      getEnv("EDGE_WEBHOOK_URL", ""),
		EdgeWebhookSecret:   getEnv("EDGE_WEBHOOK_SECRET", ""),
		RenewalCronSpec:     getEnv("RENEWAL_CRON", "0 3 * * *"),
	}

	return cfg, nil
}

// Validate fails fast on missing required settings. Proceeding without them
// would fabricate false successes later (silent ACME registration failures,
// unreachable edge network).
func (c *Config) Validate(service string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s: DATABASE_URL is required", service)
	}
	if c.BaseDomain == "" {
		return fmt.Errorf("%s: BASE_DOMAIN is required", service)
	}
	if c.AuthorityMode != AuthorityModeACME && c.AuthorityMode != AuthorityModeMock {
		return fmt.Errorf("%s: AUTHORITY_MODE must be %q or %q", service, AuthorityModeACME, AuthorityModeMock)
	}
	if c.AuthorityMode == AuthorityModeACME && c.ACMEEmail == "" {
		return fmt.Errorf("%s: ACME_EMAIL is required when AUTHORITY_MODE=acme", service)
	}
	if c.EdgeMode {
		if c.EdgeWebhookURL == "" {
			return fmt.Errorf("%s: EDGE_WEBHOOK_URL is required in edge mode", service)
		}
		if c.EdgeWebhookSecret == "" {
			return fmt.Errorf("%s: EDGE_WEBHOOK_SECRET is required in edge mode", service)
		}
		if c.PlatformIP == "" {
			return fmt.Errorf("%s: PLATFORM_IP is required in edge mode", service)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
