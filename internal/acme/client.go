package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	xacme "golang.org/x/crypto/acme"

	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// Client is the real ACME implementation of Authority. The account key lives
// at {sslRoot}/acme-account.key and is created on first use.
type Client struct {
	logger       zerolog.Logger
	email        string
	directoryURL string
	sslRoot      string
	challengeDir string
	challenges   ChallengeStore
	lookupTXT    TXTLookup
	now          func() time.Time
}

func NewClient(logger zerolog.Logger, email, directoryURL, sslRoot, challengeDir string, challenges ChallengeStore, lookup TXTLookup) *Client {
	return &Client{
		logger:       logger.With().Str("component", "acme").Logger(),
		email:        email,
		directoryURL: directoryURL,
		sslRoot:      sslRoot,
		challengeDir: challengeDir,
		challenges:   challenges,
		lookupTXT:    lookup,
		now:          time.Now,
	}
}

// StartWildcard opens a DNS-01 order for *.base + base, or returns the
// existing unexpired pending challenge unchanged.
func (c *Client) StartWildcard(ctx context.Context, baseDomain string) (*WildcardStart, error) {
	existing, err := c.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if existing != nil {
		if existing.Status == model.ChallengeStatusPending && !existing.Expired(c.now()) {
			return &WildcardStart{Challenge: existing, Instructions: recordInstructions(existing)}, nil
		}
		c.logger.Info().Str("base_domain", baseDomain).Str("status", existing.Status).
			Msg("discarding stale wildcard challenge")
		if err := c.challenges.Delete(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("discard stale challenge: %w", err)
		}
	}

	client, err := c.accountClient(ctx)
	if err != nil {
		return nil, err
	}

	identifiers := []string{"*." + baseDomain, baseDomain}
	order, err := client.AuthorizeOrder(ctx, xacme.DomainIDs(identifiers...))
	if err != nil {
		return nil, errs.External(err, "authorize wildcard order for %s", baseDomain)
	}

	// Each identifier contributes one TXT value under the same record name.
	var values []string
	var token string
	for _, authzURL := range order.AuthzURLs {
		chal, err := c.findChallenge(ctx, client, authzURL, "dns-01")
		if err != nil {
			return nil, err
		}
		val, err := client.DNS01ChallengeRecord(chal.Token)
		if err != nil {
			return nil, errs.External(err, "compute DNS-01 record for %s", baseDomain)
		}
		values = append(values, val)
		if token == "" {
			token = chal.Token
		}
	}

	state, err := EncodeOrderState(&OrderStateV1{
		OrderURL:    order.URI,
		FinalizeURL: order.FinalizeURL,
		AuthzURLs:   order.AuthzURLs,
		Identifiers: identifiers,
	})
	if err != nil {
		return nil, err
	}

	challenge := &model.SSLChallenge{
		ID:           platform.NewID(),
		BaseDomain:   baseDomain,
		RecordName:   "_acme-challenge." + baseDomain,
		RecordValues: values,
		Token:        token,
		OrderState:   state,
		Status:       model.ChallengeStatusPending,
		ExpiresAt:    c.now().Add(challengeTTL),
	}
	if err := c.challenges.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	c.logger.Info().Str("base_domain", baseDomain).Int("record_values", len(values)).
		Msg("wildcard order opened")
	return &WildcardStart{Challenge: challenge, Instructions: recordInstructions(challenge)}, nil
}

// CompleteWildcard validates and finalizes the pending order. Any failure
// leaves the challenge pending so the caller can fix DNS and retry.
func (c *Client) CompleteWildcard(ctx context.Context, baseDomain string) (*IssuedCert, error) {
	challenge, err := c.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		return nil, errs.NotFound("no wildcard challenge for %s", baseDomain)
	}
	if challenge.Status != model.ChallengeStatusPending {
		return nil, errs.Validation("wildcard challenge for %s is %s, not pending", baseDomain, challenge.Status)
	}
	if challenge.Expired(c.now()) {
		if err := c.challenges.SetStatus(ctx, challenge.ID, model.ChallengeStatusExpired); err != nil {
			c.logger.Warn().Err(err).Str("base_domain", baseDomain).Msg("failed to mark challenge expired")
		}
		return nil, errs.Validation("wildcard challenge for %s expired, start a new one", baseDomain)
	}

	state, err := DecodeOrderState(challenge.OrderState)
	if err != nil {
		return nil, err
	}
	client, err := c.accountClient(ctx)
	if err != nil {
		return nil, err
	}

	// Re-validate each authorization still pending; already-valid ones are
	// skipped.
	for _, authzURL := range state.AuthzURLs {
		authz, err := client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return nil, errs.ExternalRecoverable(err, "get authorization for %s", baseDomain)
		}
		if authz.Status == xacme.StatusValid {
			continue
		}
		chal := pickChallenge(authz, "dns-01")
		if chal == nil {
			return nil, errs.ExternalRecoverable(nil, "no DNS-01 challenge on authorization for %s", baseDomain)
		}
		if chal.Status == xacme.StatusValid {
			continue
		}
		if _, err := client.Accept(ctx, chal); err != nil {
			return nil, errs.ExternalRecoverable(err, "accept DNS-01 challenge for %s", baseDomain)
		}
	}

	order, err := c.waitOrderReady(ctx, client, state.OrderURL)
	if err != nil {
		return nil, errs.ExternalRecoverable(err, "wildcard order for %s not ready", baseDomain)
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate cert key: %w", err)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: "*." + baseDomain},
		DNSNames: []string{"*." + baseDomain, baseDomain},
	}, certKey)
	if err != nil {
		return nil, fmt.Errorf("create CSR: %w", err)
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, orderPollAttempts*orderPollDelay)
	defer cancel()
	certDER, _, err := client.CreateOrderCert(finalizeCtx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, errs.ExternalRecoverable(err, "finalize wildcard order for %s", baseDomain)
	}

	certPath := filepath.Join(c.sslRoot, "wildcard."+baseDomain+".crt")
	keyPath := filepath.Join(c.sslRoot, "wildcard."+baseDomain+".key")
	leaf, err := writeCertPair(certPath, keyPath, certDER, certKey)
	if err != nil {
		return nil, err
	}

	if err := c.challenges.SetStatus(ctx, challenge.ID, model.ChallengeStatusVerified); err != nil {
		return nil, fmt.Errorf("mark challenge verified: %w", err)
	}

	c.logger.Info().Str("base_domain", baseDomain).Time("expires_at", leaf.NotAfter).
		Msg("wildcard certificate issued")
	return &IssuedCert{
		Domain:    "*." + baseDomain,
		CertPath:  certPath,
		KeyPath:   keyPath,
		IssuedAt:  leaf.NotBefore,
		ExpiresAt: leaf.NotAfter,
	}, nil
}

// CancelWildcard removes the pending challenge.
func (c *Client) CancelWildcard(ctx context.Context, baseDomain string) error {
	challenge, err := c.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		return errs.NotFound("no wildcard challenge for %s", baseDomain)
	}
	if err := c.challenges.Delete(ctx, challenge.ID); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	c.logger.Info().Str("base_domain", baseDomain).Msg("wildcard challenge cancelled")
	return nil
}

// CheckDNSPropagation compares the pending challenge's expected TXT values
// against a live lookup.
func (c *Client) CheckDNSPropagation(ctx context.Context, baseDomain string) (*Propagation, error) {
	challenge, err := c.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		return nil, errs.NotFound("no wildcard challenge for %s", baseDomain)
	}

	live, err := c.lookupTXT(ctx, challenge.RecordName)
	if err != nil {
		var dnsErr *net.DNSError
		if !errors.As(err, &dnsErr) || !dnsErr.IsNotFound {
			return nil, errs.ExternalRecoverable(err, "TXT lookup for %s", challenge.RecordName)
		}
		live = nil
	}

	found, missing := compareTXT(challenge.RecordValues, live)
	return &Propagation{
		RecordName: challenge.RecordName,
		Expected:   challenge.RecordValues,
		Found:      found,
		Missing:    missing,
		Propagated: len(missing) == 0 && len(challenge.RecordValues) > 0,
	}, nil
}

// IssueDomain runs the HTTP-01 flow for domain, including alternate as a SAN
// when non-empty.
func (c *Client) IssueDomain(ctx context.Context, domain, alternate string) (*IssuedCert, error) {
	client, err := c.accountClient(ctx)
	if err != nil {
		return nil, err
	}

	identifiers := []string{domain}
	if alternate != "" {
		identifiers = append(identifiers, alternate)
	}
	order, err := client.AuthorizeOrder(ctx, xacme.DomainIDs(identifiers...))
	if err != nil {
		return nil, errs.External(err, "authorize order for %s", domain)
	}

	var tokenFiles []string
	defer func() {
		for _, f := range tokenFiles {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				c.logger.Warn().Err(err).Str("path", f).Msg("failed to remove challenge token")
			}
		}
	}()

	for _, authzURL := range order.AuthzURLs {
		authz, err := client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return nil, errs.External(err, "get authorization for %s", domain)
		}
		if authz.Status == xacme.StatusValid {
			continue
		}
		chal := pickChallenge(authz, "http-01")
		if chal == nil {
			return nil, errs.External(nil, "no HTTP-01 challenge on authorization for %s", domain)
		}
		keyAuth, err := client.HTTP01ChallengeResponse(chal.Token)
		if err != nil {
			return nil, errs.External(err, "compute key authorization for %s", domain)
		}
		tokenFile, err := c.writeChallengeToken(chal.Token, keyAuth)
		if err != nil {
			return nil, err
		}
		tokenFiles = append(tokenFiles, tokenFile)
		if _, err := client.Accept(ctx, chal); err != nil {
			return nil, errs.External(err, "accept HTTP-01 challenge for %s", domain)
		}
	}

	readyOrder, err := c.waitOrderReady(ctx, client, order.URI)
	if err != nil {
		return nil, errs.External(err, "order for %s not ready", domain)
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate cert key: %w", err)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domain},
		DNSNames: identifiers,
	}, certKey)
	if err != nil {
		return nil, fmt.Errorf("create CSR: %w", err)
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, orderPollAttempts*orderPollDelay)
	defer cancel()
	certDER, _, err := client.CreateOrderCert(finalizeCtx, readyOrder.FinalizeURL, csr, true)
	if err != nil {
		return nil, errs.External(err, "finalize order for %s", domain)
	}

	certPath, keyPath, err := c.writeDomainCert(domain, certDER, certKey)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(certDER[0])
	if err != nil {
		return nil, fmt.Errorf("parse issued cert: %w", err)
	}

	if alternate != "" {
		c.linkAlternate(domain, alternate)
	}

	c.logger.Info().Str("domain", domain).Str("alternate", alternate).
		Time("expires_at", leaf.NotAfter).Msg("certificate issued")
	return &IssuedCert{
		Domain:    domain,
		CertPath:  certPath,
		KeyPath:   keyPath,
		IssuedAt:  leaf.NotBefore,
		ExpiresAt: leaf.NotAfter,
	}, nil
}

// accountClient loads the account key, creating and registering a fresh one
// on first use.
func (c *Client) accountClient(ctx context.Context) (*xacme.Client, error) {
	keyPath := filepath.Join(c.sslRoot, "acme-account.key")

	var key *ecdsa.PrivateKey
	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		key, err = platform.ParseECKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse account key: %w", err)
		}
	case os.IsNotExist(err):
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate account key: %w", err)
		}
		pemBytes, err := platform.EncodeECKeyPEM(key)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(c.sslRoot, 0o700); err != nil {
			return nil, fmt.Errorf("create ssl root: %w", err)
		}
		if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("write account key: %w", err)
		}
	default:
		return nil, fmt.Errorf("read account key: %w", err)
	}

	client := &xacme.Client{Key: key, DirectoryURL: c.directoryURL}
	acct := &xacme.Account{Contact: []string{"mailto:" + c.email}}
	if _, err := client.Register(ctx, acct, xacme.AcceptTOS); err != nil && err != xacme.ErrAccountAlreadyExists {
		return nil, errs.External(err, "register ACME account")
	}
	return client, nil
}

func (c *Client) findChallenge(ctx context.Context, client *xacme.Client, authzURL, challengeType string) (*xacme.Challenge, error) {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return nil, errs.External(err, "get authorization")
	}
	chal := pickChallenge(authz, challengeType)
	if chal == nil {
		return nil, errs.External(nil, "no %s challenge on authorization for %s", challengeType, authz.Identifier.Value)
	}
	return chal, nil
}

func pickChallenge(authz *xacme.Authorization, challengeType string) *xacme.Challenge {
	for _, chal := range authz.Challenges {
		if chal.Type == challengeType {
			return chal
		}
	}
	return nil
}

// waitOrderReady polls the order until it leaves pending, bounded at
// orderPollAttempts one-second steps.
func (c *Client) waitOrderReady(ctx context.Context, client *xacme.Client, orderURL string) (*xacme.Order, error) {
	for attempt := 0; attempt < orderPollAttempts; attempt++ {
		order, err := client.GetOrder(ctx, orderURL)
		if err != nil {
			return nil, fmt.Errorf("get order: %w", err)
		}
		switch order.Status {
		case xacme.StatusReady, xacme.StatusValid:
			return order, nil
		case xacme.StatusInvalid:
			return nil, fmt.Errorf("order is invalid")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(orderPollDelay):
		}
	}
	return nil, fmt.Errorf("order not ready after %d attempts", orderPollAttempts)
}

// writeChallengeToken places the key authorization where the proxy serves
// /.well-known/acme-challenge/.
func (c *Client) writeChallengeToken(token, keyAuth string) (string, error) {
	dir := filepath.Join(c.challengeDir, ".well-known", "acme-challenge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create challenge dir: %w", err)
	}
	path := filepath.Join(dir, token)
	if err := os.WriteFile(path, []byte(keyAuth), 0o644); err != nil {
		return "", fmt.Errorf("write challenge token: %w", err)
	}
	return path, nil
}

// writeDomainCert saves the fullchain/privkey pair under the domain's
// directory. An existing symlink at the directory path is removed first so a
// reissue never writes through it into another domain's files.
func (c *Client) writeDomainCert(domain string, certDER [][]byte, certKey *ecdsa.PrivateKey) (certPath, keyPath string, err error) {
	dir := filepath.Join(c.sslRoot, domain)
	if fi, err := os.Lstat(dir); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dir); err != nil {
			return "", "", fmt.Errorf("remove stale symlink %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("create cert dir: %w", err)
	}

	certPath = filepath.Join(dir, "fullchain.pem")
	keyPath = filepath.Join(dir, "privkey.pem")
	if _, err := writeCertPair(certPath, keyPath, certDER, certKey); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

// linkAlternate points {sslRoot}/{alternate} at the primary's cert directory.
// The link is a path-lookup convenience only; failures are logged, never
// raised.
func (c *Client) linkAlternate(domain, alternate string) {
	linkPath := filepath.Join(c.sslRoot, alternate)
	if fi, err := os.Lstat(linkPath); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			c.logger.Warn().Str("path", linkPath).Msg("alternate path exists and is not a symlink, leaving it alone")
			return
		}
		if err := os.Remove(linkPath); err != nil {
			c.logger.Warn().Err(err).Str("path", linkPath).Msg("failed to remove stale alternate symlink")
			return
		}
	}
	if err := os.Symlink(filepath.Join(c.sslRoot, domain), linkPath); err != nil {
		c.logger.Warn().Err(err).Str("path", linkPath).Msg("failed to link alternate cert directory")
	}
}

// writeCertPair writes the PEM bundle and key, returning the parsed leaf.
func writeCertPair(certPath, keyPath string, certDER [][]byte, certKey *ecdsa.PrivateKey) (*x509.Certificate, error) {
	bundle, err := platform.EncodeCertChainPEM(certDER)
	if err != nil {
		return nil, err
	}
	keyPEM, err := platform.EncodeECKeyPEM(certKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(certPath, bundle, 0o644); err != nil {
		return nil, fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	leaf, err := x509.ParseCertificate(certDER[0])
	if err != nil {
		return nil, fmt.Errorf("parse issued cert: %w", err)
	}
	return leaf, nil
}

func recordInstructions(challenge *model.SSLChallenge) string {
	return fmt.Sprintf(
		"Create a TXT record named %s with the following values, then run complete once it has propagated: %s",
		challenge.RecordName, strings.Join(challenge.RecordValues, ", "))
}
