package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// FakeAuthority implements Authority without any network: challenge data is
// derived deterministically from the domain and certificates are self-signed.
// It follows the same state machine, timings and file layout as Client so
// the rest of the system cannot tell them apart.
type FakeAuthority struct {
	logger     zerolog.Logger
	sslRoot    string
	challenges ChallengeStore
	validity   time.Duration
	now        func() time.Time
}

func NewFakeAuthority(logger zerolog.Logger, sslRoot string, challenges ChallengeStore) *FakeAuthority {
	return &FakeAuthority{
		logger:     logger.With().Str("component", "acme").Bool("fake", true).Logger(),
		sslRoot:    sslRoot,
		challenges: challenges,
		validity:   90 * 24 * time.Hour,
		now:        time.Now,
	}
}

func (f *FakeAuthority) StartWildcard(ctx context.Context, baseDomain string) (*WildcardStart, error) {
	existing, err := f.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if existing != nil {
		if existing.Status == model.ChallengeStatusPending && !existing.Expired(f.now()) {
			return &WildcardStart{Challenge: existing, Instructions: recordInstructions(existing)}, nil
		}
		if err := f.challenges.Delete(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("discard stale challenge: %w", err)
		}
	}

	state, err := EncodeOrderState(&OrderStateV1{
		OrderURL:    "fake://order/" + baseDomain,
		FinalizeURL: "fake://finalize/" + baseDomain,
		AuthzURLs:   []string{"fake://authz/" + baseDomain + "/wildcard", "fake://authz/" + baseDomain + "/apex"},
		Identifiers: []string{"*." + baseDomain, baseDomain},
	})
	if err != nil {
		return nil, err
	}

	challenge := &model.SSLChallenge{
		ID:           platform.NewID(),
		BaseDomain:   baseDomain,
		RecordName:   "_acme-challenge." + baseDomain,
		RecordValues: fakeTXTValues(baseDomain),
		Token:        fakeToken(baseDomain),
		OrderState:   state,
		Status:       model.ChallengeStatusPending,
		ExpiresAt:    f.now().Add(challengeTTL),
	}
	if err := f.challenges.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}
	return &WildcardStart{Challenge: challenge, Instructions: recordInstructions(challenge)}, nil
}

func (f *FakeAuthority) CompleteWildcard(ctx context.Context, baseDomain string) (*IssuedCert, error) {
	challenge, err := f.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		return nil, errs.NotFound("no wildcard challenge for %s", baseDomain)
	}
	if challenge.Status != model.ChallengeStatusPending {
		return nil, errs.Validation("wildcard challenge for %s is %s, not pending", baseDomain, challenge.Status)
	}
	if challenge.Expired(f.now()) {
		if err := f.challenges.SetStatus(ctx, challenge.ID, model.ChallengeStatusExpired); err != nil {
			f.logger.Warn().Err(err).Str("base_domain", baseDomain).Msg("failed to mark challenge expired")
		}
		return nil, errs.Validation("wildcard challenge for %s expired, start a new one", baseDomain)
	}

	certPath := filepath.Join(f.sslRoot, "wildcard."+baseDomain+".crt")
	keyPath := filepath.Join(f.sslRoot, "wildcard."+baseDomain+".key")
	issued, err := f.writeSelfSigned(certPath, keyPath, "*."+baseDomain, []string{"*." + baseDomain, baseDomain})
	if err != nil {
		return nil, err
	}

	if err := f.challenges.SetStatus(ctx, challenge.ID, model.ChallengeStatusVerified); err != nil {
		return nil, fmt.Errorf("mark challenge verified: %w", err)
	}
	f.logger.Info().Str("base_domain", baseDomain).Msg("fake wildcard certificate issued")
	return issued, nil
}

func (f *FakeAuthority) CancelWildcard(ctx context.Context, baseDomain string) error {
	challenge, err := f.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		return errs.NotFound("no wildcard challenge for %s", baseDomain)
	}
	return f.challenges.Delete(ctx, challenge.ID)
}

// CheckDNSPropagation always reports full propagation; there is no DNS to
// consult.
func (f *FakeAuthority) CheckDNSPropagation(ctx context.Context, baseDomain string) (*Propagation, error) {
	challenge, err := f.challenges.GetByBaseDomain(ctx, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		return nil, errs.NotFound("no wildcard challenge for %s", baseDomain)
	}
	return &Propagation{
		RecordName: challenge.RecordName,
		Expected:   challenge.RecordValues,
		Found:      challenge.RecordValues,
		Propagated: true,
	}, nil
}

func (f *FakeAuthority) IssueDomain(ctx context.Context, domain, alternate string) (*IssuedCert, error) {
	names := []string{domain}
	if alternate != "" {
		names = append(names, alternate)
	}

	dir := filepath.Join(f.sslRoot, domain)
	if fi, err := os.Lstat(dir); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dir); err != nil {
			return nil, fmt.Errorf("remove stale symlink %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}

	issued, err := f.writeSelfSigned(
		filepath.Join(dir, "fullchain.pem"),
		filepath.Join(dir, "privkey.pem"),
		domain, names)
	if err != nil {
		return nil, err
	}

	if alternate != "" {
		linkPath := filepath.Join(f.sslRoot, alternate)
		if fi, err := os.Lstat(linkPath); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			os.Remove(linkPath)
		}
		if _, err := os.Lstat(linkPath); os.IsNotExist(err) {
			if err := os.Symlink(dir, linkPath); err != nil {
				f.logger.Warn().Err(err).Str("path", linkPath).Msg("failed to link alternate cert directory")
			}
		}
	}

	f.logger.Info().Str("domain", domain).Msg("fake certificate issued")
	return issued, nil
}

func (f *FakeAuthority) writeSelfSigned(certPath, keyPath, commonName string, dnsNames []string) (*IssuedCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	now := f.now()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     dnsNames,
		NotBefore:    now,
		NotAfter:     now.Add(f.validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}
	leaf, err := writeCertPair(certPath, keyPath, [][]byte{der}, key)
	if err != nil {
		return nil, err
	}
	return &IssuedCert{
		Domain:    commonName,
		CertPath:  certPath,
		KeyPath:   keyPath,
		IssuedAt:  leaf.NotBefore,
		ExpiresAt: leaf.NotAfter,
	}, nil
}

func fakeTXTValues(baseDomain string) []string {
	return []string{
		fakeDigest("wildcard:" + baseDomain),
		fakeDigest("apex:" + baseDomain),
	}
}

func fakeToken(baseDomain string) string {
	return fakeDigest("token:" + baseDomain)
}

func fakeDigest(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
