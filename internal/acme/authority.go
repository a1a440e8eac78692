package acme

import (
	"context"
	"time"

	"github.com/edvin/pagehost/internal/model"
)

// ChallengeStore is the slice of challenge persistence the authority needs.
// *registry.ChallengeStore satisfies it.
type ChallengeStore interface {
	Create(ctx context.Context, c *model.SSLChallenge) error
	GetByBaseDomain(ctx context.Context, baseDomain string) (*model.SSLChallenge, error)
	SetStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}

// WildcardStart is returned when a wildcard order is opened (or an existing
// pending one is returned unchanged).
type WildcardStart struct {
	Challenge    *model.SSLChallenge `json:"challenge"`
	Instructions string              `json:"instructions"`
}

// IssuedCert describes a certificate written to disk.
type IssuedCert struct {
	Domain    string    `json:"domain"`
	CertPath  string    `json:"cert_path"`
	KeyPath   string    `json:"key_path"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Propagation reports which expected TXT values a live lookup found.
type Propagation struct {
	RecordName string   `json:"record_name"`
	Expected   []string `json:"expected"`
	Found      []string `json:"found"`
	Missing    []string `json:"missing"`
	Propagated bool     `json:"propagated"`
}

// Authority drives certificate issuance. Two implementations exist: Client
// talks to a real ACME directory, FakeAuthority issues self-signed certs with
// no network for local and test environments. The choice is made once at
// construction.
type Authority interface {
	// StartWildcard opens (or returns the existing pending) DNS-01 order for
	// *.baseDomain + baseDomain and persists a challenge with a 7-day TTL.
	StartWildcard(ctx context.Context, baseDomain string) (*WildcardStart, error)

	// CompleteWildcard validates the pending challenge, finalizes the order
	// and writes the wildcard cert pair. Failures leave the challenge
	// pending so the caller can fix DNS and retry.
	CompleteWildcard(ctx context.Context, baseDomain string) (*IssuedCert, error)

	// CancelWildcard abandons the pending challenge.
	CancelWildcard(ctx context.Context, baseDomain string) error

	// CheckDNSPropagation compares the pending challenge's expected TXT
	// values against a live lookup.
	CheckDNSPropagation(ctx context.Context, baseDomain string) (*Propagation, error)

	// IssueDomain obtains a per-domain certificate via HTTP-01, covering
	// alternate as a SAN when non-empty, and writes it under the domain's
	// directory.
	IssueDomain(ctx context.Context, domain, alternate string) (*IssuedCert, error)
}

// challengeTTL is how long a pending wildcard challenge stays actionable.
const challengeTTL = 7 * 24 * time.Hour

// orderPollAttempts bounds the finalization wait at attempts * orderPollDelay.
const (
	orderPollAttempts = 30
	orderPollDelay    = time.Second
)
