package model

import "time"

// Wildcard challenge statuses.
const (
	ChallengeStatusPending  = "pending"
	ChallengeStatusVerified = "verified"
	ChallengeStatusFailed   = "failed"
	ChallengeStatusExpired  = "expired"
)

// SSLChallenge tracks an in-flight DNS-01 wildcard order for a base domain.
// OrderState holds the versioned ACME order snapshot (see acme.OrderStateV1);
// it is opaque to everything outside the acme package.
type SSLChallenge struct {
	ID           string    `json:"id" db:"id"`
	BaseDomain   string    `json:"base_domain" db:"base_domain"`
	RecordName   string    `json:"record_name" db:"record_name"`
	RecordValues []string  `json:"record_values" db:"record_values"`
	Token        string    `json:"token" db:"token"`
	OrderState   []byte    `json:"-" db:"order_state"`
	Status       string    `json:"status" db:"status"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the challenge TTL has lapsed.
func (c *SSLChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Certificate types recorded in renewal history.
const (
	CertTypeWildcard   = "wildcard"
	CertTypeIndividual = "individual"
)

// Renewal outcomes. History rows record attempts only; threshold skips are
// tallied in the run result, never persisted.
const (
	RenewalStatusSuccess = "success"
	RenewalStatusFailed  = "failed"
)

// Renewal triggers.
const (
	RenewalTriggerAuto   = "auto"
	RenewalTriggerManual = "manual"
)

// SSLRenewalHistoryRecord is an append-only log row; never mutated after insert.
type SSLRenewalHistoryRecord struct {
	ID                string     `json:"id" db:"id"`
	DomainID          *string    `json:"domain_id,omitempty" db:"domain_id"`
	CertificateType   string     `json:"certificate_type" db:"certificate_type"`
	Domain            string     `json:"domain" db:"domain"`
	Status            string     `json:"status" db:"status"`
	ErrorMessage      *string    `json:"error_message,omitempty" db:"error_message"`
	PreviousExpiresAt *time.Time `json:"previous_expires_at,omitempty" db:"previous_expires_at"`
	NewExpiresAt      *time.Time `json:"new_expires_at,omitempty" db:"new_expires_at"`
	TriggeredBy       string     `json:"triggered_by" db:"triggered_by"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// SSL settings keys.
const (
	SettingRenewalThresholdDays = "renewal_threshold_days"
	SettingNotificationEmail    = "notification_email"
	SettingWildcardAutoRenew    = "wildcard_auto_renew"
)

// SSLSetting is a key/value row in the ssl_settings table.
type SSLSetting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
