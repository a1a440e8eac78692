package acme

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"
)

// CertInfo is a summary of an on-disk certificate.
type CertInfo struct {
	Subject           string    `json:"subject"`
	Issuer            string    `json:"issuer"`
	DNSNames          []string  `json:"dns_names"`
	SerialNumber      string    `json:"serial_number"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	SelfSigned        bool      `json:"self_signed"`
}

// DaysUntilExpiry rounds down; negative when already expired.
func (i *CertInfo) DaysUntilExpiry(now time.Time) int {
	return int(i.NotAfter.Sub(now).Hours() / 24)
}

// IsExpiringSoon reports whether the cert is inside the 30-day renewal window.
func (i *CertInfo) IsExpiringSoon(now time.Time) bool {
	return i.DaysUntilExpiry(now) <= 30
}

// knownIssuers guards the self-signed heuristic: a cert whose issuer equals
// its subject is still trusted if the issuer names one of these CAs.
var knownIssuers = []string{"Let's Encrypt", "ISRG", "ZeroSSL", "Buypass", "DigiCert"}

// InspectFile reads and summarizes the first certificate in a PEM file.
func InspectFile(path string) (*CertInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	return InspectPEM(data)
}

// InspectPEM summarizes the first certificate in a PEM bundle.
func InspectPEM(data []byte) (*CertInfo, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate found in PEM data")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)

	info := &CertInfo{
		Subject:           cert.Subject.String(),
		Issuer:            cert.Issuer.String(),
		DNSNames:          cert.DNSNames,
		SerialNumber:      cert.SerialNumber.Text(16),
		NotBefore:         cert.NotBefore,
		NotAfter:          cert.NotAfter,
		FingerprintSHA256: hex.EncodeToString(sum[:]),
	}
	info.SelfSigned = selfSigned(cert)
	return info, nil
}

func selfSigned(cert *x509.Certificate) bool {
	if cert.Issuer.String() != cert.Subject.String() {
		return false
	}
	for _, ca := range knownIssuers {
		if strings.Contains(cert.Issuer.String(), ca) {
			return false
		}
	}
	return true
}
