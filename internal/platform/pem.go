package platform

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// EncodeECKeyPEM serializes an ECDSA private key as PEM.
func EncodeECKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal EC key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// ParseECKeyPEM parses a PEM-encoded ECDSA private key.
func ParseECKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse EC key: %w", err)
	}
	return key, nil
}

// EncodeCertChainPEM bundles DER certificates, leaf first, into one PEM blob.
func EncodeCertChainPEM(certDER [][]byte) ([]byte, error) {
	if len(certDER) == 0 {
		return nil, fmt.Errorf("empty certificate chain")
	}
	var out []byte
	for _, der := range certDER {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	return out, nil
}
