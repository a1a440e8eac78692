package acme

import (
	"encoding/json"
	"fmt"
)

// orderStateVersion is bumped whenever the persisted shape changes.
const orderStateVersion = 1

// OrderStateV1 is the persisted snapshot of an in-flight ACME order. It is
// stored on the challenge row and holds only stable protocol URLs, never a
// serialized client object, so the persisted form does not depend on any one
// ACME library's internals.
type OrderStateV1 struct {
	Version     int      `json:"version"`
	OrderURL    string   `json:"order_url"`
	FinalizeURL string   `json:"finalize_url"`
	AuthzURLs   []string `json:"authz_urls"`
	Identifiers []string `json:"identifiers"`
}

// EncodeOrderState serializes the snapshot for storage.
func EncodeOrderState(s *OrderStateV1) ([]byte, error) {
	s.Version = orderStateVersion
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode order state: %w", err)
	}
	return data, nil
}

// DecodeOrderState parses a stored snapshot, rejecting unknown versions.
func DecodeOrderState(data []byte) (*OrderStateV1, error) {
	var s OrderStateV1
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode order state: %w", err)
	}
	if s.Version != orderStateVersion {
		return nil, fmt.Errorf("unsupported order state version %d", s.Version)
	}
	return &s, nil
}
