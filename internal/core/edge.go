package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edvin/pagehost/internal/errs"
)

// EdgeVerifyRequest tells the edge network to start routing a domain and
// provisioning its TLS.
type EdgeVerifyRequest struct {
	Domain          string  `json:"domain"`
	AlternateDomain *string `json:"alternate_domain,omitempty"`
	WWWBehavior     *string `json:"www_behavior,omitempty"`
	DomainType      string  `json:"domain_type"`
	RedirectTarget  *string `json:"redirect_target,omitempty"`
}

// EdgeClient talks to the edge-network webhook, authenticated by a shared
// secret header.
type EdgeClient struct {
	client  *http.Client
	baseURL string
	secret  string
}

func NewEdgeClient(baseURL, secret string) *EdgeClient {
	return &EdgeClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		secret:  secret,
	}
}

func (c *EdgeClient) AddDomain(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodPost, "/domains", map[string]string{"domain": domain})
}

func (c *EdgeClient) RemoveDomain(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, "/domains", map[string]string{"domain": domain})
}

func (c *EdgeClient) VerifyDomain(ctx context.Context, req EdgeVerifyRequest) error {
	return c.do(ctx, http.MethodPost, "/domains/verify", req)
}

func (c *EdgeClient) do(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal edge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create edge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Edge-Secret", c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return errs.External(err, "edge %s %s", method, path)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errs.External(nil, "edge %s %s returned %d", method, path, resp.StatusCode)
}

// NoopEdge is the EdgeNotifier used outside edge mode.
type NoopEdge struct{}

func (NoopEdge) AddDomain(ctx context.Context, domain string) error            { return nil }
func (NoopEdge) RemoveDomain(ctx context.Context, domain string) error         { return nil }
func (NoopEdge) VerifyDomain(ctx context.Context, req EdgeVerifyRequest) error { return nil }
