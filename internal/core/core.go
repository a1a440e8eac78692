package core

import (
	"context"
	"time"

	"github.com/edvin/pagehost/internal/model"
)

// MappingStore is the slice of the domain registry the orchestrator uses.
// *registry.DomainMappingStore satisfies it.
type MappingStore interface {
	Create(ctx context.Context, m *model.DomainMapping) error
	GetByID(ctx context.Context, id string) (*model.DomainMapping, error)
	GetByDomain(ctx context.Context, domain string) (*model.DomainMapping, error)
	GetPrimary(ctx context.Context) (*model.DomainMapping, error)
	ListSubdomains(ctx context.Context, withoutSSLOnly bool) ([]model.DomainMapping, error)
	Update(ctx context.Context, m *model.DomainMapping) error
	Delete(ctx context.Context, id string) error
	SetSSLState(ctx context.Context, id string, enabled bool, expiresAt *time.Time) error
}

// RedirectStore is the slice of the redirect registry used here.
type RedirectStore interface {
	Create(ctx context.Context, r *model.DomainRedirect) error
	GetBySourceDomain(ctx context.Context, sourceDomain string) (*model.DomainRedirect, error)
	Delete(ctx context.Context, id string) error
}

// RedirectSource is the read-only slice of the redirect registry the domain
// orchestrator consults for source collisions.
type RedirectSource interface {
	GetBySourceDomain(ctx context.Context, sourceDomain string) (*model.DomainRedirect, error)
}

// ProjectSource resolves project records from the external project registry.
type ProjectSource interface {
	GetByID(ctx context.Context, id string) (*model.Project, error)
}

// AliasSource resolves deployment aliases.
type AliasSource interface {
	Get(ctx context.Context, projectID, alias string) (*model.DeploymentAlias, error)
	List(ctx context.Context, projectID string) ([]string, error)
}

// ProxyRuleSource resolves a proxy-rule-set id to its ordered rules.
type ProxyRuleSource interface {
	List(ctx context.Context, ruleSetID string) ([]model.ProxyRule, error)
}

// PathRedirectSource lists a mapping's active path redirects.
type PathRedirectSource interface {
	ListActive(ctx context.Context, domainMappingID string) ([]model.PathRedirect, error)
}

// Reloader applies generated config text to the proxy's config directory.
// *nginx.Coordinator satisfies it.
type Reloader interface {
	Write(name, text string) (tempPath, finalPath string, err error)
	Apply(tempPath, finalPath string) error
	Remove(path string) error
	FinalPath(name string) string
}

// EdgeNotifier tells the external edge network about domain changes. All
// calls are best-effort unless a caller states otherwise.
type EdgeNotifier interface {
	AddDomain(ctx context.Context, domain string) error
	RemoveDomain(ctx context.Context, domain string) error
	VerifyDomain(ctx context.Context, req EdgeVerifyRequest) error
}

// HostResolver resolves a hostname to its addresses.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}
