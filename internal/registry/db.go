package registry

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the slice of pgxpool.Pool the stores use. It exists so tests can
// substitute a mock.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Stores bundles every store over one pool.
type Stores struct {
	Mappings      *DomainMappingStore
	Redirects     *DomainRedirectStore
	PathRedirects *PathRedirectStore
	Traffic       *TrafficStore
	Challenges    *ChallengeStore
	History       *RenewalHistoryStore
	Settings      *SettingsStore
	Projects      *ProjectStore
	Aliases       *AliasStore
	ProxyRules    *ProxyRuleStore
}

func NewStores(db DB) *Stores {
	return &Stores{
		Mappings:      NewDomainMappingStore(db),
		Redirects:     NewDomainRedirectStore(db),
		PathRedirects: NewPathRedirectStore(db),
		Traffic:       NewTrafficStore(db),
		Challenges:    NewChallengeStore(db),
		History:       NewRenewalHistoryStore(db),
		Settings:      NewSettingsStore(db),
		Projects:      NewProjectStore(db),
		Aliases:       NewAliasStore(db),
		ProxyRules:    NewProxyRuleStore(db),
	}
}
