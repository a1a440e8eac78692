package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/pagehost/internal/model"
)

// ProjectStore reads the external project registry's tables. The control
// plane never writes them.
type ProjectStore struct {
	db DB
}

func NewProjectStore(db DB) *ProjectStore {
	return &ProjectStore{db: db}
}

func (s *ProjectStore) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRow(ctx,
		`SELECT id, name, is_public, custom_domains_on, default_alias, created_at, updated_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.IsPublic, &p.CustomDomainsOn, &p.DefaultAlias, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// AliasStore reads the external deployment-alias registry.
type AliasStore struct {
	db DB
}

func NewAliasStore(db DB) *AliasStore {
	return &AliasStore{db: db}
}

func (s *AliasStore) Get(ctx context.Context, projectID, alias string) (*model.DeploymentAlias, error) {
	var a model.DeploymentAlias
	err := s.db.QueryRow(ctx,
		`SELECT project_id, alias, commit_sha, is_preview, proxy_rule_set_id
		 FROM deployment_aliases WHERE project_id = $1 AND alias = $2`, projectID, alias,
	).Scan(&a.ProjectID, &a.Alias, &a.CommitSHA, &a.IsPreview, &a.ProxyRuleSetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get deployment alias %s/%s: %w", projectID, alias, err)
	}
	return &a, nil
}

// List returns the alias names available for a project, used to build
// actionable validation errors.
func (s *AliasStore) List(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT alias FROM deployment_aliases WHERE project_id = $1 ORDER BY alias`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list deployment aliases for %s: %w", projectID, err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan deployment alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployment aliases: %w", err)
	}
	return aliases, nil
}

// ProxyRuleStore reads the external proxy-rule-set provider's table.
type ProxyRuleStore struct {
	db DB
}

func NewProxyRuleStore(db DB) *ProxyRuleStore {
	return &ProxyRuleStore{db: db}
}

// List returns a rule set's rules in position order.
func (s *ProxyRuleStore) List(ctx context.Context, ruleSetID string) ([]model.ProxyRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT path_pattern, target_url, strip_prefix, timeout_ms, auth_transform
		 FROM proxy_rules WHERE rule_set_id = $1 ORDER BY position ASC`, ruleSetID)
	if err != nil {
		return nil, fmt.Errorf("list proxy rules for %s: %w", ruleSetID, err)
	}
	defer rows.Close()

	var rules []model.ProxyRule
	for rows.Next() {
		var r model.ProxyRule
		if err := rows.Scan(&r.PathPattern, &r.TargetURL, &r.StripPrefix, &r.TimeoutMs, &r.AuthTransform); err != nil {
			return nil, fmt.Errorf("scan proxy rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxy rules: %w", err)
	}
	return rules, nil
}
