package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/nginx"
)

// fallbackConfigName is the placeholder config serving the base domain while
// no primary mapping is active.
const fallbackConfigName = "fallback.conf"

// ConfigManager renders and applies proxy configs for mappings and
// redirects, resolving the supporting inputs (project, proxy rules, path
// redirects) as it goes.
type ConfigManager struct {
	logger        zerolog.Logger
	generator     *nginx.Generator
	reloader      Reloader
	projects      ProjectSource
	aliases       AliasSource
	proxyRules    ProxyRuleSource
	pathRedirects PathRedirectSource
}

func NewConfigManager(logger zerolog.Logger, generator *nginx.Generator, reloader Reloader,
	projects ProjectSource, aliases AliasSource, proxyRules ProxyRuleSource, pathRedirects PathRedirectSource) *ConfigManager {
	return &ConfigManager{
		logger:        logger.With().Str("component", "configs").Logger(),
		generator:     generator,
		reloader:      reloader,
		projects:      projects,
		aliases:       aliases,
		proxyRules:    proxyRules,
		pathRedirects: pathRedirects,
	}
}

// MappingConfigPath returns where a mapping's config will live once applied.
func (c *ConfigManager) MappingConfigPath(mappingID string) string {
	return c.reloader.FinalPath(nginx.DomainConfigName(mappingID))
}

// RedirectConfigPath returns where a redirect's config will live once applied.
func (c *ConfigManager) RedirectConfigPath(redirectID string) string {
	return c.reloader.FinalPath(nginx.RedirectConfigName(redirectID))
}

// ApplyMapping renders and applies the config for one mapping.
func (c *ConfigManager) ApplyMapping(ctx context.Context, m *model.DomainMapping) error {
	in, err := c.inputFor(ctx, m)
	if err != nil {
		return err
	}

	var text string
	if m.IsPrimary {
		text, err = c.generator.GeneratePrimary(in)
	} else {
		text, err = c.generator.Generate(in)
	}
	if err != nil {
		return err
	}

	return c.write(nginx.DomainConfigName(m.ID), text)
}

// RemoveMapping deletes a mapping's applied config. Idempotent.
func (c *ConfigManager) RemoveMapping(m *model.DomainMapping) error {
	return c.reloader.Remove(c.MappingConfigPath(m.ID))
}

// ApplyFallback writes the "not configured" placeholder for the base domain.
func (c *ConfigManager) ApplyFallback() error {
	return c.write(fallbackConfigName, c.generator.GenerateFallback())
}

// RemoveFallback deletes the placeholder so a reactivated primary config
// does not collide with it.
func (c *ConfigManager) RemoveFallback() error {
	return c.reloader.Remove(c.reloader.FinalPath(fallbackConfigName))
}

// ApplyRedirect renders and applies the config for a domain redirect.
func (c *ConfigManager) ApplyRedirect(r *model.DomainRedirect, targetDomain string) error {
	text, err := c.generator.GenerateDomainRedirect(r, targetDomain)
	if err != nil {
		return err
	}
	return c.write(nginx.RedirectConfigName(r.ID), text)
}

// RemoveRedirect deletes a redirect's applied config. Idempotent.
func (c *ConfigManager) RemoveRedirect(r *model.DomainRedirect) error {
	return c.reloader.Remove(c.RedirectConfigPath(r.ID))
}

func (c *ConfigManager) write(name, text string) error {
	tempPath, finalPath, err := c.reloader.Write(name, text)
	if err != nil {
		return err
	}
	return c.reloader.Apply(tempPath, finalPath)
}

// inputFor resolves everything a mapping's config depends on.
func (c *ConfigManager) inputFor(ctx context.Context, m *model.DomainMapping) (nginx.Input, error) {
	in := nginx.Input{Mapping: m}
	if m.DomainType == model.DomainTypeRedirect {
		return in, nil
	}
	if m.ProjectID == nil {
		return in, errs.Validation("mapping %s has no project", m.Domain)
	}

	project, err := c.projects.GetByID(ctx, *m.ProjectID)
	if err != nil {
		return in, fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return in, errs.NotFound("project %s not found", *m.ProjectID)
	}
	in.Project = project

	redirects, err := c.pathRedirects.ListActive(ctx, m.ID)
	if err != nil {
		return in, fmt.Errorf("load path redirects: %w", err)
	}
	in.PathRedirects = redirects

	alias, err := c.aliases.Get(ctx, project.ID, m.Alias)
	if err != nil {
		return in, fmt.Errorf("resolve deployment alias: %w", err)
	}
	if alias != nil && alias.ProxyRuleSetID != nil {
		rules, err := c.proxyRules.List(ctx, *alias.ProxyRuleSetID)
		if err != nil {
			return in, fmt.Errorf("load proxy rules: %w", err)
		}
		in.ProxyRules = rules
	}
	return in, nil
}
