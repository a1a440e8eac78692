package nginx

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/edvin/pagehost/internal/errs"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/platform"
)

// Generator renders nginx server blocks for domain mappings. It is a pure
// function of its inputs: identical inputs produce identical text.
type Generator struct {
	// SSLRoot holds certificates: {SSLRoot}/{domain}/fullchain.pem and
	// privkey.pem for individual certs, {SSLRoot}/wildcard.{base}.crt/.key
	// for the wildcard pair.
	SSLRoot string
	// DeployRoot is where deployed content lives, laid out as
	// {DeployRoot}/{projectID}/{alias}.
	DeployRoot string
	// BaseDomain is the platform base domain served by the primary mapping.
	BaseDomain string
	// ChallengeDir is the webroot for HTTP-01 tokens.
	ChallengeDir string
	// EdgeMode forces SSL off in emitted configs: the edge network
	// terminates TLS before traffic reaches this proxy.
	EdgeMode bool
}

// Input bundles everything a single mapping's config depends on.
type Input struct {
	Mapping       *model.DomainMapping
	Project       *model.Project
	ProxyRules    []model.ProxyRule
	PathRedirects []model.PathRedirect
}

// CertPaths returns the fullchain/privkey locations for an individual
// certificate.
func (g *Generator) CertPaths(domain string) (certPath, keyPath string) {
	return filepath.Join(g.SSLRoot, domain, "fullchain.pem"),
		filepath.Join(g.SSLRoot, domain, "privkey.pem")
}

// WildcardCertPaths returns the cert/key locations for the wildcard pair.
func (g *Generator) WildcardCertPaths(base string) (certPath, keyPath string) {
	return filepath.Join(g.SSLRoot, "wildcard."+base+".crt"),
		filepath.Join(g.SSLRoot, "wildcard."+base+".key")
}

// Generate renders the config for one mapping.
func (g *Generator) Generate(in Input) (string, error) {
	m := in.Mapping
	if m == nil {
		return "", errs.Validation("mapping is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Auto-generated by controld for %s (%s)\n", m.Domain, m.ID)
	b.WriteString("# DO NOT EDIT MANUALLY\n\n")

	switch m.DomainType {
	case model.DomainTypeRedirect:
		if m.RedirectTarget == nil || *m.RedirectTarget == "" {
			return "", errs.Validation("redirect mapping %s has no target", m.Domain)
		}
		g.writeRedirectServer(&b, m.Domain, *m.RedirectTarget, m.SSLEnabled && !g.EdgeMode)
	case model.DomainTypeSubdomain, model.DomainTypeCustom:
		if in.Project == nil {
			return "", errs.Validation("mapping %s has no project", m.Domain)
		}
		if err := g.writeContentServers(&b, in, m.Domain); err != nil {
			return "", err
		}
	default:
		return "", errs.Validation("unknown domain type %q", m.DomainType)
	}

	return b.String(), nil
}

// GeneratePrimary renders the config serving the platform's bare base domain.
func (g *Generator) GeneratePrimary(in Input) (string, error) {
	m := in.Mapping
	if m == nil || !m.IsPrimary {
		return "", errs.Validation("primary mapping is required")
	}
	if in.Project == nil {
		return "", errs.Validation("primary mapping has no project")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Auto-generated by controld for primary domain %s (%s)\n", g.BaseDomain, m.ID)
	b.WriteString("# DO NOT EDIT MANUALLY\n\n")
	if err := g.writeContentServers(&b, in, g.BaseDomain); err != nil {
		return "", err
	}
	return b.String(), nil
}

// GenerateFallback renders the placeholder served at the base domain while
// no primary mapping is active.
func (g *Generator) GenerateFallback() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Auto-generated by controld: no primary domain configured\n")
	b.WriteString("# DO NOT EDIT MANUALLY\n\n")
	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n    listen [::]:80;\n")
	fmt.Fprintf(&b, "    server_name %s www.%s;\n\n", g.BaseDomain, g.BaseDomain)
	g.writeHealthLocation(&b)
	b.WriteString("    location / {\n")
	b.WriteString("        default_type text/html;\n")
	b.WriteString("        return 200 '<!DOCTYPE html><html><head><title>Not configured</title></head><body><h1>This site is not configured yet</h1></body></html>';\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")
	return b.String()
}

// GenerateDomainRedirect renders the config for a DomainRedirect row.
func (g *Generator) GenerateDomainRedirect(r *model.DomainRedirect, targetDomain string) (string, error) {
	if r == nil || targetDomain == "" {
		return "", errs.Validation("redirect and target domain are required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Auto-generated by controld for redirect %s -> %s (%s)\n", r.SourceDomain, targetDomain, r.ID)
	b.WriteString("# DO NOT EDIT MANUALLY\n\n")

	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n    listen [::]:80;\n")
	fmt.Fprintf(&b, "    server_name %s;\n\n", r.SourceDomain)
	g.writeACMELocation(&b)
	fmt.Fprintf(&b, "    return %d https://%s$request_uri;\n", r.RedirectType, targetDomain)
	b.WriteString("}\n")
	return b.String(), nil
}

// writeContentServers emits the server block(s) for a content-serving
// mapping, honoring wwwBehavior.
func (g *Generator) writeContentServers(b *strings.Builder, in Input, domain string) error {
	m := in.Mapping
	alternate := platform.AlternateDomain(domain)

	switch m.WWWBehaviorOrDefault() {
	case model.WWWBehaviorRedirectToWWW:
		www := "www." + platform.ApexOf(domain)
		g.writeRedirectServer(b, platform.ApexOf(domain), www, false)
		b.WriteString("\n")
		return g.writeMainServer(b, in, []string{www})
	case model.WWWBehaviorRedirectToRoot:
		apex := platform.ApexOf(domain)
		g.writeRedirectServer(b, "www."+apex, apex, false)
		b.WriteString("\n")
		return g.writeMainServer(b, in, []string{apex})
	case model.WWWBehaviorServeBoth:
		return g.writeMainServer(b, in, []string{domain, alternate})
	default:
		return g.writeMainServer(b, in, []string{domain})
	}
}

// writeRedirectServer emits an always-301 block with no content.
func (g *Generator) writeRedirectServer(b *strings.Builder, from, to string, ssl bool) {
	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n    listen [::]:80;\n")
	if ssl {
		b.WriteString("    listen 443 ssl;\n    listen [::]:443 ssl;\n")
		certPath, keyPath := g.CertPaths(from)
		fmt.Fprintf(b, "    ssl_certificate     %s;\n", certPath)
		fmt.Fprintf(b, "    ssl_certificate_key %s;\n", keyPath)
	}
	fmt.Fprintf(b, "    server_name %s;\n\n", from)
	g.writeACMELocation(b)
	fmt.Fprintf(b, "    return 301 https://%s$request_uri;\n", to)
	b.WriteString("}\n")
}

func (g *Generator) writeMainServer(b *strings.Builder, in Input, serverNames []string) error {
	m := in.Mapping
	ssl := m.SSLEnabled && !g.EdgeMode

	if ssl {
		// Port-80 companion: serve ACME tokens, redirect the rest.
		b.WriteString("server {\n")
		b.WriteString("    listen 80;\n    listen [::]:80;\n")
		fmt.Fprintf(b, "    server_name %s;\n\n", strings.Join(serverNames, " "))
		g.writeACMELocation(b)
		b.WriteString("    location / {\n        return 301 https://$host$request_uri;\n    }\n")
		b.WriteString("}\n\n")
	}

	b.WriteString("server {\n")
	if ssl {
		b.WriteString("    listen 443 ssl;\n    listen [::]:443 ssl;\n")
		var certPath, keyPath string
		if m.DomainType == model.DomainTypeSubdomain || m.IsPrimary {
			certPath, keyPath = g.WildcardCertPaths(g.BaseDomain)
		} else {
			certPath, keyPath = g.CertPaths(m.Domain)
		}
		fmt.Fprintf(b, "    ssl_certificate     %s;\n", certPath)
		fmt.Fprintf(b, "    ssl_certificate_key %s;\n", keyPath)
		b.WriteString("    ssl_protocols       TLSv1.2 TLSv1.3;\n")
		b.WriteString("    ssl_prefer_server_ciphers on;\n")
	} else {
		b.WriteString("    listen 80;\n    listen [::]:80;\n")
	}
	fmt.Fprintf(b, "    server_name %s;\n\n", strings.Join(serverNames, " "))

	g.writeHealthLocation(b)
	g.writeACMELocation(b)

	// Order matters: path redirects, then proxy rules, then the catch-all
	// content location.
	for _, p := range in.PathRedirects {
		g.writePathRedirect(b, p)
	}
	for _, r := range in.ProxyRules {
		// Only rules carrying an auth transform are rendered here; plain
		// rules are handled upstream of this proxy.
		if r.AuthTransform == nil || *r.AuthTransform == "" {
			continue
		}
		g.writeProxyRule(b, r)
	}

	g.writeContentLocation(b, in)
	b.WriteString("}\n")
	return nil
}

func (g *Generator) writeHealthLocation(b *strings.Builder) {
	b.WriteString("    location = /_health {\n")
	b.WriteString("        access_log off;\n")
	b.WriteString("        return 200 'ok';\n")
	b.WriteString("    }\n\n")
}

func (g *Generator) writeACMELocation(b *strings.Builder) {
	if g.EdgeMode || g.ChallengeDir == "" {
		return
	}
	b.WriteString("    location ^~ /.well-known/acme-challenge/ {\n")
	fmt.Fprintf(b, "        root %s;\n", g.ChallengeDir)
	b.WriteString("        default_type text/plain;\n")
	b.WriteString("    }\n\n")
}

// writePathRedirect emits an exact-match block, or a regex capture block for
// a "/*" wildcard source substituted into the target's "$1".
func (g *Generator) writePathRedirect(b *strings.Builder, p model.PathRedirect) {
	if strings.HasSuffix(p.SourcePath, "/*") {
		prefix := strings.TrimSuffix(p.SourcePath, "/*")
		fmt.Fprintf(b, "    location ~ ^%s/(.*)$ {\n", prefix)
		fmt.Fprintf(b, "        return %d %s;\n", p.RedirectType, p.TargetPath)
		b.WriteString("    }\n\n")
		return
	}
	fmt.Fprintf(b, "    location = %s {\n", p.SourcePath)
	fmt.Fprintf(b, "        return %d %s;\n", p.RedirectType, p.TargetPath)
	b.WriteString("    }\n\n")
}

func (g *Generator) writeProxyRule(b *strings.Builder, r model.ProxyRule) {
	fmt.Fprintf(b, "    location %s {\n", r.PathPattern)
	if r.StripPrefix {
		fmt.Fprintf(b, "        rewrite ^%s/?(.*)$ /$1 break;\n", r.PathPattern)
	}
	fmt.Fprintf(b, "        proxy_pass %s;\n", r.TargetURL)
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Real-IP $remote_addr;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("        proxy_set_header X-Forwarded-Proto $scheme;\n")
	if r.TimeoutMs > 0 {
		fmt.Fprintf(b, "        proxy_read_timeout %dms;\n", r.TimeoutMs)
	}
	// Cookie-to-bearer translation: the upstream expects the session cookie
	// as an Authorization header.
	fmt.Fprintf(b, "        proxy_set_header Authorization \"Bearer $cookie_%s\";\n", *r.AuthTransform)
	b.WriteString("    }\n\n")
}

// writeContentLocation emits the catch-all location rewriting requests into
// the deployment alias's content path.
func (g *Generator) writeContentLocation(b *strings.Builder, in Input) {
	m := in.Mapping
	contentPath := "/" + in.Project.ID + "/" + m.Alias
	if m.Path != "" && m.Path != "/" {
		contentPath += m.Path
	}

	b.WriteString("    location / {\n")
	fmt.Fprintf(b, "        root %s;\n", g.DeployRoot)
	fmt.Fprintf(b, "        rewrite ^/(.*)$ %s/$1 break;\n", contentPath)
	if m.IsSPA {
		fmt.Fprintf(b, "        try_files $uri $uri/ %s/index.html;\n", contentPath)
	} else {
		b.WriteString("        try_files $uri $uri/ =404;\n")
	}
	b.WriteString("    }\n")
}
