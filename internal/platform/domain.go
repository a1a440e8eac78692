package platform

import "strings"

// AlternateDomain returns the www/apex counterpart of a domain:
// "example.com" -> "www.example.com" and "www.example.com" -> "example.com".
// The relationship is derived, never stored.
func AlternateDomain(domain string) string {
	if strings.HasPrefix(domain, "www.") {
		return strings.TrimPrefix(domain, "www.")
	}
	return "www." + domain
}

// ApexOf returns the apex form of a www/apex pair.
func ApexOf(domain string) string {
	return strings.TrimPrefix(domain, "www.")
}

// Subdomain returns the host label under base, or "" if domain is not a
// strict subdomain of base. Example: Subdomain("app.example.com", "example.com") == "app".
func Subdomain(domain, base string) string {
	suffix := "." + base
	if !strings.HasSuffix(domain, suffix) {
		return ""
	}
	return strings.TrimSuffix(domain, suffix)
}
