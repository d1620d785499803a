package search

import (
	"net"
	"net/url"
	"strings"
)

// DomainFilter applies caller-supplied allow and deny lists to result hosts.
// An entry matches its own host and every subdomain of it. Deny always wins.
type DomainFilter struct {
	allow []string
	deny  []string
}

// NewDomainFilter normalizes both lists, dropping entries that are empty after
// normalization.
func NewDomainFilter(allow, deny []string) DomainFilter {
	return DomainFilter{allow: normalizeList(allow), deny: normalizeList(deny)}
}

// Empty reports whether the filter lets everything through.
func (f DomainFilter) Empty() bool {
	return len(f.allow) == 0 && len(f.deny) == 0
}

// Permits reports whether host may contribute evidence.
func (f DomainFilter) Permits(host string) bool {
	host = NormalizeDomain(host)
	if host == "" {
		return false
	}
	for _, entry := range f.deny {
		if domainMatches(host, entry) {
			return false
		}
	}
	if len(f.allow) == 0 {
		return true
	}
	for _, entry := range f.allow {
		if domainMatches(host, entry) {
			return true
		}
	}
	return false
}

// NormalizeDomain lowercases a domain and strips scheme, path, port, wildcard
// prefixes and trailing dots. Bare URLs are accepted.
func NormalizeDomain(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	if strings.Contains(value, "://") {
		if parsed, err := url.Parse(value); err == nil {
			value = parsed.Host
		}
	}
	if idx := strings.IndexAny(value, "/?#"); idx >= 0 {
		value = value[:idx]
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	value = strings.TrimPrefix(value, "*.")
	value = strings.Trim(value, ".")
	return value
}

// HostFromURL returns the normalized host of a result URL.
func HostFromURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return ""
	}
	return NormalizeDomain(parsed.Hostname())
}

func domainMatches(host, entry string) bool {
	return host == entry || strings.HasSuffix(host, "."+entry)
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		n := NormalizeDomain(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
