package utils

import (
	"net"
	"net/http"
	"strings"
)

// ProxyTrust decides whether forwarding headers on a request can be believed
// when recording the caller's address in the audit log.
type ProxyTrust struct {
	mode  string // "auto", "true" or "false"
	ips   []net.IP
	cidrs []*net.IPNet
}

// NewProxyTrust parses a comma-separated list of proxy IPs and CIDR ranges.
// Entries that fail to parse are skipped.
func NewProxyTrust(mode, trustedProxies string) *ProxyTrust {
	pt := &ProxyTrust{mode: mode}
	for _, entry := range strings.Split(trustedProxies, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, n, err := net.ParseCIDR(entry); err == nil {
				pt.cidrs = append(pt.cidrs, n)
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			pt.ips = append(pt.ips, ip)
		}
	}
	return pt
}

// IsTrusted reports whether addr is one of the configured proxies
func (pt *ProxyTrust) IsTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, p := range pt.ips {
		if p.Equal(ip) {
			return true
		}
	}
	for _, n := range pt.cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating address of r. X-Forwarded-For and
// X-Real-IP are honoured only when the mode allows it; in auto mode the
// immediate peer must be a trusted proxy.
func (pt *ProxyTrust) ClientIP(r *http.Request) string {
	remote := ExtractIP(r.RemoteAddr)

	trust := false
	switch pt.mode {
	case "true":
		trust = true
	case "false":
	default:
		trust = pt.IsTrusted(remote)
	}
	if !trust {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remote
}

// ExtractIP strips the port from a host:port address. Bare IPv4 and IPv6
// addresses are returned unchanged.
func ExtractIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
