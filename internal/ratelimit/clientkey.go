package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// FallbackClientKey is used when no address can be determined.
const FallbackClientKey = "127.0.0.1"

// ClientKey derives the rate-limit key of an HTTP request.
func ClientKey(r *http.Request) string {
	return ResolveClientKey(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)
}

// ResolveClientKey applies the key precedence: first X-Forwarded-For
// entry, then X-Real-IP, then the connection's remote host, then the
// local fallback. Values that do not parse as IP addresses are skipped.
func ResolveClientKey(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}
	if ip := parseIP(realIP); ip != "" {
		return ip
	}
	if remoteAddr != "" {
		host := remoteAddr
		if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
			host = h
		}
		if ip := parseIP(host); ip != "" {
			return ip
		}
	}
	return FallbackClientKey
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
