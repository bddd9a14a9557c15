package helpers

import (
	"net"
	"net/http"
	"strings"
)

// GetRealIP extracts the client's real IP address, preferring
// X-Forwarded-For over RemoteAddr when present and parseable.
// Spoofing is possible if the front proxy does not strip these headers
// before forwarding; the deployment's proxy is assumed to do so.
func GetRealIP(r *http.Request) net.IP {
	// 1. Try X-Forwarded-For (Standard)
	// Format: client, proxy1, proxy2
	xForwardedFor := r.Header.Get("X-Forwarded-For")
	if xForwardedFor != "" {
		// Taking the first IP in the list (Client IP)
		parts := strings.Split(xForwardedFor, ",")
		for _, p := range parts {
			ipStr := strings.TrimSpace(p)
			if ip := net.ParseIP(ipStr); ip != nil {
				return ip
			}
		}
	}

	// 2. Try X-Real-IP (Nginx/Alternative)
	xRealIP := r.Header.Get("X-Real-IP")
	if xRealIP != "" {
		if ip := net.ParseIP(strings.TrimSpace(xRealIP)); ip != nil {
			return ip
		}
	}

	// 3. Fallback to RemoteAddr
	// Remove port if present (ipv4:port or [ipv6]:port)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}

	// Fallback if SplitHostPort fails (e.g. no port)
	return net.ParseIP(r.RemoteAddr)
}
