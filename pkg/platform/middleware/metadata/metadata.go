package metadata

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPFromRequest returns the client address for r. Proxy headers
// (X-Forwarded-For, then X-Real-IP) are consulted only when trustProxy is
// set; otherwise the host part of RemoteAddr is used. It returns "" when no
// address is known.
func ClientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	addr := r.RemoteAddr
	if addr == "" {
		return ""
	}
	// RemoteAddr is "ip:port" or "[ipv6]:port"
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
