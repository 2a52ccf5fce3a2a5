package observability

import (
	"net"
	"net/http"
	"strings"

	"room-chat/internal/telemetry"
)

// RequestIDFromRequest prefers the id the request middleware stored on the
// context and falls back to the inbound header.
func RequestIDFromRequest(r *http.Request) string {
	if id := telemetry.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-Id")
}

// IPFromRequest returns the client address, trusting the first hop of
// X-Forwarded-For, then X-Real-Ip, then the socket peer.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
