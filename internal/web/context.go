package web

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csv2json/internal/core"
)

// clientIP returns the request's IP without the port. TrustedRealIP has
// already replaced RemoteAddr when the request came through a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// withClient adds IP and User-Agent to the context for the history log.
func withClient(r *http.Request) context.Context {
	return core.ContextWithClient(r.Context(), clientIP(r), r.UserAgent())
}
