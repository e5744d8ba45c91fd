package ws

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/okian/rosecast/pkg/logger"
)

// NewCheckOrigin returns a CheckOrigin function for the upgrader. Requests
// without an Origin header (non-browser clients) are allowed. An empty
// allow list or a "*" entry allows every origin.
func NewCheckOrigin(allowed []string, log logger.Logger) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" {
			return func(*http.Request) bool { return true }
		}
		if o := extractOrigin(a); o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[extractOrigin(origin)]; ok {
			return true
		}
		log.Warn(r.Context(), "websocket origin rejected",
			logger.String("origin", origin),
			logger.String("remote_addr", r.RemoteAddr))
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
