package ws

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

func newConnID() string {
	return uuid.NewString()
}

// originChecker allows the listed origins. An empty list keeps gorilla's
// same-host check, and "*" allows any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
