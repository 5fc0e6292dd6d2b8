package httputil

import (
	"net/http"
	"strings"
)

// QueryParam returns a trimmed query parameter value, "" when absent.
func QueryParam(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// QueryParamDefault returns a trimmed query parameter value, or def when the
// parameter is absent or blank.
func QueryParamDefault(r *http.Request, key, def string) string {
	if v := QueryParam(r, key); v != "" {
		return v
	}
	return def
}

// RequireQueryParam returns a trimmed query parameter, writing a 400 response
// and returning false when it is absent or blank.
func RequireQueryParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := QueryParam(r, key)
	if v == "" {
		WriteValidationError(w, key+" parameter is required")
		return "", false
	}
	return v, true
}
