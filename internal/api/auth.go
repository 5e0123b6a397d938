package api

import (
	"crypto/subtle"
	"net/http"
)

// RequireAPIKey wraps next with API key authentication.
//
// Behaviour:
//   - If mode != "apikey" or key == "", every request passes through.
//   - /health is always open so load balancers can probe it.
//   - Otherwise the value of header must equal key; a missing or wrong key
//     gets 401 with a JSON error body.
func RequireAPIKey(mode, header, key string, next http.Handler) http.Handler {
	if mode != "apikey" || key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(header)
		if got == "" {
			jsonErr(w, http.StatusUnauthorized, "missing api key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			jsonErr(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
