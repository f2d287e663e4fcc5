package auth

import (
	"encoding/json"
	"net/http"
)

// APIKeyMiddleware is the HTTP counterpart of APIKeyInterceptor. It guards
// the REST routes that change state (tag writes, acknowledgements) with the
// same mode, header and key. Rejected requests get 401 with a JSON body.
func APIKeyMiddleware(mode, header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "apikey" || key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keyMatches(r.Header.Get(header), key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
