// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const ownerIDKey contextKey = "owner_id"

// OwnerHeader carries the tenant identity on every API request. The
// API sits behind the platform gateway, which authenticates the caller
// and stamps this header; the service itself never sees credentials.
const OwnerHeader = "X-Owner-ID"

// RequireOwner rejects requests without a tenant identity and puts the
// owner ID on the request context.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(OwnerHeader)
		if ownerID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "UNAUTHORIZED",
					"message": "missing " + OwnerHeader + " header",
				},
			})
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOwnerID returns the tenant identity from the request context.
func GetOwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok {
		return v
	}
	return ""
}
