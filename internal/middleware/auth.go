package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/auth"
)

const CtxService ctxKey = "service"

// Auth requires a bearer service token signed with secret. An empty secret
// disables the check.
func Auth(secret string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenStr == authHeader {
				unauthorized(w, "invalid authorization format")
				return
			}

			claims, err := auth.ParseJWT(secret, tokenStr)
			if err != nil {
				log.Debug("jwt parse error", zap.Error(err))
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), CtxService, claims.Service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetService(ctx context.Context) string {
	s, _ := ctx.Value(CtxService).(string)
	return s
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
