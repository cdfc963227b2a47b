package usertoken

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"ghazal/internal/util"
)

type principalContextKey struct{}

// Require authenticates the bearer token and stores the Principal in the
// request context. Failures answer 401 in the shared error shape.
func Require(v *Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			unauthorized(w, r, "missing token")
			return
		}
		p, err := v.Verify(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Info("user_token_rejected", "err", err)
			unauthorized(w, r, "invalid token")
			return
		}
		ctx := ContextWithPrincipal(r.Context(), p)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ContextWithPrincipal stores p for PrincipalFromContext.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the caller set by Require.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":     msg,
		"code":      "UNAUTHORIZED",
		"requestId": util.RequestIDFromRequest(r),
	})
}
