package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
)

type authContextKey struct{}

// AuthMiddleware validates the bearer token on every endpoint except the
// public ones and attaches the verified claims to the request context.
// The QR verify endpoint stays public: scanner devices authenticate scans
// with the credential itself, not a session.
func AuthMiddleware(tokens *TokenManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}
		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/api/auth/register", "/api/auth/login", "/api/auth/refresh", "/api/qr/verify":
		return true
	}
	return false
}

func claimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(authContextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// requireRole writes the error response itself and reports whether the
// request may proceed. An empty role list means any authenticated user.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (*Claims, bool) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	if len(roles) == 0 {
		return claims, true
	}
	for _, role := range roles {
		if claims.Role == role {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "Insufficient permissions")
	return nil, false
}

func requireScannerOrAdmin(w http.ResponseWriter, r *http.Request) (*Claims, bool) {
	return requireRole(w, r, models.RoleAdmin, models.RoleScanner)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
