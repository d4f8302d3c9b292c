package middleware

import (
	"net/http"
	"strings"

	"github.com/gosuda/auditchain/internal/auth"
)

// Auth accepts a bearer token issued by auth.IssueToken and stores the
// operator's tenant, subject and role in the request context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				writeProblem(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := auth.ValidateToken(jwtSecret, tok)
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "missing or invalid credentials")
				return
			}

			ctx := WithOperator(r.Context(), claims.TenantID, claims.Subject, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}
