package middleware

import (
	"net/http"
	"slices"
	"strconv"
)

// RequireOperator admits requests whose token named both a tenant chain and
// a role. With roles given, the operator's role must be one of them. It must
// be chained after Auth.
//
// A missing role is 401; a missing tenant or a role outside roles is 403.
func RequireOperator(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if !ok || role == "" {
				writeProblem(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if tid, ok := TenantIDFromContext(r.Context()); !ok || tid == "" {
				writeProblem(w, http.StatusForbidden, "token is not scoped to a tenant chain")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, role) {
				writeProblem(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"title":"` + http.StatusText(status) + `","status":` + strconv.Itoa(status) + `,"detail":"` + detail + `"}`))
}
