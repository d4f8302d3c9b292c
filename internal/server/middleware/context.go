package middleware

import "context"

type contextKey string

const (
	ContextKeyTenantID contextKey = "tenant_id"
	ContextKeySubject  contextKey = "subject"
	ContextKeyRole     contextKey = "role"
)

func TenantIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyTenantID).(string)
	return v, ok
}

func SubjectFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeySubject).(string)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyRole).(string)
	return v, ok
}

// WithOperator returns ctx carrying an authenticated operator identity.
func WithOperator(ctx context.Context, tenantID, subject, role string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyTenantID, tenantID)
	ctx = context.WithValue(ctx, ContextKeySubject, subject)
	return context.WithValue(ctx, ContextKeyRole, role)
}
