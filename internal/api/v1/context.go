package v1

import (
	"context"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/server/middleware"
)

func tenantFrom(ctx context.Context) (string, error) {
	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok || tenantID == "" {
		return "", huma.Error403Forbidden("missing tenant context")
	}
	return tenantID, nil
}

func requireRole(ctx context.Context, roles ...string) error {
	role, ok := middleware.RoleFromContext(ctx)
	if !ok || !slices.Contains(roles, role) {
		return huma.Error403Forbidden("insufficient permissions")
	}
	return nil
}

func requireWriter(ctx context.Context) error {
	return requireRole(ctx, auth.RoleAdmin, auth.RoleWriter)
}
