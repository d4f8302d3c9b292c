package server

import (
	"github.com/danielgtaylor/huma/v2"

	v1 "github.com/gosuda/auditchain/internal/api/v1"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterRecordRoutes(api, deps.Logger, deps.Verifier)
	v1.RegisterChainRoutes(api, deps.Verifier, deps.Sequences)
}

func registerAdminRoutes(api huma.API, deps Deps) {
	v1.RegisterRetentionRoutes(api, deps.Retention)
}
