package v1

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/domain"
)

type ExpiredInput struct {
	Before time.Time `query:"before" doc:"Cutoff (RFC 3339); defaults to now"`
	Limit  int       `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Maximum records to return"`
}

type ExpiredRecordsOutput struct {
	Body []*domain.AuditRecord
}

type CountExpiredInput struct {
	Before time.Time `query:"before" doc:"Cutoff (RFC 3339); defaults to now"`
}

type ExpiredCount struct {
	Before time.Time `json:"before,omitzero"`
	Count  int64     `json:"count"`
}

type CountExpiredOutput struct {
	Body ExpiredCount
}

type PurgeInput struct {
	Body struct {
		Before    time.Time `json:"before,omitzero" required:"false" doc:"Cutoff (RFC 3339); defaults to now"`
		BatchSize int       `json:"batch_size,omitempty" minimum:"0" maximum:"10000" doc:"Records deleted per round"`
	} `required:"false"`
}

type PurgeResult struct {
	Deleted int64 `json:"deleted"`
}

type PurgeOutput struct {
	Body PurgeResult
}

// RegisterRetentionRoutes exposes retention across all tenants; every
// operation requires the admin role.
func RegisterRetentionRoutes(api huma.API, retention RetentionService) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-expired",
		Method:      http.MethodGet,
		Path:        "/retention/expired",
		Summary:     "List records a purge would delete",
		Tags:        []string{"Retention"},
	}, func(ctx context.Context, input *ExpiredInput) (*ExpiredRecordsOutput, error) {
		if err := requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, err
		}

		recs, err := retention.Preview(ctx, input.Before, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list expired records", err)
		}
		if recs == nil {
			recs = []*domain.AuditRecord{}
		}

		return &ExpiredRecordsOutput{Body: recs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-expired",
		Method:      http.MethodGet,
		Path:        "/retention/expired/count",
		Summary:     "Count records a purge would delete",
		Tags:        []string{"Retention"},
	}, func(ctx context.Context, input *CountExpiredInput) (*CountExpiredOutput, error) {
		if err := requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, err
		}

		n, err := retention.Count(ctx, input.Before)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to count expired records", err)
		}

		return &CountExpiredOutput{Body: ExpiredCount{Before: input.Before, Count: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-expired",
		Method:      http.MethodPost,
		Path:        "/retention/purge",
		Summary:     "Delete expired records",
		Tags:        []string{"Retention"},
	}, func(ctx context.Context, input *PurgeInput) (*PurgeOutput, error) {
		if err := requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, err
		}

		deleted, err := retention.Purge(ctx, input.Body.Before, input.Body.BatchSize)
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("purge stopped after deleting %d records", deleted), err)
		}

		return &PurgeOutput{Body: PurgeResult{Deleted: deleted}}, nil
	})
}
