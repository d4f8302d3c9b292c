package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/signing"
)

type LogRecordBody struct {
	RecordType    string          `json:"record_type" minLength:"1" maxLength:"255" doc:"Business event type, e.g. payment.refund"`
	Description   string          `json:"description,omitempty" maxLength:"4000" doc:"Human readable summary"`
	SubjectType   string          `json:"subject_type,omitempty" doc:"Kind of entity acted upon"`
	SubjectID     string          `json:"subject_id,omitempty" doc:"ID of the entity acted upon"`
	CauserType    string          `json:"causer_type,omitempty" doc:"Kind of actor"`
	CauserID      string          `json:"causer_id,omitempty" doc:"ID of the actor"`
	Properties    json.RawMessage `json:"properties,omitempty" doc:"Arbitrary structured context as a JSON object; numbers are hashed exactly as sent"`
	Level         string          `json:"level,omitempty" enum:"low,medium,high,critical" doc:"Importance (default low)"`
	RetentionDays int             `json:"retention_days,omitempty" minimum:"0" doc:"Overrides the retention policy"`
	SignedBy      string          `json:"signed_by,omitempty" doc:"Signing key id; empty leaves the record unsigned"`
}

type LogRecordInput struct {
	Body LogRecordBody
}

type RecordRef struct {
	ID       uuid.UUID `json:"id" doc:"Record ID"`
	TenantID string    `json:"tenant_id" doc:"Tenant chain the record belongs to"`
	Queued   bool      `json:"queued" doc:"True when the record is not yet durable"`
}

type LogRecordOutput struct {
	Body RecordRef
}

type GetRecordInput struct {
	ID uuid.UUID `path:"id" doc:"Record ID"`
}

type GetRecordOutput struct {
	Body *domain.AuditRecord
}

type RecordIntegrity struct {
	RecordID       uuid.UUID          `json:"record_id"`
	Sequence       int64              `json:"sequence"`
	HashValid      bool               `json:"hash_valid"`
	Signed         bool               `json:"signed"`
	SignatureValid bool               `json:"signature_valid" doc:"Always true for unsigned records"`
	Violations     []*audit.Violation `json:"violations"`
}

type RecordIntegrityOutput struct {
	Body RecordIntegrity
}

func RegisterRecordRoutes(api huma.API, logger AuditLogger, verifier ChainVerifier) {
	huma.Register(api, huma.Operation{
		OperationID: "log-record",
		Method:      http.MethodPost,
		Path:        "/records",
		Summary:     "Append a record to the tenant chain and wait until it is durable",
		Tags:        []string{"Records"},
	}, func(ctx context.Context, input *LogRecordInput) (*LogRecordOutput, error) {
		req, err := logRequest(ctx, &input.Body)
		if err != nil {
			return nil, err
		}

		id, err := logger.LogSync(ctx, req)
		if err != nil {
			return nil, logError(err)
		}

		return &LogRecordOutput{Body: RecordRef{ID: id, TenantID: req.TenantID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "log-record-async",
		Method:        http.MethodPost,
		Path:          "/records/async",
		Summary:       "Queue a record for appending",
		Tags:          []string{"Records"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *LogRecordInput) (*LogRecordOutput, error) {
		req, err := logRequest(ctx, &input.Body)
		if err != nil {
			return nil, err
		}

		id, err := logger.LogAsync(ctx, req)
		if err != nil {
			return nil, logError(err)
		}

		return &LogRecordOutput{Body: RecordRef{ID: id, TenantID: req.TenantID, Queued: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{id}",
		Summary:     "Get a committed record",
		Tags:        []string{"Records"},
	}, func(ctx context.Context, input *GetRecordInput) (*GetRecordOutput, error) {
		rec, err := fetchRecord(ctx, logger, input.ID)
		if err != nil {
			return nil, err
		}
		return &GetRecordOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-record-integrity",
		Method:      http.MethodGet,
		Path:        "/records/{id}/integrity",
		Summary:     "Recompute a record's hash and verify its signature",
		Tags:        []string{"Records"},
	}, func(ctx context.Context, input *GetRecordInput) (*RecordIntegrityOutput, error) {
		rec, err := fetchRecord(ctx, logger, input.ID)
		if err != nil {
			return nil, err
		}

		out := RecordIntegrity{
			RecordID:       rec.ID,
			Sequence:       rec.SequenceNumber,
			HashValid:      true,
			Signed:         rec.Signed(),
			SignatureValid: true,
			Violations:     []*audit.Violation{},
		}

		if err := verifier.VerifyRecord(rec); err != nil {
			v, ok := audit.AsViolation(err)
			if !ok {
				return nil, huma.Error500InternalServerError("failed to verify record", err)
			}
			out.HashValid = false
			out.Violations = append(out.Violations, v)
		}

		if err := verifier.VerifySignature(ctx, rec); err != nil {
			if errors.Is(err, audit.ErrSignerNotConfigured) {
				return nil, huma.Error503ServiceUnavailable("signature verification is not configured")
			}
			v, ok := audit.AsViolation(err)
			if !ok {
				return nil, huma.Error500InternalServerError("failed to verify signature", err)
			}
			out.SignatureValid = false
			out.Violations = append(out.Violations, v)
		}

		return &RecordIntegrityOutput{Body: out}, nil
	})
}

func logRequest(ctx context.Context, body *LogRecordBody) (*audit.LogRequest, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireWriter(ctx); err != nil {
		return nil, err
	}

	req := &audit.LogRequest{
		TenantID:      tenantID,
		RecordType:    body.RecordType,
		Description:   body.Description,
		SubjectType:   body.SubjectType,
		SubjectID:     body.SubjectID,
		CauserType:    body.CauserType,
		CauserID:      body.CauserID,
		RetentionDays: body.RetentionDays,
		SignedBy:      body.SignedBy,
	}
	props, err := audit.DecodeProperties(body.Properties)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	req.Properties = props

	if body.Level != "" {
		level, err := domain.ParseLevel(body.Level)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		req.Level = level
	}
	return req, nil
}

func logError(err error) error {
	switch {
	case errors.Is(err, audit.ErrInvalidRequest):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, audit.ErrSignerNotConfigured):
		return huma.Error422UnprocessableEntity("signing is not configured on this server")
	case errors.Is(err, signing.ErrUnknownKey):
		return huma.Error422UnprocessableEntity("unknown signing key")
	case errors.Is(err, audit.ErrQueueFull):
		return huma.Error503ServiceUnavailable("ingest queue is full, retry later")
	default:
		return huma.Error500InternalServerError("failed to log record", err)
	}
}

func fetchRecord(ctx context.Context, logger AuditLogger, id uuid.UUID) (*domain.AuditRecord, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := logger.Record(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("record not found")
		}
		return nil, huma.Error500InternalServerError("failed to get record", err)
	}
	return rec, nil
}
