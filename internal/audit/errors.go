package audit

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the audit package.
var (
	ErrSequenceViolation = errors.New("audit: sequence violation")
	ErrChainBroken       = errors.New("audit: chain broken")
	ErrHashMismatch      = errors.New("audit: hash mismatch")
	ErrSignatureInvalid  = errors.New("audit: signature invalid")

	// ErrSignerNotConfigured is fatal: a signature was requested or must be
	// verified but no signer is wired in.
	ErrSignerNotConfigured = errors.New("audit: signer not configured")
	// ErrSequenceReset is fatal: resetting a tenant sequence would break the
	// chain's continuity.
	ErrSequenceReset = errors.New("audit: sequence reset is not permitted")

	ErrInvalidRequest   = errors.New("audit: invalid request")
	ErrUnknownAlgorithm = errors.New("audit: unknown hash algorithm")
)

// ViolationKind names the integrity check that failed.
type ViolationKind string

const (
	KindSequence         ViolationKind = "sequence"
	KindChainBroken      ViolationKind = "chain_broken"
	KindHashMismatch     ViolationKind = "hash_mismatch"
	KindSignatureInvalid ViolationKind = "signature_invalid"
)

// Violation is returned by the verifier with the forensic context an
// operator needs to locate the offending record. errors.Is matches it
// against the sentinel of its Kind.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	TenantID string        `json:"tenant_id"`
	RecordID uuid.UUID     `json:"record_id"`
	Sequence int64         `json:"sequence"`

	ExpectedSequence int64  `json:"expected_sequence,omitempty"`
	ExpectedHash     string `json:"expected_hash,omitempty"`
	ActualHash       string `json:"actual_hash,omitempty"`

	// Cause is set when the signer itself failed.
	Cause error `json:"-"`
}

func (v *Violation) Error() string {
	switch v.Kind {
	case KindSequence:
		return fmt.Sprintf("audit: sequence violation tenant=%s expected=%d actual=%d record=%s",
			v.TenantID, v.ExpectedSequence, v.Sequence, v.RecordID)
	case KindChainBroken:
		return fmt.Sprintf("audit: chain broken tenant=%s record=%s seq=%d expected_prev=%s actual_prev=%s",
			v.TenantID, v.RecordID, v.Sequence, v.ExpectedHash, v.ActualHash)
	case KindHashMismatch:
		return fmt.Sprintf("audit: hash mismatch tenant=%s record=%s seq=%d stored=%s recomputed=%s",
			v.TenantID, v.RecordID, v.Sequence, v.ActualHash, v.ExpectedHash)
	case KindSignatureInvalid:
		msg := fmt.Sprintf("audit: signature invalid tenant=%s record=%s seq=%d", v.TenantID, v.RecordID, v.Sequence)
		if v.Cause != nil {
			msg += ": " + v.Cause.Error()
		}
		return msg
	default:
		return fmt.Sprintf("audit: violation %q tenant=%s record=%s", v.Kind, v.TenantID, v.RecordID)
	}
}

func (v *Violation) Is(target error) bool {
	switch target {
	case ErrSequenceViolation:
		return v.Kind == KindSequence
	case ErrChainBroken:
		return v.Kind == KindChainBroken
	case ErrHashMismatch:
		return v.Kind == KindHashMismatch
	case ErrSignatureInvalid:
		return v.Kind == KindSignatureInvalid
	}
	return false
}

func (v *Violation) Unwrap() error {
	return v.Cause
}

// AsViolation extracts a *Violation from err.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
