package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosuda/auditchain/internal/domain"
)

// TimestampLayout is the fixed-precision createdAt format used in the chain
// serialization. Records are stamped at microsecond precision so the value
// survives a round trip through every supported store.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

const fieldSeparator = "|"

var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// Serialize returns the v1 hash input of a record:
//
//	id|tenantId|sequenceNumber|recordType|description|subjectType|subjectId|
//	causerType|causerId|canonicalProperties|level|previousHash|createdAt
//
// Every field is escaped (backslash and pipe are prefixed with a backslash)
// before joining. Signature and SignedBy never participate. Changing this
// layout breaks re-verification of historical chains.
func Serialize(r *domain.AuditRecord) ([]byte, error) {
	props, err := CanonicalJSON(r.Properties)
	if err != nil {
		return nil, fmt.Errorf("audit.Serialize: properties: %w", err)
	}

	fields := []string{
		r.ID.String(),
		r.TenantID,
		strconv.FormatInt(r.SequenceNumber, 10),
		r.RecordType,
		r.Description,
		r.SubjectType,
		r.SubjectID,
		r.CauserType,
		r.CauserID,
		string(props),
		r.Level.String(),
		r.PreviousHash,
		FormatTimestamp(r.CreatedAt),
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString(fieldSeparator)
		}
		_, _ = fieldEscaper.WriteString(&b, f)
	}
	return []byte(b.String()), nil
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Stamp normalizes t to the precision stored in the chain.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
