package audit_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/domain"
)

func TestCanonicalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `{}`},
		{"null literal", json.RawMessage(`null`), `{}`},
		{"empty bytes", []byte{}, `{}`},
		{"empty map", map[string]any{}, `{}`},
		{"sorted keys", map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{"nested", json.RawMessage(`{"z":{"y":1,"x":[3,{"d":1,"c":2}]},"a":true}`), `{"a":true,"z":{"x":[3,{"c":2,"d":1}],"y":1}}`},
		{"whitespace stripped", json.RawMessage("{ \"a\" : 1 ,\n \"b\" : null }"), `{"a":1,"b":null}`},
		{"numbers verbatim", json.RawMessage(`{"n":1.50,"big":12345678901234567890}`), `{"big":12345678901234567890,"n":1.50}`},
		{"no html escaping", map[string]any{"q": "<a&b>"}, `{"q":"<a&b>"}`},
		{"unicode kept", map[string]any{"name": "Zoë"}, `{"name":"Zoë"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := audit.CanonicalJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalJSONIdempotent(t *testing.T) {
	t.Parallel()

	first, err := audit.CanonicalJSON(map[string]any{
		"user":  map[string]any{"id": 7, "roles": []string{"admin", "ops"}},
		"ip":    "10.0.0.1",
		"ratio": 0.25,
	})
	require.NoError(t, err)

	second, err := audit.CanonicalJSON(first)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCanonicalJSONRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := audit.CanonicalJSON(json.RawMessage(`{"a":`))
	require.Error(t, err)

	_, err = audit.CanonicalJSON(json.RawMessage(`{} {}`))
	require.Error(t, err)
}

func TestDecodeProperties(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "empty", raw: "", want: "{}"},
		{name: "null", raw: "null", want: "{}"},
		{name: "large integer", raw: `{"id": 9007199254740993}`, want: `{"id":9007199254740993}`},
		{name: "decimal literal", raw: `{"b":1.50,"a":[1e3]}`, want: `{"a":[1e3],"b":1.50}`},
		{name: "array", raw: `[1,2]`, wantErr: true},
		{name: "scalar", raw: `42`, wantErr: true},
		{name: "trailing data", raw: `{"a":1} {"b":2}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			props, err := audit.DecodeProperties([]byte(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, audit.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)

			got, err := audit.CanonicalJSON(props)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestLogRequestJSONKeepsNumbers(t *testing.T) {
	t.Parallel()

	var req audit.LogRequest
	require.NoError(t, json.Unmarshal([]byte(`{"tenant_id":"T1","record_type":"a","level":"high","properties":{"n":9007199254740993}}`), &req))

	assert.Equal(t, "T1", req.TenantID)
	assert.Equal(t, domain.LevelHigh, req.Level)
	assert.Equal(t, json.Number("9007199254740993"), req.Properties["n"])
}
