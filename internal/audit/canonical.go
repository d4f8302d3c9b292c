package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON encodes v with object keys sorted, no insignificant
// whitespace, no HTML escaping and number literals kept verbatim. A nil or
// JSON null value encodes as "{}". Applying it to its own output is a no-op,
// which lets the verifier re-canonicalize stored properties.
func CanonicalJSON(v any) (json.RawMessage, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("audit.CanonicalJSON: marshal: %w", err)
		}
		raw = data
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("audit.CanonicalJSON: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("audit.CanonicalJSON: trailing data after value")
	}
	if decoded == nil {
		return json.RawMessage("{}"), nil
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return nil, fmt.Errorf("audit.CanonicalJSON: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// DecodeProperties parses a JSON object of record properties. Numbers stay
// json.Number so CanonicalJSON writes the literal that was sent; decoding into
// float64 would round integers above 2^53. Empty input and null yield nil.
func DecodeProperties(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("%w: properties must be a JSON object: %w", ErrInvalidRequest, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: properties: trailing data after object", ErrInvalidRequest)
	}
	return props, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case json.Number:
		buf.WriteString(val.String())
		return nil

	default:
		return writeScalar(buf, val)
	}
}

func writeScalar(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
