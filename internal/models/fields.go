package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field is one named value of a submission's data. Value holds the JSON
// encoding exactly as it was received.
type Field struct {
	Name  string
	Value json.RawMessage
}

// Fields is the ordered field mapping of a submission. Key order is the order
// the client sent and survives every transformation and storage round-trip.
type Fields []Field

var errNotObject = errors.New("data must be a JSON object")

// Get returns the raw value of name.
func (f Fields) Get(name string) (json.RawMessage, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Has reports whether name is present.
func (f Fields) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Names returns field names in order.
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, field := range f {
		names[i] = field.Name
	}
	return names
}

// Clone returns a copy that shares no backing storage with f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for i, field := range f {
		out[i] = Field{Name: field.Name, Value: bytes.Clone(field.Value)}
	}
	return out
}

// With returns a copy of f where name holds value. An existing field keeps
// its position; a new one is appended.
func (f Fields) With(name string, value json.RawMessage) Fields {
	out := f.Clone()
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Field{Name: name, Value: value})
}

// Without returns a copy of f minus every field in names.
func (f Fields) Without(names map[string]struct{}) Fields {
	out := make(Fields, 0, len(f))
	for _, field := range f {
		if _, drop := names[field.Name]; drop {
			continue
		}
		out = append(out, Field{Name: field.Name, Value: bytes.Clone(field.Value)})
	}
	return out
}

// Only returns a copy of f filtered to names. Missing names are skipped and
// the original field order is kept.
func (f Fields) Only(names map[string]struct{}) Fields {
	out := make(Fields, 0, len(names))
	for _, field := range f {
		if _, keep := names[field.Name]; keep {
			out = append(out, Field{Name: field.Name, Value: bytes.Clone(field.Value)})
		}
	}
	return out
}

// Text returns the string form of the value of name. JSON strings yield their
// content, other scalars their literal JSON text. ok is false when the field
// is missing or null.
func (f Fields) Text(name string) (string, bool) {
	raw, found := f.Get(name)
	if !found {
		return "", false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// Decode returns the values as Go types, keyed by name.
func (f Fields) Decode() (map[string]any, error) {
	out := make(map[string]any, len(f))
	for _, field := range f {
		var v any
		if err := json.Unmarshal(field.Value, &v); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", field.Name, err)
		}
		out[field.Name] = v
	}
	return out, nil
}

// StringValue encodes s as a JSON string value.
func StringValue(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// MarshalJSON writes the fields as a JSON object in order. A nil Fields
// encodes as {}.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(field.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		if !json.Valid(field.Value) {
			return nil, fmt.Errorf("field %q holds invalid JSON", field.Name)
		}
		buf.Write(field.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. A repeated key keeps
// its first position and its last value. null decodes to nil.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errNotObject
	}

	out := Fields{}
	index := map[string]int{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errNotObject
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if i, seen := index[key]; seen {
			out[i].Value = raw
			continue
		}
		index[key] = len(out)
		out = append(out, Field{Name: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
