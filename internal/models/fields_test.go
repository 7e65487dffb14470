package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_UnmarshalKeepsOrder(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":1,"alpha":"a","mid":{"x":true},"list":[1,2]}`), &f))

	assert.Equal(t, []string{"zeta", "alpha", "mid", "list"}, f.Names())

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":{"x":true},"list":[1,2]}`, string(out))
}

func TestFields_UnmarshalDuplicateKey(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":2,"a":3}`), &f))

	assert.Equal(t, []string{"a", "b"}, f.Names())
	v, _ := f.Get("a")
	assert.JSONEq(t, `3`, string(v))
}

func TestFields_UnmarshalRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[1,2]`, `"text"`, `42`} {
		var f Fields
		assert.Error(t, json.Unmarshal([]byte(input), &f), input)
	}

	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`null`), &f))
	assert.Nil(t, f)
}

func TestFields_MarshalNil(t *testing.T) {
	out, err := json.Marshal(Fields(nil))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestFields_Text(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"s":"hello","n":12345,"b":true,"z":null}`), &f))

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"s", "hello", true},
		{"n", "12345", true},
		{"b", "true", true},
		{"z", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		got, ok := f.Text(tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestFields_OnlyAndWithout(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"email":"a@b.com","phone":"555","note":"x"}`), &f))

	only := f.Only(map[string]struct{}{"note": {}, "email": {}, "ghost": {}})
	assert.Equal(t, []string{"email", "note"}, only.Names())

	without := f.Without(map[string]struct{}{"phone": {}})
	assert.Equal(t, []string{"email", "note"}, without.Names())

	// the source is untouched
	assert.Equal(t, []string{"email", "phone", "note"}, f.Names())
}

func TestFields_WithIsCopy(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1","b":"2"}`), &f))

	g := f.With("a", StringValue("changed")).With("c", StringValue("new"))

	assert.Equal(t, []string{"a", "b", "c"}, g.Names())
	text, _ := g.Text("a")
	assert.Equal(t, "changed", text)

	orig, _ := f.Text("a")
	assert.Equal(t, "1", orig)
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"postgres": KindRelational,
		"PG":       KindRelational,
		"mongodb":  KindDocument,
		"Mongo":    KindDocument,
		"memory":   KindMemory,
	}
	for input, want := range tests {
		got, ok := ParseKind(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}

	_, ok := ParseKind("cassandra")
	assert.False(t, ok)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-05-01T10:00:00.123Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}
