package routing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpipe/connector/internal/models"
)

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12345678", "****5678"},
		{"1234", "1234"},
		{"123", "***"},
		{"", ""},
		{"ключ-секрет", "*******крет"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mask(tt.in), tt.in)
	}
}

func TestHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", Hash("hello"))
}

func TestTransform(t *testing.T) {
	var data models.Fields
	require.NoError(t, json.Unmarshal([]byte(`{"pin":1234567,"token":"abc","gone":null,"keep":"x"}`), &data))

	out := Transform(data, &models.Transformations{
		Mask: []string{"pin", "gone", "absent"},
		Hash: []string{"token"},
	})

	assert.Equal(t, []string{"pin", "token", "gone", "keep"}, out.Names())
	pin, _ := out.Text("pin")
	assert.Equal(t, "***4567", pin)
	token, _ := out.Text("token")
	assert.Equal(t, Hash("abc"), token)
	_, ok := out.Text("gone")
	assert.False(t, ok)

	// the input is untouched
	orig, _ := data.Text("token")
	assert.Equal(t, "abc", orig)
	assert.Equal(t, data, Transform(data, nil))
}
