package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/postpipe/connector/internal/models"
)

// visibleSuffix is the number of trailing characters Mask leaves readable.
const visibleSuffix = 4

// Mask replaces all but the last four characters of s with '*'. Values
// shorter than four characters are masked entirely.
func Mask(s string) string {
	r := []rune(s)
	if len(r) < visibleSuffix {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-visibleSuffix) + string(r[len(r)-visibleSuffix:])
}

// Hash returns the lowercase hex SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Transform applies masking then hashing to a copy of data. Missing and null
// fields are left alone; non-string values are transformed by their JSON text.
func Transform(data models.Fields, t *models.Transformations) models.Fields {
	out := data.Clone()
	if t == nil {
		return out
	}
	out = apply(out, t.Mask, Mask)
	out = apply(out, t.Hash, Hash)
	return out
}

func apply(data models.Fields, names []string, fn func(string) string) models.Fields {
	for _, name := range names {
		text, ok := data.Text(name)
		if !ok {
			continue
		}
		data = data.With(name, models.StringValue(fn(text)))
	}
	return data
}
