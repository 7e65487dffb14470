package targets

import (
	"regexp"
	"strings"
)

// DefaultTarget is the reserved name of the primary destination.
const DefaultTarget = "default"

// TechnicalKeywords mark a target name as a connection selector when they
// appear anywhere in it, case-insensitively.
var TechnicalKeywords = []string{
	"url",
	"uri",
	"postgres",
	"postgresql",
	"mongo",
	"mongodb",
	"atlas",
	"database",
}

// Per-target connection key prefixes, in lookup order.
const (
	PrefixConn        = "CONN_"
	PrefixDatabaseURL = "DATABASE_URL_"
	PrefixPostgresURL = "POSTGRES_URL_"
	PrefixMongoURI    = "MONGODB_URI_"
)

var routingKeyPrefixes = []string{PrefixConn, PrefixDatabaseURL, PrefixPostgresURL, PrefixMongoURI}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is usable as a target name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// HasTechnicalKeyword reports whether name contains any TechnicalKeywords entry.
func HasTechnicalKeyword(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range TechnicalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// envKey upper-cases a target for use inside an environment key.
func envKey(target string) string {
	return strings.ToUpper(target)
}

// envKeyVariants yields the target as written and with dashes mapped to
// underscores, since shells cannot export names containing '-'.
func envKeyVariants(prefix, target string) []string {
	k := prefix + envKey(target)
	alt := strings.ReplaceAll(k, "-", "_")
	if alt == k {
		return []string{k}
	}
	return []string{k, alt}
}

// IsTechnicalAlias reports whether target selects a connection rather than
// naming a destination. A technical alias is empty, the reserved default, a
// conn_ name, a name containing a technology keyword, the name of a set
// environment variable, or a name with a set per-target connection key.
func IsTechnicalAlias(env Environment, target string) bool {
	if target == "" || strings.EqualFold(target, DefaultTarget) {
		return true
	}
	if strings.HasPrefix(strings.ToLower(target), "conn_") {
		return true
	}
	if HasTechnicalKeyword(target) {
		return true
	}
	if env == nil {
		return false
	}
	if _, ok := lookupNonEmpty(env, target); ok {
		return true
	}
	for _, prefix := range routingKeyPrefixes {
		for _, key := range envKeyVariants(prefix, target) {
			if _, ok := lookupNonEmpty(env, key); ok {
				return true
			}
		}
	}
	return false
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeName maps name onto [a-z0-9_].
func SanitizeName(name string) string {
	return strings.ToLower(unsafeChars.ReplaceAllString(name, "_"))
}
