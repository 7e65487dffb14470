package models

import "strings"

// Kind identifies a storage engine family.
type Kind string

const (
	KindRelational Kind = "postgres"
	KindDocument   Kind = "mongodb"
	KindMemory     Kind = "memory"
)

// ParseKind maps an explicit type hint to a Kind. Matching is case-insensitive
// and accepts the common engine aliases.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg", "neon", "relational", "sql":
		return KindRelational, true
	case "mongodb", "mongo", "atlas", "document":
		return KindDocument, true
	case "memory", "inmemory", "in-memory":
		return KindMemory, true
	}
	return "", false
}

func (k Kind) String() string {
	return string(k)
}
