package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/postpipe/connector/internal/models"
)

var (
	relationalTokens = []string{"postgres", "pg", "neon"}
	documentTokens   = []string{"mongo", "mongodb", "atlas"}
)

// KindLookup reports the configured kind of a target.
type KindLookup interface {
	RegistryKind(target string) (models.Kind, bool)
}

// ResolveKind picks the engine for a delivery. An explicit type hint wins,
// then the configured kind of a registered target, then a case-insensitive
// token match on the target name, then fallback. An empty fallback means the
// in-memory adapter. Unrecognized explicit hints are ignored.
func ResolveKind(explicit, target string, lookup KindLookup, fallback models.Kind) models.Kind {
	if kind, ok := models.ParseKind(explicit); ok {
		return kind
	}
	if lookup != nil && target != "" {
		if kind, ok := lookup.RegistryKind(target); ok {
			return kind
		}
	}
	if kind, ok := KindFromName(target); ok {
		return kind
	}
	if fallback == "" {
		return models.KindMemory
	}
	return fallback
}

// KindFromName applies the token heuristic alone. Relational tokens are
// checked first, so a name carrying both kinds resolves relational.
func KindFromName(target string) (models.Kind, bool) {
	lower := strings.ToLower(target)
	if lower == "" {
		return "", false
	}
	for _, tok := range relationalTokens {
		if strings.Contains(lower, tok) {
			return models.KindRelational, true
		}
	}
	for _, tok := range documentTokens {
		if strings.Contains(lower, tok) {
			return models.KindDocument, true
		}
	}
	return "", false
}

// Set holds one adapter per kind.
type Set struct {
	adapters map[models.Kind]Adapter
}

// NewSet indexes adapters by their Kind.
func NewSet(adapters ...Adapter) *Set {
	s := &Set{adapters: make(map[models.Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		s.adapters[a.Kind()] = a
	}
	return s
}

// Get returns the adapter for kind.
func (s *Set) Get(kind models.Kind) (Adapter, error) {
	a, ok := s.adapters[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	return a, nil
}

// Has reports whether an adapter for kind is registered.
func (s *Set) Has(kind models.Kind) bool {
	_, ok := s.adapters[kind]
	return ok
}

// Close closes every adapter and joins their errors.
func (s *Set) Close(ctx context.Context) error {
	var errs []error
	for _, a := range s.adapters {
		if err := a.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
