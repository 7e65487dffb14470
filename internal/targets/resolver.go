package targets

import (
	"errors"
	"regexp"
	"strings"

	"github.com/postpipe/connector/internal/models"
)

// ErrNoConnection means no connection string could be resolved for a target.
var ErrNoConnection = errors.New("no connection string configured")

const (
	DefaultTable      = "postpipe_submissions"
	DefaultDatabase   = "postpipe"
	DefaultCollection = "submissions"
)

// Hint is what a delivery or query knows about its destination.
type Hint struct {
	Target string
	Config *models.DatabaseConfig
}

func (h Hint) explicitURIEnv() string {
	if h.Config == nil {
		return ""
	}
	return h.Config.URI
}

func (h Hint) explicitName() string {
	if h.Config == nil {
		return ""
	}
	return h.Config.DBName
}

// ExplicitType returns the payload-supplied engine type hint, if any.
func (h Hint) ExplicitType() string {
	if h.Config == nil {
		return ""
	}
	return h.Config.Type
}

// Defaults are the process-wide fallbacks from configuration.
type Defaults struct {
	RelationalURL string
	DocumentURI   string
	Database      string
	Collection    string
	Table         string
}

// Resolver maps targets onto connection strings and destination names. The
// registry is consulted before any environment probing.
type Resolver struct {
	env      Environment
	registry *Registry
	prefix   string
	defaults Defaults
}

// NewResolver builds a Resolver. prefix is the optional multi-tenant key
// prefix prepended to the default environment keys.
func NewResolver(env Environment, registry *Registry, prefix string, defaults Defaults) *Resolver {
	if env == nil {
		env = OSEnvironment{}
	}
	if defaults.Database == "" {
		defaults.Database = DefaultDatabase
	}
	if defaults.Collection == "" {
		defaults.Collection = DefaultCollection
	}
	if defaults.Table == "" {
		defaults.Table = DefaultTable
	}
	return &Resolver{env: env, registry: registry, prefix: prefix, defaults: defaults}
}

// Registry returns the configured targets.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// IsTechnicalAlias reports whether target is a connection selector in this
// resolver's environment.
func (r *Resolver) IsTechnicalAlias(target string) bool {
	return IsTechnicalAlias(r.env, target)
}

// DefaultTarget returns the primary target name.
func (r *Resolver) DefaultTarget() string {
	return r.registry.DefaultTarget()
}

// RegistryKind returns the kind configured for target, if any.
func (r *Resolver) RegistryKind(target string) (models.Kind, bool) {
	e, ok := r.registry.Lookup(target)
	if !ok || e.Kind == "" {
		return "", false
	}
	return e.Kind, true
}

func (r *Resolver) prefixed(key string) string {
	if r.prefix == "" {
		return ""
	}
	return r.prefix + "_" + key
}

// first returns the first key in keys with a non-empty value.
func (r *Resolver) first(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := lookupNonEmpty(r.env, k); ok {
			return v, true
		}
	}
	return "", false
}

// common runs the lookups shared by both engines: the explicit env var name,
// the registry, the per-target keys and the target itself as a key.
func (r *Resolver) common(h Hint, prefixes ...string) (string, bool) {
	if v, ok := lookupNonEmpty(r.env, h.explicitURIEnv()); ok {
		return v, true
	}
	if h.Target == "" {
		return "", false
	}
	if e, ok := r.registry.Lookup(h.Target); ok {
		if v, ok := e.connectionURL(r.env); ok {
			return v, true
		}
	}
	for _, prefix := range prefixes {
		if v, ok := r.first(envKeyVariants(prefix, h.Target)...); ok {
			return v, true
		}
	}
	return lookupNonEmpty(r.env, h.Target)
}

// RelationalURL resolves the Postgres connection string for h.
func (r *Resolver) RelationalURL(h Hint) (string, error) {
	if v, ok := r.common(h, PrefixConn, PrefixDatabaseURL, PrefixPostgresURL); ok {
		return v, nil
	}
	if v, ok := r.first(r.prefixed("DATABASE_URL"), r.prefixed("POSTGRES_URL")); ok {
		return v, nil
	}
	if r.defaults.RelationalURL != "" {
		return r.defaults.RelationalURL, nil
	}
	if v, ok := r.first("DATABASE_URL", "POSTGRES_URL"); ok {
		return v, nil
	}
	return "", ErrNoConnection
}

// DocumentURI resolves the MongoDB connection string for h. As a last resort
// any MONGODB_URI_* key is used, in sorted key order.
func (r *Resolver) DocumentURI(h Hint) (string, error) {
	if v, ok := r.common(h, PrefixConn, PrefixMongoURI); ok {
		return v, nil
	}
	if v, ok := r.first(r.prefixed("MONGODB_URI")); ok {
		return v, nil
	}
	if r.defaults.DocumentURI != "" {
		return r.defaults.DocumentURI, nil
	}
	if v, ok := r.first("MONGODB_URI"); ok {
		return v, nil
	}
	for _, k := range r.env.Keys() {
		if strings.HasPrefix(k, PrefixMongoURI) {
			if v, ok := lookupNonEmpty(r.env, k); ok {
				return v, nil
			}
		}
	}
	return "", ErrNoConnection
}

// TableName picks the relational table for h: an explicit name, the
// registry table, the target when it is a genuine name, else the shared
// default table. The result is sanitized.
func (r *Resolver) TableName(h Hint) string {
	name := h.explicitName()
	if name == "" {
		if e, ok := r.registry.Lookup(h.Target); ok && e.Table != "" {
			name = e.Table
		}
	}
	if name != "" {
		// explicit names still may not collide with a technical alias
		if r.IsTechnicalAlias(name) {
			return r.defaults.Table
		}
		return SanitizeName(name)
	}
	if r.IsTechnicalAlias(h.Target) {
		return r.defaults.Table
	}
	return SanitizeName(h.Target)
}

var uriDatabase = regexp.MustCompile(`^mongodb(?:\+srv)?://[^/]+/([^?#]+)`)

// DatabaseFromURI extracts the database path segment of a MongoDB URI.
func DatabaseFromURI(uri string) (string, bool) {
	m := uriDatabase.FindStringSubmatch(uri)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DatabaseName picks the MongoDB database for h given its resolved uri.
func (r *Resolver) DatabaseName(h Hint, uri string) string {
	if name := h.explicitName(); name != "" {
		return name
	}
	if e, ok := r.registry.Lookup(h.Target); ok && e.Database != "" {
		return e.Database
	}
	if !r.IsTechnicalAlias(h.Target) {
		return h.Target
	}
	if db, ok := DatabaseFromURI(uri); ok {
		return db
	}
	return r.defaults.Database
}

// CollectionName picks the MongoDB collection for a submission.
func (r *Resolver) CollectionName(formName, formID string) string {
	switch {
	case formName != "":
		return formName
	case formID != "":
		return formID
	}
	return r.defaults.Collection
}
