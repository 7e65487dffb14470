package targets

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/postpipe/connector/internal/models"
)

// Entry is an explicitly configured target: where it connects and, optionally,
// what to call the destination.
type Entry struct {
	Name     string      `yaml:"-" mapstructure:"-"`
	Kind     models.Kind `yaml:"kind" mapstructure:"kind"`
	URL      string      `yaml:"url" mapstructure:"url"`
	URLEnv   string      `yaml:"url_env" mapstructure:"url_env"`
	Database string      `yaml:"database" mapstructure:"database"`
	Table    string      `yaml:"table" mapstructure:"table"`
}

// Registry holds the configured targets. It is built once at startup and is
// read-only afterwards.
type Registry struct {
	entries       map[string]Entry
	defaultTarget string
}

// NewRegistry validates and indexes entries.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := r.add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(e Entry) error {
	if !ValidName(e.Name) {
		return fmt.Errorf("target %q: invalid name", e.Name)
	}
	if _, dup := r.entries[e.Name]; dup {
		return fmt.Errorf("target %q: defined twice", e.Name)
	}
	if e.Kind != "" {
		kind, ok := models.ParseKind(string(e.Kind))
		if !ok {
			return fmt.Errorf("target %q: unknown kind %q", e.Name, e.Kind)
		}
		e.Kind = kind
	}
	if url, ok := strings.CutPrefix(e.URL, "env:"); ok {
		e.URL, e.URLEnv = "", url
	}
	r.entries[e.Name] = e
	return nil
}

// Lookup returns the entry for name. A nil registry has no entries.
func (r *Registry) Lookup(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the configured target names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured targets.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// DefaultTarget returns the primary target name used when a payload names none.
func (r *Registry) DefaultTarget() string {
	if r == nil || r.defaultTarget == "" {
		return DefaultTarget
	}
	return r.defaultTarget
}

// SetDefaultTarget overrides the primary fallback name.
func (r *Registry) SetDefaultTarget(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("default target %q: invalid name", name)
	}
	r.defaultTarget = name
	return nil
}

// Merge adds the entries of other. Names already present are kept.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}
	for name, e := range other.entries {
		if _, exists := r.entries[name]; !exists {
			r.entries[name] = e
		}
	}
	if r.defaultTarget == "" {
		r.defaultTarget = other.defaultTarget
	}
}

// connectionURL returns the literal or env-referenced URL of e.
func (e Entry) connectionURL(env Environment) (string, bool) {
	if e.URL != "" {
		return e.URL, true
	}
	return lookupNonEmpty(env, e.URLEnv)
}

type routesFile struct {
	Databases map[string]struct {
		URI    string `yaml:"uri"`
		DBName string `yaml:"dbName"`
		Type   string `yaml:"type"`
		Table  string `yaml:"table"`
	} `yaml:"databases"`
	DefaultTarget string `yaml:"defaultTarget"`
}

var errEmptyRoutes = errors.New("routes file defines no databases")

// LoadRoutesFile reads a routes file in YAML or JSON form:
//
//	databases:
//	  analytics: {uri: "env:ANALYTICS_URL", dbName: analytics, type: postgres}
//	defaultTarget: analytics
func LoadRoutesFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes(raw)
}

// ParseRoutes parses routes file content. JSON input is accepted because it
// is valid YAML.
func ParseRoutes(raw []byte) (*Registry, error) {
	var rf routesFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	if len(rf.Databases) == 0 {
		return nil, errEmptyRoutes
	}

	names := make([]string, 0, len(rf.Databases))
	for name := range rf.Databases {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		db := rf.Databases[name]
		entries = append(entries, Entry{
			Name:     name,
			Kind:     models.Kind(db.Type),
			URL:      db.URI,
			Database: db.DBName,
			Table:    db.Table,
		})
	}
	reg, err := NewRegistry(entries...)
	if err != nil {
		return nil, err
	}
	if rf.DefaultTarget != "" {
		if err := reg.SetDefaultTarget(rf.DefaultTarget); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
