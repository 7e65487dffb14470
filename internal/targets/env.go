package targets

import (
	"os"
	"sort"
	"strings"
)

// Environment is the process environment as seen by target resolution.
type Environment interface {
	Lookup(key string) (string, bool)
	Keys() []string
}

// OSEnvironment reads the real process environment.
type OSEnvironment struct{}

func (OSEnvironment) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

func (OSEnvironment) Keys() []string {
	environ := os.Environ()
	keys := make([]string, 0, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			keys = append(keys, kv[:i])
		}
	}
	sort.Strings(keys)
	return keys
}

// MapEnvironment is a fixed environment, used by tests and the CLI.
type MapEnvironment map[string]string

func (m MapEnvironment) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MapEnvironment) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lookupNonEmpty returns the value of key when it is set to something.
func lookupNonEmpty(env Environment, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	v, ok := env.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
