// Package secrets derives the set of secrets to propagate from prefixed
// environment entries.
package secrets

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultPrefix marks environment entries that should be synced.
const DefaultPrefix = "SYNC_"

const mask = "**********"

// Entry is a single KEY=VALUE pair from an environment source.
type Entry struct {
	Key   string
	Value string
}

// Spec is a secret to propagate. Name is the secret's identifier on the
// platform; Value is never printed.
type Spec struct {
	Name  string
	Value string
}

func (s Spec) String() string {
	return s.Name + "=" + mask
}

// LogValue keeps the value out of structured logs.
func (s Spec) LogValue() slog.Value {
	return slog.GroupValue(slog.String("name", s.Name), slog.String("value", mask))
}

// Warning describes a prefixed entry that was skipped.
type Warning struct {
	Key    string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("skipping %s: %s", w.Key, w.Reason)
}

// Resolve selects entries whose key starts with prefix. The secret name is
// the key without the prefix and the value is trimmed. Entries with a blank
// value or an empty name are skipped with a warning. A later entry for the
// same name replaces the earlier one in place. Order otherwise follows
// entries.
func Resolve(entries []Entry, prefix string) ([]Spec, []Warning) {
	var (
		specs    []Spec
		warnings []Warning
		index    = map[string]int{}
	)

	for _, e := range entries {
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}

		name := strings.TrimPrefix(e.Key, prefix)
		if name == "" {
			warnings = append(warnings, Warning{Key: e.Key, Reason: "secret name is empty"})
			continue
		}

		value := strings.TrimSpace(e.Value)
		if value == "" {
			warnings = append(warnings, Warning{Key: e.Key, Reason: "value is empty or blank"})
			continue
		}

		if i, ok := index[name]; ok {
			specs[i].Value = value
			continue
		}
		index[name] = len(specs)
		specs = append(specs, Spec{Name: name, Value: value})
	}

	return specs, warnings
}

// Find returns the spec with exactly the given name.
func Find(specs []Spec, name string) (Spec, bool) {
	for _, s := range specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// FromEnviron converts os.Environ style KEY=VALUE strings, keeping order.
func FromEnviron(environ []string) []Entry {
	entries := make([]Entry, 0, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries
}

// FromDotenv reads a dotenv file. Entries are sorted by key since the file
// order is not preserved by the parser.
func FromDotenv(path string) ([]Entry, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file %q: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: values[k]})
	}
	return entries, nil
}
