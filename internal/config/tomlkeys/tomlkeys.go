// Package tomlkeys flattens TOML documents into dotted-key maps so that
// nested tables and dotted keys read the same way, with key lookup
// normalized to lowercase dash-separated form.
package tomlkeys

import (
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Store holds one decoded document as a flat, normalized key map.
type Store struct {
	flat map[string]any
}

// Decode parses TOML and flattens it.
func Decode(data []byte) (Store, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

// FromRaw flattens an already-decoded document. When two raw keys normalize
// to the same name, the lexically first one wins, so the result is
// deterministic.
func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	normalized := make(map[string]any, len(flat))
	for _, key := range keys {
		name := NormalizeKey(key)
		if _, exists := normalized[name]; exists {
			continue
		}
		normalized[name] = flat[key]
	}
	return Store{flat: normalized}
}

// Flat returns a copy of the normalized key map.
func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.flat))
	for key, value := range s.flat {
		flat[key] = value
	}
	return flat
}

// Value looks one key up, normalizing it first.
func (s Store) Value(key string) (any, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	return value, ok
}

// NormalizeKey lowercases each dotted segment and maps underscores to
// dashes, so "Pairing.Tool_Path" and "pairing.tool-path" address the same
// value.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		parts[i] = strings.ReplaceAll(strings.ToLower(part), "_", "-")
	}
	return strings.Join(parts, ".")
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenMap(name, nested, out)
			continue
		}
		out[name] = value
	}
}
