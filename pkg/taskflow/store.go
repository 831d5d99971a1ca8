package taskflow

import (
	"fmt"
	"sort"
)

// CtxtKey is bound into every task's inputs when present in the store.
const CtxtKey = "ctxt"

// Store maps keys to values for one run. Keys are never removed.
type Store map[string]any

// Clone returns a shallow copy.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Has reports whether key is present.
func (s Store) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the sorted key set.
func (s Store) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Store) subset(keys []string) Store {
	out := make(Store, len(keys)+1)
	for _, k := range keys {
		if v, ok := s[k]; ok {
			out[k] = v
		}
	}
	if v, ok := s[CtxtKey]; ok {
		out[CtxtKey] = v
	}
	return out
}

// Value fetches key from s and asserts it to T.
func Value[T any](s Store, key string) (T, error) {
	var zero T
	raw, ok := s[key]
	if !ok {
		return zero, fmt.Errorf("taskflow: key %q not in store", key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("taskflow: key %q holds %T, want %T", key, raw, zero)
	}
	return v, nil
}
