// Package variables holds the values captured while a scenario runs and
// substitutes them into later requests.
package variables

import "sort"

// Store defines the interface for variable storage.
type Store interface {
	// Set stores a variable with the given key and value.
	Set(key, value string)

	// Get retrieves a variable by key. Returns (value, true) if found,
	// or ("", false) if the key is not present.
	Get(key string) (string, bool)

	// GetAll returns a copy of all stored variables.
	GetAll() map[string]string

	// Keys returns the stored names in sorted order.
	Keys() []string
}

// MemoryStore is a simple map-based implementation of the Store interface.
// A scenario owns its store exclusively, so it is not safe for concurrent use.
type MemoryStore struct {
	variables map[string]string
}

// NewStore creates and returns a new MemoryStore instance.
func NewStore() Store {
	return &MemoryStore{
		variables: make(map[string]string),
	}
}

func (m *MemoryStore) Set(key, value string) {
	m.variables[key] = value
}

func (m *MemoryStore) Get(key string) (string, bool) {
	value, ok := m.variables[key]
	return value, ok
}

func (m *MemoryStore) GetAll() map[string]string {
	result := make(map[string]string, len(m.variables))
	for key, value := range m.variables {
		result[key] = value
	}
	return result
}

func (m *MemoryStore) Keys() []string {
	keys := make([]string, 0, len(m.variables))
	for k := range m.variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
