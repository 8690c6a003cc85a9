package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]EntitySchema)
	registryMu sync.RWMutex
	sealed     bool
)

// Register adds an entity schema to the registry.
// Panics if the schema is invalid, the entity type is already registered,
// or the registry has been sealed.
func Register(schema EntitySchema) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if sealed {
		panic(fmt.Sprintf("registry sealed: cannot register %s", schema.EntityType))
	}
	if err := schema.Validate(); err != nil {
		panic(fmt.Sprintf("invalid schema %s: %v", schema.EntityType, err))
	}
	if _, exists := registry[schema.EntityType]; exists {
		panic(fmt.Sprintf("entity type already registered: %s", schema.EntityType))
	}

	if schema.Label == "" {
		schema.Label = schema.EntityType
	}

	registry[schema.EntityType] = schema.clone()
}

// Seal freezes the registry. Called once at process start, after every
// entity package has registered.
func Seal() {
	registryMu.Lock()
	defer registryMu.Unlock()
	sealed = true
}

// Sealed reports whether Seal has been called.
func Sealed() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sealed
}

// Schema returns the schema for entityType or an UnknownEntityType error.
func Schema(entityType string) (EntitySchema, error) {
	schema, ok := Get(entityType)
	if !ok {
		return EntitySchema{}, &DiffError{
			Kind:       KindUnknownEntityType,
			EntityType: entityType,
			Msg:        "unknown entity type",
		}
	}
	return schema, nil
}

// Get returns a copy of the schema for entityType.
// Returns false if not found.
func Get(entityType string) (EntitySchema, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	schema, ok := registry[entityType]
	if !ok {
		return EntitySchema{}, false
	}
	return schema.clone(), true
}

// All returns all registered schemas.
// Sorted by group then by entity type for consistent ordering.
func All() []EntitySchema {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntitySchema, 0, len(registry))
	for _, schema := range registry {
		result = append(result, schema.clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].EntityType < result[j].EntityType
	})

	return result
}

// ByGroup returns all schemas for a specific group, sorted by entity type.
func ByGroup(group string) []EntitySchema {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var result []EntitySchema
	for _, schema := range registry {
		if schema.Group == group {
			result = append(result, schema.clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityType < result[j].EntityType
	})

	return result
}

// Groups returns all unique group names, sorted alphabetically.
func Groups() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	for _, schema := range registry {
		seen[schema.Group] = true
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}

	sort.Strings(groups)
	return groups
}

// EntityTypes returns all registered entity type names, sorted.
func EntityTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered entity types.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered schemas and unseals the registry.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]EntitySchema)
	sealed = false
}

// Select resolves an entity-type filter. Explicit types win; otherwise a
// non-empty group selects its members; otherwise every registered type.
// Unknown names fail with UnknownEntityType.
func Select(entityTypes []string, group string) ([]string, error) {
	if len(entityTypes) > 0 {
		out := make([]string, 0, len(entityTypes))
		seen := make(map[string]bool, len(entityTypes))
		for _, et := range entityTypes {
			if _, err := Schema(et); err != nil {
				return nil, err
			}
			if !seen[et] {
				seen[et] = true
				out = append(out, et)
			}
		}
		return out, nil
	}

	if group != "" {
		schemas := ByGroup(group)
		if len(schemas) == 0 {
			return nil, &DiffError{Kind: KindUnknownEntityType, Msg: fmt.Sprintf("unknown entity group %q", group)}
		}
		out := make([]string, len(schemas))
		for i, s := range schemas {
			out[i] = s.EntityType
		}
		return out, nil
	}

	return EntityTypes(), nil
}
