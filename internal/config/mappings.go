package config

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Mappings holds index creation bodies keyed by entity type name.
type Mappings map[string]map[string]any

// LoadMappings reads a YAML mappings file. An empty path yields no mappings.
//
//	library.Author:
//	  settings:
//	    analyzer: english
//	  mappings:
//	    properties:
//	      publishing_name: {type: text}
func LoadMappings(path string) (Mappings, error) {
	if path == "" {
		return Mappings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings file: %w", err)
	}
	return ParseMappings(data)
}

// ParseMappings decodes YAML mappings.
func ParseMappings(data []byte) (Mappings, error) {
	var out Mappings
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse mappings: %w", err)
	}
	if out == nil {
		out = Mappings{}
	}
	for name, body := range out {
		if body == nil {
			return nil, fmt.Errorf("parse mappings: empty body for %q", name)
		}
	}
	return out, nil
}

// For returns the body for an entity type.
func (m Mappings) For(entityType string) (map[string]any, bool) {
	body, ok := m[entityType]
	return body, ok
}

// Names returns the entity types with a body, sorted.
func (m Mappings) Names() []string {
	return slices.Sorted(maps.Keys(m))
}
