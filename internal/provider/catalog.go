package provider

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Catalog is the YAML document listing command-line agents.
type Catalog struct {
	Providers []Definition `yaml:"providers"`
}

// LoadCatalog reads provider definitions from a YAML file.
func LoadCatalog(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates provider definitions.
func ParseCatalog(data []byte) ([]Definition, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}

	seen := make(map[string]bool, len(cat.Providers))
	for i, def := range cat.Providers {
		if def.Format == "" {
			cat.Providers[i].Format = FormatText
			def.Format = FormatText
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("provider catalog: duplicate name %q", def.Name)
		}
		seen[def.Name] = true
	}
	return cat.Providers, nil
}
