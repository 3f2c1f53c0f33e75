// Package catalog lists the models and search providers the service
// advertises. The data is static and embedded at build time.
package catalog

import (
	_ "embed"
	"fmt"
	"slices"

	"go.yaml.in/yaml/v3"
)

//go:embed catalog.yaml
var raw []byte

// Families is the display order of model families.
var Families = []string{"gemini", "openai", "anthropic"}

// Provider describes one search backend.
type Provider struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	RequiresKey bool   `yaml:"requires_key" json:"requires_key"`
}

// Catalog is the decoded catalog file.
type Catalog struct {
	Models    map[string][]string `yaml:"models" json:"models"`
	Providers []Provider          `yaml:"providers" json:"providers"`
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("parsing catalog: no models")
	}
	return &c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// HasModel reports whether model is listed under any family.
func (c *Catalog) HasModel(model string) bool {
	for _, models := range c.Models {
		if slices.Contains(models, model) {
			return true
		}
	}
	return false
}

// Provider returns the provider with id.
func (c *Catalog) Provider(id string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}
