// Package models maps human-readable model labels to provider model ids.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownModel is returned when a label has no provider model id.
var ErrUnknownModel = errors.New("unknown model")

// Model pairs a display label with the provider's model id.
type Model struct {
	Label string
	ID    string
}

// Catalog is an ordered, immutable set of models with unique labels.
type Catalog struct {
	models  []Model
	byLabel map[string]Model
}

// DefaultModels is the catalog offered when none is configured.
var DefaultModels = []Model{
	{Label: "Rápido (8B)", ID: "llama-3.1-8b-instant"},
	{Label: "Potente (70B)", ID: "llama-3.3-70b-versatile"},
}

// NewCatalog builds a catalog preserving the given order.
func NewCatalog(models []Model) (*Catalog, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	c := &Catalog{
		models:  make([]Model, 0, len(models)),
		byLabel: make(map[string]Model, len(models)),
	}
	for _, m := range models {
		if m.Label == "" || m.ID == "" {
			return nil, fmt.Errorf("model %q: label and id are required", m.Label)
		}
		if _, dup := c.byLabel[m.Label]; dup {
			return nil, fmt.Errorf("model %q: duplicate label", m.Label)
		}
		c.models = append(c.models, m)
		c.byLabel[m.Label] = m
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(DefaultModels)
	if err != nil {
		panic(err)
	}
	return c
}

// Resolve maps a label to its provider model id.
func (c *Catalog) Resolve(label string) (string, error) {
	m, ok := c.byLabel[label]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, label)
	}
	return m.ID, nil
}

// Lookup returns the model for a label.
func (c *Catalog) Lookup(label string) (Model, bool) {
	m, ok := c.byLabel[label]
	return m, ok
}

// Find accepts either an exact label, a case-insensitive label, or a 1-based
// position in the catalog.
func (c *Catalog) Find(choice string) (Model, error) {
	choice = strings.TrimSpace(choice)
	if m, ok := c.byLabel[choice]; ok {
		return m, nil
	}
	if n, err := strconv.Atoi(choice); err == nil {
		if n >= 1 && n <= len(c.models) {
			return c.models[n-1], nil
		}
		return Model{}, fmt.Errorf("%w: no model at position %d", ErrUnknownModel, n)
	}
	for _, m := range c.models {
		if strings.EqualFold(m.Label, choice) {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, choice)
}

// First returns the first model in catalog order.
func (c *Catalog) First() Model {
	return c.models[0]
}

// Labels returns the display labels in catalog order.
func (c *Catalog) Labels() []string {
	labels := make([]string, len(c.models))
	for i, m := range c.models {
		labels[i] = m.Label
	}
	return labels
}

// Models returns a copy of the catalog entries.
func (c *Catalog) Models() []Model {
	return append([]Model(nil), c.models...)
}

// Len returns the number of models.
func (c *Catalog) Len() int {
	return len(c.models)
}
