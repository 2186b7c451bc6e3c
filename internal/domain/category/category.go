// Package category is the static registry of evaluation categories and the
// ordered metric keys each one scores.
package category

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknown is returned when a category name does not resolve.
var ErrUnknown = errors.New("unknown category")

// Category names one of the fixed evaluation domains.
type Category string

// Supported categories.
const (
	Music   Category = "music"
	Drawing Category = "drawing"
	Drums   Category = "drums"
	Violin  Category = "violin"
	Vocal   Category = "vocal"
)

// Schema is the immutable definition of one category.
type Schema struct {
	Category Category `json:"category"`
	Label    string   `json:"label"`
	// MetricKeys are ordered and unique within the category.
	MetricKeys []string `json:"metric_keys"`
}

// Has reports whether key is one of the schema's metric keys.
func (s Schema) Has(key string) bool {
	return slices.Contains(s.MetricKeys, key)
}

var registry = []Schema{
	{
		Category: Music,
		Label:    "Music",
		MetricKeys: []string{
			"rhythm", "theoreticalUnderstanding", "performance", "earTraining", "assignment", "technique",
		},
	},
	{
		Category: Drawing,
		Label:    "Drawing",
		MetricKeys: []string{
			"observation", "composition", "lineQuality", "shading", "creativity", "assignment",
		},
	},
	{
		Category: Drums,
		Label:    "Drums",
		MetricKeys: []string{
			"timing", "coordination", "dynamics", "rudiments", "reading", "assignment",
		},
	},
	{
		Category: Violin,
		Label:    "Violin",
		MetricKeys: []string{
			"intonation", "bowing", "posture", "tone", "reading", "assignment",
		},
	},
	{
		Category: Vocal,
		Label:    "Vocal",
		MetricKeys: []string{
			"pitch", "breathControl", "diction", "tone", "expression", "assignment",
		},
	},
}

// Parse resolves a category name case-insensitively.
func Parse(name string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := lookup(c); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return c, nil
}

// Lookup returns the schema for c.
func Lookup(c Category) (Schema, error) {
	s, ok := lookup(c)
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknown, string(c))
	}
	return s, nil
}

// MetricKeysFor returns a copy of the ordered metric keys for c, or nil if c
// is unknown.
func MetricKeysFor(c Category) []string {
	s, ok := lookup(c)
	if !ok {
		return nil
	}
	return slices.Clone(s.MetricKeys)
}

// All returns every schema in registry order.
func All() []Schema {
	out := make([]Schema, len(registry))
	for i, s := range registry {
		s.MetricKeys = slices.Clone(s.MetricKeys)
		out[i] = s
	}
	return out
}

// String implements fmt.Stringer.
func (c Category) String() string { return string(c) }

// Valid reports whether c is registered.
func (c Category) Valid() bool {
	_, ok := lookup(c)
	return ok
}

func lookup(c Category) (Schema, bool) {
	for _, s := range registry {
		if s.Category == c {
			return s, true
		}
	}
	return Schema{}, false
}
