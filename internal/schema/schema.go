// Package schema holds the per-category column layouts of the device list.
//
// The device list page renders every category as a grid of generated-class
// divs without header cells that can be trusted, so the column a field lives
// in is a property of the category, not of the markup. A Table maps the
// category heading text to that layout.
package schema

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

// Field names used as keys of a Schema. They match the JSON keys of
// device.Device.
const (
	FieldName           = "name"
	FieldBasedOn        = "basedOn"
	FieldAddedInCorOS   = "addedInCorOS"
	FieldDeviceCategory = "deviceCategory"
	FieldPreviousName   = "previousName"
	FieldUpdatedInCorOS = "updatedInCorOS"
	FieldPluginSource   = "pluginSource"
)

// PluginCategory is the only category allowed to carry a plugin source column.
const PluginCategory = "Plugin devices"

var knownFields = map[string]struct{}{
	FieldName:           {},
	FieldBasedOn:        {},
	FieldAddedInCorOS:   {},
	FieldDeviceCategory: {},
	FieldPreviousName:   {},
	FieldUpdatedInCorOS: {},
	FieldPluginSource:   {},
}

// Schema maps a field name to its zero-based column index within a row.
type Schema map[string]int

// Index returns the column of field and whether the schema defines it.
func (s Schema) Index(field string) (int, bool) {
	i, ok := s[field]
	return i, ok
}

// NameIndex returns the column holding the device name, 0 when unset.
func (s Schema) NameIndex() int {
	if i, ok := s[FieldName]; ok {
		return i
	}
	return 0
}

// Table is an immutable set of category schemas. The zero value is empty.
type Table struct {
	entries map[string]Schema
}

var (
	ErrUnknownField    = errors.New("unknown schema field")
	ErrNegativeColumn  = errors.New("negative column index")
	ErrColumnConflict  = errors.New("two fields share a column")
	ErrPluginSourceUse = errors.New("pluginSource is only valid for " + PluginCategory)
)

// New validates entries and returns a Table holding a private copy of them.
func New(entries map[string]Schema) (*Table, error) {
	t := &Table{entries: make(map[string]Schema, len(entries))}
	for category, s := range entries {
		if err := validate(category, s); err != nil {
			return nil, err
		}
		t.entries[category] = maps.Clone(s)
	}
	return t, nil
}

func validate(category string, s Schema) error {
	used := make(map[int]string, len(s))
	for field, col := range s {
		if _, ok := knownFields[field]; !ok {
			return fmt.Errorf("%s: %w: %q", category, ErrUnknownField, field)
		}
		if col < 0 {
			return fmt.Errorf("%s: %w: %s=%d", category, ErrNegativeColumn, field, col)
		}
		if other, ok := used[col]; ok {
			return fmt.Errorf("%s: %w: %s and %s at %d", category, ErrColumnConflict, other, field, col)
		}
		used[col] = field
		if field == FieldPluginSource && category != PluginCategory {
			return fmt.Errorf("%s: %w", category, ErrPluginSourceUse)
		}
	}
	return nil
}

// Lookup returns the schema registered for category. Matching is exact and
// case-sensitive. The returned Schema is a copy.
func (t *Table) Lookup(category string) (Schema, bool) {
	if t == nil {
		return nil, false
	}
	s, ok := t.entries[category]
	if !ok {
		return nil, false
	}
	return maps.Clone(s), true
}

// Categories returns the known category names in sorted order.
func (t *Table) Categories() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.entries))
	for c := range t.entries {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of categories in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// With returns a new Table where overrides replace or extend the entries of t.
// t itself is not modified.
func (t *Table) With(overrides map[string]Schema) (*Table, error) {
	merged := make(map[string]Schema, t.Len()+len(overrides))
	if t != nil {
		for c, s := range t.entries {
			merged[c] = s
		}
	}
	for c, s := range overrides {
		merged[c] = s
	}
	return New(merged)
}

// LoadFile reads a YAML document of the form
//
//	Guitar amps:
//	  name: 0
//	  basedOn: 1
//
// and merges it over the default table.
func LoadFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overrides map[string]Schema
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	return Default().With(overrides)
}

func standard() Schema {
	return Schema{
		FieldName:           0,
		FieldBasedOn:        1,
		FieldAddedInCorOS:   2,
		FieldPreviousName:   3,
		FieldUpdatedInCorOS: 4,
	}
}

func nameAndVersion() Schema {
	return Schema{
		FieldName:         0,
		FieldAddedInCorOS: 1,
	}
}

func builtin() map[string]Schema {
	m := map[string]Schema{
		"Neural Captures V2": {
			FieldDeviceCategory: 0,
			FieldName:           1,
			FieldBasedOn:        2,
			FieldAddedInCorOS:   3,
		},
		PluginCategory: {
			FieldDeviceCategory: 0,
			FieldName:           1,
			FieldAddedInCorOS:   2,
			FieldPluginSource:   3,
		},
		"IR loader": nameAndVersion(),
		"Looper":    nameAndVersion(),
		"Utility":   nameAndVersion(),
	}
	for _, c := range []string{
		"Neural Captures V1",
		"Guitar amps",
		"Guitar cabinets",
		"Guitar overdrive",
		"Bass amps",
		"Bass cabinets",
		"Bass overdrive",
		"Delay",
		"Reverb",
		"Compressor",
		"Pitch",
		"Modulation",
		"Morph",
		"Filter",
		"EQ",
		"Wah",
		"Synth",
	} {
		m[c] = standard()
	}
	return m
}

// Default returns the compiled-in table. It is built once and shared.
var Default = sync.OnceValue(func() *Table {
	t, err := New(builtin())
	if err != nil {
		panic(err)
	}
	return t
})
