// Package schema converts warehouse column types into portable JSON Schema
// nodes and coerces raw column values into the JSON values those nodes
// describe.
//
// Conversion is a two-tier table dispatch. Override rules for
// warehouse-specific types (SUPER, GEOMETRY, GEOGRAPHY, HLLSKETCH) are
// consulted before the base rules for standard numeric, boolean, character
// and temporal types. A type with no rule in either table is a
// TypeConversionError naming the column and the type.
//
// A Converter is built from Options and passed explicitly to whatever
// resolves stream schemas; there is no package-level registry.
package schema

import (
	"bytes"

	"github.com/ajitpratap0/redtap/pkg/json"
)

// Kind tags the value domain of a converted column. Coercion, bookmark
// comparison and resume literals all dispatch on it.
type Kind string

const (
	KindInteger  Kind = "integer"
	KindNumber   Kind = "number"
	KindBoolean  Kind = "boolean"
	KindString   Kind = "string"
	KindDate     Kind = "date"
	KindDateTime Kind = "date-time"
	KindTime     Kind = "time"
	// KindObject is a semi-structured value emitted as parsed JSON
	KindObject Kind = "object"
	// KindOpaque is any value passed through as its string form
	KindOpaque Kind = "opaque"
)

// Numeric reports whether values of the kind compare as numbers.
func (k Kind) Numeric() bool {
	return k == KindInteger || k == KindNumber
}

// Node is a portable JSON Schema node for one column.
type Node struct {
	Type                 []string    `json:"type"`
	Format               string      `json:"format,omitempty"`
	MultipleOf           json.Number `json:"multipleOf,omitempty"`
	Minimum              json.Number `json:"minimum,omitempty"`
	Maximum              json.Number `json:"maximum,omitempty"`
	ExclusiveMinimum     json.Number `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum     json.Number `json:"exclusiveMaximum,omitempty"`
	MaxLength            int         `json:"maxLength,omitempty"`
	AdditionalProperties *bool       `json:"additionalProperties,omitempty"`
}

// Nullable reports whether the node admits null.
func (n Node) Nullable() bool {
	return len(n.Type) > 0 && n.Type[0] == "null"
}

// Field is one converted column.
type Field struct {
	Name string
	Kind Kind
	Node Node
	// Source is the normalized type the field was converted from
	Source TypeDescriptor
}

// Schema is the portable schema of a stream. Properties keep column order.
type Schema struct {
	Fields []Field
	index  map[string]int
}

// NewSchema builds a Schema from fields in column order.
func NewSchema(fields []Field) *Schema {
	s := &Schema{Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		s.index[f.Name] = i
	}
	return s
}

// Field returns the field for a column name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Names returns column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// MarshalJSON encodes the schema as a JSON Schema object whose properties
// appear in column order.
func (s *Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	for i, f := range s.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		node, err := json.Marshal(f.Node)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(node)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}
