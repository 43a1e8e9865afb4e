package schema

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
)

// Options controls conversion of configurable types.
type Options struct {
	// DatesAsString drops the format annotation from temporal columns
	DatesAsString bool
	// SuperAsObject emits SUPER columns as generic JSON instead of strings
	SuperAsObject bool
}

// rule converts a normalized descriptor into a kind and a non-null node.
type rule func(d TypeDescriptor, opts Options) (Kind, Node)

// overrideRules are warehouse-specific and win over baseRules.
var overrideRules = map[string]rule{
	"super":     superRule,
	"geometry":  opaqueRule,
	"geography": opaqueRule,
	"hllsketch": opaqueRule,
}

var baseRules = map[string]rule{
	"smallint":         integerRule("-32768", "32767"),
	"integer":          integerRule("-2147483648", "2147483647"),
	"bigint":           integerRule("-9223372036854775808", "9223372036854775807"),
	"numeric":          numericRule,
	"real":             floatRule,
	"double precision": floatRule,
	"boolean":          booleanRule,
	"char":             stringRule,
	"varchar":          stringRule,
	"varbyte":          stringRule,
	"date":             temporalRule(KindDate),
	"timestamp":        temporalRule(KindDateTime),
	"timestamptz":      temporalRule(KindDateTime),
	"time":             temporalRule(KindTime),
	"timetz":           temporalRule(KindTime),
}

// Converter maps column descriptors to portable schema fields.
// It is immutable and safe for concurrent use.
type Converter struct {
	opts Options
}

// NewConverter creates a converter for the given options.
func NewConverter(opts Options) *Converter {
	return &Converter{opts: opts}
}

// Options returns the converter options.
func (c *Converter) Options() Options {
	return c.opts
}

// Convert maps one column to a field. Nullable columns get "null" as the
// first member of the node's type list.
func (c *Converter) Convert(col Column) (Field, error) {
	d := Normalize(col.Type)

	r, ok := overrideRules[d.Name]
	if !ok {
		r, ok = baseRules[d.Name]
	}
	if !ok {
		return Field{}, errors.Newf(errors.ErrorTypeTypeConversion,
			"column %q has unsupported type %q", col.Name, col.Type.Name).
			WithDetail("column", col.Name).
			WithDetail("type", col.Type.Name)
	}

	kind, node := r(d, c.opts)
	if col.Nullable {
		node.Type = append([]string{"null"}, node.Type...)
	}
	return Field{Name: col.Name, Kind: kind, Node: node, Source: d}, nil
}

// Build converts every column in order. The first unsupported column fails
// the whole schema.
func (c *Converter) Build(columns []Column) (*Schema, error) {
	fields := make([]Field, 0, len(columns))
	for _, col := range columns {
		f, err := c.Convert(col)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return NewSchema(fields), nil
}

func superRule(_ TypeDescriptor, opts Options) (Kind, Node) {
	if opts.SuperAsObject {
		additional := true
		return KindObject, Node{
			Type:                 []string{"object", "array", "string", "number", "boolean"},
			AdditionalProperties: &additional,
		}
	}
	return KindOpaque, Node{Type: []string{"string"}}
}

func opaqueRule(TypeDescriptor, Options) (Kind, Node) {
	return KindOpaque, Node{Type: []string{"string"}}
}

func integerRule(min, max string) rule {
	return func(TypeDescriptor, Options) (Kind, Node) {
		return KindInteger, Node{
			Type:    []string{"integer"},
			Minimum: json.Number(min),
			Maximum: json.Number(max),
		}
	}
}

func numericRule(d TypeDescriptor, _ Options) (Kind, Node) {
	node := Node{Type: []string{"number"}}
	if d.Scale > 0 {
		node.MultipleOf = json.Number(decimal.New(1, -int32(d.Scale)).String())
	}
	if d.Precision > 0 && d.Precision >= d.Scale {
		bound := decimal.New(1, int32(d.Precision-d.Scale))
		node.ExclusiveMinimum = json.Number(bound.Neg().String())
		node.ExclusiveMaximum = json.Number(bound.String())
	}
	return KindNumber, node
}

func floatRule(TypeDescriptor, Options) (Kind, Node) {
	return KindNumber, Node{Type: []string{"number"}}
}

func booleanRule(TypeDescriptor, Options) (Kind, Node) {
	return KindBoolean, Node{Type: []string{"boolean"}}
}

func stringRule(d TypeDescriptor, _ Options) (Kind, Node) {
	node := Node{Type: []string{"string"}}
	if d.Length > 0 {
		node.MaxLength = d.Length
	}
	return KindString, node
}

func temporalRule(kind Kind) rule {
	return func(_ TypeDescriptor, opts Options) (Kind, Node) {
		node := Node{Type: []string{"string"}}
		if !opts.DatesAsString {
			node.Format = string(kind)
		}
		return kind, node
	}
}

// String renders a descriptor the way the warehouse spells it.
func (d TypeDescriptor) String() string {
	switch {
	case d.Precision > 0:
		return d.Name + "(" + strconv.Itoa(d.Precision) + "," + strconv.Itoa(d.Scale) + ")"
	case d.Length > 0:
		return d.Name + "(" + strconv.Itoa(d.Length) + ")"
	default:
		return d.Name
	}
}
