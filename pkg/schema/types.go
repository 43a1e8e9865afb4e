package schema

import (
	"strconv"
	"strings"
)

// TypeDescriptor is a warehouse column type with its parameters.
// Zero Precision, Scale or Length means the parameter was not reported.
type TypeDescriptor struct {
	Name      string `json:"type"`
	Precision int    `json:"precision,omitempty"`
	Scale     int    `json:"scale,omitempty"`
	Length    int    `json:"length,omitempty"`
}

// Column is a declared stream column.
type Column struct {
	Name     string         `json:"name"`
	Type     TypeDescriptor `json:"sql_type"`
	Nullable bool           `json:"nullable"`
}

// typeAliases maps spellings reported by svv_columns, pg_catalog and
// information_schema onto one canonical name per type.
var typeAliases = map[string]string{
	"int2":                        "smallint",
	"int":                         "integer",
	"int4":                        "integer",
	"int8":                        "bigint",
	"decimal":                     "numeric",
	"float4":                      "real",
	"float":                       "double precision",
	"float8":                      "double precision",
	"bool":                        "boolean",
	"character":                   "char",
	"nchar":                       "char",
	"bpchar":                      "char",
	"character varying":           "varchar",
	"nvarchar":                    "varchar",
	"text":                        "varchar",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
	"varbinary":                   "varbyte",
	"binary varying":              "varbyte",
	"geography":                   "geography",
	"geometry":                    "geometry",
}

// Normalize canonicalizes the descriptor name and folds any parameters
// embedded in it, e.g. "NUMERIC(10,2)" or "character varying(255)", into
// the descriptor fields the warehouse did not already report.
func Normalize(d TypeDescriptor) TypeDescriptor {
	name := strings.ToLower(strings.TrimSpace(d.Name))

	var params []int
	if open := strings.IndexByte(name, '('); open >= 0 {
		end := strings.LastIndexByte(name, ')')
		if end > open {
			for _, p := range strings.Split(name[open+1:end], ",") {
				if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
					params = append(params, n)
				}
			}
			name = strings.TrimSpace(name[:open] + name[end+1:])
		} else {
			name = strings.TrimSpace(name[:open])
		}
	}
	name = strings.Join(strings.Fields(name), " ")

	if canonical, ok := typeAliases[name]; ok {
		name = canonical
	}
	d.Name = name

	switch name {
	case "numeric":
		if d.Precision == 0 && len(params) > 0 {
			d.Precision = params[0]
		}
		if d.Scale == 0 && len(params) > 1 {
			d.Scale = params[1]
		}
	case "varchar", "char", "varbyte":
		if d.Length == 0 && len(params) > 0 {
			d.Length = params[0]
		}
	}
	return d
}
