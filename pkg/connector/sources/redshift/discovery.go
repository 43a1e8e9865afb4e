package redshift

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/catalog"
	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
	"github.com/ajitpratap0/redtap/pkg/schema"
)

const columnsQuery = `
	SELECT c.table_schema, c.table_name, c.column_name, c.data_type,
	       c.character_maximum_length, c.numeric_precision, c.numeric_scale,
	       c.is_nullable, t.table_type
	FROM svv_columns c
	JOIN svv_tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name
	WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_internal', 'pg_automv')
	  AND c.table_schema NOT LIKE 'pg_temp%'`

const primaryKeysQuery = `
	SELECT tc.table_schema, tc.table_name, kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
	  ON kcu.constraint_name = tc.constraint_name
	 AND kcu.table_schema = tc.table_schema
	 AND kcu.table_name = tc.table_name
	WHERE tc.constraint_type = 'PRIMARY KEY'
	ORDER BY tc.table_schema, tc.table_name, kcu.ordinal_position`

// columnRow is one svv_columns row.
type columnRow struct {
	Schema    string
	Table     string
	Column    string
	DataType  string
	Length    *int32
	Precision *int32
	Scale     *int32
	Nullable  string
	TableType string
}

// Discover lists every table and view in the given schemas (all non-system
// schemas when empty) as unselected FULL_TABLE streams.
func (c *Client) Discover(ctx context.Context, schemas []string, conv *schema.Converter) (*catalog.Catalog, error) {
	query := columnsQuery
	if len(schemas) > 0 {
		quoted := make([]string, len(schemas))
		for i, s := range schemas {
			quoted[i] = "'" + strings.ReplaceAll(s, "'", "''") + "'"
		}
		query += "\n\t  AND c.table_schema IN (" + strings.Join(quoted, ", ") + ")"
	}
	query += "\n\tORDER BY c.table_schema, c.table_name, c.ordinal_position"

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query columns")
	}
	var cols []columnRow
	for rows.Next() {
		var r columnRow
		if err := rows.Scan(&r.Schema, &r.Table, &r.Column, &r.DataType,
			&r.Length, &r.Precision, &r.Scale, &r.Nullable, &r.TableType); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan column row")
		}
		cols = append(cols, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "error iterating column rows")
	}

	keys, err := c.primaryKeys(ctx)
	if err != nil {
		return nil, err
	}

	cat, skipped := buildCatalog(cols, keys, conv)
	for _, err := range skipped {
		c.logger.Warn("skipping stream with unsupported column", zap.Error(err))
	}
	c.logger.Info("discovered catalog", zap.Int("streams", len(cat.Streams)), zap.Int("skipped", len(skipped)))
	return cat, nil
}

func (c *Client) primaryKeys(ctx context.Context) (map[string][]string, error) {
	rows, err := c.pool.Query(ctx, primaryKeysQuery)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query primary keys")
	}
	defer rows.Close()

	keys := make(map[string][]string)
	for rows.Next() {
		var schemaName, table, column string
		if err := rows.Scan(&schemaName, &table, &column); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan primary key row")
		}
		id := catalog.StreamID(schemaName, table)
		keys[id] = append(keys[id], column)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "error iterating primary key rows")
	}
	return keys, nil
}

// buildCatalog groups ordered column rows into streams. A stream with a
// column the converter does not support is left out and reported.
func buildCatalog(cols []columnRow, keys map[string][]string, conv *schema.Converter) (*catalog.Catalog, []error) {
	cat := &catalog.Catalog{}
	var skipped []error

	var current *catalog.Stream
	flush := func() {
		if current == nil {
			return
		}
		s, err := conv.Build(current.Columns)
		if err != nil {
			skipped = append(skipped, errors.Wrap(err, errors.ErrorTypeTypeConversion, "stream "+current.TapStreamID))
			return
		}
		raw, err := json.Marshal(s)
		if err != nil {
			skipped = append(skipped, err)
			return
		}
		current.Schema = raw
		cat.Streams = append(cat.Streams, current)
	}

	for _, r := range cols {
		id := catalog.StreamID(r.Schema, r.Table)
		if current == nil || current.TapStreamID != id {
			flush()
			current = &catalog.Stream{
				TapStreamID:       id,
				Name:              id,
				SchemaName:        r.Schema,
				TableName:         r.Table,
				IsView:            strings.EqualFold(r.TableType, "VIEW"),
				KeyProperties:     keys[id],
				ReplicationMethod: catalog.FullTable,
			}
		}
		current.Columns = append(current.Columns, schema.Column{
			Name:     r.Column,
			Type:     r.descriptor(),
			Nullable: strings.EqualFold(r.Nullable, "YES"),
		})
	}
	flush()
	return cat, skipped
}

// descriptor keeps only the parameters meaningful for the type;
// svv_columns reports a binary precision for integers and floats too.
func (r columnRow) descriptor() schema.TypeDescriptor {
	d := schema.TypeDescriptor{Name: r.DataType, Length: deref(r.Length)}
	if schema.Normalize(schema.TypeDescriptor{Name: r.DataType}).Name == "numeric" {
		d.Precision = deref(r.Precision)
		d.Scale = deref(r.Scale)
	}
	return d
}

func deref(p *int32) int {
	if p == nil {
		return 0
	}
	return int(*p)
}
