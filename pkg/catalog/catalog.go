// Package catalog models the streams discovered in the warehouse and the
// per-stream selection and replication settings a sync run reads.
package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
	"github.com/ajitpratap0/redtap/pkg/schema"
)

// ReplicationMethod selects full or incremental extraction.
type ReplicationMethod string

const (
	FullTable   ReplicationMethod = "FULL_TABLE"
	Incremental ReplicationMethod = "INCREMENTAL"
)

// Stream is one table or view. It is immutable for the duration of a run.
type Stream struct {
	TapStreamID       string            `json:"tap_stream_id"`
	Name              string            `json:"stream"`
	SchemaName        string            `json:"schema_name"`
	TableName         string            `json:"table_name"`
	IsView            bool              `json:"is_view,omitempty"`
	Columns           []schema.Column   `json:"columns"`
	Schema            json.RawMessage   `json:"schema,omitempty"`
	KeyProperties     []string          `json:"key_properties,omitempty"`
	ReplicationMethod ReplicationMethod `json:"replication_method,omitempty"`
	ReplicationKey    string            `json:"replication_key,omitempty"`
	Selected          bool              `json:"selected"`
}

// StreamID builds the stream identifier for a schema-qualified table.
func StreamID(schemaName, table string) string {
	return schemaName + "-" + table
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName returns the quoted schema-qualified table name.
func (s *Stream) QualifiedName() string {
	return QuoteIdent(s.SchemaName) + "." + QuoteIdent(s.TableName)
}

// ID returns the identifier used in messages and bookmarks.
func (s *Stream) ID() string {
	if s.TapStreamID != "" {
		return s.TapStreamID
	}
	return StreamID(s.SchemaName, s.TableName)
}

// IsIncremental reports whether the stream resumes from a bookmark. A
// stream configured INCREMENTAL without a replication key is full table.
func (s *Stream) IsIncremental() bool {
	return s.ReplicationMethod == Incremental && s.ReplicationKey != ""
}

// Column returns a declared column by name.
func (s *Stream) Column(name string) (schema.Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return schema.Column{}, false
}

// Validate checks the stream's replication settings against its columns.
func (s *Stream) Validate() error {
	if s.SchemaName == "" || s.TableName == "" {
		return errors.Newf(errors.ErrorTypeValidation, "stream %q must name its schema and table", s.ID())
	}
	if len(s.Columns) == 0 {
		return errors.Newf(errors.ErrorTypeValidation, "stream %q has no columns", s.ID())
	}
	switch s.ReplicationMethod {
	case "", FullTable, Incremental:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "stream %q has unknown replication method %q", s.ID(), s.ReplicationMethod)
	}
	if s.ReplicationKey != "" {
		if _, ok := s.Column(s.ReplicationKey); !ok {
			return errors.Newf(errors.ErrorTypeValidation, "stream %q replication key %q is not a column", s.ID(), s.ReplicationKey)
		}
	}
	return nil
}

// Catalog is the discovered set of streams.
type Catalog struct {
	Streams []*Stream `json:"streams"`
}

// Selected returns the streams selected for extraction, in catalog order.
func (c *Catalog) Selected() []*Stream {
	var out []*Stream
	for _, s := range c.Streams {
		if s.Selected {
			out = append(out, s)
		}
	}
	return out
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse catalog")
	}
	for _, s := range c.Streams {
		if err := s.Validate(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid catalog")
		}
	}
	return &c, nil
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to read catalog %s", path))
	}
	return Parse(data)
}

// Write encodes the catalog as indented JSON.
func (c *Catalog) Write(w io.Writer) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
