// Package extract defines how rows leave the warehouse: the strategy
// selector, the row stream both extractors produce, and the SELECT both
// of them run.
package extract

import (
	"context"
	"strings"

	"github.com/ajitpratap0/redtap/pkg/catalog"
	"github.com/ajitpratap0/redtap/pkg/schema"
)

// Strategy is how a stream's rows are extracted.
type Strategy string

const (
	// Direct streams rows over the query connection
	Direct Strategy = "direct"
	// BulkExport stages rows through object storage with UNLOAD
	BulkExport Strategy = "bulk_export"
)

// Selector chooses a strategy per stream. Implementations may consult
// anything about the stream; callers only see the decision.
type Selector interface {
	Select(ctx context.Context, stream *catalog.Stream) Strategy
}

// StaticSelector picks BulkExport whenever a staging bucket and prefix are
// configured, and Direct otherwise.
type StaticSelector struct {
	Bucket string
	Prefix string
}

// Select implements Selector.
func (s StaticSelector) Select(context.Context, *catalog.Stream) Strategy {
	if strings.TrimSpace(s.Bucket) != "" && strings.TrimSpace(s.Prefix) != "" {
		return BulkExport
	}
	return Direct
}

// Row is one raw row with values in column order.
type Row []interface{}

// Predicate filters rows strictly after a bookmark.
type Predicate struct {
	Column  string
	Literal string
}

// SQL renders the predicate.
func (p *Predicate) SQL() string {
	return catalog.QuoteIdent(p.Column) + " > " + p.Literal
}

// Request is one extraction of a stream.
type Request struct {
	Stream *catalog.Stream
	Schema *schema.Schema
	// Resume is nil for a full extraction
	Resume *Predicate
}

// Columns returns the extracted column names in order.
func (r *Request) Columns() []string {
	return r.Schema.Names()
}

// Extractor produces the rows of a request.
type Extractor interface {
	Extract(ctx context.Context, req *Request) (*RowStream, error)
}

// BuildSelect renders the query for a request: every column, the resume
// filter when present, ordered by the replication key when the stream has
// one.
func BuildSelect(req *Request) string {
	cols := req.Columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = catalog.QuoteIdent(c)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(" FROM ")
	b.WriteString(req.Stream.QualifiedName())
	if req.Resume != nil {
		b.WriteString(" WHERE ")
		b.WriteString(req.Resume.SQL())
	}
	if req.Stream.ReplicationKey != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(catalog.QuoteIdent(req.Stream.ReplicationKey))
		b.WriteString(" ASC")
	}
	return b.String()
}
