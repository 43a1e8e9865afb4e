package direct

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/catalog"
	redtaperrors "github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract"
	"github.com/ajitpratap0/redtap/pkg/schema"
)

type fakeRows struct {
	data   [][]interface{}
	pos    int
	err    error
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]interface{}, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) Err() error                     { return r.err }
func (r *fakeRows) Close()                         { r.closed = true }

type fakeQuerier struct {
	rows    *fakeRows
	err     error
	queries []string
}

func (q *fakeQuerier) Query(_ context.Context, sql string) (Rows, error) {
	q.queries = append(q.queries, sql)
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func request(t *testing.T) *extract.Request {
	t.Helper()
	stream := &catalog.Stream{
		SchemaName: "public",
		TableName:  "events",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeDescriptor{Name: "integer"}},
			{Name: "kind", Type: schema.TypeDescriptor{Name: "varchar"}},
		},
		ReplicationMethod: catalog.Incremental,
		ReplicationKey:    "id",
	}
	s, err := schema.NewConverter(schema.Options{}).Build(stream.Columns)
	require.NoError(t, err)
	return &extract.Request{Stream: stream, Schema: s, Resume: &extract.Predicate{Column: "id", Literal: "2"}}
}

func collect(t *testing.T, s *extract.RowStream) ([]extract.Row, error) {
	t.Helper()
	var out []extract.Row
	for r := range s.Rows {
		out = append(out, r)
	}
	return out, s.Err()
}

func TestExtract_StreamsRowsInOrder(t *testing.T) {
	rows := &fakeRows{data: [][]interface{}{{int32(3), "a"}, {int32(4), "b"}}}
	q := &fakeQuerier{rows: rows}

	s, err := New(q, zap.NewNop()).Extract(context.Background(), request(t))
	require.NoError(t, err)

	got, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []extract.Row{{int32(3), "a"}, {int32(4), "b"}}, got)
	assert.True(t, rows.closed)
	require.Len(t, q.queries, 1)
	assert.Equal(t, `SELECT "id", "kind" FROM "public"."events" WHERE "id" > 2 ORDER BY "id" ASC`, q.queries[0])
}

func TestExtract_QueryFailure(t *testing.T) {
	q := &fakeQuerier{err: errors.New("relation does not exist")}

	s, err := New(q, zap.NewNop()).Extract(context.Background(), request(t))
	require.NoError(t, err)

	got, err := collect(t, s)
	assert.Empty(t, got)
	require.Error(t, err)
	assert.True(t, redtaperrors.IsType(err, redtaperrors.ErrorTypeQuery))
	assert.False(t, redtaperrors.IsFatal(err))
}

func TestExtract_MidStreamFailureKeepsEarlierRows(t *testing.T) {
	rows := &fakeRows{data: [][]interface{}{{int32(3), "a"}}, err: errors.New("connection reset by peer")}

	s, err := New(&fakeQuerier{rows: rows}, zap.NewNop()).Extract(context.Background(), request(t))
	require.NoError(t, err)

	got, err := collect(t, s)
	assert.Len(t, got, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direct query aborted")
	assert.True(t, rows.closed)
}

func TestExtract_WidthMismatch(t *testing.T) {
	rows := &fakeRows{data: [][]interface{}{{int32(3)}}}

	s, err := New(&fakeQuerier{rows: rows}, zap.NewNop()).Extract(context.Background(), request(t))
	require.NoError(t, err)

	_, err = collect(t, s)
	require.Error(t, err)
	assert.True(t, redtaperrors.IsType(err, redtaperrors.ErrorTypeData))
}
