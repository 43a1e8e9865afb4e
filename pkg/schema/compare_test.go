package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/redtap/pkg/json"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		a, b interface{}
		want int
	}{
		{"integer less", KindInteger, int64(9), int64(10), -1},
		{"integer vs stored number", KindInteger, int64(10), json.Number("10"), 0},
		{"decimal exact", KindNumber, json.Number("0.30"), json.Number("0.3"), 0},
		{"decimal greater", KindNumber, json.Number("100.01"), "100.001", 1},
		{"timestamps across zones", KindDateTime, "2024-03-01T12:00:00Z", "2024-03-01T13:00:00+02:00", 1},
		{"dates", KindDate, "2024-01-31", "2024-02-01", -1},
		{"strings lexical", KindString, "b", "ab", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := field(tt.kind).Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := field(KindNumber).Compare("x", json.Number("1"))
	assert.Error(t, err)
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   interface{}
		want string
	}{
		{"integer", KindInteger, int64(42), "42"},
		{"number", KindNumber, json.Number("12.50"), "12.5"},
		{"date", KindDate, "2024-03-01", "'2024-03-01'"},
		{"timestamp utc", KindDateTime, "2024-03-01T14:30:45.5+02:00", "'2024-03-01 12:30:45.5'"},
		{"string quoted", KindString, "O'Brien", "'O''Brien'"},
		{"boolean", KindBoolean, true, "TRUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := field(tt.kind).Literal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := field(KindInteger).Literal(nil)
	assert.Error(t, err)
	_, err = field(KindNumber).Literal("1; DROP TABLE x")
	assert.Error(t, err)
}
