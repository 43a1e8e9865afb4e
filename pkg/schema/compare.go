package schema

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/redtap/pkg/json"
)

// literalTimestampLayout is accepted by the warehouse for both TIMESTAMP and
// TIMESTAMPTZ comparisons.
const literalTimestampLayout = "2006-01-02 15:04:05.999999"

// Compare orders two coerced values of the field: negative when a < b, zero
// when equal, positive when a > b. Numbers compare exactly, temporal values
// compare as instants, everything else compares as text.
func (f Field) Compare(a, b interface{}) (int, error) {
	switch {
	case f.Kind.Numeric():
		da, err := toDecimal(a)
		if err != nil {
			return 0, err
		}
		db, err := toDecimal(b)
		if err != nil {
			return 0, err
		}
		return da.Cmp(db), nil
	case f.Kind == KindDate || f.Kind == KindDateTime:
		ta, err := ParseTimestamp(coerceString(a).(string))
		if err != nil {
			return 0, err
		}
		tb, err := ParseTimestamp(coerceString(b).(string))
		if err != nil {
			return 0, err
		}
		return ta.Compare(tb), nil
	default:
		return strings.Compare(coerceString(a).(string), coerceString(b).(string)), nil
	}
}

// Literal renders a coerced value as a SQL literal usable in a resume
// predicate against the field's column.
func (f Field) Literal(v interface{}) (string, error) {
	switch {
	case v == nil:
		return "", fmt.Errorf("cannot build literal from null for column %q", f.Name)
	case f.Kind.Numeric():
		d, err := toDecimal(v)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	case f.Kind == KindDate:
		t, err := ParseTimestamp(coerceString(v).(string))
		if err != nil {
			return "", err
		}
		return quote(t.Format(dateLayout)), nil
	case f.Kind == KindDateTime:
		t, err := ParseTimestamp(coerceString(v).(string))
		if err != nil {
			return "", err
		}
		return quote(t.UTC().Format(literalTimestampLayout)), nil
	case f.Kind == KindBoolean:
		b, err := coerceBoolean(v)
		if err != nil {
			return "", err
		}
		if b.(bool) {
			return "TRUE", nil
		}
		return "FALSE", nil
	default:
		return quote(coerceString(v).(string)), nil
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt(int64(x)), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case json.Number:
		return decimal.NewFromString(string(x))
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected %T for numeric comparison", v)
	}
}
