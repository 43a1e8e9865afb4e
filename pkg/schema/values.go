package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05.999999"
)

// timestampLayouts are the text forms the warehouse produces for
// TIMESTAMP and TIMESTAMPTZ values in query results and UNLOAD files.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	dateLayout,
}

// Coerce converts a raw column value into the JSON value described by the
// field. Raw values are either driver values from a direct query or strings
// decoded from an export file; nil is always nil.
func (f Field) Coerce(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	var (
		out interface{}
		err error
	)
	switch f.Kind {
	case KindInteger:
		out, err = coerceInteger(v)
	case KindNumber:
		out, err = coerceNumber(v)
	case KindBoolean:
		out, err = coerceBoolean(v)
	case KindDate:
		out, err = coerceTemporal(v, dateLayout)
	case KindDateTime:
		out, err = coerceTemporal(v, time.RFC3339Nano)
	case KindTime:
		out, err = coerceTime(v)
	case KindObject:
		out, err = coerceObject(v)
	default:
		out, err = coerceString(v), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to coerce column value").
			WithDetail("column", f.Name).
			WithDetail("kind", string(f.Kind))
	}
	return out, nil
}

func coerceInteger(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("non-integral value %v", x)
		}
		return int64(x), nil
	case json.Number:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	default:
		return nil, fmt.Errorf("unexpected %T for integer column", v)
	}
}

// coerceNumber keeps exact decimals as json.Number; binary floats pass
// through unchanged.
func coerceNumber(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64, int32, int16, int:
		return x, nil
	case pgtype.Numeric:
		if !x.Valid {
			return nil, nil
		}
		if x.NaN || x.InfinityModifier != pgtype.Finite {
			return nil, fmt.Errorf("non-finite numeric value")
		}
		return json.Number(decimal.NewFromBigInt(x.Int, x.Exp).String()), nil
	case decimal.Decimal:
		return json.Number(x.String()), nil
	case json.Number:
		return decimalNumber(string(x))
	case string:
		return decimalNumber(x)
	case []byte:
		return decimalNumber(string(x))
	default:
		return nil, fmt.Errorf("unexpected %T for number column", v)
	}
}

func decimalNumber(s string) (interface{}, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return json.Number(d.String()), nil
}

func coerceBoolean(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "t", "true", "1", "y", "yes":
			return true, nil
		case "f", "false", "0", "n", "no":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", x)
	default:
		return nil, fmt.Errorf("unexpected %T for boolean column", v)
	}
}

func coerceTemporal(v interface{}, layout string) (interface{}, error) {
	switch x := v.(type) {
	case time.Time:
		if layout == dateLayout {
			return x.Format(dateLayout), nil
		}
		return x.UTC().Format(time.RFC3339Nano), nil
	case string:
		t, err := ParseTimestamp(x)
		if err != nil {
			return nil, err
		}
		if layout == dateLayout {
			return t.Format(dateLayout), nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	default:
		return nil, fmt.Errorf("unexpected %T for temporal column", v)
	}
}

// ParseTimestamp parses the timestamp spellings produced by the warehouse.
// Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func coerceTime(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case pgtype.Time:
		if !x.Valid {
			return nil, nil
		}
		d := time.Duration(x.Microseconds) * time.Microsecond
		return time.Time{}.Add(d).Format(timeLayout), nil
	case time.Time:
		return x.Format(timeLayout), nil
	case string:
		return strings.TrimSpace(x), nil
	default:
		return nil, fmt.Errorf("unexpected %T for time column", v)
	}
}

// coerceObject parses JSON text; text that is not JSON stays a string,
// which the object node also admits.
func coerceObject(v interface{}) (interface{}, error) {
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	case map[string]interface{}, []interface{}:
		return x, nil
	default:
		return coerceString(v), nil
	}

	var out interface{}
	if err := json.UnmarshalNumber(raw, &out); err != nil {
		return string(raw), nil
	}
	return out, nil
}

func coerceString(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
