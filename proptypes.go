package flexilite

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// PropertyType is a logical property type.
type PropertyType uint8

const (
	TypeAny PropertyType = iota
	TypeText
	TypeSymbol
	TypeName
	TypeInteger
	TypeNumber
	TypeMoney
	TypeBoolean
	TypeDate
	TypeTimespan
	TypeBinary
	TypeUUID
	TypeEnum
	TypeJSON
	TypeReference
	TypeNested

	numPropertyTypes = int(TypeNested) + 1
)

// maxSymbolLength bounds symbol and name values.
const maxSymbolLength = 255

// moneyScale is the number of fractional units kept for money values.
const moneyScale = 10000

type typeSet uint32

func setOf(types ...PropertyType) typeSet {
	var s typeSet
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

func (s typeSet) Has(t PropertyType) bool {
	return s&(1<<t) != 0
}

type typeInfo struct {
	name    string
	aliases []string
	// safe transitions never need a data scan: every stored value of this
	// type coerces to the target type.
	safe typeSet
	// cond transitions are allowed after scanning existing data.
	cond typeSet
}

var typeCatalog = [numPropertyTypes]typeInfo{
	TypeAny: {
		name: "any",
		safe: setOf(TypeJSON),
		cond: setOf(TypeText, TypeSymbol, TypeName, TypeInteger, TypeNumber, TypeMoney, TypeBoolean, TypeDate, TypeTimespan, TypeBinary, TypeUUID, TypeEnum, TypeNested),
	},
	TypeText: {
		name:    "text",
		aliases: []string{"string"},
		safe:    setOf(TypeAny, TypeJSON, TypeBinary),
		cond:    setOf(TypeSymbol, TypeName, TypeInteger, TypeNumber, TypeMoney, TypeBoolean, TypeDate, TypeTimespan, TypeUUID, TypeEnum),
	},
	TypeSymbol: {
		name: "symbol",
		safe: setOf(TypeAny, TypeText, TypeName, TypeJSON, TypeBinary),
		cond: setOf(TypeInteger, TypeNumber, TypeMoney, TypeBoolean, TypeDate, TypeTimespan, TypeUUID, TypeEnum),
	},
	TypeName: {
		name: "name",
		safe: setOf(TypeAny, TypeText, TypeSymbol, TypeJSON, TypeBinary),
		cond: setOf(TypeInteger, TypeNumber, TypeMoney, TypeBoolean, TypeDate, TypeTimespan, TypeUUID, TypeEnum),
	},
	TypeInteger: {
		name:    "integer",
		aliases: []string{"int"},
		safe:    setOf(TypeAny, TypeText, TypeSymbol, TypeName, TypeNumber, TypeMoney, TypeJSON),
		cond:    setOf(TypeBoolean, TypeDate, TypeTimespan, TypeEnum),
	},
	TypeNumber: {
		name:    "number",
		aliases: []string{"float"},
		safe:    setOf(TypeAny, TypeText, TypeJSON),
		cond:    setOf(TypeSymbol, TypeName, TypeInteger, TypeMoney, TypeBoolean, TypeDate, TypeTimespan),
	},
	TypeMoney: {
		name: "money",
		safe: setOf(TypeAny, TypeText, TypeNumber, TypeJSON),
		cond: setOf(TypeSymbol, TypeName, TypeInteger),
	},
	TypeBoolean: {
		name:    "boolean",
		aliases: []string{"bool"},
		safe:    setOf(TypeAny, TypeText, TypeSymbol, TypeName, TypeInteger, TypeNumber, TypeJSON),
		cond:    setOf(TypeEnum),
	},
	TypeDate: {
		name:    "date",
		aliases: []string{"datetime"},
		safe:    setOf(TypeAny, TypeText, TypeNumber, TypeJSON),
		cond:    setOf(TypeSymbol, TypeName, TypeInteger, TypeTimespan),
	},
	TypeTimespan: {
		name: "timespan",
		safe: setOf(TypeAny, TypeText, TypeNumber, TypeJSON),
		cond: setOf(TypeSymbol, TypeName, TypeInteger, TypeDate),
	},
	TypeBinary: {
		name: "binary",
		safe: setOf(TypeAny),
		cond: setOf(TypeText, TypeSymbol, TypeName, TypeUUID),
	},
	TypeUUID: {
		name: "uuid",
		safe: setOf(TypeAny, TypeText, TypeSymbol, TypeName, TypeBinary, TypeJSON),
	},
	TypeEnum: {
		name: "enum",
		safe: setOf(TypeAny, TypeText, TypeJSON),
		cond: setOf(TypeSymbol, TypeName, TypeInteger),
	},
	TypeJSON: {
		name: "json",
		safe: setOf(TypeAny, TypeText),
		cond: setOf(TypeNested, TypeInteger, TypeNumber, TypeBoolean),
	},
	TypeReference: {
		name:    "reference",
		aliases: []string{"ref"},
		safe:    setOf(TypeAny, TypeInteger),
	},
	TypeNested: {
		name:    "nested",
		aliases: []string{"object"},
		safe:    setOf(TypeAny, TypeJSON),
	},
}

var typesByName = func() map[string]PropertyType {
	m := make(map[string]PropertyType)
	for i, ti := range typeCatalog {
		m[ti.name] = PropertyType(i)
		for _, a := range ti.aliases {
			m[a] = PropertyType(i)
		}
	}
	return m
}()

// ParsePropertyType accepts type names case-insensitively.
func ParsePropertyType(s string) (PropertyType, error) {
	t, ok := typesByName[strings.ToLower(s)]
	if !ok {
		return TypeAny, schemaErrf("unknown property type %q", s)
	}
	return t, nil
}

func (t PropertyType) String() string {
	if int(t) < numPropertyTypes {
		return typeCatalog[t].name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// IsStringLike reports whether values are stored as strings.
func (t PropertyType) IsStringLike() bool {
	switch t {
	case TypeText, TypeSymbol, TypeName, TypeUUID:
		return true
	}
	return false
}

// IsComposite reports whether a single value may be an array or a map.
func (t PropertyType) IsComposite() bool {
	return t == TypeAny || t == TypeJSON || t == TypeNested
}

// IsNumeric reports whether MinValue/MaxValue apply.
func (t PropertyType) IsNumeric() bool {
	switch t {
	case TypeInteger, TypeNumber, TypeMoney, TypeDate, TypeTimespan:
		return true
	}
	return false
}

// Transition classifies a type change.
type Transition int

const (
	TransitionSame Transition = iota
	TransitionSafe
	TransitionNeedsValidation
	TransitionForbidden
)

func (tr Transition) String() string {
	switch tr {
	case TransitionSame:
		return "same"
	case TransitionSafe:
		return "safe"
	case TransitionNeedsValidation:
		return "needs-validation"
	case TransitionForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("transition(%d)", int(tr))
	}
}

func CheckTransition(from, to PropertyType) Transition {
	switch {
	case from == to:
		return TransitionSame
	case typeCatalog[from].safe.Has(to):
		return TransitionSafe
	case typeCatalog[from].cond.Has(to):
		return TransitionNeedsValidation
	default:
		return TransitionForbidden
	}
}

// Coerce converts v into the canonical storage form of t:
// string for text/symbol/name/uuid, int64 for integer/reference,
// float64 for number/money/date/timespan, bool, []byte, map[string]any for
// nested, and a normalized value for any/json/enum.
func (t PropertyType) Coerce(v any) (any, error) {
	v = normalize(v)
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeAny, TypeJSON:
		if d, ok := v.(time.Duration); ok {
			return d.Seconds(), nil
		}
		if tm, ok := v.(time.Time); ok {
			return timeToSeconds(tm), nil
		}
		return v, nil

	case TypeText:
		return coerceString(v)

	case TypeSymbol, TypeName:
		s, err := coerceString(v)
		if err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(s) > maxSymbolLength {
			return nil, fmt.Errorf("%s value longer than %d characters", t, maxSymbolLength)
		}
		return s, nil

	case TypeInteger:
		return coerceInt(v)

	case TypeReference:
		id, err := coerceInt(v)
		if err != nil {
			return nil, err
		}
		if id <= 0 {
			return nil, fmt.Errorf("invalid reference id %d", id)
		}
		return id, nil

	case TypeNumber:
		return coerceFloat(v)

	case TypeMoney:
		f, err := coerceFloat(v)
		if err != nil {
			return nil, err
		}
		return math.Round(f*moneyScale) / moneyScale, nil

	case TypeBoolean:
		switch v := v.(type) {
		case bool:
			return v, nil
		case int64:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
		case float64:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
		return nil, fmt.Errorf("cannot convert %v to boolean", v)

	case TypeDate:
		switch v := v.(type) {
		case time.Time:
			return timeToSeconds(v), nil
		case string:
			for _, layout := range dateLayouts {
				if tm, err := time.Parse(layout, v); err == nil {
					return timeToSeconds(tm), nil
				}
			}
			return nil, fmt.Errorf("cannot parse date %q", v)
		case int64, float64:
			return coerceFloat(v)
		}
		return nil, fmt.Errorf("cannot convert %T to date", v)

	case TypeTimespan:
		switch v := v.(type) {
		case time.Duration:
			return v.Seconds(), nil
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				return d.Seconds(), nil
			}
			return coerceFloat(v)
		case int64, float64:
			return coerceFloat(v)
		}
		return nil, fmt.Errorf("cannot convert %T to timespan", v)

	case TypeBinary:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("cannot convert %T to binary", v)

	case TypeUUID:
		switch v := v.(type) {
		case string:
			u, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("invalid uuid %q: %w", v, err)
			}
			return u.String(), nil
		case []byte:
			if len(v) == 16 {
				return uuid.UUID(v).String(), nil
			}
			u, err := uuid.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid uuid: %w", err)
			}
			return u.String(), nil
		case uuid.UUID:
			return v.String(), nil
		}
		return nil, fmt.Errorf("cannot convert %T to uuid", v)

	case TypeEnum:
		switch v := v.(type) {
		case int64, string:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
		}
		return nil, fmt.Errorf("cannot convert %v to enum item", v)

	case TypeNested:
		switch v := v.(type) {
		case map[string]any:
			return v, nil
		case string:
			var m map[string]any
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return nil, fmt.Errorf("cannot parse nested object: %w", err)
			}
			return normalize(m), nil
		}
		return nil, fmt.Errorf("cannot convert %T to nested object", v)
	}
	return nil, fmt.Errorf("unsupported type %v", t)
}

// Present converts a stored value into the value handed to callers, coercing
// it to t first. Values that no longer coerce (flagged by an IGNORE-mode
// alteration) are returned as stored.
func (t PropertyType) Present(stored any) any {
	v, err := t.Coerce(stored)
	if err != nil {
		return normalize(stored)
	}
	switch t {
	case TypeDate:
		if f, ok := v.(float64); ok {
			return secondsToTime(f)
		}
	}
	return v
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func timeToSeconds(tm time.Time) float64 {
	return float64(tm.UnixNano()) / 1e9
}

func secondsToTime(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

func coerceString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case []byte:
		if !utf8.Valid(v) {
			return "", fmt.Errorf("binary value is not valid UTF-8 text")
		}
		return string(v), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case time.Duration:
		return v.String(), nil
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("cannot convert %T to text", v)
}

func coerceInt(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		// -2^63 is exact in float64, 2^63 is the first value past MaxInt64
		if v < -9.223372036854775808e18 || v >= 9.223372036854775808e18 {
			return 0, fmt.Errorf("integer %v out of range", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	case time.Time:
		return v.Unix(), nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func coerceFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	case time.Time:
		return timeToSeconds(v), nil
	case time.Duration:
		return v.Seconds(), nil
	}
	return 0, fmt.Errorf("cannot convert %T to number", v)
}

// normalize maps Go values onto the small set of dynamic types the engine
// works with.
func normalize(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return uint64ToValue(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return uint64ToValue(v)
	case float32:
		return float64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	case uuid.UUID:
		return v.String()
	}
	return v
}

func uint64ToValue(v uint64) any {
	if v <= math.MaxInt64 {
		return int64(v)
	}
	return v
}
