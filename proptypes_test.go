package flexilite

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParsePropertyType(t *testing.T) {
	for s, e := range map[string]PropertyType{
		"text":     TypeText,
		"String":   TypeText,
		"int":      TypeInteger,
		"datetime": TypeDate,
		"REF":      TypeReference,
		"object":   TypeNested,
		"any":      TypeAny,
	} {
		a, err := ParsePropertyType(s)
		if err != nil || a != e {
			t.Errorf("ParsePropertyType(%q) = %v, %v, wanted %v", s, a, err, e)
		}
	}
	_, err := ParsePropertyType("decimal")
	isKind(t, err, ErrSchemaSyntax)
}

// storedSamples are canonical stored values of each type.
var storedSamples = map[PropertyType][]any{
	TypeAny:       {"x", int64(1)},
	TypeText:      {"hello", ""},
	TypeSymbol:    {"sym"},
	TypeName:      {"Ann"},
	TypeInteger:   {int64(42), int64(-3)},
	TypeNumber:    {2.5},
	TypeMoney:     {19.99},
	TypeBoolean:   {true, false},
	TypeDate:      {1.7e9},
	TypeTimespan:  {90.0},
	TypeBinary:    {[]byte("abc")},
	TypeUUID:      {"7d444840-9dc0-11d1-b245-5ffdce74fad2"},
	TypeEnum:      {int64(1), "red"},
	TypeJSON:      {map[string]any{"a": int64(1)}, "s"},
	TypeReference: {int64(5)},
	TypeNested:    {map[string]any{"a": "b"}},
}

func TestCheckTransitionCatalog(t *testing.T) {
	for from := PropertyType(0); int(from) < numPropertyTypes; from++ {
		ti := typeCatalog[from]
		if ti.safe.Has(from) || ti.cond.Has(from) {
			t.Errorf("%v lists itself as a transition target", from)
		}
		if ti.safe&ti.cond != 0 {
			t.Errorf("%v has transitions that are both safe and conditional", from)
		}
		for to := PropertyType(0); int(to) < numPropertyTypes; to++ {
			tr := CheckTransition(from, to)
			if (tr == TransitionSame) != (from == to) {
				t.Errorf("CheckTransition(%v, %v) = %v", from, to, tr)
			}
			if tr != TransitionSafe {
				continue
			}
			// a safe transition never needs a data scan
			for _, v := range storedSamples[from] {
				if _, err := to.Coerce(v); err != nil {
					t.Errorf("safe %v -> %v fails on %#v: %v", from, to, v, err)
				}
			}
		}
	}

	deepEqual(t, CheckTransition(TypeInteger, TypeText), TransitionSafe)
	deepEqual(t, CheckTransition(TypeText, TypeInteger), TransitionNeedsValidation)
	deepEqual(t, CheckTransition(TypeInteger, TypeReference), TransitionForbidden)
	deepEqual(t, CheckTransition(TypeReference, TypeText), TransitionForbidden)
}

func TestCoerce(t *testing.T) {
	tm := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		typ  PropertyType
		in   any
		want any
	}{
		{TypeText, 30, "30"},
		{TypeText, 2.5, "2.5"},
		{TypeText, true, "true"},
		{TypeText, map[string]any{"a": 1}, `{"a":1}`},
		{TypeInteger, "17", int64(17)},
		{TypeInteger, 3.0, int64(3)},
		{TypeInteger, json.Number("12"), int64(12)},
		{TypeInteger, uint8(7), int64(7)},
		{TypeInteger, -9.223372036854775808e18, int64(math.MinInt64)},
		{TypeNumber, "1.5", 1.5},
		{TypeMoney, 1.23456, 1.2346},
		{TypeBoolean, "true", true},
		{TypeBoolean, int64(0), false},
		{TypeDate, tm, timeToSeconds(tm)},
		{TypeDate, "2024-03-01T12:00:00Z", timeToSeconds(tm)},
		{TypeDate, "2024-03-01", timeToSeconds(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))},
		{TypeTimespan, "1m30s", 90.0},
		{TypeTimespan, 90 * time.Second, 90.0},
		{TypeBinary, "ab", []byte("ab")},
		{TypeUUID, "7D444840-9DC0-11D1-B245-5FFDCE74FAD2", "7d444840-9dc0-11d1-b245-5ffdce74fad2"},
		{TypeUUID, uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"), "7d444840-9dc0-11d1-b245-5ffdce74fad2"},
		{TypeReference, "5", int64(5)},
		{TypeEnum, 2.0, int64(2)},
		{TypeNested, `{"a":1}`, map[string]any{"a": 1.0}},
		{TypeJSON, []any{1, "x"}, []any{int64(1), "x"}},
		{TypeAny, nil, nil},
	}
	for _, tt := range tests {
		a, err := tt.typ.Coerce(tt.in)
		if err != nil {
			t.Errorf("%v.Coerce(%#v) failed: %v", tt.typ, tt.in, err)
			continue
		}
		deepEqual(t, a, tt.want)
	}

	for _, tt := range []struct {
		typ PropertyType
		in  any
	}{
		{TypeInteger, "abc"},
		{TypeInteger, 2.5},
		{TypeInteger, 1e19},
		{TypeInteger, -1e19},
		{TypeInteger, 9.223372036854775808e18},
		{TypeInteger, json.Number("10000000000000000000")},
		{TypeBoolean, int64(2)},
		{TypeReference, int64(0)},
		{TypeUUID, "not-a-uuid"},
		{TypeDate, "yesterday"},
		{TypeNested, int64(1)},
		{TypeText, []byte{0xff}},
	} {
		if a, err := tt.typ.Coerce(tt.in); err == nil {
			t.Errorf("%v.Coerce(%#v) = %#v, wanted an error", tt.typ, tt.in, a)
		}
	}
}

func TestPresentDate(t *testing.T) {
	tm := time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	a := TypeDate.Present(timeToSeconds(tm))
	if at, ok := a.(time.Time); !ok || !at.Equal(tm) {
		t.Errorf("Present = %#v, wanted %v", a, tm)
	}

	// values that no longer coerce come back as stored
	deepEqual(t, TypeInteger.Present("abc"), any("abc"))
	deepEqual(t, TypeText.Present(int64(30)), any("30"))
}
