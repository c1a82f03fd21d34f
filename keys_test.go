package flexilite

import (
	"bytes"
	"testing"
)

func TestAppendOrderedSortsValues(t *testing.T) {
	ordered := []any{
		false,
		true,
		-1e9,
		-2.5,
		int64(-1),
		int64(0),
		0.5,
		int64(1),
		3.25,
		int64(1) << 60,
		"",
		"a",
		"a\x00",
		"a\x00b",
		"ab",
		"b",
		[]byte{0},
		[]byte{1},
		map[string]any{"a": int64(1)},
	}
	for i := 1; i < len(ordered); i++ {
		a := appendOrdered(nil, ordered[i-1])
		b := appendOrdered(nil, ordered[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("ordered(%#v) = %x is not below ordered(%#v) = %x", ordered[i-1], a, ordered[i], b)
		}
	}
}

func TestAppendOrderedEncoding(t *testing.T) {
	deepEqual(t, appendOrdered(nil, int64(0)), x("20 80 00 00 00 00 00 00 00"))
	deepEqual(t, appendOrdered(nil, -0.0), x("20 80 00 00 00 00 00 00 00"))
	deepEqual(t, appendOrdered(nil, "a\x00"), x("30 61 00 ff 00 00"))
	deepEqual(t, appendOrdered(nil, []byte{}), x("40 00 00"))
	deepEqual(t, appendOrdered(nil, true), x("11"))

	// integers and floats share the numeric encoding
	deepEqual(t, appendOrdered(nil, int64(3)), appendOrdered(nil, 3.0))
}

func TestValueIndexEqPrefixIsExact(t *testing.T) {
	prefix := valueIndexEqPrefix(7, "a")
	if k := valueIndexKey(7, "ab", 1); bytes.HasPrefix(k, prefix) {
		t.Errorf("key of %q starts with the prefix of %q", "ab", "a")
	}
	if k := valueIndexKey(7, "a\x00", 1); bytes.HasPrefix(k, prefix) {
		t.Errorf("key of %q starts with the prefix of %q", "a\\x00", "a")
	}
	if k := valueIndexKey(7, "a", 42); !bytes.HasPrefix(k, prefix) {
		t.Errorf("key %x lacks prefix %x", k, prefix)
	}
	deepEqual(t, trailingID(valueIndexKey(7, "a", 42)), int64(42))
	deepEqual(t, trailingID(fullTextKey(3, 1, "report", 99)), int64(99))
}

func TestValueKey(t *testing.T) {
	k := valueKey(5, 12, 3)
	deepEqual(t, k, x("0000000000000005 000000000000000c 00000003"))

	obj, prop, occ, ok := parseValueKey(k)
	if !ok || obj != 5 || prop != 12 || occ != 3 {
		t.Errorf("parseValueKey = %d %d %d %v, wanted 5 12 3 true", obj, prop, occ, ok)
	}
	if _, _, _, ok := parseValueKey(k[:len(k)-1]); ok {
		t.Errorf("parseValueKey accepted a truncated key")
	}

	// all rows of one object share its id prefix, sorted by property
	if !bytes.HasPrefix(k, idKey(5)) {
		t.Errorf("value key %x does not start with object id", k)
	}
	if bytes.Compare(valueKey(5, 12, 9), valueKey(5, 13, 0)) >= 0 {
		t.Errorf("occurrences of a property must sort before the next property")
	}
}

func TestRefKey(t *testing.T) {
	k := refKey(9, 5, 12, 1)
	target, src, prop, occ, ok := parseRefKey(k)
	if !ok || target != 9 || src != 5 || prop != 12 || occ != 1 {
		t.Errorf("parseRefKey = %d %d %d %d %v, wanted 9 5 12 1 true", target, src, prop, occ, ok)
	}
	if !bytes.HasPrefix(k, idKey(9)) {
		t.Errorf("ref key %x does not start with the target id", k)
	}
}

func TestSuccessor(t *testing.T) {
	deepEqual(t, successor(x("01 02")), x("01 03"))
	deepEqual(t, successor(x("01 ff")), x("02 00"))
	isempty(t, successor(x("ff ff")))

	orig := x("01 02")
	successor(orig)
	deepEqual(t, orig, x("01 02"))
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b any
		c    int
		ok   bool
	}{
		{int64(2), 2.5, -1, true},
		{3.0, int64(3), 0, true},
		{"b", "a", 1, true},
		{false, true, -1, true},
		{[]byte{1}, []byte{1}, 0, true},
		{"a", int64(1), 0, false},
		{true, int64(1), 0, false},
	}
	for _, tt := range tests {
		c, ok := compareValues(tt.a, tt.b)
		if c != tt.c || ok != tt.ok {
			t.Errorf("compareValues(%#v, %#v) = %d %v, wanted %d %v", tt.a, tt.b, c, ok, tt.c, tt.ok)
		}
	}

	if !valuesEqual(map[string]any{"a": int64(1)}, map[string]any{"a": int64(1)}) {
		t.Errorf("equal maps compare unequal")
	}
	if valuesEqual(nil, int64(0)) {
		t.Errorf("nil equals 0")
	}
	if !valuesEqual(nil, nil) {
		t.Errorf("nil does not equal nil")
	}
}
