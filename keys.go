package flexilite

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"math"
	"time"
)

// Key layouts (all integers big-endian):
//
//	objects        objID
//	class_objects  classID objID
//	values         objID propID occ(u32)
//	vidx           propID ordered(value) objID
//	ridx           classID objID
//	ftx            classID slot token objID
//	refs           targetID srcObjID propID occ(u32)
//	changes        seq
const (
	idLen       = 8
	occLen      = 4
	valueKeyLen = idLen + idLen + occLen
	refKeyLen   = idLen + idLen + idLen + occLen
)

func idKey(id int64) []byte {
	return appendU64(make([]byte, 0, idLen), uint64(id))
}

func idPairKey(a, b int64) []byte {
	buf := make([]byte, 0, 2*idLen)
	buf = appendU64(buf, uint64(a))
	return appendU64(buf, uint64(b))
}

func valueKey(objID, propID int64, occ int) []byte {
	buf := make([]byte, 0, valueKeyLen)
	buf = appendU64(buf, uint64(objID))
	buf = appendU64(buf, uint64(propID))
	return appendU32(buf, uint32(occ))
}

func parseValueKey(k []byte) (objID, propID int64, occ int, ok bool) {
	if len(k) != valueKeyLen {
		return 0, 0, 0, false
	}
	return int64(binary.BigEndian.Uint64(k)), int64(binary.BigEndian.Uint64(k[idLen:])), int(binary.BigEndian.Uint32(k[2*idLen:])), true
}

func refKey(targetID, srcID, propID int64, occ int) []byte {
	buf := make([]byte, 0, refKeyLen)
	buf = appendU64(buf, uint64(targetID))
	buf = appendU64(buf, uint64(srcID))
	buf = appendU64(buf, uint64(propID))
	return appendU32(buf, uint32(occ))
}

func parseRefKey(k []byte) (targetID, srcID, propID int64, occ int, ok bool) {
	if len(k) != refKeyLen {
		return 0, 0, 0, 0, false
	}
	return int64(binary.BigEndian.Uint64(k)),
		int64(binary.BigEndian.Uint64(k[idLen:])),
		int64(binary.BigEndian.Uint64(k[2*idLen:])),
		int(binary.BigEndian.Uint32(k[3*idLen:])), true
}

// trailingID decodes the object id every index key ends with.
func trailingID(k []byte) int64 {
	if len(k) < idLen {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k[len(k)-idLen:]))
}

// Ordered value tags. Values of different tags never compare equal, and the
// tag order is the cross-type sort order.
const (
	tagFalse  byte = 0x10
	tagTrue   byte = 0x11
	tagNumber byte = 0x20
	tagString byte = 0x30
	tagBytes  byte = 0x40
	tagJSON   byte = 0x50
)

// appendOrdered appends a byte string whose lexicographic order matches the
// natural order of canonical values. Integers and floats share one numeric
// encoding so 3 and 3.0 collide.
func appendOrdered(buf []byte, v any) []byte {
	switch v := v.(type) {
	case bool:
		if v {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case int64:
		return appendOrderedFloat(append(buf, tagNumber), float64(v))
	case uint64:
		return appendOrderedFloat(append(buf, tagNumber), float64(v))
	case float64:
		return appendOrderedFloat(append(buf, tagNumber), v)
	case string:
		return appendEscaped(append(buf, tagString), []byte(v))
	case []byte:
		return appendEscaped(append(buf, tagBytes), v)
	case time.Time:
		return appendOrderedFloat(append(buf, tagNumber), timeToSeconds(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			raw = []byte("null")
		}
		return appendEscaped(append(buf, tagJSON), raw)
	}
}

func appendOrderedFloat(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // fold -0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return appendU64(buf, bits)
}

// appendEscaped writes b with 0x00 escaped as 0x00 0xFF, terminated by 0x00 0x00.
func appendEscaped(buf []byte, b []byte) []byte {
	for _, c := range b {
		if c == 0 {
			buf = append(buf, 0, 0xFF)
		} else {
			buf = append(buf, c)
		}
	}
	return append(buf, 0, 0)
}

func valueIndexPrefix(propID int64) []byte {
	return idKey(propID)
}

// valueIndexEqPrefix is the prefix shared by all index rows of propID holding v.
func valueIndexEqPrefix(propID int64, v any) []byte {
	return appendOrdered(valueIndexPrefix(propID), v)
}

func valueIndexKey(propID int64, v any, objID int64) []byte {
	return appendU64(valueIndexEqPrefix(propID, v), uint64(objID))
}

func fullTextPrefix(classID int64, slot int) []byte {
	return append(idKey(classID), byte(slot))
}

func fullTextTokenPrefix(classID int64, slot int, token string) []byte {
	return appendEscaped(fullTextPrefix(classID, slot), []byte(token))
}

func fullTextKey(classID int64, slot int, token string, objID int64) []byte {
	return appendU64(fullTextTokenPrefix(classID, slot, token), uint64(objID))
}

// compareValues orders two canonical values. ok is false when they are not
// comparable (different kinds).
func compareValues(a, b any) (c int, ok bool) {
	switch a := a.(type) {
	case int64:
		switch b := b.(type) {
		case int64:
			return cmp.Compare(a, b), true
		case float64:
			return cmp.Compare(float64(a), b), true
		}
	case float64:
		switch b := b.(type) {
		case int64:
			return cmp.Compare(a, float64(b)), true
		case float64:
			return cmp.Compare(a, b), true
		}
	case string:
		if b, ok := b.(string); ok {
			return cmp.Compare(a, b), true
		}
	case bool:
		if b, ok := b.(bool); ok {
			switch {
			case a == b:
				return 0, true
			case !a:
				return -1, true
			default:
				return 1, true
			}
		}
	case []byte:
		if b, ok := b.([]byte); ok {
			return bytes.Compare(a, b), true
		}
	case time.Time:
		if b, ok := b.(time.Time); ok {
			return a.Compare(b), true
		}
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(appendOrdered(nil, a), appendOrdered(nil, b))
}
