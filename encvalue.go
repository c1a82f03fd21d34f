package flexilite

import (
	"encoding/binary"
)

// Object rows: uvarint format flags, then MsgPack of objectRecord.
// EAV rows: uvarint packed ValueFlags, then MsgPack of the canonical value.

const (
	valueFormatVer1      = 1
	valueFormatVerLatest = valueFormatVer1

	minValueSize = 2
)

type objectRecord struct {
	ClassID int64       `msgpack:"c"`
	Flags   ObjectFlags `msgpack:"f,omitempty"`
	Fixed   []any       `msgpack:"x,omitempty"`
	Created float64     `msgpack:"ct,omitempty"`
	Updated float64     `msgpack:"ut,omitempty"`
}

func (rec *objectRecord) fixed(col int) any {
	if col < 0 || col >= len(rec.Fixed) {
		return nil
	}
	return rec.Fixed[col]
}

func (rec *objectRecord) setFixed(col int, v any) {
	if v == nil && col >= len(rec.Fixed) {
		return
	}
	for len(rec.Fixed) <= col {
		rec.Fixed = append(rec.Fixed, nil)
	}
	rec.Fixed[col] = v
	for len(rec.Fixed) > 0 && rec.Fixed[len(rec.Fixed)-1] == nil {
		rec.Fixed = rec.Fixed[:len(rec.Fixed)-1]
	}
}

func encodeObjectRecord(rec *objectRecord) []byte {
	buf := appendUvarint(nil, valueFormatVerLatest)
	return msgpackEncode(buf, rec)
}

func decodeObjectRecord(data []byte) (*objectRecord, error) {
	if len(data) < minValueSize {
		return nil, dataErrf(data, 0, nil, "invalid object row: at least %d bytes required", minValueSize)
	}
	ver, n := binary.Uvarint(data)
	if n <= 0 || ver != valueFormatVer1 {
		return nil, dataErrf(data, 0, nil, "invalid object row: unsupported format %d", ver)
	}
	rec := new(objectRecord)
	if err := msgpackDecode(data[n:], rec); err != nil {
		return nil, err
	}
	for i, v := range rec.Fixed {
		rec.Fixed[i] = normalize(v)
	}
	return rec, nil
}

func encodeEAVValue(vf ValueFlags, v any) []byte {
	buf := appendUvarint(nil, uint64(vf.Pack()))
	return msgpackEncode(buf, v)
}

func decodeEAVValue(data []byte) (ValueFlags, any, error) {
	d := makeByteDecoder(data)
	packed, err := d.Uvarint32()
	if err != nil {
		return ValueFlags{}, nil, err
	}
	var v any
	if err := msgpackDecode(d.Remaining(), &v); err != nil {
		return ValueFlags{}, nil, err
	}
	return UnpackValueFlags(packed), normalize(v), nil
}

// rangeRecord holds the bounds of one object in the class range index.
type rangeRecord struct {
	Bounds [numRangeSlots]any `msgpack:"b"`
}

func (rr *rangeRecord) empty() bool {
	for _, b := range rr.Bounds {
		if b != nil {
			return false
		}
	}
	return true
}

func encodeRangeRecord(rr *rangeRecord) []byte {
	return msgpackEncode(nil, rr)
}

func decodeRangeRecord(data []byte) (*rangeRecord, error) {
	rr := new(rangeRecord)
	if err := msgpackDecode(data, rr); err != nil {
		return nil, err
	}
	for i, b := range rr.Bounds {
		rr.Bounds[i] = normalize(b)
	}
	return rr, nil
}

// indexMarker is stored as the value of every index row.
var indexMarker = []byte{1}
