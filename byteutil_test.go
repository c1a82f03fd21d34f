package flexilite

import (
	"math"
	"testing"
)

func TestBytesBuilder(t *testing.T) {
	var bb bytesBuilder
	_, _ = bb.Write([]byte{1, 2})
	_ = bb.WriteByte(3)
	deepEqual(t, bb.Buf, []byte{1, 2, 3})

	buf := appendU64(bb.Buf, 0x0102030405060708)
	buf = appendU32(buf, 0x0A0B0C0D)
	deepEqual(t, buf, x("010203 0102030405060708 0a0b0c0d"))
}

func TestByteDecoder(t *testing.T) {
	buf := appendUvarint(nil, 300)
	buf = appendUvarint(buf, math.MaxUint32+1)
	buf = appendU64(buf, 42)

	d := makeByteDecoder(buf)
	v, err := d.Uvarint()
	if err != nil || v != 300 {
		t.Fatalf("Uvarint = %d, %v, wanted 300", v, err)
	}
	if _, err := d.Uvarint32(); err == nil {
		t.Fatalf("Uvarint32 accepted a value above MaxUint32")
	}
	u, err := d.U64()
	if err != nil || u != 42 {
		t.Fatalf("U64 = %d, %v, wanted 42", u, err)
	}
	deepEqual(t, d.Off(), len(buf))
	isempty(t, d.Remaining())

	if _, err := d.Raw(1); err == nil {
		t.Fatalf("Raw past the end succeeded")
	}
	d = makeByteDecoder([]byte{0x80})
	if _, err := d.Uvarint(); err == nil {
		t.Fatalf("Uvarint accepted a truncated varint")
	}
}
