package flexilite

import (
	"encoding/binary"
	"io"
	"math"
)

// bytesBuilder lets encoders write into a caller-provided buffer.
type bytesBuilder struct {
	Buf []byte
}

var (
	_ io.Writer     = (*bytesBuilder)(nil)
	_ io.ByteWriter = (*bytesBuilder)(nil)
)

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = append(bb.Buf, b...)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	bb.Buf = append(bb.Buf, v)
	return nil
}

func appendUvarint(buf []byte, v uint64) []byte { return binary.AppendUvarint(buf, v) }

func appendU64(buf []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(buf, v) }

func appendU32(buf []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(buf, v) }

// byteDecoder consumes a stored row front to back, reporting errors with the
// offset into the original bytes.
type byteDecoder struct {
	orig []byte
	rest []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{orig: buf, rest: buf}
}

func (d *byteDecoder) Off() int { return len(d.orig) - len(d.rest) }

func (d *byteDecoder) Remaining() []byte { return d.rest }

func (d *byteDecoder) fail(format string, args ...any) error {
	return dataErrf(d.orig, d.Off(), nil, format, args...)
}

func (d *byteDecoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.rest)
	if n <= 0 {
		return 0, d.fail("invalid uvarint")
	}
	d.rest = d.rest[n:]
	return v, nil
}

func (d *byteDecoder) Uvarint32() (uint32, error) {
	v, err := d.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, d.fail("value does not fit into uint32: %d", v)
	}
	return uint32(v), nil
}

func (d *byteDecoder) U64() (uint64, error) {
	raw, err := d.Raw(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if len(d.rest) < n {
		return nil, d.fail("not enough data: %d bytes remaining, %d wanted", len(d.rest), n)
	}
	v := d.rest[:n]
	d.rest = d.rest[n:]
	return v, nil
}
