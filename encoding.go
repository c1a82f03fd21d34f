package flexilite

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// msgpackEncode appends the MsgPack form of v to buf. Map keys are sorted so
// equal values always produce equal bytes.
func msgpackEncode(buf []byte, v any) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return bb.Buf
}

// msgpackDecode decodes buf into ptr. Interface values keep their wire
// width (int8, float32, ...) and bin stays []byte; callers run them through
// normalize.
func msgpackDecode(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}
