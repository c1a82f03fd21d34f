package flexilite

import (
	"bytes"
	"context"
	"log/slog"
)

const (
	debugLogRawScans = false
)

// RawRange defines a range of keys within Prefix: Lower is inclusive, Upper
// is exclusive, either may be nil.
type RawRange struct {
	Prefix []byte
	Lower  []byte
	Upper  []byte
}

func RawPrefix(p []byte) RawRange { return RawRange{Prefix: p} }

func (r *RawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	lower := r.Lower
	if lower == nil {
		lower = r.Prefix
	}
	if lower != nil {
		if r.Prefix != nil && bytes.Compare(lower, r.Prefix) < 0 {
			lower = r.Prefix
		}
		k, v = bcur.Seek(lower)
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to lower", hexAttr("lower", lower), hexAttr("key", k))
		}
	} else {
		k, v = bcur.First()
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *RawRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	k, v := bcur.Next()
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "NEXT", hexAttr("key", k))
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

func (r *RawRange) match(k []byte) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		return false
	}
	if r.Upper != nil && bytes.Compare(k, r.Upper) >= 0 {
		return false
	}
	return true
}

func (r *RawRange) newCursor(bcur storageCursor, logger *slog.Logger) *RawRangeCursor {
	return &RawRangeCursor{rang: *r, bcur: bcur, logger: logger}
}

type RawRangeCursor struct {
	rang   RawRange
	bcur   storageCursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (c *RawRangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *RawRangeCursor) Key() []byte   { return c.k }
func (c *RawRangeCursor) Value() []byte { return c.v }

// scanRange opens a cursor over rang in the named bucket.
func (tx *Tx) scanRange(bucket string, rang RawRange) *RawRangeCursor {
	return rang.newCursor(tx.bucket(bucket).Cursor(), tx.logger())
}

// collectKeys copies every key in rang. Callers mutating the bucket scan first.
func (tx *Tx) collectKeys(bucket string, rang RawRange) [][]byte {
	var out [][]byte
	for c := tx.scanRange(bucket, rang); c.Next(); {
		out = append(out, bytes.Clone(c.Key()))
	}
	return out
}

func (tx *Tx) deleteRange(bucket string, rang RawRange) int {
	keys := tx.collectKeys(bucket, rang)
	b := tx.bucket(bucket)
	for _, k := range keys {
		ensure(b.Delete(k))
	}
	return len(keys)
}
