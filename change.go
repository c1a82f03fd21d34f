package flexilite

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"
)

// ChangeOp is the kind of a logged object change.
type ChangeOp uint8

const (
	ChangeNone   ChangeOp = 0
	ChangeInsert ChangeOp = 1
	ChangeUpdate ChangeOp = 2
	ChangeDelete ChangeOp = 3
)

func (v ChangeOp) String() string {
	switch v {
	case ChangeNone:
		return "none"
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// Change is one entry of the change log.
type Change struct {
	Seq      int64     `msgpack:"-"`
	Op       ChangeOp  `msgpack:"o"`
	ClassID  int64     `msgpack:"c"`
	ObjectID int64     `msgpack:"id"`
	OldID    int64     `msgpack:"old,omitempty"`
	Props    []int64   `msgpack:"p,omitempty"`
	Time     time.Time `msgpack:"t"`
}

// logChange appends to the change log unless the object or every changed
// property opts out of tracking.
func (tx *Tx) logChange(op ChangeOp, cd *ClassDef, obj *Object, oldID int64, props []int64) {
	if obj.Flags.Has(ObjNoTrackChanges) {
		return
	}
	props = slices.DeleteFunc(props, func(id int64) bool {
		pd := cd.PropByID(id)
		return pd != nil && pd.NoTrackChanges
	})
	if op == ChangeUpdate && len(props) == 0 && oldID == obj.ID {
		return
	}
	chg := &Change{
		Op:       op,
		ClassID:  cd.ID,
		ObjectID: obj.ID,
		Props:    props,
		Time:     time.Now().UTC(),
	}
	if oldID != 0 && oldID != obj.ID {
		chg.OldID = oldID
	}
	seq := tx.nextID(metaChangeSeq)
	ensure(tx.bucket(bucketChanges).Put(idKey(seq), msgpackEncode(nil, chg)))
}

// Changes returns up to limit log entries with sequence numbers above since.
func (c *Conn) Changes(since int64, limit int) ([]*Change, error) {
	var out []*Change
	err := c.Read(func(tx *Tx) error {
		for cur := tx.scanRange(bucketChanges, RawRange{Lower: idKey(since + 1)}); cur.Next(); {
			chg := new(Change)
			if err := msgpackDecode(cur.Value(), chg); err != nil {
				return storageErrf(err, "change log")
			}
			chg.Seq = int64(binary.BigEndian.Uint64(cur.Key()))
			out = append(out, chg)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// TrimChanges deletes log entries up to and including seq.
func (c *Conn) TrimChanges(seq int64) (int, error) {
	var n int
	err := c.Write(func(tx *Tx) error {
		tx.markWritten()
		n = tx.deleteRange(bucketChanges, RawRange{Upper: idKey(seq + 1)})
		return nil
	})
	return n, err
}
