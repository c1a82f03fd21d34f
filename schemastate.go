package flexilite

import (
	"encoding/binary"
	"strings"
	"time"
)

// Persisted counters in the meta bucket. Ids are never reused.
const (
	metaSchemaVer    = "schema_ver"
	metaLastClassID  = "last_class_id"
	metaLastPropID   = "last_prop_id"
	metaLastObjectID = "last_object_id"
	metaChangeSeq    = "change_seq"
)

// classRecord is the persisted row of one class in the classes bucket.
type classRecord struct {
	Name       string     `msgpack:"n"`
	JSON       []byte     `msgpack:"j"`
	System     bool       `msgpack:"s,omitempty"`
	Maint      MaintFlags `msgpack:"m,omitempty"`
	MaintProps []int64    `msgpack:"mp,omitempty"`
	Modified   time.Time  `msgpack:"t"`
}

// propRecord is the persisted row of one property in the props bucket.
type propRecord struct {
	ClassID int64        `msgpack:"c"`
	Name    string       `msgpack:"n"`
	Type    PropertyType `msgpack:"t"`
}

func prepareStorage(st storage) error {
	stx, err := st.BeginTx(true)
	if err != nil {
		return err
	}
	defer stx.Rollback()
	for _, name := range allBuckets {
		if _, err := stx.CreateBucket(name); err != nil {
			return err
		}
	}
	return stx.Commit()
}

func (tx *Tx) metaCounter(name string) int64 {
	raw := tx.bucket(bucketMeta).Get([]byte(name))
	if raw == nil {
		return 0
	}
	if len(raw) != 8 {
		panic(storageErrf(dataErrf(raw, 0, nil, "invalid counter"), "meta %s", name))
	}
	return int64(binary.BigEndian.Uint64(raw))
}

func (tx *Tx) setMetaCounter(name string, v int64) {
	tx.markWritten()
	ensure(tx.bucket(bucketMeta).Put([]byte(name), idKey(v)))
}

// nextID allocates the next value of a meta counter.
func (tx *Tx) nextID(name string) int64 {
	v := tx.metaCounter(name) + 1
	tx.setMetaCounter(name, v)
	return v
}

// bumpSchemaVer makes every other connection drop its cached schema on its
// next transaction.
func (tx *Tx) bumpSchemaVer() {
	tx.schemaChanged = true
	tx.schemaVer = tx.nextID(metaSchemaVer)
}

func classNameKey(name string) []byte {
	return []byte(strings.ToLower(name))
}

func (tx *Tx) classIDByName(name string) (int64, bool) {
	raw := tx.bucket(bucketClassNames).Get(classNameKey(name))
	if raw == nil {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(raw)), true
}

func (tx *Tx) loadClassRecord(id int64) (*classRecord, error) {
	raw := tx.bucket(bucketClasses).Get(idKey(id))
	if raw == nil {
		return nil, nil
	}
	rec := new(classRecord)
	if err := msgpackDecode(raw, rec); err != nil {
		return nil, storageErrf(err, "class %d", id)
	}
	return rec, nil
}

// loadClass reads and parses a persisted class. Returns nil, nil if missing.
func (tx *Tx) loadClass(id int64) (*ClassDef, error) {
	rec, err := tx.loadClassRecord(id)
	if rec == nil || err != nil {
		return nil, err
	}
	cd, err := ParseClassJSON(rec.JSON)
	if err != nil {
		return nil, storageErrf(err, "persisted definition of class %s", rec.Name)
	}
	cd.ID = id
	cd.Name = rec.Name
	cd.IsSystem = rec.System
	cd.Maint = rec.Maint
	cd.MaintProps = rec.MaintProps
	for _, pd := range cd.props {
		pd.ClassID = id
	}
	return cd, nil
}

// saveClass writes the class row, the name mapping and every property row.
// cd must have all ids allocated.
func (tx *Tx) saveClass(cd *ClassDef, oldName string) {
	tx.markWritten()
	rec := &classRecord{
		Name:       cd.Name,
		JSON:       StringifyClass(cd),
		System:     cd.IsSystem,
		Maint:      cd.Maint,
		MaintProps: cd.MaintProps,
		Modified:   time.Now().UTC(),
	}
	ensure(tx.bucket(bucketClasses).Put(idKey(cd.ID), msgpackEncode(nil, rec)))

	names := tx.bucket(bucketClassNames)
	if oldName != "" && !strings.EqualFold(oldName, cd.Name) {
		ensure(names.Delete(classNameKey(oldName)))
	}
	ensure(names.Put(classNameKey(cd.Name), idKey(cd.ID)))

	props := tx.bucket(bucketProps)
	for _, pd := range cd.Columns() {
		pr := &propRecord{ClassID: cd.ID, Name: pd.Name, Type: pd.Type}
		ensure(props.Put(idKey(pd.ID), msgpackEncode(nil, pr)))
	}
}

func (tx *Tx) deletePropRecord(propID int64) {
	tx.markWritten()
	ensure(tx.bucket(bucketProps).Delete(idKey(propID)))
}

func (tx *Tx) deleteClassRecord(cd *ClassDef) {
	tx.markWritten()
	ensure(tx.bucket(bucketClasses).Delete(idKey(cd.ID)))
	ensure(tx.bucket(bucketClassNames).Delete(classNameKey(cd.Name)))
	for _, pd := range cd.props {
		if pd.ID != 0 {
			tx.deletePropRecord(pd.ID)
		}
	}
}

// classNames lists every persisted class name (as originally spelled).
func (tx *Tx) classNames() []string {
	var names []string
	for c := tx.scanRange(bucketClasses, RawRange{}); c.Next(); {
		rec := new(classRecord)
		ensure(msgpackDecode(c.Value(), rec))
		names = append(names, rec.Name)
	}
	return names
}

func (tx *Tx) classIDs() []int64 {
	var ids []int64
	for c := tx.scanRange(bucketClasses, RawRange{}); c.Next(); {
		ids = append(ids, int64(binary.BigEndian.Uint64(c.Key())))
	}
	return ids
}

func (tx *Tx) loadPropRecord(propID int64) *propRecord {
	raw := tx.bucket(bucketProps).Get(idKey(propID))
	if raw == nil {
		return nil
	}
	pr := new(propRecord)
	ensure(msgpackDecode(raw, pr))
	return pr
}
