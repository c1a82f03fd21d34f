package flexilite

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"
)

// ValueKind tags a PropertyValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindAtom
	KindAtomArray
	KindObject
	KindObjectArray
)

func (k ValueKind) String() string {
	switch k {
	case KindAtom:
		return "atom"
	case KindAtomArray:
		return "atom-array"
	case KindObject:
		return "object"
	case KindObjectArray:
		return "object-array"
	default:
		return "null"
	}
}

// PropertyValue is the value of one property of one object. Nested objects
// are owned maps; references hold only the target id.
type PropertyValue struct {
	Kind    ValueKind
	Atom    any
	Atoms   []any
	Object  map[string]any
	Objects []map[string]any
}

// ValueOf classifies a dynamic value.
func ValueOf(v any) PropertyValue {
	switch v := normalize(v).(type) {
	case nil:
		return PropertyValue{}
	case map[string]any:
		return PropertyValue{Kind: KindObject, Object: v}
	case []any:
		objs := make([]map[string]any, 0, len(v))
		for _, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return PropertyValue{Kind: KindAtomArray, Atoms: v}
			}
			objs = append(objs, m)
		}
		if len(objs) == 0 {
			return PropertyValue{Kind: KindAtomArray, Atoms: v}
		}
		return PropertyValue{Kind: KindObjectArray, Objects: objs}
	default:
		return PropertyValue{Kind: KindAtom, Atom: v}
	}
}

// Occurrences lists the individual values, one per stored occurrence.
func (pv PropertyValue) Occurrences() []any {
	switch pv.Kind {
	case KindAtom:
		return []any{pv.Atom}
	case KindAtomArray:
		return pv.Atoms
	case KindObject:
		return []any{pv.Object}
	case KindObjectArray:
		out := make([]any, len(pv.Objects))
		for i, o := range pv.Objects {
			out[i] = o
		}
		return out
	}
	return nil
}

// Any converts the value back into a plain dynamic value.
func (pv PropertyValue) Any() any {
	switch pv.Kind {
	case KindAtom:
		return pv.Atom
	case KindAtomArray:
		return pv.Atoms
	case KindObject:
		return pv.Object
	case KindObjectArray:
		out := make([]any, len(pv.Objects))
		for i, o := range pv.Objects {
			out[i] = o
		}
		return out
	}
	return nil
}

// Object is the transient form of one stored object, built for a single
// validate and save cycle. Values holds canonical occurrences by property id,
// in occurrence order.
type Object struct {
	ClassID int64
	ID      int64
	Flags   ObjectFlags
	Fixed   [numFixedColumns]any
	Values  map[int64][]any
	Created float64
	Updated float64
}

func newObject(classID int64) *Object {
	return &Object{ClassID: classID, Values: make(map[int64][]any)}
}

func (obj *Object) clone() *Object {
	c := *obj
	c.Values = make(map[int64][]any, len(obj.Values))
	for k, v := range obj.Values {
		c.Values[k] = slices.Clone(v)
	}
	return &c
}

// occurrences returns the values of pd, reading fixed columns as needed.
func (obj *Object) occurrences(pd *PropertyDef) []any {
	if pd.FixedColumn >= 0 {
		if v := obj.Fixed[pd.FixedColumn]; v != nil {
			return []any{v}
		}
		return nil
	}
	return obj.Values[pd.ID]
}

func (obj *Object) set(pd *PropertyDef, occs []any) {
	if pd.FixedColumn >= 0 {
		obj.Fixed[pd.FixedColumn] = nil
		if len(occs) > 0 {
			obj.Fixed[pd.FixedColumn] = occs[0]
		}
		return
	}
	if len(occs) == 0 {
		delete(obj.Values, pd.ID)
	} else {
		obj.Values[pd.ID] = occs
	}
}

func (obj *Object) record() *objectRecord {
	rec := &objectRecord{ClassID: obj.ClassID, Flags: obj.Flags, Created: obj.Created, Updated: obj.Updated}
	for i, v := range obj.Fixed {
		rec.setFixed(i, v)
	}
	return rec
}

func (tx *Tx) objectExists(id int64) bool {
	return tx.bucket(bucketObjects).Get(idKey(id)) != nil
}

func (tx *Tx) loadObjectRecord(id int64) (*objectRecord, error) {
	raw := tx.bucket(bucketObjects).Get(idKey(id))
	if raw == nil {
		return nil, nil
	}
	rec, err := decodeObjectRecord(raw)
	if err != nil {
		return nil, storageErrf(err, "object %d", id)
	}
	return rec, nil
}

func (tx *Tx) saveObjectRecord(id int64, rec *objectRecord) {
	tx.markWritten()
	ensure(tx.bucket(bucketObjects).Put(idKey(id), encodeObjectRecord(rec)))
}

// loadObject reads an object with all of its values. Returns nil, nil if
// the object does not exist.
func (tx *Tx) loadObject(id int64) (*Object, error) {
	rec, err := tx.loadObjectRecord(id)
	if rec == nil || err != nil {
		return nil, err
	}
	obj := newObject(rec.ClassID)
	obj.ID = id
	obj.Flags = rec.Flags
	obj.Created, obj.Updated = rec.Created, rec.Updated
	for i := 0; i < numFixedColumns && i < len(rec.Fixed); i++ {
		obj.Fixed[i] = rec.Fixed[i]
	}
	for c := tx.scanRange(bucketValues, RawPrefix(idKey(id))); c.Next(); {
		_, propID, _, ok := parseValueKey(c.Key())
		if !ok {
			continue
		}
		_, v, err := decodeEAVValue(c.Value())
		if err != nil {
			return nil, storageErrf(err, "value of property %d", propID).object(id)
		}
		obj.Values[propID] = append(obj.Values[propID], v)
	}
	return obj, nil
}

// propValues reads the stored occurrences of one property.
func (tx *Tx) propValues(objID, propID int64) []any {
	var out []any
	for c := tx.scanRange(bucketValues, RawPrefix(appendU64(idKey(objID), uint64(propID)))); c.Next(); {
		_, v, err := decodeEAVValue(c.Value())
		ensure(err)
		out = append(out, v)
	}
	return out
}

// classObjectIDs lists the ids of all objects of a class in id order.
func (tx *Tx) classObjectIDs(classID int64) []int64 {
	var ids []int64
	for c := tx.scanRange(bucketClassObjects, RawPrefix(idKey(classID))); c.Next(); {
		ids = append(ids, trailingID(c.Key()))
	}
	return ids
}

// ObjectData is the externally visible form of an object.
type ObjectData struct {
	ID      int64
	Class   string
	Flags   ObjectFlags
	Created time.Time
	Updated time.Time
	Values  map[string]PropertyValue
}

// present builds the caller-facing view of obj, converting every stored value
// to its property's current type.
func (obj *Object) present(cd *ClassDef) *ObjectData {
	od := &ObjectData{
		ID:     obj.ID,
		Class:  cd.Name,
		Flags:  obj.Flags,
		Values: make(map[string]PropertyValue),
	}
	if obj.Created != 0 {
		od.Created = secondsToTime(obj.Created)
	}
	if obj.Updated != 0 {
		od.Updated = secondsToTime(obj.Updated)
	}
	for _, pd := range cd.Columns() {
		occs := obj.occurrences(pd)
		if len(occs) == 0 {
			continue
		}
		vals := make([]any, len(occs))
		for i, v := range occs {
			vals[i] = presentValue(pd, v)
		}
		if pd.IsMulti() {
			od.Values[pd.Name] = ValueOf(vals)
		} else {
			od.Values[pd.Name] = ValueOf(vals[0])
		}
	}
	return od
}

// Map flattens the values into a plain map.
func (od *ObjectData) Map() map[string]any {
	m := make(map[string]any, len(od.Values))
	for k, v := range od.Values {
		m[k] = v.Any()
	}
	return m
}

// MarshalJSON emits the values as a plain JSON object.
func (od *ObjectData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(od.Map()); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Get returns the presented form of an object.
func (c *Conn) Get(id int64) (*ObjectData, error) {
	var od *ObjectData
	err := c.Read(func(tx *Tx) error {
		obj, err := tx.loadObject(id)
		if err != nil {
			return err
		}
		if obj == nil {
			return notFoundErrf("no such object").object(id)
		}
		cd, err := tx.ClassByID(obj.ClassID)
		if err != nil {
			return err
		}
		od = obj.present(cd)
		return nil
	})
	return od, err
}
