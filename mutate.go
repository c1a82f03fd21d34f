package flexilite

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Insert creates an object of the class. fixed holds raw values of the
// fixed columns A..P by position; values maps property names to values,
// with slices standing for multiple occurrences.
func (c *Conn) Insert(classID int64, fixed []any, values map[string]any) (int64, error) {
	var id int64
	err := c.Write(func(tx *Tx) error {
		cd, err := tx.ClassByID(classID)
		if err != nil {
			return err
		}
		id, err = tx.insertObject(cd, 0, fixed, values)
		return err
	})
	return id, err
}

// InsertInto is Insert addressed by class name.
func (c *Conn) InsertInto(className string, values map[string]any) (int64, error) {
	var id int64
	err := c.Write(func(tx *Tx) error {
		cd, err := tx.ClassByName(className)
		if err != nil {
			return err
		}
		id, err = tx.insertObject(cd, 0, nil, values)
		return err
	})
	return id, err
}

// Update changes the given values of an object; a nil value removes the
// property. A non-zero newID different from id moves the object.
func (c *Conn) Update(id, newID int64, fixed []any, values map[string]any) error {
	return c.Write(func(tx *Tx) error {
		return tx.updateObject(id, newID, fixed, values)
	})
}

// Delete removes an object, applying the delete policies of references
// pointing at it.
func (c *Conn) Delete(id int64) error {
	return c.Write(func(tx *Tx) error {
		return tx.deleteObject(id, nil)
	})
}

// SetObjectFlags sets and clears control flags of an object. The
// invalid-data flag belongs to the engine and cannot be set.
func (c *Conn) SetObjectFlags(id int64, set, clear ObjectFlags) error {
	if set&ObjHasInvalidData != 0 {
		return ruleErrf("has-invalid-data is maintained by validation").object(id)
	}
	return c.Write(func(tx *Tx) error {
		rec, err := tx.loadObjectRecord(id)
		if err != nil {
			return err
		}
		if rec == nil {
			return notFoundErrf("no such object").object(id)
		}
		rec.Flags = rec.Flags&^clear | set
		tx.saveObjectRecord(id, rec)
		return nil
	})
}

func (tx *Tx) insertObject(cd *ClassDef, id int64, fixed []any, values map[string]any) (int64, error) {
	tx.requireWritable()
	cd, err := tx.ensureIndexes(cd)
	if err != nil {
		return 0, err
	}
	if id != 0 && tx.objectExists(id) {
		return 0, ruleErrf("object id already in use").class(cd.Name).object(id)
	}

	obj := newObject(cd.ID)
	cd, err = tx.applyValues(cd, obj, fixed, values)
	if err != nil {
		return 0, err
	}

	if id == 0 {
		id = tx.nextID(metaLastObjectID)
	} else if id > tx.metaCounter(metaLastObjectID) {
		tx.setMetaCounter(metaLastObjectID, id)
	}
	obj.ID = id
	now := time.Now()
	obj.Created = timeToSeconds(now)
	obj.Updated = obj.Created
	if err := applyAutoProps(cd, obj, true, now); err != nil {
		return 0, err
	}
	if err := tx.validateObject(cd, obj, 0); err != nil {
		return 0, err
	}

	tx.writeObject(cd, nil, obj)
	tx.logChange(ChangeInsert, cd, obj, 0, changedProps(cd, nil, obj))
	if tx.db.verbose {
		tx.logger().LogAttrs(context.Background(), slog.LevelDebug, "flexilite: insert", slog.String("class", cd.Name), slog.Int64("id", id))
	}
	return id, nil
}

func (tx *Tx) updateObject(id, newID int64, fixed []any, values map[string]any) error {
	tx.requireWritable()
	old, err := tx.loadObject(id)
	if err != nil {
		return err
	}
	if old == nil {
		return notFoundErrf("no such object").object(id)
	}
	cd, err := tx.ClassByID(old.ClassID)
	if err != nil {
		return err
	}
	if cd, err = tx.ensureIndexes(cd); err != nil {
		return err
	}

	obj := old.clone()
	if cd, err = tx.applyValues(cd, obj, fixed, values); err != nil {
		return err
	}
	if newID != 0 && newID != id {
		if tx.objectExists(newID) {
			return ruleErrf("object id already in use").class(cd.Name).object(newID)
		}
		obj.ID = newID
		if newID > tx.metaCounter(metaLastObjectID) {
			tx.setMetaCounter(metaLastObjectID, newID)
		}
	}
	now := time.Now()
	obj.Updated = timeToSeconds(now)
	if err := applyAutoProps(cd, obj, false, now); err != nil {
		return err
	}
	if err := tx.validateObject(cd, obj, id); err != nil {
		return err
	}
	obj.Flags &^= ObjHasInvalidData

	props := changedProps(cd, old, obj)
	tx.writeObject(cd, old, obj)
	if obj.ID != id {
		tx.retargetRefs(id, obj.ID)
	}
	tx.logChange(ChangeUpdate, cd, obj, id, props)
	return nil
}

// deleteObject removes an object and its rows. visited guards cascades
// against reference cycles.
func (tx *Tx) deleteObject(id int64, visited map[int64]bool) error {
	tx.requireWritable()
	if visited == nil {
		visited = make(map[int64]bool)
	}
	visited[id] = true

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

	incoming := tx.incomingRefs(id)
	for _, ref := range incoming {
		if ref.src != id && ref.policy == DeleteRestrict {
			return ruleErrf("object is referenced by object %d", ref.src).class(cd.Name).object(id)
		}
	}
	for _, ref := range incoming {
		if ref.src == id || visited[ref.src] {
			continue
		}
		switch ref.policy {
		case DeleteCascade:
			if tx.objectExists(ref.src) {
				if err := tx.deleteObject(ref.src, visited); err != nil {
					return err
				}
			}
		case DeleteSetNull:
			if err := tx.clearReference(ref, id); err != nil {
				return err
			}
		}
	}

	// the cascade may have changed this object (setNull on a cycle)
	if obj, err = tx.loadObject(id); err != nil || obj == nil {
		return err
	}
	tx.writeObject(cd, obj, nil)
	tx.deleteRange(bucketRefs, RawPrefix(idKey(id)))
	tx.logChange(ChangeDelete, cd, obj, 0, nil)
	return nil
}

type incomingRef struct {
	src    int64
	propID int64
	occ    int
	policy DeletePolicy
}

func (tx *Tx) incomingRefs(target int64) []incomingRef {
	var out []incomingRef
	values := tx.bucket(bucketValues)
	for c := tx.scanRange(bucketRefs, RawPrefix(idKey(target))); c.Next(); {
		_, src, propID, occ, ok := parseRefKey(c.Key())
		if !ok {
			continue
		}
		ref := incomingRef{src: src, propID: propID, occ: occ}
		if raw := values.Get(valueKey(src, propID, occ)); raw != nil {
			vf, _, err := decodeEAVValue(raw)
			ensure(err)
			ref.policy = vf.OnDelete
		} else if pd := tx.propDefByID(src, propID); pd != nil && pd.RefDef != nil {
			// fixed-column references have no value row
			ref.policy = pd.RefDef.OnDelete
		}
		out = append(out, ref)
	}
	return out
}

func (tx *Tx) propDefByID(objID, propID int64) *PropertyDef {
	rec, err := tx.loadObjectRecord(objID)
	if err != nil || rec == nil {
		return nil
	}
	cd, err := tx.ClassByID(rec.ClassID)
	if err != nil {
		return nil
	}
	return cd.PropByID(propID)
}

// clearReference removes the occurrences of ref.src's property pointing at
// target. No validation: the policy allows the value to disappear.
func (tx *Tx) clearReference(ref incomingRef, target int64) error {
	src, err := tx.loadObject(ref.src)
	if err != nil || src == nil {
		return err
	}
	cd, err := tx.ClassByID(src.ClassID)
	if err != nil {
		return err
	}
	pd := cd.PropByID(ref.propID)
	if pd == nil {
		return nil
	}
	obj := src.clone()
	occs := slices.DeleteFunc(slices.Clone(obj.occurrences(pd)), func(v any) bool {
		return valuesEqual(v, target)
	})
	obj.set(pd, occs)
	obj.Updated = timeToSeconds(time.Now())
	tx.writeObject(cd, src, obj)
	tx.logChange(ChangeUpdate, cd, obj, 0, []int64{pd.ID})
	return nil
}

// retargetRefs points every reference to oldID at newID.
func (tx *Tx) retargetRefs(oldID, newID int64) {
	keys := tx.collectKeys(bucketRefs, RawPrefix(idKey(oldID)))
	values := tx.bucket(bucketValues)
	vidx := tx.bucket(bucketValueIndex)
	refs := tx.bucket(bucketRefs)
	for _, k := range keys {
		_, src, propID, occ, ok := parseRefKey(k)
		if !ok {
			continue
		}
		if src == oldID {
			src = newID
		}
		ensure(refs.Delete(k))
		ensure(refs.Put(refKey(newID, src, propID, occ), indexMarker))

		vk := valueKey(src, propID, occ)
		if raw := values.Get(vk); raw != nil {
			vf, _, err := decodeEAVValue(raw)
			ensure(err)
			ensure(values.Put(vk, encodeEAVValue(vf, newID)))
			if vf.Index == IndexIndexed || vf.Index == IndexUnique {
				ensure(vidx.Delete(valueIndexKey(propID, oldID, src)))
				ensure(vidx.Put(valueIndexKey(propID, newID, src), indexMarker))
			}
			continue
		}
		if rec, err := tx.loadObjectRecord(src); err == nil && rec != nil {
			if pd := tx.propDefByID(src, propID); pd != nil && pd.FixedColumn >= 0 && valuesEqual(rec.fixed(pd.FixedColumn), oldID) {
				rec.setFixed(pd.FixedColumn, newID)
				tx.saveObjectRecord(src, rec)
			}
		}
	}
}

// applyValues coerces and stores the given values into obj. Unknown
// properties are created on the fly when the class allows any property, in
// which case the returned definition replaces cd.
func (tx *Tx) applyValues(cd *ClassDef, obj *Object, fixed []any, values map[string]any) (*ClassDef, error) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		pd := cd.Prop(name)
		if pd == nil {
			if !cd.AllowAnyProps {
				return nil, validationErrf("unknown property").class(cd.Name).prop(name)
			}
			var err error
			if cd, err = tx.addAnyProperty(cd, name); err != nil {
				return nil, err
			}
			pd = cd.Prop(name)
		}
		occs, err := canonicalOccurrences(pd, values[name])
		if err != nil {
			return nil, err.(*Error).class(cd.Name).object(obj.ID)
		}
		obj.set(pd, occs)
	}

	for col, v := range fixed {
		if col >= numFixedColumns {
			return nil, ruleErrf("too many fixed columns").class(cd.Name)
		}
		if pd := fixedColumnProp(cd, col); pd != nil {
			occs, err := canonicalOccurrences(pd, v)
			if err != nil {
				return nil, err.(*Error).class(cd.Name).object(obj.ID)
			}
			obj.set(pd, occs)
		} else {
			obj.Fixed[col] = normalize(v)
		}
	}
	return cd, nil
}

func fixedColumnProp(cd *ClassDef, col int) *PropertyDef {
	for _, pd := range cd.Columns() {
		if pd.FixedColumn == col {
			return pd
		}
	}
	return nil
}

// canonicalOccurrences splits v into occurrences and checks each one.
func canonicalOccurrences(pd *PropertyDef, v any) ([]any, error) {
	v = normalize(v)
	if v == nil {
		return nil, nil
	}
	var raw []any
	if arr, ok := v.([]any); ok && (pd.IsMulti() || !pd.Type.IsComposite()) {
		// an array on a single-valued property counts as several occurrences
		raw = arr
	} else {
		raw = []any{v}
	}
	out := make([]any, 0, len(raw))
	for _, e := range raw {
		if e == nil {
			continue
		}
		cv, err := pd.checkValue(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	if pd.FixedColumn >= 0 && len(out) > 1 {
		return nil, validationErrf("fixed column holds a single value").prop(pd.Name)
	}
	return out, nil
}

// addAnyProperty adds an untyped property to a class that allows any
// property.
func (tx *Tx) addAnyProperty(cd *ClassDef, name string) (*ClassDef, error) {
	if err := checkIdentifier("property", name); err != nil {
		return nil, err.(*Error).class(cd.Name)
	}
	nc := cd.shallowClone()
	pd := newPropertyDef(name)
	pd.Type = TypeAny
	pd.Status = StatusAdded
	nc.addProp(pd)
	if err := tx.persistClass(cd, nc, nil); err != nil {
		return nil, err
	}
	tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: property auto-created", slog.String("class", cd.Name), slog.String("prop", name))
	return nc, nil
}

// applyAutoProps fills the special properties the engine maintains.
func applyAutoProps(cd *ClassDef, obj *Object, inserting bool, now time.Time) error {
	set := func(sp SpecialProp, v any, always bool) error {
		pd := cd.SpecialProp(sp)
		if pd == nil || (!always && len(obj.occurrences(pd)) > 0) {
			return nil
		}
		cv, err := pd.checkValue(v)
		if err != nil {
			return err.(*Error).class(cd.Name).object(obj.ID)
		}
		obj.set(pd, []any{cv})
		return nil
	}
	if inserting {
		if err := set(SpecialAutoUUID, uuid.NewString(), false); err != nil {
			return err
		}
		if err := set(SpecialAutoShortID, strconv.FormatInt(obj.ID, 36), false); err != nil {
			return err
		}
		if err := set(SpecialCreateTime, now, false); err != nil {
			return err
		}
	}
	return set(SpecialUpdateTime, now, true)
}

func occsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func changedProps(cd *ClassDef, old, obj *Object) []int64 {
	var out []int64
	for _, pd := range cd.Columns() {
		var before, after []any
		if old != nil {
			before = old.occurrences(pd)
		}
		if obj != nil {
			after = obj.occurrences(pd)
		}
		if !occsEqual(before, after) {
			out = append(out, pd.ID)
		}
	}
	return out
}

// writeObject moves the stored state of an object from old to obj. Either
// may be nil (insert, delete); their ids may differ (reassignment).
func (tx *Tx) writeObject(cd *ClassDef, old, obj *Object) {
	tx.markWritten()
	moved := old != nil && obj != nil && old.ID != obj.ID
	for _, pd := range cd.Columns() {
		var before, after []any
		if old != nil {
			before = old.occurrences(pd)
		}
		if obj != nil {
			after = obj.occurrences(pd)
		}
		if !moved && occsEqual(before, after) {
			continue
		}
		if old != nil {
			tx.removePropRows(cd, pd, old.ID, before)
		}
		if obj != nil {
			tx.putPropRows(cd, pd, obj.ID, after)
		}
	}

	classObjects := tx.bucket(bucketClassObjects)
	if old != nil && (obj == nil || moved) {
		ensure(tx.bucket(bucketObjects).Delete(idKey(old.ID)))
		ensure(classObjects.Delete(idPairKey(old.ClassID, old.ID)))
		ensure(tx.bucket(bucketRangeIndex).Delete(idPairKey(old.ClassID, old.ID)))
		tx.deleteRange(bucketValues, RawPrefix(idKey(old.ID)))
	}
	if obj != nil {
		tx.saveObjectRecord(obj.ID, obj.record())
		ensure(classObjects.Put(idPairKey(obj.ClassID, obj.ID), indexMarker))
		tx.writeRangeRow(cd, obj)
	}
}

func (tx *Tx) removePropRows(cd *ClassDef, pd *PropertyDef, objID int64, occs []any) {
	values := tx.bucket(bucketValues)
	vidx := tx.bucket(bucketValueIndex)
	refs := tx.bucket(bucketRefs)
	for i, v := range occs {
		if pd.FixedColumn < 0 {
			ensure(values.Delete(valueKey(objID, pd.ID, i)))
		}
		if pd.IsIndexed() {
			ensure(vidx.Delete(valueIndexKey(pd.ID, indexValue(pd, v), objID)))
		}
		if target, ok := v.(int64); ok {
			ensure(refs.Delete(refKey(target, objID, pd.ID, i)))
		}
	}
	if pd.FullTextSlot >= 0 {
		ftx := tx.bucket(bucketFullText)
		for _, tok := range occurrenceTokens(occs) {
			ensure(ftx.Delete(fullTextKey(cd.ID, pd.FullTextSlot, tok, objID)))
		}
	}
}

func (tx *Tx) putPropRows(cd *ClassDef, pd *PropertyDef, objID int64, occs []any) {
	values := tx.bucket(bucketValues)
	vidx := tx.bucket(bucketValueIndex)
	refs := tx.bucket(bucketRefs)
	vf := pd.ValueFlags()
	for i, v := range occs {
		if pd.FixedColumn < 0 {
			ensure(values.Put(valueKey(objID, pd.ID, i), encodeEAVValue(vf, v)))
		}
		if pd.IsIndexed() {
			ensure(vidx.Put(valueIndexKey(pd.ID, indexValue(pd, v), objID), indexMarker))
		}
		if target, ok := v.(int64); ok && pd.Type == TypeReference {
			ensure(refs.Put(refKey(target, objID, pd.ID, i), indexMarker))
		}
	}
	if pd.FullTextSlot >= 0 {
		ftx := tx.bucket(bucketFullText)
		for _, tok := range occurrenceTokens(occs) {
			ensure(ftx.Put(fullTextKey(cd.ID, pd.FullTextSlot, tok, objID), indexMarker))
		}
	}
}

// indexValue is the value under which v is indexed: the stored value
// converted to the property's current type when possible.
func indexValue(pd *PropertyDef, v any) any {
	if cv, err := pd.Type.Coerce(v); err == nil {
		return cv
	}
	return v
}

func (tx *Tx) writeRangeRow(cd *ClassDef, obj *Object) {
	rr := buildRangeRecord(cd, obj)
	k := idPairKey(cd.ID, obj.ID)
	b := tx.bucket(bucketRangeIndex)
	if rr.empty() {
		ensure(b.Delete(k))
		return
	}
	ensure(b.Put(k, encodeRangeRecord(rr)))
}

func buildRangeRecord(cd *ClassDef, obj *Object) *rangeRecord {
	rr := new(rangeRecord)
	for _, pd := range cd.Columns() {
		if pd.RangeSlot < 0 {
			continue
		}
		if occs := obj.occurrences(pd); len(occs) > 0 {
			if f, err := coerceFloat(indexValue(pd, occs[0])); err == nil {
				rr.Bounds[pd.RangeSlot] = f
			}
		}
	}
	return rr
}
