package flexilite

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"
)

// ensureIndexes rebuilds the indexes an alteration left stale. Called before
// every write to the class.
func (tx *Tx) ensureIndexes(cd *ClassDef) (*ClassDef, error) {
	if cd.Maint == 0 {
		return cd, nil
	}
	return tx.rebuildIndexes(cd, cd.Maint, cd.MaintProps)
}

// RebuildIndexes rebuilds every index of the class from the stored values.
func (c *Conn) RebuildIndexes(className string) error {
	return c.Write(func(tx *Tx) error {
		cd, err := tx.ClassByName(className)
		if err != nil {
			return err
		}
		var props []int64
		for _, pd := range cd.Columns() {
			if pd.IsIndexed() {
				props = append(props, pd.ID)
			}
		}
		_, err = tx.rebuildIndexes(cd, MaintRangeIndex|MaintFullText|MaintValueIndex, props)
		return err
	})
}

func (tx *Tx) rebuildIndexes(cd *ClassDef, what MaintFlags, propIDs []int64) (*ClassDef, error) {
	tx.requireWritable()
	start := time.Now()

	var valueProps []*PropertyDef
	if what.Has(MaintValueIndex) {
		for _, id := range propIDs {
			tx.deleteRange(bucketValueIndex, RawPrefix(valueIndexPrefix(id)))
			if pd := cd.PropByID(id); pd != nil && pd.IsIndexed() {
				valueProps = append(valueProps, pd)
			}
		}
	}
	if what.Has(MaintRangeIndex) {
		tx.deleteRange(bucketRangeIndex, RawPrefix(idKey(cd.ID)))
	}
	var ftProps []*PropertyDef
	if what.Has(MaintFullText) {
		tx.deleteRange(bucketFullText, RawPrefix(idKey(cd.ID)))
		for _, pd := range cd.Columns() {
			if pd.FullTextSlot >= 0 {
				ftProps = append(ftProps, pd)
			}
		}
	}

	ids := tx.classObjectIDs(cd.ID)
	vidx := tx.bucket(bucketValueIndex)
	ftx := tx.bucket(bucketFullText)
	for _, id := range ids {
		obj, err := tx.loadObject(id)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			continue
		}
		for _, pd := range valueProps {
			for _, v := range obj.occurrences(pd) {
				ensure(vidx.Put(valueIndexKey(pd.ID, indexValue(pd, v), id), indexMarker))
			}
		}
		if what.Has(MaintRangeIndex) {
			tx.writeRangeRow(cd, obj)
		}
		for _, pd := range ftProps {
			for _, tok := range occurrenceTokens(obj.occurrences(pd)) {
				ensure(ftx.Put(fullTextKey(cd.ID, pd.FullTextSlot, tok, id), indexMarker))
			}
		}
	}

	nc := cd.shallowClone()
	nc.Maint &^= what
	if what.Has(MaintValueIndex) {
		nc.MaintProps = slices.DeleteFunc(nc.MaintProps, func(id int64) bool {
			return slices.Contains(propIDs, id)
		})
		if len(nc.MaintProps) > 0 {
			nc.Maint |= MaintValueIndex
		}
	}
	tx.saveClass(nc, cd.Name)
	tx.bumpSchemaVer()
	tx.publish(nc)

	tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: indexes rebuilt",
		slog.String("class", cd.Name),
		slog.Int("objects", len(ids)),
		slog.Int64("ms", time.Since(start).Milliseconds()))
	return nc, nil
}

// tokenize splits text into lower-case words.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// occurrenceTokens lists the distinct tokens of all occurrences.
func occurrenceTokens(occs []any) []string {
	var out []string
	for _, v := range occs {
		s, err := coerceString(v)
		if err != nil {
			continue
		}
		out = append(out, tokenize(s)...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// dropPropertyData removes every stored value and index row of a deleted
// property. cd is the class definition being saved, pd the deleted property
// as it was.
func (tx *Tx) dropPropertyData(cd *ClassDef, pd *PropertyDef) {
	refs := tx.bucket(bucketRefs)
	for _, id := range tx.classObjectIDs(cd.ID) {
		if pd.FixedColumn >= 0 {
			rec, err := tx.loadObjectRecord(id)
			ensure(err)
			if rec == nil {
				continue
			}
			if v := rec.fixed(pd.FixedColumn); v != nil {
				if target, ok := v.(int64); ok && pd.Type == TypeReference {
					ensure(refs.Delete(refKey(target, id, pd.ID, 0)))
				}
				rec.setFixed(pd.FixedColumn, nil)
				tx.saveObjectRecord(id, rec)
			}
			continue
		}
		for i, v := range tx.propValues(id, pd.ID) {
			if target, ok := v.(int64); ok {
				ensure(refs.Delete(refKey(target, id, pd.ID, i)))
			}
		}
		tx.deleteRange(bucketValues, RawPrefix(appendU64(idKey(id), uint64(pd.ID))))
	}
	tx.deleteRange(bucketValueIndex, RawPrefix(valueIndexPrefix(pd.ID)))
	if pd.FullTextSlot >= 0 {
		tx.deleteRange(bucketFullText, RawPrefix(fullTextPrefix(cd.ID, pd.FullTextSlot)))
	}
	if pd.RangeSlot >= 0 {
		cd.Maint |= MaintRangeIndex
	}
	tx.deletePropRecord(pd.ID)
}
