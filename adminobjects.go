package flexilite

import (
	"context"
	"log/slog"
	"time"
)

// rawValues maps property names to the stored values of obj, with
// multi-valued properties as []any.
func rawValues(cd *ClassDef, obj *Object, only map[int64]bool) map[string]any {
	m := make(map[string]any)
	for _, pd := range cd.Columns() {
		if only != nil && !only[pd.ID] {
			continue
		}
		occs := obj.occurrences(pd)
		switch {
		case len(occs) == 0:
		case pd.IsMulti():
			m[pd.Name] = append([]any(nil), occs...)
		default:
			m[pd.Name] = occs[0]
		}
	}
	return m
}

// PropertiesToObject moves the values of props into new objects of
// targetClass, linked from each source object through refProp. The target
// class and the reference property are created when missing, copying the
// moved property definitions. The moved properties are then dropped.
func (c *Conn) PropertiesToObject(className string, props []string, refProp, targetClass string) error {
	if len(props) == 0 {
		return ruleErrf("no properties to move").class(className)
	}
	return c.Write(func(tx *Tx) error {
		cd, err := tx.ClassByName(className)
		if err != nil {
			return err
		}
		moved := make(map[int64]bool)
		var defs []*PropertyDef
		for _, name := range props {
			pd := cd.Prop(name)
			if pd == nil {
				return notFoundErrf("no such property").class(cd.Name).prop(name)
			}
			moved[pd.ID] = true
			defs = append(defs, pd)
		}

		tc, err := tx.ClassByName(targetClass)
		if isNotFound(err) {
			def := newClassDef(targetClass)
			for _, pd := range defs {
				p := pd.clone()
				p.ID, p.ClassID = 0, 0
				p.FixedColumn, p.RangeSlot, p.FullTextSlot = -1, -1, -1
				if p.Index == IndexFullText {
					p.Index = IndexNone
				}
				def.addProp(p)
			}
			tc, err = tx.createClass(targetClass, def)
		}
		if err != nil {
			return err
		}

		if rp := cd.Prop(refProp); rp == nil {
			def := newClassDef(cd.Name)
			p := newPropertyDef(refProp)
			p.Type = TypeReference
			p.RefDef = &RefDef{ClassRef: tc.Ref(), OnDelete: DeleteSetNull}
			def.addProp(p)
			if _, err := tx.alterClass(cd.Name, def, AlterOptions{}); err != nil {
				return err
			}
		} else if rp.Type != TypeReference {
			return ruleErrf("%s is not a reference property", rp.Name).class(cd.Name)
		}

		for _, id := range tx.classObjectIDs(cd.ID) {
			obj, err := tx.loadObject(id)
			if err != nil {
				return err
			}
			values := rawValues(cd, obj, moved)
			if len(values) == 0 {
				continue
			}
			newID, err := tx.insertObject(tc, 0, nil, values)
			if err != nil {
				return err
			}
			if err := tx.updateObject(id, 0, nil, map[string]any{refProp: newID}); err != nil {
				return err
			}
		}
		for _, pd := range defs {
			if err := tx.dropProperty(cd.Name, pd.Name); err != nil {
				return err
			}
		}
		tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: properties moved to objects",
			slog.String("class", cd.Name), slog.String("target", tc.Name), slog.String("ref", refProp))
		return nil
	})
}

// ObjectToProperties is the reverse of PropertiesToObject: the values of the
// object referenced by refProp are copied into the referencing object,
// properties missing from the class are created from the referenced class's
// definitions, and refProp is dropped. The referenced objects are deleted
// unless keepObjects.
func (c *Conn) ObjectToProperties(className, refProp string, keepObjects bool) error {
	return c.Write(func(tx *Tx) error {
		cd, rp, err := tx.existingProp(className, refProp)
		if err != nil {
			return err
		}
		if rp.Type != TypeReference {
			return ruleErrf("%s is not a reference property", rp.Name).class(cd.Name)
		}

		type link struct{ src, dst int64 }
		var links []link
		for _, id := range tx.classObjectIDs(cd.ID) {
			obj, err := tx.loadObject(id)
			if err != nil {
				return err
			}
			occs := obj.occurrences(rp)
			if len(occs) == 0 {
				continue
			}
			if len(occs) > 1 {
				return ruleErrf("object references %d objects", len(occs)).class(cd.Name).prop(rp.Name).object(id)
			}
			if target, ok := occs[0].(int64); ok && tx.objectExists(target) {
				links = append(links, link{id, target})
			}
		}

		// add the properties of every referenced class first
		added := newClassDef(cd.Name)
		for _, l := range links {
			rec, err := tx.loadObjectRecord(l.dst)
			if err != nil {
				return err
			}
			tc, err := tx.ClassByID(rec.ClassID)
			if err != nil {
				return err
			}
			for _, pd := range tc.Columns() {
				if cd.Prop(pd.Name) != nil || added.Prop(pd.Name) != nil {
					continue
				}
				p := pd.clone()
				p.ID, p.ClassID = 0, 0
				p.FixedColumn, p.RangeSlot, p.FullTextSlot = -1, -1, -1
				if p.Index == IndexFullText {
					p.Index = IndexNone
				}
				added.addProp(p)
			}
		}
		if len(added.props) > 0 {
			if _, err := tx.alterClass(cd.Name, added, AlterOptions{}); err != nil {
				return err
			}
		}

		for _, l := range links {
			dst, err := tx.loadObject(l.dst)
			if err != nil {
				return err
			}
			tc, err := tx.ClassByID(dst.ClassID)
			if err != nil {
				return err
			}
			values := rawValues(tc, dst, nil)
			values[rp.Name] = nil
			if err := tx.updateObject(l.src, 0, nil, values); err != nil {
				return err
			}
			if !keepObjects {
				if err := tx.deleteObject(l.dst, nil); err != nil {
					return err
				}
			}
		}
		return tx.dropProperty(cd.Name, rp.Name)
	})
}

// ChangeObjectClass moves an object to another class, keeping its id. Values
// carry over by property name and are validated against the new class;
// references to the object stay valid.
func (c *Conn) ChangeObjectClass(id int64, newClass string) error {
	return c.Write(func(tx *Tx) error {
		return tx.changeObjectClass(id, newClass)
	})
}

func (tx *Tx) changeObjectClass(id int64, newClass string) error {
	tx.requireWritable()
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
	nc, err := tx.ClassByName(newClass)
	if err != nil {
		return err
	}
	if nc.ID == cd.ID {
		return nil
	}
	if nc, err = tx.ensureIndexes(nc); err != nil {
		return err
	}

	moved := newObject(nc.ID)
	moved.ID = id
	moved.Flags = obj.Flags &^ ObjHasInvalidData
	moved.Created = obj.Created
	if nc, err = tx.applyValues(nc, moved, nil, rawValues(cd, obj, nil)); err != nil {
		return err
	}
	now := time.Now()
	moved.Updated = timeToSeconds(now)
	if err := applyAutoProps(nc, moved, false, now); err != nil {
		return err
	}
	if err := tx.validateObject(nc, moved, 0); err != nil {
		return err
	}

	tx.writeObject(cd, obj, nil)
	tx.writeObject(nc, nil, moved)
	tx.logChange(ChangeUpdate, nc, moved, id, changedProps(nc, nil, moved))
	tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: object class changed",
		slog.Int64("id", id), slog.String("from", cd.Name), slog.String("to", nc.Name))
	return nil
}

// MixinClass is one mixin of an object, resolved against its values.
type MixinClass struct {
	Class    string
	ClassID  int64
	Selector any
}

// ResolveMixins evaluates the mixins of an object's class: static mixins
// yield their class, dynamic ones match the selector property's value
// against their rules.
func (c *Conn) ResolveMixins(id int64) ([]MixinClass, error) {
	var out []MixinClass
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
		for _, m := range cd.Mixins.Items {
			var sel any
			if dm, ok := m.(*DynamicMixin); ok {
				if sp := cd.propByRef(dm.SelectorProp); sp != nil {
					if occs := obj.occurrences(sp); len(occs) > 0 {
						sel = sp.Type.Present(occs[0])
					}
				}
			}
			ref := m.Select(sel)
			if ref.IsZero() {
				continue
			}
			mc, err := tx.Class(ref)
			if err != nil {
				return err
			}
			out = append(out, MixinClass{Class: mc.Name, ClassID: mc.ID, Selector: sel})
		}
		return nil
	})
	return out, err
}
