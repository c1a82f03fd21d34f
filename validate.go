package flexilite

import (
	"unicode/utf8"
)

// checkValue coerces v to pd's type and applies the per-value rules: length,
// range, regex and enum membership. Occurrences, uniqueness and reference
// targets are checked per object.
func (pd *PropertyDef) checkValue(v any) (any, error) {
	cv, err := pd.Type.Coerce(v)
	if err != nil {
		return nil, errf(ErrValidation, err, "invalid %s value", pd.Type).prop(pd.Name)
	}
	if pd.Type == TypeEnum && pd.EnumDef != nil {
		id, ok := pd.EnumDef.lookup(cv)
		if !ok {
			return nil, validationErrf("%v is not an enum item", cv).prop(pd.Name)
		}
		cv = id
	}
	if pd.MaxLength > 0 {
		switch x := cv.(type) {
		case string:
			if utf8.RuneCountInString(x) > pd.MaxLength {
				return nil, validationErrf("longer than %d characters", pd.MaxLength).prop(pd.Name)
			}
		case []byte:
			if len(x) > pd.MaxLength {
				return nil, validationErrf("longer than %d bytes", pd.MaxLength).prop(pd.Name)
			}
		}
	}
	if pd.MinValue != nil || pd.MaxValue != nil {
		if f, ok := numericValue(cv); ok {
			if pd.MinValue != nil && f < *pd.MinValue {
				return nil, validationErrf("%v is less than %v", cv, *pd.MinValue).prop(pd.Name)
			}
			if pd.MaxValue != nil && f > *pd.MaxValue {
				return nil, validationErrf("%v is greater than %v", cv, *pd.MaxValue).prop(pd.Name)
			}
		}
	}
	if pd.re != nil {
		if s, ok := cv.(string); ok && !pd.re.MatchString(s) {
			return nil, validationErrf("%q does not match %s", s, pd.Regex).prop(pd.Name)
		}
	}
	return cv, nil
}

func numericValue(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// checkOccurrences applies min/max occurrence rules.
func (pd *PropertyDef) checkOccurrences(n int) error {
	if n < pd.MinOccurs {
		if pd.MinOccurs == 1 {
			return validationErrf("value required").prop(pd.Name)
		}
		return validationErrf("at least %d values required, got %d", pd.MinOccurs, n).prop(pd.Name)
	}
	if pd.MaxOccurs > 0 && n > pd.MaxOccurs {
		return validationErrf("at most %d values allowed, got %d", pd.MaxOccurs, n).prop(pd.Name)
	}
	return nil
}

// validateObject checks the whole object against cd. Values must already be
// canonical (see checkValue). exclude is the id the object had before a
// reassignment. Nothing is written.
func (tx *Tx) validateObject(cd *ClassDef, obj *Object, exclude int64) error {
	if obj.Flags.Has(ObjSchemaNotEnforced) {
		return nil
	}
	for _, pd := range cd.Columns() {
		occs := obj.occurrences(pd)
		if err := pd.checkOccurrences(len(occs)); err != nil {
			return err.(*Error).class(cd.Name).object(obj.ID)
		}
		if pd.IsUnique() {
			for i, v := range occs {
				for _, prev := range occs[:i] {
					if valuesEqual(prev, v) {
						return validationErrf("duplicate value %v", v).class(cd.Name).prop(pd.Name).object(obj.ID)
					}
				}
				for _, other := range tx.findEqual(cd, pd, v, 2) {
					if other != obj.ID && other != exclude {
						return validationErrf("value %v is not unique (object %d)", v, other).class(cd.Name).prop(pd.Name).object(obj.ID)
					}
				}
			}
		}
		if pd.Type == TypeReference {
			for _, v := range occs {
				if err := tx.checkRefTarget(pd, v); err != nil {
					return err.class(cd.Name).object(obj.ID)
				}
			}
		}
	}
	return nil
}

func (tx *Tx) checkRefTarget(pd *PropertyDef, v any) *Error {
	target, ok := v.(int64)
	if !ok {
		return validationErrf("reference must be an object id").prop(pd.Name)
	}
	rec, err := tx.loadObjectRecord(target)
	if err != nil {
		return asError(err).(*Error).prop(pd.Name)
	}
	if rec == nil {
		return validationErrf("referenced object %d does not exist", target).prop(pd.Name)
	}
	if rd := pd.RefDef; rd != nil && !rd.Dynamic && rd.ClassRef.ID != 0 && rec.ClassID != rd.ClassRef.ID {
		return validationErrf("referenced object %d is not a %s", target, rd.ClassRef).prop(pd.Name)
	}
	return nil
}

// findEqual returns up to limit ids of objects of cd whose pd equals v,
// using the value index unless it awaits a rebuild.
func (tx *Tx) findEqual(cd *ClassDef, pd *PropertyDef, v any, limit int) []int64 {
	var out []int64
	if pd.IsIndexed() && !cd.indexStale(pd) {
		for c := tx.scanRange(bucketValueIndex, RawPrefix(valueIndexEqPrefix(pd.ID, v))); c.Next(); {
			id := trailingID(c.Key())
			if len(out) == 0 || out[len(out)-1] != id {
				out = append(out, id)
			}
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return out
	}
	for _, id := range tx.classObjectIDs(cd.ID) {
		obj, err := tx.loadObject(id)
		ensure(err)
		if obj == nil {
			continue
		}
		for _, sv := range obj.occurrences(pd) {
			if cv, err := pd.Type.Coerce(sv); err == nil && valuesEqual(cv, v) {
				out = append(out, id)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
