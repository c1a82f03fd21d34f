package flexilite

import (
	"context"
	"log/slog"
)

// validateExisting checks the stored values of the scanned properties against
// their new definitions. ABORT fails on the first violating object; IGNORE
// flags violating objects and marks the properties as needing validation.
func (tx *Tx) validateExisting(old, merged *ClassDef, scan []*PropertyDef, mode ValidationMode, res *AlterResult) error {
	seen := make([]map[string]int64, len(scan))
	violated := make([]bool, len(scan))
	for i, pd := range scan {
		if pd.IsUnique() {
			seen[i] = make(map[string]int64)
		}
	}

	for _, id := range tx.classObjectIDs(old.ID) {
		obj, err := tx.loadObject(id)
		if err != nil {
			return err
		}
		if obj == nil {
			continue
		}
		res.Scanned++
		bad := false
		for i, pd := range scan {
			stored := pd
			if op := old.PropByID(pd.ID); op != nil {
				stored = op
			}
			err := checkStoredValues(pd, obj.occurrences(stored), seen[i], id)
			if err == nil {
				continue
			}
			err.class(merged.Name).object(id)
			if mode == ValidateAbort {
				return err
			}
			bad = true
			violated[i] = true
			tx.logger().LogAttrs(context.Background(), slog.LevelWarn, "flexilite: invalid data kept",
				slog.String("class", merged.Name),
				slog.String("prop", pd.Name),
				slog.Int64("object", id),
				slog.String("err", err.Error()))
		}
		if bad {
			res.InvalidObjects = append(res.InvalidObjects, id)
		}
	}

	for _, id := range res.InvalidObjects {
		rec, err := tx.loadObjectRecord(id)
		if err != nil {
			return err
		}
		rec.Flags |= ObjHasInvalidData
		tx.saveObjectRecord(id, rec)
	}
	for i, pd := range scan {
		if violated[i] {
			pd.NeedsValidation = true
		}
	}
	return nil
}

func checkStoredValues(pd *PropertyDef, occs []any, seen map[string]int64, id int64) *Error {
	if err := pd.checkOccurrences(len(occs)); err != nil {
		return err.(*Error)
	}
	for _, v := range occs {
		cv, err := pd.checkValue(v)
		if err != nil {
			return err.(*Error)
		}
		if seen != nil {
			k := string(appendOrdered(nil, cv))
			if other, dup := seen[k]; dup && other != id {
				return validationErrf("value %v is not unique (object %d)", cv, other).prop(pd.Name)
			}
			seen[k] = id
		}
	}
	return nil
}
