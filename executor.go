package flexilite

import (
	"bytes"
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// execute evaluates a compiled plan and returns the matching object ids in
// ascending order. Indexed steps each yield an id set and the sets are
// intersected; linear steps then filter the survivors.
func (tx *Tx) execute(cd *ClassDef, cp *compiledPlan, args []any) ([]int64, error) {
	if len(args) < len(cp.steps) {
		return nil, ruleErrf("plan %q needs %d arguments, got %d", cp.str, len(cp.steps), len(args)).class(cd.Name)
	}

	var ids []int64
	have := false
	narrow := func(set []int64) {
		if have {
			ids = intersectSorted(ids, set)
		} else {
			ids, have = set, true
		}
	}

	var rangeSteps, linearSteps []planStep
	for _, st := range cp.steps {
		switch {
		case st.strat == stratRangeSlot:
			rangeSteps = append(rangeSteps, st)
		case st.strat.linear():
			linearSteps = append(linearSteps, st)
		}
	}
	if len(rangeSteps) > 0 {
		set, err := tx.rangeSlotScan(cd, rangeSteps, args)
		if err != nil {
			return nil, err
		}
		narrow(set)
	}
	for _, st := range cp.steps {
		if st.strat == stratRangeSlot || st.strat.linear() {
			continue
		}
		if have && len(ids) == 0 {
			return nil, nil
		}
		narrow(tx.stepIDs(cd, st, args[st.arg]))
	}
	if !have {
		ids = tx.classObjectIDs(cd.ID)
	}
	if len(linearSteps) > 0 {
		ids = slices.DeleteFunc(ids, func(id int64) bool {
			for _, st := range linearSteps {
				if !tx.matchLinear(st, id, args[st.arg]) {
					return true
				}
			}
			return false
		})
	}
	return ids, nil
}

// stepIDs runs one indexed step.
func (tx *Tx) stepIDs(cd *ClassDef, st planStep, arg any) []int64 {
	switch st.strat {
	case stratIDEq:
		id, err := coerceInt(arg)
		if err != nil {
			return nil
		}
		if rec, err := tx.loadObjectRecord(id); err != nil || rec == nil || rec.ClassID != cd.ID {
			return nil
		}
		return []int64{id}

	case stratIDRange:
		bound, err := coerceFloat(arg)
		if err != nil {
			return nil
		}
		return slices.DeleteFunc(tx.classObjectIDs(cd.ID), func(id int64) bool {
			return !opHolds(st.op, cmp.Compare(float64(id), bound))
		})

	case stratUniqueEq, stratIndexEq:
		v, err := st.pd.Type.Coerce(normalize(arg))
		if err != nil {
			return nil
		}
		if st.pd.Type == TypeEnum && st.pd.EnumDef != nil {
			if id, ok := st.pd.EnumDef.lookup(v); ok {
				v = id
			}
		}
		return tx.indexedIDs(cd, RawPrefix(valueIndexEqPrefix(st.pd.ID, v)))

	case stratIndexRange:
		v, err := st.pd.Type.Coerce(normalize(arg))
		if err != nil {
			return nil
		}
		return tx.indexRangeIDs(cd, st.pd, st.op, v)

	case stratFullText:
		return tx.fullTextIDs(cd, st.pd.FullTextSlot, arg)
	}
	panic("unreachable")
}

// indexedIDs collects trailing object ids of index rows in rang, keeping
// only objects of cd.
func (tx *Tx) indexedIDs(cd *ClassDef, rang RawRange) []int64 {
	var out []int64
	classObjects := tx.bucket(bucketClassObjects)
	for c := tx.scanRange(bucketValueIndex, rang); c.Next(); {
		id := trailingID(c.Key())
		if classObjects.Get(idPairKey(cd.ID, id)) != nil {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (tx *Tx) indexRangeIDs(cd *ClassDef, pd *PropertyDef, op Op, v any) []int64 {
	prefix := valueIndexPrefix(pd.ID)
	ov := appendOrdered(nil, v)
	// values of another kind never compare
	rang := RawRange{Prefix: append(slices.Clone(prefix), ov[0])}
	switch op {
	case OpGT, OpGE:
		rang.Lower = append(slices.Clone(prefix), ov...)
	case OpLT:
		rang.Upper = append(slices.Clone(prefix), ov...)
	case OpLE:
		rang.Upper = successor(append(slices.Clone(prefix), ov...))
	}
	var out []int64
	classObjects := tx.bucket(bucketClassObjects)
	for c := tx.scanRange(bucketValueIndex, rang); c.Next(); {
		k := c.Key()
		if len(k) < 2*idLen {
			continue
		}
		kv := k[len(prefix) : len(k)-idLen]
		if !opHolds(op, bytes.Compare(kv, ov)) {
			continue
		}
		id := trailingID(k)
		if classObjects.Get(idPairKey(cd.ID, id)) != nil {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// rangeSlotScan evaluates every range-slot constraint in one pass over the
// class's range index rows.
func (tx *Tx) rangeSlotScan(cd *ClassDef, steps []planStep, args []any) ([]int64, error) {
	bounds := make([]float64, len(steps))
	for i, st := range steps {
		f, err := coerceFloat(normalize(args[st.arg]))
		if err != nil {
			return nil, nil
		}
		bounds[i] = f
	}
	var out []int64
	for c := tx.scanRange(bucketRangeIndex, RawPrefix(idKey(cd.ID))); c.Next(); {
		rr, err := decodeRangeRecord(c.Value())
		if err != nil {
			return nil, storageErrf(err, "range index row").class(cd.Name)
		}
		ok := true
		for i, st := range steps {
			f, isNum := numericValue(rr.Bounds[st.pd.RangeSlot])
			if !isNum || !opHolds(st.op, cmp.Compare(f, bounds[i])) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, trailingID(c.Key()))
		}
	}
	return out, nil
}

// fullTextIDs returns the objects containing every token of the query.
func (tx *Tx) fullTextIDs(cd *ClassDef, slot int, arg any) []int64 {
	q, err := coerceString(arg)
	if err != nil {
		return nil
	}
	tokens := tokenize(q)
	if len(tokens) == 0 {
		return nil
	}
	var ids []int64
	for i, tok := range tokens {
		var set []int64
		for c := tx.scanRange(bucketFullText, RawPrefix(fullTextTokenPrefix(cd.ID, slot, tok))); c.Next(); {
			set = append(set, trailingID(c.Key()))
		}
		if i == 0 {
			ids = set
		} else {
			ids = intersectSorted(ids, set)
		}
		if len(ids) == 0 {
			return nil
		}
	}
	return ids
}

// matchLinear checks one object against a step no index serves.
func (tx *Tx) matchLinear(st planStep, id int64, arg any) bool {
	pd := st.pd
	var occs []any
	if pd.FixedColumn >= 0 {
		rec, err := tx.loadObjectRecord(id)
		if err != nil || rec == nil {
			return false
		}
		if v := rec.fixed(pd.FixedColumn); v != nil {
			occs = []any{v}
		}
	} else {
		occs = tx.propValues(id, pd.ID)
	}
	if st.op == OpMatch {
		q, err := coerceString(arg)
		if err != nil {
			return false
		}
		return matchTokens(tokenize(q), occs)
	}
	want, err := pd.Type.Coerce(normalize(arg))
	if err != nil {
		return false
	}
	if pd.Type == TypeEnum && pd.EnumDef != nil {
		if id, ok := pd.EnumDef.lookup(want); ok {
			want = id
		}
	}
	for _, v := range occs {
		if c, ok := compareValues(indexValue(pd, v), want); ok && opHolds(st.op, c) {
			return true
		}
	}
	return false
}

func matchTokens(query []string, occs []any) bool {
	if len(query) == 0 {
		return false
	}
	have := occurrenceTokens(occs)
	for _, tok := range query {
		if _, found := slices.BinarySearch(have, tok); !found {
			return false
		}
	}
	return true
}

func opHolds(op Op, c int) bool {
	switch op {
	case OpEQ:
		return c == 0
	case OpGT:
		return c > 0
	case OpGE:
		return c >= 0
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	}
	return false
}

// intersectSorted intersects two ascending id lists.
func intersectSorted(a, b []int64) []int64 {
	var out []int64
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			if len(out) == 0 || out[len(out)-1] != a[i] {
				out = append(out, a[i])
			}
			i++
			j++
		}
	}
	return out
}

// MatchFunc reports whether a column value matches the pattern argument.
type MatchFunc func(value, pattern any) bool

// FindMatcher returns the implementation of a host match function: "match"
// requires every token of the pattern, "regexp" matches a regular
// expression. Returns nil for unknown names.
func FindMatcher(name string) MatchFunc {
	switch strings.ToLower(name) {
	case "match":
		return func(value, pattern any) bool {
			q, err := coerceString(pattern)
			if err != nil {
				return false
			}
			return matchTokens(tokenize(q), []any{normalize(value)})
		}
	case "regexp":
		cache := make(map[string]*regexp.Regexp)
		return func(value, pattern any) bool {
			p, err := coerceString(pattern)
			if err != nil {
				return false
			}
			re := cache[p]
			if re == nil {
				if re, err = regexp.Compile(p); err != nil {
					return false
				}
				cache[p] = re
			}
			s, err := coerceString(normalize(value))
			return err == nil && re.MatchString(s)
		}
	}
	return nil
}
