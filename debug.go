package flexilite

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpClassHeaders = DumpFlags(1 << iota)
	DumpObjects
	DumpStats
	DumpSchema
	DumpIndexRows
	DumpChanges

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of the database for debugging and tests.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, id := range tx.classIDs() {
		cd, err := tx.ClassByID(id)
		if err != nil {
			fmt.Fprintf(&buf, "class %d ** ERROR: %v\n", id, err)
			continue
		}
		tx.dumpClass(&buf, f, cd)
	}
	if f.Contains(DumpChanges) {
		tx.dumpChanges(&buf)
	}
	return buf.String()
}

func (tx *Tx) dumpClass(w *strings.Builder, f DumpFlags, cd *ClassDef) {
	s := tx.ClassStats(cd)
	if f.Contains(DumpClassHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s #%d (%d objects)", cd.Name, cd.ID, s.Objects)
		if cd.Maint != 0 {
			fmt.Fprintf(w, " MAINT=%d", cd.Maint)
		}
		fmt.Fprintln(w)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: values = %d, index_rows = %d, range_rows = %d, fulltext_rows = %d\n", cd.Name, s.Values, s.IndexRows, s.RangeRows, s.FullTextRows)
	}
	if f.Contains(DumpSchema) {
		fmt.Fprintf(w, "%s.schema = %s\n", cd.Name, StringifyClass(cd))
	}
	if f.Contains(DumpObjects) {
		if f.Contains(DumpStats) || f.Contains(DumpSchema) {
			fmt.Fprintln(w, dumpSep2)
		}
		for pos, id := range tx.classObjectIDs(cd.ID) {
			tx.dumpObject(w, cd, pos+1, id)
		}
	}
	if f.Contains(DumpIndexRows) {
		for _, pd := range cd.Columns() {
			if !pd.IsIndexed() {
				continue
			}
			fmt.Fprintln(w, dumpSep2)
			prefix := cd.Name + ".i." + pd.Name
			fmt.Fprintf(w, "%s (#%d)%s\n", prefix, pd.ID, map[bool]string{false: "", true: " STALE"}[cd.indexStale(pd)])
			var rowPos int
			for c := tx.scanRange(bucketValueIndex, RawPrefix(valueIndexPrefix(pd.ID))); c.Next(); {
				rowPos++
				k := c.Key()
				fmt.Fprintf(w, "%s.%d: %s => %d\n", prefix, rowPos, hexstr(k[idLen:len(k)-idLen]), trailingID(k))
			}
		}
	}
}

func (tx *Tx) dumpObject(w *strings.Builder, cd *ClassDef, pos int, id int64) {
	obj, err := tx.loadObject(id)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = #%d ** ERROR: %v\n", cd.Name, pos, id, err)
		return
	}
	if obj == nil {
		fmt.Fprintf(w, "%s.%d = #%d ** MISSING\n", cd.Name, pos, id)
		return
	}
	fmt.Fprintf(w, "%s.%d = #%d (f%d) %s\n", cd.Name, pos, id, obj.Flags, loggableValue(obj.present(cd).Map()))
}

func (tx *Tx) dumpChanges(w *strings.Builder) {
	fmt.Fprintln(w, dumpSep1)
	fmt.Fprintln(w, "changes")
	for c := tx.scanRange(bucketChanges, RawRange{}); c.Next(); {
		var chg Change
		if err := msgpackDecode(c.Value(), &chg); err != nil {
			fmt.Fprintf(w, "%x ** ERROR: %v\n", c.Key(), err)
			continue
		}
		fmt.Fprintf(w, "%d: %s class=%d id=%d props=%v\n", trailingID(c.Key()), chg.Op, chg.ClassID, chg.ObjectID, chg.Props)
	}
}
