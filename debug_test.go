package flexilite

import (
	"fmt"
	"strings"
	"testing"
)

func dump(t testing.TB, c *Conn, f DumpFlags) string {
	t.Helper()
	var s string
	ensure(c.Read(func(tx *Tx) error {
		s = tx.Dump(f)
		return nil
	}))
	return s
}

func contains(t testing.TB, s, sub string) {
	if !strings.Contains(s, sub) {
		t.Helper()
		t.Errorf("** %q not found in:\n%s", sub, s)
	}
}

func TestDump(t *testing.T) {
	c, ids := setupPeople(t, Options{})
	cd := must(c.Class("Person"))

	s := dump(t, c, DumpClassHeaders|DumpObjects)
	contains(t, s, fmt.Sprintf("Person #%d (2 objects)\n", cd.ID))
	contains(t, s, fmt.Sprintf(`Person.1 = #%d (f0) {"age":30,"email":"alice@example.com","name":"Alice"}`, ids[0]))
	contains(t, s, fmt.Sprintf("Person.2 = #%d (f0) ", ids[1]))
	if strings.Contains(s, ".stats:") || strings.Contains(s, "changes") {
		t.Errorf("unrequested sections in:\n%s", s)
	}

	s = dump(t, c, DumpStats|DumpSchema)
	contains(t, s, "Person.stats: values = 6, index_rows = 4, range_rows = 0, fulltext_rows = 0\n")
	contains(t, s, "Person.schema = "+string(StringifyClass(cd))+"\n")

	s = dump(t, c, DumpIndexRows)
	contains(t, s, fmt.Sprintf("Person.i.name (#%d)\n", cd.Prop("name").ID))
	contains(t, s, "Person.i.email.2: ")
	if strings.Contains(s, "Person.i.age") {
		t.Errorf("unindexed property dumped:\n%s", s)
	}

	s = dump(t, c, DumpChanges)
	contains(t, s, fmt.Sprintf("1: insert class=%d id=%d", cd.ID, ids[0]))
	contains(t, s, fmt.Sprintf("2: insert class=%d id=%d", cd.ID, ids[1]))
}

func TestDumpStaleIndex(t *testing.T) {
	c, _ := setupPeople(t, Options{})
	must(c.AlterClass("Person", []byte(`{"properties":{"age":{"rules":{"type":"integer"},"index":"indexed"}}}`), AlterOptions{}))
	cd := must(c.Class("Person"))

	s := dump(t, c, DumpClassHeaders|DumpIndexRows)
	contains(t, s, fmt.Sprintf(" MAINT=%d\n", cd.Maint))
	contains(t, s, fmt.Sprintf("Person.i.age (#%d) STALE\n", cd.Prop("age").ID))
}

func TestClassStats(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Place", []byte(placeClass)))
	must(c.InsertInto("Place", map[string]any{"title": "Old Town Hall", "code": "OTH", "kind": "hall", "lat": 50.1, "lon": 14.4}))
	must(c.InsertInto("Place", map[string]any{"title": "Bridge", "rank": 2}))

	s := must(c.ClassStats("Place"))
	deepEqual(t, s.Objects, 2)
	deepEqual(t, s.Values, 7)
	deepEqual(t, s.IndexRows, 2)
	deepEqual(t, s.RangeRows, 1)
	if s.FullTextRows == 0 {
		t.Errorf("FullTextRows = 0, wanted the title tokens")
	}
	deepEqual(t, s.TotalRows(), 2+7+2+1+s.FullTextRows)

	_, err := c.ClassStats("Nowhere")
	isKind(t, err, ErrNotFound)
}

func TestBucketSizes(t *testing.T) {
	c, _ := setupPeople(t, Options{})
	ensure(c.Read(func(tx *Tx) error {
		sizes := tx.BucketSizes()
		deepEqual(t, len(sizes), len(allBuckets))
		deepEqual(t, sizes[bucketClasses], 1)
		deepEqual(t, sizes[bucketObjects], 2)
		deepEqual(t, sizes[bucketValues], 6)
		deepEqual(t, sizes[bucketChanges], 2)
		return nil
	}))
}

func TestLoggableValue(t *testing.T) {
	deepEqual(t, loggableValue(nil), "<none>")
	deepEqual(t, loggableValue(map[string]any{"a": 1}), `{"a":1}`)
	deepEqual(t, loggableValue(func() {}), "<unencodable>")
}
