package flexilite

import (
	"encoding/json"
	"fmt"
	"testing"
)

// filter plans cons on the table and returns the ids the plan selects.
func filter(t testing.TB, tp TableProvider, cons []Constraint, args ...any) []int64 {
	t.Helper()
	plan := must(tp.PlanQuery(cons))
	cur := must(tp.Open())
	defer cur.Close()
	ensure(cur.Filter(plan.ID, plan.Str, args))
	var ids []int64
	for !cur.Eof() {
		ids = append(ids, cur.EntityID())
		ensure(cur.Next())
	}
	return ids
}

func TestClassTable(t *testing.T) {
	c := setupMemory(t)
	tp := must(c.CreateOrConnect("Person", []byte(personClass)))
	cd := must(c.Class("Person"))
	deepEqual(t, must(tp.Columns()), []string{"age", "email", "name"})

	age, email, name := col(t, cd, "age"), col(t, cd, "email"), col(t, cd, "name")
	row := func(a any, e, n string) []any {
		v := make([]any, 3)
		v[age], v[email], v[name] = a, e, n
		return v
	}
	alice := must(tp.Mutate(0, 0, row(30, "alice@example.com", "Alice")))
	bob := must(tp.Mutate(0, 0, row(41, "bob@example.com", "Bob")))
	carol := must(tp.Mutate(0, 0, row(nil, "carol@example.com", "Carol")))

	// connecting again ignores the definition
	tp2 := must(c.CreateOrConnect("person", []byte(`{"properties":{"other":{}}}`)))
	deepEqual(t, must(tp2.Columns()), []string{"age", "email", "name"})

	deepEqual(t, filter(t, tp, []Constraint{{email, OpEQ, true}}, "bob@example.com"), []int64{bob})
	deepEqual(t, filter(t, tp, []Constraint{{name, OpGE, true}}, "Bob"), []int64{bob, carol})
	deepEqual(t, filter(t, tp, []Constraint{{age, OpGT, true}}, 35), []int64{bob})
	deepEqual(t, filter(t, tp, []Constraint{{age, OpLE, true}, {name, OpEQ, true}}, 30, "Alice"), []int64{alice})
	deepEqual(t, filter(t, tp, []Constraint{{IDColumn, OpEQ, true}}, carol), []int64{carol})
	deepEqual(t, filter(t, tp, []Constraint{{IDColumn, OpGE, true}}, bob), []int64{bob, carol})
	deepEqual(t, filter(t, tp, nil), []int64{alice, bob, carol})
	isempty(t, filter(t, tp, []Constraint{{email, OpEQ, true}}, "nobody@example.com"))

	// update through the table; a nil value removes the property
	must(tp.Mutate(bob, bob, row(nil, "bob@example.org", "Bob")))
	m := must(c.Get(bob)).Map()
	deepEqual(t, m, map[string]any{"email": "bob@example.org", "name": "Bob"})
	isempty(t, filter(t, tp, []Constraint{{email, OpEQ, true}}, "bob@example.com"))

	_, err := tp.Mutate(0, 0, row(5, "alice@example.com", "Dup"))
	isKind(t, err, ErrValidation)
	_, err = tp.Mutate(0, 0, []any{1, 2, 3, 4})
	isKind(t, err, ErrConstraintRule)

	ensure(tp.Rename("Human"))
	deepEqual(t, must(c.Get(alice)).Class, "Human")
	deepEqual(t, must(tp.Columns()), []string{"age", "email", "name"})
}

func TestClassCursorColumns(t *testing.T) {
	c := setupMemory(t)
	tp := must(c.CreateOrConnect("Task", []byte(`{"properties":{
		"title":  {"rules": {"type": "text"}},
		"status": {"enumDef": {"items": [{"id": 1, "text": "open"}, {"id": 2, "text": "done"}]}, "defaultValue": 1},
		"tags":   {"rules": {"type": "symbol", "maxOccurences": 0}},
		"due":    {"rules": {"type": "date"}}
	}}`)))
	cd := must(c.Class("Task"))
	id := must(c.InsertInto("Task", map[string]any{"title": "Write docs", "status": "done", "tags": []any{"a", "b"}}))
	plain := must(c.InsertInto("Task", map[string]any{"title": "Rest"}))

	cur := must(tp.Open()).(*classCursor)
	deepEqual(t, cur.State(), CursorNotStarted)
	_, err := cur.Column(0)
	isKind(t, err, ErrConstraintRule)

	ensure(cur.Filter(0, "", nil))
	deepEqual(t, cur.State(), CursorPositioned)
	deepEqual(t, cur.EntityID(), id)
	deepEqual(t, must(cur.Column(col(t, cd, "status"))), any("done"))
	deepEqual(t, must(cur.Column(col(t, cd, "tags"))), any([]any{"a", "b"}))
	deepEqual(t, must(cur.Column(col(t, cd, "due"))), nil)
	deepEqual(t, must(cur.Column(IDColumn)), any(id))
	_, err = cur.Column(17)
	isKind(t, err, ErrConstraintRule)

	ensure(cur.Next())
	deepEqual(t, cur.EntityID(), plain)
	// missing values fall back to the default
	deepEqual(t, must(cur.Column(col(t, cd, "status"))), any("open"))
	deepEqual(t, must(cur.Column(col(t, cd, "title"))), any("Rest"))

	ensure(cur.Next())
	deepEqual(t, cur.Eof(), true)
	deepEqual(t, cur.State(), CursorExhausted)
	deepEqual(t, cur.EntityID(), int64(0))
	ensure(cur.Next())
	deepEqual(t, cur.Eof(), true)
}

func TestClassCursorReadsRowsOnce(t *testing.T) {
	c := setupMemory(t)
	props := make(map[string]any)
	for i := range 10 {
		props[fmt.Sprintf("p%02d", i)] = map[string]any{"rules": map[string]any{"type": "integer"}}
	}
	def := must(json.Marshal(map[string]any{"properties": props}))
	tp := must(c.CreateOrConnect("Sparse", def))
	cd := must(c.Class("Sparse"))
	must(c.InsertInto("Sparse", map[string]any{"p01": 1, "p04": 4, "p08": 8}))

	cur := must(tp.Open()).(*classCursor)
	ensure(cur.Filter(0, "", nil))
	p := func(name string) int { return col(t, cd, name) }

	deepEqual(t, must(cur.Column(p("p01"))), any(int64(1)))
	deepEqual(t, cur.RowsRead, 2)
	deepEqual(t, must(cur.Column(p("p03"))), nil)
	deepEqual(t, must(cur.Column(p("p04"))), any(int64(4)))
	deepEqual(t, must(cur.Column(p("p09"))), nil)
	deepEqual(t, must(cur.Column(p("p08"))), any(int64(8)))
	deepEqual(t, must(cur.Column(p("p01"))), any(int64(1)))
	deepEqual(t, must(cur.Column(p("p00"))), nil)
	deepEqual(t, cur.RowsRead, 3)
}

func TestClassTableIndexes(t *testing.T) {
	c := setupMemory(t)
	tp := must(c.CreateOrConnect("Place", []byte(placeClass)))
	cd := must(c.Class("Place"))
	title, lat, lon, kind := col(t, cd, "title"), col(t, cd, "lat"), col(t, cd, "lon"), col(t, cd, "kind")

	hall := must(c.InsertInto("Place", map[string]any{"title": "Old Town Hall", "lat": 10.0, "lon": 20.0, "kind": "civic"}))
	port := must(c.InsertInto("Place", map[string]any{"title": "Harbour", "lat": 50.0, "lon": 5.0, "kind": "civic"}))
	must(c.InsertInto("Place", map[string]any{"title": "Town Park", "lat": 30.0, "lon": 40.0, "kind": "green"}))

	deepEqual(t, filter(t, tp, []Constraint{{title, OpMatch, true}}, "hall TOWN"), []int64{hall})
	isempty(t, filter(t, tp, []Constraint{{title, OpMatch, true}}, "town square"))
	deepEqual(t, filter(t, tp, []Constraint{{lat, OpGE, true}, {lon, OpLT, true}}, 30, 10), []int64{port})
	deepEqual(t, filter(t, tp, []Constraint{{kind, OpEQ, true}, {lat, OpLT, true}}, "civic", 40), []int64{hall})

	// an object removed through the table leaves no rows behind
	before := must(c.ClassStats("Place"))
	must(tp.Mutate(hall, 0, nil))
	after := must(c.ClassStats("Place"))
	deepEqual(t, after.Objects, before.Objects-1)
	deepEqual(t, after.RangeRows, before.RangeRows-1)
	deepEqual(t, after.FullTextRows, before.FullTextRows-3)
	isempty(t, filter(t, tp, []Constraint{{IDColumn, OpEQ, true}}, hall))
	isempty(t, filter(t, tp, []Constraint{{title, OpMatch, true}}, "hall"))
}

func TestDeleteLeavesNoRows(t *testing.T) {
	c := setupMemory(t)
	tp := must(c.CreateOrConnect("Place", []byte(placeClass)))
	cd := must(c.Class("Place"))
	values := make([]any, len(cd.Columns()))
	values[col(t, cd, "title")] = "Museum of Art"
	values[col(t, cd, "code")] = "M1"
	values[col(t, cd, "lat")] = 1.5
	deepEqual(t, must(tp.Mutate(0, 5, values)), int64(5))

	must(tp.Mutate(5, 0, nil))
	stats := must(c.ClassStats("Place"))
	deepEqual(t, stats.TotalRows(), 0)
	ensure(c.Read(func(tx *Tx) error {
		deepEqual(t, tx.BucketSizes()[bucketValues], 0)
		deepEqual(t, tx.BucketSizes()[bucketRangeIndex], 0)
		return nil
	}))
	isempty(t, filter(t, tp, []Constraint{{IDColumn, OpEQ, true}}, 5))

	_, err := tp.Mutate(5, 0, nil)
	isKind(t, err, ErrNotFound)
}

func TestClassTableMove(t *testing.T) {
	c := setupMemory(t)
	tp := must(c.CreateOrConnect("Person", []byte(personClass)))
	cd := must(c.Class("Person"))
	email := col(t, cd, "email")
	id := must(c.InsertInto("Person", map[string]any{"name": "Alice", "email": "alice@example.com"}))

	values := make([]any, 3)
	values[email] = "alice@example.com"
	deepEqual(t, must(tp.Mutate(id, 100, values)), int64(100))
	_, err := c.Get(id)
	isKind(t, err, ErrNotFound)
	deepEqual(t, filter(t, tp, []Constraint{{email, OpEQ, true}}, "alice@example.com"), []int64{100})

	other := must(c.InsertInto("Person", map[string]any{"name": "Bob"}))
	if other <= 100 {
		t.Errorf("new id %d does not follow the moved object", other)
	}
	_, err = tp.Mutate(other, 100, values)
	isKind(t, err, ErrConstraintRule)
}

func TestAdHocTable(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Person", []byte(personClass)))
	must(c.CreateClass("Pet", []byte(`{"properties":{"nick":{}}}`)))
	tp := c.ConnectAdHoc()
	deepEqual(t, must(tp.Columns()), []string{"id", "class", "data"})

	alice := must(tp.Mutate(0, 0, []any{nil, "Person", `{"name":"Alice","age":30}`}))
	rex := must(tp.Mutate(0, 0, []any{nil, "Pet", map[string]any{"nick": "Rex"}}))

	plan := must(tp.PlanQuery([]Constraint{{adHocColClass, OpEQ, true}, {adHocColData, OpEQ, true}}))
	deepEqual(t, plan.Usage, []ConstraintUsage{{ArgIndex: 0, Omit: true}, {ArgIndex: -1}})
	deepEqual(t, filter(t, tp, []Constraint{{adHocColClass, OpEQ, true}}, "pet"), []int64{rex})
	deepEqual(t, filter(t, tp, []Constraint{{adHocColID, OpEQ, true}}, alice), []int64{alice})
	deepEqual(t, filter(t, tp, nil), []int64{alice, rex})
	isempty(t, filter(t, tp, []Constraint{{adHocColClass, OpEQ, true}}, "Nothing"))

	cur := must(tp.Open())
	ensure(cur.Filter(0, encodePlanStep(adHocColID, OpEQ), []any{alice}))
	deepEqual(t, must(cur.Column(adHocColClass)), any("Person"))
	deepEqual(t, must(cur.Column(adHocColData)), any(`{"age":30,"name":"Alice"}`))
	ensure(cur.Close())

	must(tp.Mutate(alice, alice, []any{alice, "Person", `{"age":31}`}))
	deepEqual(t, must(c.Get(alice)).Map()["age"], any(int64(31)))

	_, err := tp.Mutate(alice, alice, []any{alice, "Pet", `{}`})
	isKind(t, err, ErrConstraintRule)
	_, err = tp.Mutate(0, 0, []any{nil, "Person", `[1,2]`})
	isKind(t, err, ErrValidation)
	isKind(t, tp.Rename("Everything"), ErrConstraintRule)

	must(tp.Mutate(rex, 0, nil))
	deepEqual(t, filter(t, tp, nil), []int64{alice})
}

func TestFindMatcher(t *testing.T) {
	match := FindMatcher("MATCH")
	deepEqual(t, match("The quick brown fox", "fox quick"), true)
	deepEqual(t, match("The quick brown fox", "fox dog"), false)
	deepEqual(t, match(int64(42), "42"), true)

	re := FindMatcher("regexp")
	deepEqual(t, re("abc123", `^[a-z]+\d+$`), true)
	deepEqual(t, re("abc", `^\d`), false)
	deepEqual(t, re("abc", `(`), false)

	if FindMatcher("glob") != nil {
		t.Errorf("FindMatcher(glob) != nil")
	}
}
