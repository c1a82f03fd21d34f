package flexilite

import (
	"testing"
)

const nameClass = `{"properties":{
	"first":   {"rules": {"type": "text"}},
	"last":    {"rules": {"type": "text"}},
	"full":    {"rules": {"type": "text"}},
	"aliases": {"rules": {"type": "text", "maxOccurences": 5}}
}}`

func TestPropertyCommands(t *testing.T) {
	c, ids := setupPeople(t, Options{})

	res := must(c.CreateProperty("Person", "nick", []byte(`{"rules":{"type":"text"}}`), AlterOptions{}))
	deepEqual(t, res.Added, 1)
	_, err := c.CreateProperty("Person", "nick", nil, AlterOptions{})
	isKind(t, err, ErrNameConflict)
	_, err = c.CreateProperty("Person", "bad", []byte(`{`), AlterOptions{})
	isKind(t, err, ErrSchemaSyntax)
	_, err = c.CreateProperty("Animal", "legs", nil, AlterOptions{})
	isKind(t, err, ErrNotFound)

	_, err = c.AlterProperty("Person", "ghost", []byte(`{"rules":{"type":"text"}}`), AlterOptions{})
	isKind(t, err, ErrNotFound)
	res = must(c.AlterProperty("Person", "age", []byte(`{"rules":{"type":"text"}}`), AlterOptions{}))
	deepEqual(t, res.Modified, 1)
	deepEqual(t, must(c.Get(ids[0])).Map()["age"], any("30"))

	ensure(c.RenameProperty("Person", "nick", "alias"))
	cd := must(c.Class("Person"))
	isnil(t, cd.Prop("nick"))
	if cd.Prop("alias") == nil {
		t.Errorf("renamed property is missing")
	}
	isKind(t, c.RenameProperty("Person", "alias", "name"), ErrNameConflict)

	ensure(c.DropProperty("Person", "email"))
	isnil(t, must(c.Class("Person")).Prop("email"))
	deepEqual(t, must(c.Get(ids[1])).Map(), map[string]any{"name": "Bob", "age": "41"})
	isKind(t, c.DropProperty("Person", "email"), ErrNotFound)
}

func TestMergeProperties(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Person", []byte(nameClass)))
	ada := must(c.InsertInto("Person", map[string]any{"first": "Ada", "last": "Lovelace"}))
	alan := must(c.InsertInto("Person", map[string]any{"first": "Alan"}))
	none := must(c.InsertInto("Person", map[string]any{"full": "Nobody"}))

	ensure(c.MergeProperties("Person", []string{"first", "last"}, "aliases", MergeOptions{KeepSources: true}))
	deepEqual(t, must(c.Get(ada)).Values["aliases"].Atoms, []any{"Ada", "Lovelace"})

	ensure(c.MergeProperties("Person", []string{"first", "last"}, "full", MergeOptions{}))
	deepEqual(t, must(c.Get(ada)).Map()["full"], any("Ada Lovelace"))
	deepEqual(t, must(c.Get(alan)).Map()["full"], any("Alan"))
	// objects without source values are left alone
	deepEqual(t, must(c.Get(none)).Map()["full"], any("Nobody"))

	cd := must(c.Class("Person"))
	isnil(t, cd.Prop("first"))
	isnil(t, cd.Prop("last"))

	isKind(t, c.MergeProperties("Person", nil, "full", MergeOptions{}), ErrConstraintRule)
	isKind(t, c.MergeProperties("Person", []string{"full"}, "full", MergeOptions{}), ErrConstraintRule)
	isKind(t, c.MergeProperties("Person", []string{"first"}, "full", MergeOptions{}), ErrNotFound)
}

func TestMergeSeparator(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Person", []byte(nameClass)))
	id := must(c.InsertInto("Person", map[string]any{"first": "Ada", "last": "Lovelace"}))

	ensure(c.MergeProperties("Person", []string{"last", "first"}, "full", MergeOptions{Separator: ", "}))
	deepEqual(t, must(c.Get(id)).Map()["full"], any("Lovelace, Ada"))
}

func TestSplitProperty(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Person", []byte(nameClass)))
	ada := must(c.InsertInto("Person", map[string]any{"full": "Ada Lovelace"}))
	cher := must(c.InsertInto("Person", map[string]any{"full": "Cher"}))

	ensure(c.SplitProperty("Person", "full", `^(\w+) (?P<last>\w+)$`, []string{"first"}, true))
	deepEqual(t, must(c.Get(ada)).Map(), map[string]any{"full": "Ada Lovelace", "first": "Ada", "last": "Lovelace"})
	// no match, no change
	deepEqual(t, must(c.Get(cher)).Map(), map[string]any{"full": "Cher"})

	ensure(c.SplitProperty("Person", "full", `^(\w+)`, []string{"first"}, false))
	isnil(t, must(c.Class("Person")).Prop("full"))
	deepEqual(t, must(c.Get(cher)).Map(), map[string]any{"first": "Cher"})

	isKind(t, c.SplitProperty("Person", "first", `(`, nil, true), ErrConstraintRule)
	isKind(t, c.SplitProperty("Person", "first", `(?P<middle>\w+)`, nil, true), ErrNotFound)
}

func TestPropertiesToObject(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Person", []byte(`{"properties":{
		"name":   {"rules": {"type": "text"}},
		"street": {"rules": {"type": "text"}},
		"city":   {"rules": {"type": "text", "maxLength": 30}}
	}}`)))
	ada := must(c.InsertInto("Person", map[string]any{"name": "Ada", "street": "St James's Square", "city": "London"}))
	bob := must(c.InsertInto("Person", map[string]any{"name": "Bob"}))

	ensure(c.PropertiesToObject("Person", []string{"street", "city"}, "address", "Address"))

	addr := must(c.Class("Address"))
	deepEqual(t, addr.Prop("city").MaxLength, 30)
	cd := must(c.Class("Person"))
	isnil(t, cd.Prop("street"))
	deepEqual(t, cd.Prop("address").Type, TypeReference)
	deepEqual(t, cd.Prop("address").RefDef.ClassRef.ID, addr.ID)

	m := must(c.Get(ada)).Map()
	target, ok := m["address"].(int64)
	if !ok {
		t.Fatalf("address = %v, wanted an object id", m["address"])
	}
	deepEqual(t, must(c.Get(target)).Map(), map[string]any{"street": "St James's Square", "city": "London"})
	deepEqual(t, must(c.Get(bob)).Map(), map[string]any{"name": "Bob"})

	// and back again
	ensure(c.ObjectToProperties("Person", "address", false))
	cd = must(c.Class("Person"))
	isnil(t, cd.Prop("address"))
	deepEqual(t, cd.Prop("city").MaxLength, 30)
	deepEqual(t, must(c.Get(ada)).Map(), map[string]any{"name": "Ada", "street": "St James's Square", "city": "London"})
	_, err := c.Get(target)
	isKind(t, err, ErrNotFound)

	isKind(t, c.PropertiesToObject("Person", nil, "address", "Address"), ErrConstraintRule)
	isKind(t, c.PropertiesToObject("Person", []string{"zip"}, "address", "Address"), ErrNotFound)
	isKind(t, c.PropertiesToObject("Person", []string{"city"}, "name", "Address"), ErrConstraintRule)
	isKind(t, c.ObjectToProperties("Person", "name", false), ErrConstraintRule)
}

func TestObjectToPropertiesKeepObjects(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Address", []byte(`{"properties":{"city":{"rules":{"type":"text"}}}}`)))
	must(c.CreateClass("Person", []byte(`{"properties":{"home":{"refDef":{"classRef":"Address"}}}}`)))
	addr := must(c.InsertInto("Address", map[string]any{"city": "Paris"}))
	p := must(c.InsertInto("Person", map[string]any{"home": addr}))

	ensure(c.ObjectToProperties("Person", "home", true))
	deepEqual(t, must(c.Get(p)).Map(), map[string]any{"city": "Paris"})
	deepEqual(t, must(c.Get(addr)).Map(), map[string]any{"city": "Paris"})
}

func TestChangeObjectClass(t *testing.T) {
	c, ids := setupPeople(t, Options{})
	must(c.CreateClass("Employee", []byte(`{"properties":{
		"name":  {"rules": {"type": "text"}},
		"email": {"rules": {"type": "text"}},
		"age":   {"rules": {"type": "integer", "minValue": 35}}
	}}`)))
	must(c.CreateClass("Pet", []byte(`{"properties":{"owner":{"refDef":{"classRef":"Person"}}}}`)))
	pet := must(c.InsertInto("Pet", map[string]any{"owner": ids[1]}))

	// Alice is too young for the new class
	isKind(t, c.ChangeObjectClass(ids[0], "Employee"), ErrValidation)
	deepEqual(t, must(c.Get(ids[0])).Class, "Person")

	ensure(c.ChangeObjectClass(ids[1], "Employee"))
	od := must(c.Get(ids[1]))
	deepEqual(t, od.Class, "Employee")
	deepEqual(t, od.Map(), map[string]any{"name": "Bob", "email": "bob@example.com", "age": int64(41)})
	deepEqual(t, must(c.Get(pet)).Map()["owner"], any(ids[1]))
	deepEqual(t, must(c.ClassStats("Person")).Objects, 1)

	// staying put is a no-op
	ensure(c.ChangeObjectClass(ids[1], "Employee"))
	isKind(t, c.ChangeObjectClass(999, "Employee"), ErrNotFound)
	isKind(t, c.ChangeObjectClass(ids[1], "Robot"), ErrNotFound)

	must(c.CreateClass("Tag", []byte(`{"properties":{"label":{}}}`)))
	isKind(t, c.ChangeObjectClass(ids[1], "Tag"), ErrValidation)
}

func TestResolveMixins(t *testing.T) {
	c := setupMemory(t)
	for _, name := range []string{"Tagged", "Generic", "Circle"} {
		must(c.CreateClass(name, []byte(`{}`)))
	}
	must(c.CreateClass("Shape", []byte(`{
		"properties": {"kind": {"rules": {"type": "text"}}},
		"mixins": [
			{"classRef": "Tagged"},
			{"classRef": "Generic", "dynamic": {"selectorProp": "kind", "rules": [{"regex": "^circ", "classRef": "Circle"}]}}
		]
	}`)))

	circle := must(c.InsertInto("Shape", map[string]any{"kind": "circle"}))
	square := must(c.InsertInto("Shape", map[string]any{"kind": "square"}))
	blank := must(c.InsertInto("Shape", map[string]any{}))

	names := func(ms []MixinClass) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.Class)
		}
		return out
	}
	deepEqual(t, names(must(c.ResolveMixins(circle))), []string{"Tagged", "Circle"})
	deepEqual(t, names(must(c.ResolveMixins(square))), []string{"Tagged", "Generic"})
	ms := must(c.ResolveMixins(blank))
	deepEqual(t, names(ms), []string{"Tagged", "Generic"})
	if ms[1].Selector != nil {
		t.Errorf("Selector = %v, wanted nil", ms[1].Selector)
	}

	_, err := c.ResolveMixins(999)
	isKind(t, err, ErrNotFound)

	_, err = c.CreateClass("Bad", []byte(`{"mixins":[{"classRef":"Missing"}]}`))
	isKind(t, err, ErrNotFound)
}

func TestRunCommand(t *testing.T) {
	c := setupMemory(t)
	opts := CommandOptions{}

	ensure(c.RunCommand("Create_Class", []string{"Person"}, []byte(nameClass), opts))
	id := must(c.InsertInto("Person", map[string]any{"first": "Ada", "last": "Lovelace"}))

	ensure(c.RunCommand("merge-property", []string{"Person", "full", "first", "last"}, []byte(`{"separator":"_","keepSources":true}`), opts))
	deepEqual(t, must(c.Get(id)).Map()["full"], any("Ada_Lovelace"))

	ensure(c.RunCommand("rename property", []string{"Person", "full", "display"}, nil, opts))
	ensure(c.RunCommand("drop property", []string{"Person", "aliases"}, nil, opts))
	ensure(c.RunCommand("rename class", []string{"Person", "Human"}, nil, opts))
	cd := must(c.Class("Human"))
	if cd.Prop("display") == nil || cd.Prop("aliases") != nil {
		t.Errorf("properties = %v", cd.Columns())
	}

	isKind(t, c.RunCommand("launch rocket", nil, nil, opts), ErrNotFound)
	isKind(t, c.RunCommand("rename class", []string{"Human"}, nil, opts), ErrConstraintRule)
	isKind(t, c.RunCommand("split property", []string{"Human", "display"}, nil, opts), ErrConstraintRule)
	isKind(t, c.RunCommand("merge property", []string{"Human", "display", "first"}, []byte(`[`), opts), ErrConstraintRule)
	isKind(t, c.RunCommand("change object class", []string{"abc", "Human"}, nil, opts), ErrConstraintRule)

	ensure(c.RunCommand("drop class", []string{"Human"}, nil, opts))
	isempty(t, must(c.ClassNames()))
}

func TestCommandNames(t *testing.T) {
	names := CommandNames()
	deepEqual(t, len(names), len(commands))
	deepEqual(t, names[0], "alter class")
	for _, name := range names {
		if _, ok := CommandUsage(name); !ok {
			t.Errorf("no usage for %q", name)
		}
	}
	usage, ok := CommandUsage("RENAME-CLASS")
	deepEqual(t, ok, true)
	deepEqual(t, usage, "<class> <newName>")
	_, ok = CommandUsage("fly")
	deepEqual(t, ok, false)
}
