package flexilite

import (
	"testing"
)

const placeClass = `{
	"properties": {
		"title": {"rules": {"type": "text"}, "index": "fts"},
		"code":  {"rules": {"type": "text"}, "index": "unique"},
		"kind":  {"rules": {"type": "symbol"}, "index": "indexed"},
		"lat":   {"rules": {"type": "number"}},
		"lon":   {"rules": {"type": "number"}},
		"rank":  {"rules": {"type": "integer"}}
	},
	"rangeIndexing": {"A0": "lat", "B0": "lon"}
}`

func col(t testing.TB, cd *ClassDef, name string) int {
	t.Helper()
	pd := cd.Prop(name)
	if pd == nil {
		t.Fatalf("no property %s", name)
	}
	return cd.ColumnIndex(pd.ID)
}

func TestPlanQueryCosts(t *testing.T) {
	c := setupMemory(t)
	cd := must(c.CreateClass("Place", []byte(placeClass)))

	tests := []struct {
		name  string
		cons  []Constraint
		cost  float64
		strat strategy
	}{
		{"unique eq", []Constraint{{col(t, cd, "code"), OpEQ, true}}, costUniqueEq, stratUniqueEq},
		{"index eq", []Constraint{{col(t, cd, "kind"), OpEQ, true}}, costIndexEq, stratIndexEq},
		{"index range", []Constraint{{col(t, cd, "kind"), OpGT, true}}, costIndexRange, stratIndexRange},
		{"range slot eq", []Constraint{{col(t, cd, "lat"), OpEQ, true}}, costRangeSlotEq, stratRangeSlot},
		{"range slot pair", []Constraint{{col(t, cd, "lat"), OpGE, true}, {col(t, cd, "lon"), OpLT, true}}, costRangeSlot / 2, stratRangeSlot},
		{"range slot eq pair", []Constraint{{col(t, cd, "lat"), OpEQ, true}, {col(t, cd, "lon"), OpEQ, true}}, costRangeSlotEq / 2, stratRangeSlot},
		{"range slot mixed pair", []Constraint{{col(t, cd, "lat"), OpEQ, true}, {col(t, cd, "lon"), OpGT, true}}, costRangeSlot / 2, stratRangeSlot},
		{"range slot and index", []Constraint{{col(t, cd, "lat"), OpGE, true}, {col(t, cd, "kind"), OpEQ, true}}, costRangeSlot * costIndexEq, stratRangeSlot},
		{"fulltext", []Constraint{{col(t, cd, "title"), OpMatch, true}}, costFullText, stratFullText},
		{"linear eq", []Constraint{{col(t, cd, "rank"), OpEQ, true}}, costLinearEq, stratLinearEq},
		{"linear range", []Constraint{{col(t, cd, "rank"), OpLE, true}}, costLinearRange, stratLinearRange},
		{"linear match", []Constraint{{col(t, cd, "rank"), OpMatch, true}}, costLinearMatch, stratLinearMatch},
		{"id range", []Constraint{{IDColumn, OpGT, true}}, costIndexRange, stratIDRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanQuery(cd, tt.cons)
			if plan.Cost != tt.cost {
				t.Errorf("Cost = %v, wanted %v", plan.Cost, tt.cost)
			}
			if plan.ID&(1<<tt.strat) == 0 {
				t.Errorf("ID = %b, wanted the %v bit", plan.ID, tt.strat)
			}
			for i, u := range plan.Usage {
				deepEqual(t, u, ConstraintUsage{ArgIndex: i, Omit: true})
			}
			// same input, same plan
			deepEqual(t, PlanQuery(cd, tt.cons), plan)
		})
	}

	// joining the range group makes the plan cheaper
	single := PlanQuery(cd, []Constraint{{col(t, cd, "lat"), OpGE, true}})
	pair := PlanQuery(cd, []Constraint{{col(t, cd, "lat"), OpGE, true}, {col(t, cd, "lon"), OpLT, true}})
	if pair.Cost >= single.Cost {
		t.Errorf("range group pair cost %v, single cost %v", pair.Cost, single.Cost)
	}

	// a unique lookup is cheaper than an index lookup
	unique := PlanQuery(cd, []Constraint{{col(t, cd, "code"), OpEQ, true}})
	index := PlanQuery(cd, []Constraint{{col(t, cd, "kind"), OpEQ, true}})
	if unique.Cost >= index.Cost {
		t.Errorf("unique cost %v, index cost %v", unique.Cost, index.Cost)
	}
}

func TestPlanQueryIDLookup(t *testing.T) {
	c := setupMemory(t)
	cd := must(c.CreateClass("Place", []byte(placeClass)))

	plan := PlanQuery(cd, []Constraint{
		{col(t, cd, "kind"), OpEQ, true},
		{IDColumn, OpEQ, true},
	})
	deepEqual(t, plan.Usage, []ConstraintUsage{{ArgIndex: -1}, {ArgIndex: 0, Omit: true}})
	deepEqual(t, plan.ID, int64(1<<stratIDEq))
	deepEqual(t, plan.Str, "020000")
	deepEqual(t, plan.Cost, float64(costIDEq))
}

func TestPlanQueryFullScan(t *testing.T) {
	c := setupMemory(t)
	cd := must(c.CreateClass("Place", []byte(placeClass)))

	plan := PlanQuery(cd, nil)
	deepEqual(t, plan.ID, int64(1<<stratFullScan))
	deepEqual(t, plan.Cost, float64(costFullScan))
	deepEqual(t, plan.Str, "")

	plan = PlanQuery(cd, []Constraint{
		{col(t, cd, "code"), OpEQ, false},
		{col(t, cd, "code"), Op(0x01), true},
		{99, OpEQ, true},
	})
	deepEqual(t, plan.Cost, float64(costFullScan))
	for i, u := range plan.Usage {
		if u.ArgIndex != -1 || u.Omit {
			t.Errorf("Usage[%d] = %+v, wanted an unused constraint", i, u)
		}
	}

	// unusable constraints don't shift the argument positions
	plan = PlanQuery(cd, []Constraint{
		{col(t, cd, "rank"), OpEQ, false},
		{col(t, cd, "kind"), OpEQ, true},
		{col(t, cd, "code"), OpEQ, true},
	})
	deepEqual(t, plan.Usage, []ConstraintUsage{{ArgIndex: -1}, {ArgIndex: 0, Omit: true}, {ArgIndex: 1, Omit: true}})
	deepEqual(t, plan.Cost, float64(costIndexEq*costUniqueEq))
	deepEqual(t, plan.Str, encodePlanStep(col(t, cd, "kind"), OpEQ)+encodePlanStep(col(t, cd, "code"), OpEQ))
}

func TestPlanAvoidsStaleIndexes(t *testing.T) {
	c := setupMemory(t)
	must(c.CreateClass("Place", []byte(placeClass)))
	must(c.InsertInto("Place", map[string]any{"rank": 3}))

	res := must(c.AlterClass("Place", []byte(`{"properties":{"rank":{"rules":{"type":"integer"},"index":"indexed"}}}`), AlterOptions{}))
	cd := res.Class
	deepEqual(t, cd.Maint.Has(MaintValueIndex), true)
	rank := []Constraint{{col(t, cd, "rank"), OpEQ, true}}
	deepEqual(t, PlanQuery(cd, rank).Cost, float64(costLinearEq))

	ensure(c.RebuildIndexes("Place"))
	cd = must(c.Class("Place"))
	deepEqual(t, cd.Maint, MaintFlags(0))
	deepEqual(t, PlanQuery(cd, rank).Cost, float64(costIndexEq))
	deepEqual(t, must(c.ClassStats("Place")).IndexRows, 1)
}

func TestEncodePlanStep(t *testing.T) {
	deepEqual(t, encodePlanStep(IDColumn, OpEQ), "020000")
	deepEqual(t, encodePlanStep(2, OpGE), "200003")
	deepEqual(t, encodePlanStep(300, OpMatch), "40012D")
}

func TestCompilePlan(t *testing.T) {
	c := setupMemory(t)
	cd := must(c.CreateClass("Place", []byte(placeClass)))
	kind := col(t, cd, "kind")

	cp, err := compilePlan(cd, encodePlanStep(kind, OpEQ)+encodePlanStep(IDColumn, OpLT))
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, len(cp.steps), 2)
	deepEqual(t, cp.steps[0].strat, stratIndexEq)
	deepEqual(t, cp.steps[0].pd, cd.Prop("kind"))
	deepEqual(t, cp.steps[1].strat, stratIDRange)
	deepEqual(t, cp.steps[1].arg, 1)
	isnil(t, cp.steps[1].pd)

	for _, bad := range []string{"02000", "ZZ0001", "010001", "0200FF"} {
		_, err := compilePlan(cd, bad)
		isKind(t, err, ErrConstraintRule)
	}
}

func TestPlanCache(t *testing.T) {
	c := setupMemory(t)
	cd := must(c.CreateClass("Place", []byte(placeClass)))
	str := encodePlanStep(col(t, cd, "kind"), OpEQ)

	ensure(c.Read(func(tx *Tx) error {
		cd, err := tx.ClassByName("Place")
		if err != nil {
			return err
		}
		a := must(tx.plan(cd, str))
		b := must(tx.plan(cd, str))
		if a != b {
			t.Errorf("second lookup compiled the plan again")
		}
		return nil
	}))
	deepEqual(t, c.plans.hits, 1)
	deepEqual(t, c.plans.Len(), 1)

	// a schema change invalidates cached plans
	must(c.AlterClass("Place", []byte(`{"properties":{"extra":{}}}`), AlterOptions{}))
	ensure(c.Read(func(tx *Tx) error {
		deepEqual(t, c.plans.Len(), 0)
		return nil
	}))

	pc := newPlanCache(2)
	for i := range 3 {
		pc.put(&compiledPlan{classID: int64(i + 1), str: str})
	}
	deepEqual(t, pc.Len(), 1)
	isnil(t, pc.get(1, str))
	if pc.get(3, str) == nil {
		t.Errorf("latest plan was evicted")
	}
}
