package flexilite

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a constraint operator. Values match the host's operator codes and
// appear verbatim in plan strings.
type Op uint8

const (
	OpEQ    Op = 0x02
	OpGT    Op = 0x04
	OpLE    Op = 0x08
	OpLT    Op = 0x10
	OpGE    Op = 0x20
	OpMatch Op = 0x40
)

func (op Op) String() string {
	switch op {
	case OpEQ:
		return "="
	case OpGT:
		return ">"
	case OpLE:
		return "<="
	case OpLT:
		return "<"
	case OpGE:
		return ">="
	case OpMatch:
		return "match"
	default:
		return fmt.Sprintf("op(%#x)", uint8(op))
	}
}

func (op Op) isRange() bool {
	return op == OpGT || op == OpGE || op == OpLT || op == OpLE
}

func (op Op) valid() bool {
	return op == OpEQ || op == OpMatch || op.isRange()
}

// IDColumn is the column index of the implicit entity id.
const IDColumn = -1

// Constraint is one WHERE term offered by the host.
type Constraint struct {
	Column int
	Op     Op
	Usable bool
}

// ConstraintUsage tells the host where the argument of a constraint goes.
// ArgIndex is -1 for constraints the plan does not consume; the host must
// check those itself. Omit means the plan fully enforces the constraint.
type ConstraintUsage struct {
	ArgIndex int
	Omit     bool
}

type QueryPlan struct {
	ID    int64
	Str   string
	Cost  float64
	Usage []ConstraintUsage
}

type strategy uint8

const (
	stratFullScan strategy = iota
	stratIDEq
	stratIDRange
	stratUniqueEq
	stratIndexEq
	stratRangeSlot
	stratIndexRange
	stratFullText
	stratLinearEq
	stratLinearRange
	stratLinearMatch
)

var strategyNames = [...]string{"fullscan", "id=", "id-range", "unique=", "index=", "range-slot", "index-range", "fulltext", "linear=", "linear-range", "linear-match"}

func (s strategy) String() string { return strategyNames[s] }

// indexed strategies produce id sets on their own; linear ones only filter
func (s strategy) linear() bool {
	return s == stratLinearEq || s == stratLinearRange || s == stratLinearMatch
}

const (
	costIDEq        = 1
	costUniqueEq    = 10
	costIndexEq     = 15
	costRangeSlotEq = 30
	costIndexRange  = 100
	costRangeSlot   = 100
	costFullText    = 300
	costLinearEq    = 1000
	costLinearRange = 3000
	costLinearMatch = 10000
	costFullScan    = 1e7
)

// chooseStrategy picks the access method for one constraint given the
// current index state. rangeGroup is the number of constraints served by
// the range index together.
func chooseStrategy(cd *ClassDef, col int, op Op, rangeGroup int) (strategy, float64, bool) {
	if !op.valid() {
		return 0, 0, false
	}
	if col == IDColumn {
		switch {
		case op == OpEQ:
			return stratIDEq, costIDEq, true
		case op.isRange():
			return stratIDRange, costIndexRange, true
		}
		return 0, 0, false
	}
	cols := cd.Columns()
	if col < 0 || col >= len(cols) {
		return 0, 0, false
	}
	pd := cols[col]
	indexed := pd.IsIndexed() && !cd.indexStale(pd)
	ranged := pd.RangeSlot >= 0 && !cd.Maint.Has(MaintRangeIndex)
	if rangeGroup < 1 {
		rangeGroup = 1
	}
	switch {
	case op == OpMatch:
		if pd.FullTextSlot >= 0 && !cd.Maint.Has(MaintFullText) {
			return stratFullText, costFullText, true
		}
		return stratLinearMatch, costLinearMatch, true
	case op == OpEQ:
		switch {
		case indexed && pd.IsUnique():
			return stratUniqueEq, costUniqueEq, true
		case indexed:
			return stratIndexEq, costIndexEq, true
		case ranged:
			return stratRangeSlot, costRangeSlotEq / float64(rangeGroup), true
		}
		return stratLinearEq, costLinearEq, true
	default:
		switch {
		case indexed:
			return stratIndexRange, costIndexRange, true
		case ranged:
			return stratRangeSlot, costRangeSlot / float64(rangeGroup), true
		}
		return stratLinearRange, costLinearRange, true
	}
}

// rangeGroupSize counts the usable constraints on range-indexed columns.
func rangeGroupSize(cd *ClassDef, cons []Constraint) int {
	if cd.Maint.Has(MaintRangeIndex) {
		return 0
	}
	cols := cd.Columns()
	n := 0
	for _, c := range cons {
		if !c.Usable || !(c.Op == OpEQ || c.Op.isRange()) || c.Column < 0 || c.Column >= len(cols) {
			continue
		}
		pd := cols[c.Column]
		if pd.RangeSlot >= 0 && !(pd.IsIndexed() && !cd.indexStale(pd)) {
			n++
		}
	}
	return n
}

// PlanQuery ranks the access strategies for cons. The result depends only
// on cons and the class's index configuration.
func PlanQuery(cd *ClassDef, cons []Constraint) *QueryPlan {
	plan := &QueryPlan{Usage: make([]ConstraintUsage, len(cons))}
	for i := range plan.Usage {
		plan.Usage[i].ArgIndex = -1
	}

	// an id lookup dominates everything else
	for i, c := range cons {
		if c.Usable && c.Column == IDColumn && c.Op == OpEQ {
			plan.Usage[i] = ConstraintUsage{ArgIndex: 0, Omit: true}
			plan.ID = 1 << stratIDEq
			plan.Str = encodePlanStep(c.Column, c.Op)
			plan.Cost = costIDEq
			return plan
		}
	}

	group := rangeGroupSize(cd, cons)
	var sb strings.Builder
	cost := 1.0
	// the range-index group is scanned once, so it is charged once
	groupCost := 0.0
	arg := 0
	for i, c := range cons {
		if !c.Usable {
			continue
		}
		strat, stepCost, ok := chooseStrategy(cd, c.Column, c.Op, group)
		if !ok {
			continue
		}
		plan.Usage[i] = ConstraintUsage{ArgIndex: arg, Omit: true}
		arg++
		plan.ID |= 1 << strat
		if strat == stratRangeSlot {
			groupCost = max(groupCost, stepCost)
		} else {
			cost *= stepCost
		}
		sb.WriteString(encodePlanStep(c.Column, c.Op))
	}
	if arg == 0 {
		plan.ID = 1 << stratFullScan
		plan.Cost = costFullScan
		return plan
	}
	if groupCost > 0 {
		cost *= groupCost
	}
	plan.Str = sb.String()
	plan.Cost = cost
	return plan
}

func encodePlanStep(col int, op Op) string {
	return fmt.Sprintf("%02X%04X", uint8(op), col+1)
}

const planStepLen = 6

type planStep struct {
	column int
	op     Op
	arg    int
	strat  strategy
	pd     *PropertyDef
}

// compiledPlan is a decoded plan string bound to one class definition.
type compiledPlan struct {
	cd      *ClassDef
	classID int64
	str     string
	steps   []planStep
}

func compilePlan(cd *ClassDef, planStr string) (*compiledPlan, error) {
	if len(planStr)%planStepLen != 0 {
		return nil, ruleErrf("malformed plan %q", planStr).class(cd.Name)
	}
	cp := &compiledPlan{cd: cd, classID: cd.ID, str: planStr}
	var cons []Constraint
	for i := 0; i < len(planStr); i += planStepLen {
		op, err := strconv.ParseUint(planStr[i:i+2], 16, 8)
		if err != nil {
			return nil, ruleErrf("malformed plan %q", planStr).class(cd.Name)
		}
		col, err := strconv.ParseUint(planStr[i+2:i+planStepLen], 16, 16)
		if err != nil {
			return nil, ruleErrf("malformed plan %q", planStr).class(cd.Name)
		}
		cons = append(cons, Constraint{Column: int(col) - 1, Op: Op(op), Usable: true})
	}
	group := rangeGroupSize(cd, cons)
	cols := cd.Columns()
	for i, c := range cons {
		strat, _, ok := chooseStrategy(cd, c.Column, c.Op, group)
		if !ok {
			return nil, ruleErrf("plan %q: unusable constraint %s on column %d", planStr, c.Op, c.Column).class(cd.Name)
		}
		step := planStep{column: c.Column, op: c.Op, arg: i, strat: strat}
		if c.Column >= 0 {
			step.pd = cols[c.Column]
		}
		cp.steps = append(cp.steps, step)
	}
	return cp, nil
}

// plan returns the compiled form of planStr, using the connection's cache.
func (tx *Tx) plan(cd *ClassDef, planStr string) (*compiledPlan, error) {
	pc := tx.conn.plans
	if cp := pc.get(cd.ID, planStr); cp != nil && cp.cd == cd {
		return cp, nil
	}
	cp, err := compilePlan(cd, planStr)
	if err != nil {
		return nil, err
	}
	pc.put(cp)
	return cp, nil
}
