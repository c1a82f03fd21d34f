package flexilite

import (
	"encoding/json"
	"slices"
	"strings"
)

// TableProvider is what the host's virtual-table layer talks to. There are
// two implementations: one per class, and an ad-hoc one spanning all
// objects.
type TableProvider interface {
	// Columns lists the column names in column order.
	Columns() ([]string, error)
	PlanQuery(cons []Constraint) (*QueryPlan, error)
	Open() (Cursor, error)
	// Mutate deletes (insertID == 0 and values == nil), inserts
	// (deleteID == 0) or updates an object; an insertID other than deleteID
	// moves the object. Returns the id of the written object.
	Mutate(deleteID, insertID int64, values []any) (int64, error)
	Rename(newName string) error
	FindMatcher(name string) MatchFunc
}

type Cursor interface {
	Filter(planID int64, planStr string, args []any) error
	Next() error
	Eof() bool
	Column(i int) (any, error)
	EntityID() int64
	Close() error
}

// CreateOrConnect returns the provider of a class table, creating the class
// from classJSON when it does not exist yet.
func (c *Conn) CreateOrConnect(className string, classJSON []byte) (TableProvider, error) {
	var cd *ClassDef
	err := c.Write(func(tx *Tx) error {
		var err error
		cd, err = tx.ClassByName(className)
		if err == nil || !isNotFound(err) {
			return err
		}
		if len(classJSON) == 0 {
			classJSON = []byte(`{"properties":{}}`)
		}
		def, err := ParseClassJSON(classJSON)
		if err != nil {
			return err
		}
		cd, err = tx.createClass(className, def)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &classTable{conn: c, classID: cd.ID}, nil
}

// ConnectAdHoc returns the provider of the table of all objects with the
// columns id, class and data (the values as a JSON object).
func (c *Conn) ConnectAdHoc() TableProvider {
	return &adHocTable{conn: c}
}

type classTable struct {
	conn    *Conn
	classID int64
}

func (t *classTable) class() (*ClassDef, error) {
	var cd *ClassDef
	err := t.conn.Read(func(tx *Tx) error {
		var err error
		cd, err = tx.ClassByID(t.classID)
		return err
	})
	return cd, err
}

func (t *classTable) Columns() ([]string, error) {
	cd, err := t.class()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, pd := range cd.Columns() {
		names = append(names, pd.Name)
	}
	return names, nil
}

func (t *classTable) PlanQuery(cons []Constraint) (*QueryPlan, error) {
	cd, err := t.class()
	if err != nil {
		return nil, err
	}
	return PlanQuery(cd, cons), nil
}

func (t *classTable) Open() (Cursor, error) {
	cd, err := t.class()
	if err != nil {
		return nil, err
	}
	return &classCursor{conn: t.conn, cd: cd, pos: -1}, nil
}

func (t *classTable) Mutate(deleteID, insertID int64, values []any) (int64, error) {
	var id int64
	err := t.conn.Write(func(tx *Tx) error {
		cd, err := tx.ClassByID(t.classID)
		if err != nil {
			return err
		}
		if deleteID != 0 && insertID == 0 && values == nil {
			return tx.deleteObject(deleteID, nil)
		}
		cols := cd.Columns()
		if len(values) > len(cols) {
			return ruleErrf("%d values for %d columns", len(values), len(cols)).class(cd.Name)
		}
		m := make(map[string]any, len(values))
		for i, v := range values {
			if v == nil && deleteID == 0 {
				continue
			}
			m[cols[i].Name] = v
		}
		if deleteID == 0 {
			id, err = tx.insertObject(cd, insertID, nil, m)
			return err
		}
		id = deleteID
		if insertID != 0 {
			id = insertID
		}
		return tx.updateObject(deleteID, insertID, nil, m)
	})
	return id, err
}

func (t *classTable) Rename(newName string) error {
	cd, err := t.class()
	if err != nil {
		return err
	}
	return t.conn.RenameClass(cd.Name, newName)
}

func (t *classTable) FindMatcher(name string) MatchFunc { return FindMatcher(name) }

var adHocColumns = []string{"id", "class", "data"}

const (
	adHocColID = iota
	adHocColClass
	adHocColData
)

type adHocTable struct {
	conn *Conn
}

func (t *adHocTable) Columns() ([]string, error) { return slices.Clone(adHocColumns), nil }

// PlanQuery serves equality on id and class; everything else is left to the
// host.
func (t *adHocTable) PlanQuery(cons []Constraint) (*QueryPlan, error) {
	plan := &QueryPlan{Usage: make([]ConstraintUsage, len(cons))}
	for i := range plan.Usage {
		plan.Usage[i].ArgIndex = -1
	}
	var sb strings.Builder
	cost := 1.0
	arg := 0
	for i, c := range cons {
		if !c.Usable || c.Op != OpEQ {
			continue
		}
		switch c.Column {
		case IDColumn, adHocColID:
			plan.ID |= 1 << stratIDEq
			cost *= costIDEq
		case adHocColClass:
			plan.ID |= 1 << stratIndexEq
			cost *= costIndexEq
		default:
			continue
		}
		plan.Usage[i] = ConstraintUsage{ArgIndex: arg, Omit: true}
		arg++
		sb.WriteString(encodePlanStep(c.Column, c.Op))
	}
	if arg == 0 {
		plan.ID = 1 << stratFullScan
		plan.Cost = costFullScan
		return plan, nil
	}
	plan.Str = sb.String()
	plan.Cost = cost
	return plan, nil
}

func (t *adHocTable) Open() (Cursor, error) {
	return &adHocCursor{conn: t.conn, pos: -1}, nil
}

// Mutate takes the values id, class and data; data is a JSON object or a
// map of property values.
func (t *adHocTable) Mutate(deleteID, insertID int64, values []any) (int64, error) {
	if deleteID != 0 && insertID == 0 && values == nil {
		return 0, t.conn.Delete(deleteID)
	}
	var className string
	var data map[string]any
	if len(values) > adHocColClass && values[adHocColClass] != nil {
		s, err := coerceString(values[adHocColClass])
		if err != nil {
			return 0, validationErrf("class must be a name")
		}
		className = s
	}
	if len(values) > adHocColData {
		var err error
		if data, err = adHocData(values[adHocColData]); err != nil {
			return 0, err
		}
	}
	var id int64
	err := t.conn.Write(func(tx *Tx) error {
		if deleteID == 0 {
			cd, err := tx.ClassByName(className)
			if err != nil {
				return err
			}
			id, err = tx.insertObject(cd, insertID, nil, data)
			return err
		}
		if className != "" {
			rec, err := tx.loadObjectRecord(deleteID)
			if err != nil {
				return err
			}
			if rec != nil {
				cd, err := tx.ClassByID(rec.ClassID)
				if err != nil {
					return err
				}
				if !strings.EqualFold(cd.Name, className) {
					return ruleErrf("use ChangeObjectClass to move an object to another class").class(cd.Name).object(deleteID)
				}
			}
		}
		id = deleteID
		if insertID != 0 {
			id = insertID
		}
		return tx.updateObject(deleteID, insertID, nil, data)
	})
	return id, err
}

func adHocData(v any) (map[string]any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		return decodeJSONObject([]byte(v))
	case []byte:
		return decodeJSONObject(v)
	}
	return nil, validationErrf("data must be a JSON object")
}

func decodeJSONObject(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errf(ErrValidation, err, "data must be a JSON object")
	}
	return m, nil
}

func (t *adHocTable) Rename(string) error {
	return ruleErrf("the ad-hoc table cannot be renamed")
}

func (t *adHocTable) FindMatcher(name string) MatchFunc { return FindMatcher(name) }

type adHocCursor struct {
	conn  *Conn
	ids   []int64
	pos   int
	state CursorState
	obj   *ObjectData
}

func (c *adHocCursor) Filter(planID int64, planStr string, args []any) error {
	if len(planStr)%planStepLen != 0 || len(args) < len(planStr)/planStepLen {
		return ruleErrf("malformed plan %q", planStr)
	}
	err := c.conn.Read(func(tx *Tx) error {
		var ids []int64
		have := false
		for i := 0; i < len(planStr); i += planStepLen {
			var set []int64
			arg := args[i/planStepLen]
			switch planStr[i+2 : i+planStepLen] {
			case encodePlanStep(IDColumn, OpEQ)[2:], encodePlanStep(adHocColID, OpEQ)[2:]:
				if id, err := coerceInt(normalize(arg)); err == nil && tx.objectExists(id) {
					set = []int64{id}
				}
			case encodePlanStep(adHocColClass, OpEQ)[2:]:
				name, err := coerceString(normalize(arg))
				if err != nil {
					break
				}
				cd, err := tx.ClassByName(name)
				if err != nil {
					if isNotFound(err) {
						break
					}
					return err
				}
				set = tx.classObjectIDs(cd.ID)
			default:
				return ruleErrf("malformed plan %q", planStr)
			}
			if have {
				ids = intersectSorted(ids, set)
			} else {
				ids, have = set, true
			}
		}
		if !have {
			for cur := tx.scanRange(bucketObjects, RawRange{}); cur.Next(); {
				ids = append(ids, trailingID(cur.Key()))
			}
		}
		c.ids = ids
		return nil
	})
	if err != nil {
		return err
	}
	c.pos = -1
	c.state = CursorNotStarted
	return c.Next()
}

func (c *adHocCursor) Next() error {
	if c.state == CursorExhausted {
		return nil
	}
	for {
		c.pos++
		if c.pos >= len(c.ids) {
			c.state = CursorExhausted
			c.obj = nil
			return nil
		}
		od, err := c.conn.Get(c.ids[c.pos])
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		c.obj = od
		c.state = CursorPositioned
		return nil
	}
}

func (c *adHocCursor) Eof() bool { return c.state == CursorExhausted }

func (c *adHocCursor) EntityID() int64 {
	if c.obj == nil {
		return 0
	}
	return c.obj.ID
}

func (c *adHocCursor) Column(i int) (any, error) {
	if c.state != CursorPositioned {
		return nil, ruleErrf("cursor is %s", c.state)
	}
	switch i {
	case IDColumn, adHocColID:
		return c.obj.ID, nil
	case adHocColClass:
		return c.obj.Class, nil
	case adHocColData:
		raw, err := c.obj.MarshalJSON()
		if err != nil {
			return nil, storageErrf(err, "encode object").object(c.obj.ID)
		}
		return string(raw), nil
	}
	return nil, ruleErrf("column %d out of range", i)
}

func (c *adHocCursor) Close() error {
	c.state = CursorExhausted
	c.ids = nil
	c.obj = nil
	return nil
}
