package flexilite

import (
	"bytes"
	"fmt"
)

type CursorState uint8

const (
	CursorNotStarted CursorState = iota
	CursorPositioned
	CursorExhausted
)

func (s CursorState) String() string {
	switch s {
	case CursorNotStarted:
		return "not-started"
	case CursorPositioned:
		return "positioned"
	case CursorExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// rowScan materializes the values of one object lazily, in property-id
// order. Every stored row is read at most once.
type rowScan struct {
	id      int64
	rec     *objectRecord
	values  map[int64][]any
	nextKey []byte // lower bound of the unread rows
	// properties with ids below doneBelow are fully cached
	doneBelow int64
	eof       bool
}

func newRowScan(id int64, rec *objectRecord) *rowScan {
	return &rowScan{id: id, rec: rec, values: make(map[int64][]any), nextKey: idKey(id)}
}

// advance reads rows until every occurrence of propID is cached. Returns the
// number of rows read.
func (rs *rowScan) advance(tx *Tx, propID int64) int {
	if rs.eof || propID < rs.doneBelow {
		return 0
	}
	n := 0
	c := tx.scanRange(bucketValues, RawRange{Prefix: idKey(rs.id), Lower: rs.nextKey})
	for {
		if !c.Next() {
			rs.eof = true
			return n
		}
		k := c.Key()
		_, p, _, ok := parseValueKey(k)
		if !ok {
			continue
		}
		_, v, err := decodeEAVValue(c.Value())
		ensure(err)
		n++
		rs.values[p] = append(rs.values[p], v)
		rs.nextKey = append(bytes.Clone(k), 0)
		rs.doneBelow = p
		if p > propID {
			return n
		}
	}
}

// classCursor iterates the objects of one class selected by a plan.
type classCursor struct {
	conn  *Conn
	cd    *ClassDef
	ids   []int64
	pos   int
	state CursorState
	row   *rowScan

	// RowsRead counts stored value rows decoded by Column.
	RowsRead int
}

func (c *classCursor) State() CursorState { return c.state }

func (c *classCursor) Filter(planID int64, planStr string, args []any) error {
	err := c.conn.Read(func(tx *Tx) error {
		cd, err := tx.ClassByID(c.cd.ID)
		if err != nil {
			return err
		}
		c.cd = cd
		cp, err := tx.plan(cd, planStr)
		if err != nil {
			return err
		}
		c.ids, err = tx.execute(cd, cp, args)
		return err
	})
	if err != nil {
		return err
	}
	c.pos = -1
	c.state = CursorNotStarted
	c.row = nil
	return c.Next()
}

func (c *classCursor) Next() error {
	if c.state == CursorExhausted {
		return nil
	}
	return c.conn.Read(func(tx *Tx) error {
		for {
			c.pos++
			if c.pos >= len(c.ids) {
				c.state = CursorExhausted
				c.row = nil
				return nil
			}
			id := c.ids[c.pos]
			rec, err := tx.loadObjectRecord(id)
			if err != nil {
				return err
			}
			// deleted since Filter
			if rec == nil || rec.ClassID != c.cd.ID {
				continue
			}
			c.row = newRowScan(id, rec)
			c.state = CursorPositioned
			return nil
		}
	})
}

func (c *classCursor) Eof() bool { return c.state == CursorExhausted }

func (c *classCursor) EntityID() int64 {
	if c.row == nil {
		return 0
	}
	return c.row.id
}

// Column returns the value of column i of the current row, or the
// property's default when the object has none. Multi-valued properties
// yield []any.
func (c *classCursor) Column(i int) (any, error) {
	if c.state != CursorPositioned {
		return nil, ruleErrf("cursor is %s", c.state).class(c.cd.Name)
	}
	cols := c.cd.Columns()
	if i == IDColumn {
		return c.row.id, nil
	}
	if i < 0 || i >= len(cols) {
		return nil, ruleErrf("column %d out of range", i).class(c.cd.Name)
	}
	pd := cols[i]
	var occs []any
	if pd.FixedColumn >= 0 {
		if v := c.row.rec.fixed(pd.FixedColumn); v != nil {
			occs = []any{v}
		}
	} else {
		err := c.conn.Read(func(tx *Tx) error {
			c.RowsRead += c.row.advance(tx, pd.ID)
			return nil
		})
		if err != nil {
			return nil, err
		}
		occs = c.row.values[pd.ID]
	}
	return presentColumn(pd, occs), nil
}

func presentColumn(pd *PropertyDef, occs []any) any {
	if len(occs) == 0 {
		if pd.DefaultValue == nil {
			return nil
		}
		return presentValue(pd, pd.DefaultValue)
	}
	if pd.IsMulti() {
		out := make([]any, len(occs))
		for i, v := range occs {
			out[i] = presentValue(pd, v)
		}
		return out
	}
	return presentValue(pd, occs[0])
}

func presentValue(pd *PropertyDef, v any) any {
	if pd.Type == TypeEnum && pd.EnumDef != nil {
		for _, it := range pd.EnumDef.Items {
			if it.Text != "" && valuesEqual(normalize(it.ID), v) {
				return it.Text
			}
		}
	}
	return pd.Type.Present(v)
}

func (c *classCursor) Close() error {
	c.state = CursorExhausted
	c.ids = nil
	c.row = nil
	return nil
}
