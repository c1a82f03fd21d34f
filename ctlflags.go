package flexilite

import (
	"fmt"
	"strings"
)

// ObjectFlags are persisted with every object row.
type ObjectFlags uint32

const (
	ObjWeak ObjectFlags = 1 << iota
	ObjSchemaNotEnforced
	ObjNoTrackChanges
	ObjHasInvalidData
)

func (f ObjectFlags) Has(v ObjectFlags) bool { return f&v == v }

var objectFlagNames = []struct {
	f ObjectFlags
	s string
}{
	{ObjWeak, "weak"},
	{ObjSchemaNotEnforced, "schema-not-enforced"},
	{ObjNoTrackChanges, "no-track-changes"},
	{ObjHasInvalidData, "has-invalid-data"},
}

func (f ObjectFlags) String() string {
	var parts []string
	for _, e := range objectFlagNames {
		if f.Has(e.f) {
			parts = append(parts, e.s)
		}
	}
	return strings.Join(parts, "|")
}

// ParseObjectFlags accepts flag names separated by "|" or ",".
func ParseObjectFlags(s string) (ObjectFlags, error) {
	var f ObjectFlags
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		name = strings.TrimSpace(name)
		found := false
		for _, e := range objectFlagNames {
			if strings.EqualFold(name, e.s) {
				f |= e.f
				found = true
			}
		}
		if !found {
			return 0, ruleErrf("unknown object flag %q", name)
		}
	}
	return f, nil
}

type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexIndexed
	IndexUnique
	IndexFullText
)

func ParseIndexKind(s string) (IndexKind, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return IndexNone, nil
	case "indexed", "index":
		return IndexIndexed, nil
	case "unique":
		return IndexUnique, nil
	case "fulltext", "fts":
		return IndexFullText, nil
	}
	return IndexNone, schemaErrf("unknown index kind %q", s)
}

func (k IndexKind) String() string {
	switch k {
	case IndexNone:
		return "none"
	case IndexIndexed:
		return "indexed"
	case IndexUnique:
		return "unique"
	case IndexFullText:
		return "fullText"
	default:
		return fmt.Sprintf("index(%d)", int(k))
	}
}

// DeletePolicy says what happens to a reference when its target is deleted.
type DeletePolicy uint8

const (
	DeleteNone DeletePolicy = iota
	DeleteCascade
	DeleteRestrict
	DeleteSetNull
)

func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return DeleteNone, nil
	case "cascade":
		return DeleteCascade, nil
	case "restrict":
		return DeleteRestrict, nil
	case "setnull":
		return DeleteSetNull, nil
	}
	return DeleteNone, schemaErrf("unknown onDelete policy %q", s)
}

func (p DeletePolicy) String() string {
	switch p {
	case DeleteNone:
		return "none"
	case DeleteCascade:
		return "cascade"
	case DeleteRestrict:
		return "restrict"
	case DeleteSetNull:
		return "setNull"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ValueFlags describe how one stored value is indexed. They are packed into
// the header of every EAV row.
type ValueFlags struct {
	Index          IndexKind
	OnDelete       DeletePolicy
	RangeSlot      int // -1 when not range-indexed
	FullTextSlot   int // -1 when not full-text indexed
	Unique         bool
	NoTrackChanges bool
	Reference      bool
}

const (
	vfIndexShift    = 0
	vfDeleteShift   = 2
	vfRangeShift    = 4
	vfFullTextShift = 8
	vfUniqueBit     = 1 << 11
	vfNoTrackBit    = 1 << 12
	vfReferenceBit  = 1 << 13
)

func (vf ValueFlags) Pack() uint32 {
	v := uint32(vf.Index&3)<<vfIndexShift |
		uint32(vf.OnDelete&3)<<vfDeleteShift |
		uint32((vf.RangeSlot+1)&0xF)<<vfRangeShift |
		uint32((vf.FullTextSlot+1)&0x7)<<vfFullTextShift
	if vf.Unique {
		v |= vfUniqueBit
	}
	if vf.NoTrackChanges {
		v |= vfNoTrackBit
	}
	if vf.Reference {
		v |= vfReferenceBit
	}
	return v
}

func UnpackValueFlags(v uint32) ValueFlags {
	return ValueFlags{
		Index:          IndexKind(v >> vfIndexShift & 3),
		OnDelete:       DeletePolicy(v >> vfDeleteShift & 3),
		RangeSlot:      int(v>>vfRangeShift&0xF) - 1,
		FullTextSlot:   int(v>>vfFullTextShift&0x7) - 1,
		Unique:         v&vfUniqueBit != 0,
		NoTrackChanges: v&vfNoTrackBit != 0,
		Reference:      v&vfReferenceBit != 0,
	}
}

// MaintFlags mark class indexes that must be rebuilt before the planner uses
// them again.
type MaintFlags uint8

const (
	MaintRangeIndex MaintFlags = 1 << iota
	MaintFullText
	MaintValueIndex
)

func (f MaintFlags) Has(v MaintFlags) bool { return f&v != 0 }
