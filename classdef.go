package flexilite

import (
	"cmp"
	"slices"
	"strings"
)

type SpecialProp int

const (
	SpecialUID SpecialProp = iota
	SpecialName
	SpecialDescription
	SpecialCode
	SpecialNonUniqueID
	SpecialCreateTime
	SpecialUpdateTime
	SpecialAutoUUID
	SpecialAutoShortID

	numSpecialProps = 9
)

var specialPropNames = [numSpecialProps]string{
	"uid", "name", "description", "code", "nonUniqueId", "createTime", "updateTime", "autoUuid", "autoShortId",
}

func (sp SpecialProp) String() string { return specialPropNames[sp] }

func parseSpecialProp(s string) (SpecialProp, bool) {
	for i, n := range specialPropNames {
		if strings.EqualFold(n, s) {
			return SpecialProp(i), true
		}
	}
	return 0, false
}

const (
	numRangeSlots    = 10
	numFullTextSlots = 5
	numFixedColumns  = 16
)

// rangeSlotNames pair up low/high bounds: A0 is the low end of dimension A.
var rangeSlotNames = [numRangeSlots]string{"A0", "A1", "B0", "B1", "C0", "C1", "D0", "D1", "E0", "E1"}

var fullTextSlotNames = [numFullTextSlots]string{"X1", "X2", "X3", "X4", "X5"}

func parseSlotName(names []string, s string) (int, bool) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, true
		}
	}
	return -1, false
}

func fixedColumnName(i int) string { return string(rune('A' + i)) }

func parseFixedColumn(s string) (int, bool) {
	if len(s) != 1 {
		return -1, false
	}
	c := s[0] &^ 0x20 // upper case
	if c < 'A' || c >= 'A'+numFixedColumns {
		return -1, false
	}
	return int(c - 'A'), true
}

type (
	SpecialProps  [numSpecialProps]MetadataRef
	RangeProps    [numRangeSlots]MetadataRef
	FullTextProps [numFullTextSlots]MetadataRef
)

// ClassDef is an immutable snapshot of a class once published by the
// registry. Alteration builds a new ClassDef; collections that did not change
// are shared between the old and new snapshots.
type ClassDef struct {
	ID            int64
	Name          string
	IsSystem      bool
	AsTable       bool
	AllowAnyProps bool
	Unresolved    bool

	Special  *SpecialProps
	Range    *RangeProps
	FullText *FullTextProps
	Mixins   *MixinList

	// Maint lists indexes awaiting a rebuild; MaintProps are the affected
	// value-indexed properties.
	Maint      MaintFlags
	MaintProps []int64

	props       []*PropertyDef
	propsByName map[string]*PropertyDef
	propsByID   map[int64]*PropertyDef
	columns     []*PropertyDef

	// blocks present in the JSON this definition was parsed from
	explicit classBlocks
}

type classBlocks uint8

const (
	blockSpecial classBlocks = 1 << iota
	blockRange
	blockFullText
	blockMixins
	blockAllowAny
	blockAsTable
)

func newClassDef(name string) *ClassDef {
	return &ClassDef{
		Name:        name,
		Special:     &SpecialProps{},
		Range:       &RangeProps{},
		FullText:    &FullTextProps{},
		Mixins:      &MixinList{},
		propsByName: make(map[string]*PropertyDef),
		propsByID:   make(map[int64]*PropertyDef),
	}
}

func (cd *ClassDef) Ref() MetadataRef {
	return MetadataRef{ID: cd.ID, Name: cd.Name}
}

func propKey(name string) string { return strings.ToLower(name) }

// addProp registers pd in both indexes. Returns false on a name clash.
func (cd *ClassDef) addProp(pd *PropertyDef) bool {
	key := propKey(pd.Name)
	if _, dup := cd.propsByName[key]; dup {
		return false
	}
	if pd.ID != 0 {
		if _, dup := cd.propsByID[pd.ID]; dup {
			return false
		}
		cd.propsByID[pd.ID] = pd
	}
	cd.propsByName[key] = pd
	cd.props = append(cd.props, pd)
	cd.columns = nil
	return true
}

// reindex rebuilds both lookup maps from the property list.
func (cd *ClassDef) reindex() {
	cd.propsByName = make(map[string]*PropertyDef, len(cd.props))
	cd.propsByID = make(map[int64]*PropertyDef, len(cd.props))
	for _, pd := range cd.props {
		cd.propsByName[propKey(pd.Name)] = pd
		if pd.ID != 0 {
			cd.propsByID[pd.ID] = pd
		}
	}
	cd.columns = nil
}

func (cd *ClassDef) Prop(name string) *PropertyDef {
	return cd.propsByName[propKey(name)]
}

func (cd *ClassDef) PropByID(id int64) *PropertyDef {
	return cd.propsByID[id]
}

func (cd *ClassDef) propByRef(ref MetadataRef) *PropertyDef {
	if ref.ID != 0 {
		if pd := cd.propsByID[ref.ID]; pd != nil {
			return pd
		}
	}
	if ref.Name != "" {
		return cd.Prop(ref.Name)
	}
	return nil
}

// Props returns all properties, persisted ones ordered by id first.
func (cd *ClassDef) Props() []*PropertyDef {
	out := slices.Clone(cd.props)
	slices.SortStableFunc(out, comparePropOrder)
	return out
}

func comparePropOrder(a, b *PropertyDef) int {
	switch {
	case a.ID != 0 && b.ID != 0:
		return cmp.Compare(a.ID, b.ID)
	case a.ID != 0:
		return -1
	case b.ID != 0:
		return 1
	default:
		return cmp.Compare(propKey(a.Name), propKey(b.Name))
	}
}

// Columns are the live properties in property-id order; column i of a
// class table is Columns()[i].
func (cd *ClassDef) Columns() []*PropertyDef {
	if cd.columns == nil {
		cols := make([]*PropertyDef, 0, len(cd.props))
		for _, pd := range cd.props {
			if pd.Status != StatusDeleted && !pd.Drop {
				cols = append(cols, pd)
			}
		}
		slices.SortStableFunc(cols, comparePropOrder)
		cd.columns = cols
	}
	return cd.columns
}

func (cd *ClassDef) ColumnIndex(propID int64) int {
	for i, pd := range cd.Columns() {
		if pd.ID == propID {
			return i
		}
	}
	return -1
}

func (cd *ClassDef) SpecialProp(sp SpecialProp) *PropertyDef {
	ref := cd.Special[sp]
	if ref.IsZero() {
		return nil
	}
	return cd.propByRef(ref)
}

func (cd *ClassDef) indexStale(pd *PropertyDef) bool {
	return cd.Maint.Has(MaintValueIndex) && slices.Contains(cd.MaintProps, pd.ID)
}

// shallowClone copies cd with fresh property maps. Collections are shared.
func (cd *ClassDef) shallowClone() *ClassDef {
	c := *cd
	c.props = slices.Clone(cd.props)
	c.MaintProps = slices.Clone(cd.MaintProps)
	c.reindex()
	return &c
}

// finalize assigns derived per-property slots from the class-level maps and
// compiles regexes.
func (cd *ClassDef) finalize() error {
	for _, pd := range cd.props {
		pd.RangeSlot = -1
		pd.FullTextSlot = -1
	}
	for i, ref := range cd.Range {
		if ref.IsZero() {
			continue
		}
		pd := cd.propByRef(ref)
		if pd == nil {
			return schemaErrf("rangeIndexing.%s refers to unknown property %s", rangeSlotNames[i], ref).class(cd.Name)
		}
		if !pd.Type.IsNumeric() {
			return schemaErrf("rangeIndexing.%s: property %s is %s, not numeric", rangeSlotNames[i], pd.Name, pd.Type).class(cd.Name)
		}
		pd.RangeSlot = i
	}
	for i, ref := range cd.FullText {
		if ref.IsZero() {
			continue
		}
		pd := cd.propByRef(ref)
		if pd == nil {
			return schemaErrf("fullTextIndexing.%s refers to unknown property %s", fullTextSlotNames[i], ref).class(cd.Name)
		}
		pd.FullTextSlot = i
	}
	// properties declared with index "fullText" take the first free slot
	for _, pd := range cd.Props() {
		if pd.Index != IndexFullText || pd.FullTextSlot >= 0 {
			continue
		}
		slot := slices.IndexFunc(cd.FullText[:], MetadataRef.IsZero)
		if slot < 0 {
			return schemaErrf("no free full-text slot for %s", pd.Name).class(cd.Name)
		}
		ft := *cd.FullText
		ft[slot] = pd.Ref()
		cd.FullText = &ft
		pd.FullTextSlot = slot
	}
	for i, ref := range cd.Special {
		if ref.IsZero() {
			continue
		}
		if cd.propByRef(ref) == nil {
			return schemaErrf("specialProperties.%s refers to unknown property %s", specialPropNames[i], ref).class(cd.Name)
		}
	}
	fixed := make(map[int]string)
	for _, pd := range cd.props {
		if pd.FixedColumn >= 0 {
			if other, dup := fixed[pd.FixedColumn]; dup {
				return schemaErrf("properties %s and %s share fixed column %s", other, pd.Name, fixedColumnName(pd.FixedColumn)).class(cd.Name)
			}
			fixed[pd.FixedColumn] = pd.Name
		}
		if err := pd.compile(); err != nil {
			return err.(*Error).class(cd.Name)
		}
	}
	cd.columns = nil
	return nil
}

// resolveRefs pins the ids of every property reference held in the
// class-level maps. Used after property ids are allocated.
func (cd *ClassDef) resolveRefs() {
	cd.mapSlotRefs(func(ref MetadataRef) MetadataRef {
		if pd := cd.propByRef(ref); pd != nil {
			return MetadataRef{ID: pd.ID, Name: pd.Name}
		}
		return ref
	})
}

// mapSlotRefs rewrites the property references of the special, range and
// full-text maps and of mixin selectors. Collections are copied on change.
func (cd *ClassDef) mapSlotRefs(f func(MetadataRef) MetadataRef) {
	resolve := func(ref MetadataRef) MetadataRef {
		if ref.IsZero() {
			return ref
		}
		return f(ref)
	}
	sp := *cd.Special
	for i := range sp {
		sp[i] = resolve(sp[i])
	}
	if sp != *cd.Special {
		cd.Special = &sp
	}
	rp := *cd.Range
	for i := range rp {
		rp[i] = resolve(rp[i])
	}
	if rp != *cd.Range {
		cd.Range = &rp
	}
	fp := *cd.FullText
	for i := range fp {
		fp[i] = resolve(fp[i])
	}
	if fp != *cd.FullText {
		cd.FullText = &fp
	}
	cd.Mixins = cd.Mixins.resolveSelectors(resolve)
}
