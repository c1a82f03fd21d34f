package flexilite

import (
	"reflect"
	"regexp"
	"strings"
)

// identifierRe validates class and property names.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{1,128}$`)

func IsValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

func checkIdentifier(kind, s string) error {
	if !IsValidIdentifier(s) {
		return nameErrf("invalid %s name %q", kind, s)
	}
	return nil
}

type RoleBits uint8

const (
	RoleTitle RoleBits = 1 << iota
	RoleDescription
	RoleID
	RoleName
)

var roleNames = []struct {
	bit  RoleBits
	name string
}{
	{RoleTitle, "title"},
	{RoleDescription, "description"},
	{RoleID, "id"},
	{RoleName, "name"},
}

func (r RoleBits) Has(v RoleBits) bool { return r&v == v }

func (r RoleBits) Names() []string {
	var out []string
	for _, e := range roleNames {
		if r.Has(e.bit) {
			out = append(out, e.name)
		}
	}
	return out
}

func parseRoles(names []string) (RoleBits, error) {
	var r RoleBits
	for _, n := range names {
		found := false
		for _, e := range roleNames {
			if strings.EqualFold(n, e.name) {
				r |= e.bit
				found = true
			}
		}
		if !found {
			return 0, schemaErrf("unknown role %q", n)
		}
	}
	return r, nil
}

type EnumItem struct {
	ID   any    `json:"id"`
	Text string `json:"text,omitempty"`
}

type EnumDef struct {
	Name  MetadataRef `json:"-"`
	Items []EnumItem  `json:"items"`
}

// lookup maps a value to the id of the matching item, accepting either the id
// or the item text.
func (ed *EnumDef) lookup(v any) (any, bool) {
	for _, it := range ed.Items {
		if valuesEqual(normalize(it.ID), v) {
			return normalize(it.ID), true
		}
	}
	if s, ok := v.(string); ok {
		for _, it := range ed.Items {
			if it.Text != "" && strings.EqualFold(it.Text, s) {
				return normalize(it.ID), true
			}
		}
	}
	return nil, false
}

type RefDef struct {
	ClassRef        MetadataRef
	Dynamic         bool
	ReverseProperty MetadataRef
	OnDelete        DeletePolicy
}

// PropertyDef is the full metadata of one property.
type PropertyDef struct {
	ClassID int64
	ID      int64
	Name    string

	Type      PropertyType
	Index     IndexKind
	Roles     RoleBits
	MinOccurs int
	MaxOccurs int // 0 means unbounded
	MaxLength int // 0 means unbounded
	MinValue  *float64
	MaxValue  *float64
	Regex     string

	DefaultValue   any
	NoTrackChanges bool
	EnumDef        *EnumDef
	RefDef         *RefDef

	RangeSlot    int // -1, or 0..9 for A0..E1
	FullTextSlot int // -1, or 0..4 for X1..X5
	FixedColumn  int // -1, or 0..15 for A..P

	RenameTo        string
	Drop            bool
	NeedsValidation bool
	Status          ChangeStatus

	re *regexp.Regexp
}

func newPropertyDef(name string) *PropertyDef {
	return &PropertyDef{
		Name:         name,
		Type:         TypeText,
		MaxOccurs:    1,
		RangeSlot:    -1,
		FullTextSlot: -1,
		FixedColumn:  -1,
	}
}

func (pd *PropertyDef) Ref() MetadataRef {
	return MetadataRef{ID: pd.ID, Name: pd.Name, Status: pd.Status}
}

func (pd *PropertyDef) IsIndexed() bool {
	return pd.Index == IndexIndexed || pd.Index == IndexUnique
}

func (pd *PropertyDef) IsUnique() bool {
	return pd.Index == IndexUnique
}

func (pd *PropertyDef) IsMulti() bool {
	return pd.MaxOccurs != 1
}

func (pd *PropertyDef) ValueFlags() ValueFlags {
	vf := ValueFlags{
		Index:          pd.Index,
		RangeSlot:      pd.RangeSlot,
		FullTextSlot:   pd.FullTextSlot,
		Unique:         pd.IsUnique(),
		NoTrackChanges: pd.NoTrackChanges,
		Reference:      pd.Type == TypeReference,
	}
	if pd.RefDef != nil {
		vf.OnDelete = pd.RefDef.OnDelete
	}
	return vf
}

func (pd *PropertyDef) compile() error {
	pd.re = nil
	if pd.Regex == "" {
		return nil
	}
	re, err := regexp.Compile(pd.Regex)
	if err != nil {
		return schemaErrf("invalid regex %q: %v", pd.Regex, err).prop(pd.Name)
	}
	pd.re = re
	return nil
}

func (pd *PropertyDef) clone() *PropertyDef {
	c := *pd
	return &c
}

// sameDefinition compares everything that is persisted, ignoring ids,
// change status and alteration directives.
func (pd *PropertyDef) sameDefinition(o *PropertyDef) bool {
	return pd.Name == o.Name &&
		pd.Type == o.Type &&
		pd.Index == o.Index &&
		pd.Roles == o.Roles &&
		pd.MinOccurs == o.MinOccurs &&
		pd.MaxOccurs == o.MaxOccurs &&
		pd.MaxLength == o.MaxLength &&
		floatPtrEqual(pd.MinValue, o.MinValue) &&
		floatPtrEqual(pd.MaxValue, o.MaxValue) &&
		pd.Regex == o.Regex &&
		reflect.DeepEqual(normalize(pd.DefaultValue), normalize(o.DefaultValue)) &&
		pd.NoTrackChanges == o.NoTrackChanges &&
		enumDefEqual(pd.EnumDef, o.EnumDef) &&
		refDefEqual(pd.RefDef, o.RefDef) &&
		pd.FixedColumn == o.FixedColumn
}

// constraintsTightened reports whether values valid under o may be invalid
// under pd.
func (pd *PropertyDef) constraintsTightened(o *PropertyDef) bool {
	if pd.MaxLength != 0 && (o.MaxLength == 0 || pd.MaxLength < o.MaxLength) {
		return true
	}
	if pd.MinValue != nil && (o.MinValue == nil || *pd.MinValue > *o.MinValue) {
		return true
	}
	if pd.MaxValue != nil && (o.MaxValue == nil || *pd.MaxValue < *o.MaxValue) {
		return true
	}
	if pd.Regex != "" && pd.Regex != o.Regex {
		return true
	}
	if pd.MaxOccurs != 0 && (o.MaxOccurs == 0 || pd.MaxOccurs < o.MaxOccurs) {
		return true
	}
	if pd.MinOccurs > o.MinOccurs {
		return true
	}
	if pd.EnumDef != nil && !enumDefEqual(pd.EnumDef, o.EnumDef) {
		return true
	}
	if pd.IsUnique() && !o.IsUnique() {
		return true
	}
	return false
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func enumDefEqual(a, b *EnumDef) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.Name.Matches(b.Name) && !(a.Name.IsZero() && b.Name.IsZero()) {
		return false
	}
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if !valuesEqual(normalize(a.Items[i].ID), normalize(b.Items[i].ID)) || a.Items[i].Text != b.Items[i].Text {
			return false
		}
	}
	return true
}

func refDefEqual(a, b *RefDef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return metaRefEqual(a.ClassRef, b.ClassRef) &&
		a.Dynamic == b.Dynamic &&
		metaRefEqual(a.ReverseProperty, b.ReverseProperty) &&
		a.OnDelete == b.OnDelete
}

func metaRefEqual(a, b MetadataRef) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() && b.IsZero()
	}
	return a.Matches(b)
}
