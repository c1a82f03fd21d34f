package flexilite

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

type classJSON struct {
	Properties        map[string]*propJSON   `json:"properties,omitempty"`
	SpecialProperties map[string]MetadataRef `json:"specialProperties,omitempty"`
	RangeIndexing     map[string]MetadataRef `json:"rangeIndexing,omitempty"`
	FullTextIndexing  map[string]MetadataRef `json:"fullTextIndexing,omitempty"`
	Mixins            []mixinJSON            `json:"mixins,omitempty"`
	AllowAnyProps     *bool                  `json:"allowAnyProps,omitempty"`
	AsTable           *bool                  `json:"asTable,omitempty"`
}

type propJSON struct {
	Name            string       `json:"$name,omitempty"`
	Rules           *rulesJSON   `json:"rules,omitempty"`
	Index           string       `json:"index,omitempty"`
	Role            []string     `json:"role,omitempty"`
	NoTrackChanges  bool         `json:"noTrackChanges,omitempty"`
	DefaultValue    any          `json:"defaultValue,omitempty"`
	EnumDef         *enumDefJSON `json:"enumDef,omitempty"`
	RefDef          *refDefJSON  `json:"refDef,omitempty"`
	FixedColumn     string       `json:"fixedColumn,omitempty"`
	RenameTo        string       `json:"$renameTo,omitempty"`
	Drop            bool         `json:"$drop,omitempty"`
	NeedsValidation bool         `json:"$needsValidation,omitempty"`
}

type rulesJSON struct {
	Type           string   `json:"type,omitempty"`
	MaxLength      int      `json:"maxLength,omitempty"`
	MinValue       *float64 `json:"minValue,omitempty"`
	MaxValue       *float64 `json:"maxValue,omitempty"`
	Regex          string   `json:"regex,omitempty"`
	MinOccurrences *int     `json:"minOccurences,omitempty"`
	MaxOccurrences *int     `json:"maxOccurences,omitempty"`
}

type enumDefJSON struct {
	ID    int64      `json:"$id,omitempty"`
	Name  string     `json:"$name,omitempty"`
	Items []EnumItem `json:"items,omitempty"`
}

type refDefJSON struct {
	ClassRef        MetadataRef  `json:"classRef"`
	Dynamic         bool         `json:"dynamic,omitempty"`
	ReverseProperty *MetadataRef `json:"reverseProperty,omitempty"`
	OnDelete        string       `json:"onDelete,omitempty"`
}

type mixinJSON struct {
	ClassRef *MetadataRef      `json:"classRef,omitempty"`
	Dynamic  *dynamicMixinJSON `json:"dynamic,omitempty"`
}

type dynamicMixinJSON struct {
	SelectorProp MetadataRef     `json:"selectorProp"`
	Rules        []mixinRuleJSON `json:"rules"`
}

type mixinRuleJSON struct {
	Regex    string      `json:"regex"`
	ClassRef MetadataRef `json:"classRef"`
}

// ParseClassJSON parses a class definition. Property keys are either names
// or, in the persisted canonical form, decimal property ids with the name
// carried in "$name".
func ParseClassJSON(data []byte) (*ClassDef, error) {
	var cj classJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&cj); err != nil {
		return nil, errf(ErrSchemaSyntax, err, "malformed class definition")
	}
	if dec.More() {
		return nil, schemaErrf("trailing data after class definition")
	}

	cd := newClassDef("")
	if cj.AllowAnyProps != nil {
		cd.AllowAnyProps = *cj.AllowAnyProps
		cd.explicit |= blockAllowAny
	}
	if cj.AsTable != nil {
		cd.AsTable = *cj.AsTable
		cd.explicit |= blockAsTable
	}

	keys := make([]string, 0, len(cj.Properties))
	for k := range cj.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pj := cj.Properties[key]
		if pj == nil {
			return nil, schemaErrf("property %q has no definition", key)
		}
		pd, err := parsePropJSON(key, pj)
		if err != nil {
			return nil, err
		}
		if !cd.addProp(pd) {
			return nil, nameErrf("duplicate property %q", pd.Name)
		}
	}

	if cj.SpecialProperties != nil {
		cd.explicit |= blockSpecial
		for k, ref := range cj.SpecialProperties {
			sp, ok := parseSpecialProp(k)
			if !ok {
				return nil, schemaErrf("unknown special property %q", k)
			}
			cd.Special[sp] = ref
		}
	}
	if cj.RangeIndexing != nil {
		cd.explicit |= blockRange
		for k, ref := range cj.RangeIndexing {
			slot, ok := parseSlotName(rangeSlotNames[:], k)
			if !ok {
				return nil, schemaErrf("unknown range slot %q", k)
			}
			cd.Range[slot] = ref
		}
	}
	if cj.FullTextIndexing != nil {
		cd.explicit |= blockFullText
		for k, ref := range cj.FullTextIndexing {
			slot, ok := parseSlotName(fullTextSlotNames[:], k)
			if !ok {
				return nil, schemaErrf("unknown full-text slot %q", k)
			}
			cd.FullText[slot] = ref
		}
	}
	if cj.Mixins != nil {
		cd.explicit |= blockMixins
		for i, mj := range cj.Mixins {
			m, err := parseMixinJSON(mj)
			if err != nil {
				err.Msg = "mixins[" + strconv.Itoa(i) + "]: " + err.Msg
				return nil, err
			}
			cd.Mixins.Items = append(cd.Mixins.Items, m)
		}
	}

	if err := cd.finalize(); err != nil {
		return nil, err
	}
	for _, m := range cd.Mixins.Items {
		if dm, ok := m.(*DynamicMixin); ok && cd.propByRef(dm.SelectorProp) == nil {
			return nil, schemaErrf("mixin selector refers to unknown property %s", dm.SelectorProp)
		}
	}
	return cd, nil
}

func parsePropJSON(key string, pj *propJSON) (*PropertyDef, error) {
	pd := newPropertyDef(key)
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		if id <= 0 || pj.Name == "" {
			return nil, schemaErrf("property key %q is an id but \"$name\" is missing", key)
		}
		pd.ID, pd.Name = id, pj.Name
	} else if pj.Name != "" && !strings.EqualFold(pj.Name, key) {
		return nil, schemaErrf("property %q has conflicting \"$name\" %q", key, pj.Name)
	}
	if err := checkIdentifier("property", pd.Name); err != nil {
		return nil, err
	}

	if r := pj.Rules; r != nil {
		if r.Type != "" {
			t, err := ParsePropertyType(r.Type)
			if err != nil {
				return nil, err.(*Error).prop(pd.Name)
			}
			pd.Type = t
		}
		pd.MaxLength = r.MaxLength
		pd.MinValue = r.MinValue
		pd.MaxValue = r.MaxValue
		pd.Regex = r.Regex
		if r.MinOccurrences != nil {
			pd.MinOccurs = *r.MinOccurrences
		}
		if r.MaxOccurrences != nil {
			pd.MaxOccurs = *r.MaxOccurrences
		}
		if pd.MinOccurs < 0 || pd.MaxOccurs < 0 || (pd.MaxOccurs != 0 && pd.MinOccurs > pd.MaxOccurs) {
			return nil, schemaErrf("invalid occurrence bounds %d..%d", pd.MinOccurs, pd.MaxOccurs).prop(pd.Name)
		}
		if pd.MinValue != nil && pd.MaxValue != nil && *pd.MinValue > *pd.MaxValue {
			return nil, schemaErrf("minValue is greater than maxValue").prop(pd.Name)
		}
	}

	idx, err := ParseIndexKind(pj.Index)
	if err != nil {
		return nil, err.(*Error).prop(pd.Name)
	}
	pd.Index = idx
	if pd.Roles, err = parseRoles(pj.Role); err != nil {
		return nil, err.(*Error).prop(pd.Name)
	}
	pd.NoTrackChanges = pj.NoTrackChanges
	pd.DefaultValue = normalize(pj.DefaultValue)
	pd.RenameTo = pj.RenameTo
	pd.Drop = pj.Drop
	pd.NeedsValidation = pj.NeedsValidation

	if pj.FixedColumn != "" {
		col, ok := parseFixedColumn(pj.FixedColumn)
		if !ok {
			return nil, schemaErrf("invalid fixedColumn %q", pj.FixedColumn).prop(pd.Name)
		}
		pd.FixedColumn = col
	}

	if ej := pj.EnumDef; ej != nil {
		pd.EnumDef = &EnumDef{Name: MetadataRef{ID: ej.ID, Name: ej.Name}, Items: ej.Items}
		for i := range pd.EnumDef.Items {
			pd.EnumDef.Items[i].ID = normalize(pd.EnumDef.Items[i].ID)
		}
		if pd.Type == TypeText && (pj.Rules == nil || pj.Rules.Type == "") {
			pd.Type = TypeEnum
		}
	}
	if rj := pj.RefDef; rj != nil {
		policy, err := ParseDeletePolicy(rj.OnDelete)
		if err != nil {
			return nil, err.(*Error).prop(pd.Name)
		}
		pd.RefDef = &RefDef{
			ClassRef: rj.ClassRef,
			Dynamic:  rj.Dynamic,
			OnDelete: policy,
		}
		if rj.ReverseProperty != nil {
			pd.RefDef.ReverseProperty = *rj.ReverseProperty
		}
		if pd.RefDef.ClassRef.IsZero() && !rj.Dynamic {
			return nil, schemaErrf("refDef needs a classRef").prop(pd.Name)
		}
		if pj.Rules == nil || pj.Rules.Type == "" {
			pd.Type = TypeReference
		}
	}
	if pd.Type == TypeReference && pd.RefDef == nil {
		pd.RefDef = &RefDef{Dynamic: true}
	}
	if pd.DefaultValue != nil {
		if _, err := pd.Type.Coerce(pd.DefaultValue); err != nil {
			return nil, errf(ErrSchemaSyntax, err, "invalid defaultValue").prop(pd.Name)
		}
	}
	return pd, nil
}

func parseMixinJSON(mj mixinJSON) (Mixin, *Error) {
	var classRef MetadataRef
	if mj.ClassRef != nil {
		classRef = *mj.ClassRef
	}
	if mj.Dynamic == nil {
		if classRef.IsZero() {
			return nil, schemaErrf("mixin needs a classRef")
		}
		return &StaticMixin{ClassRef: classRef}, nil
	}
	dm := &DynamicMixin{ClassRef: classRef, SelectorProp: mj.Dynamic.SelectorProp}
	if dm.SelectorProp.IsZero() {
		return nil, schemaErrf("dynamic mixin needs a selectorProp")
	}
	for _, rj := range mj.Dynamic.Rules {
		if rj.ClassRef.IsZero() {
			return nil, schemaErrf("mixin rule %q needs a classRef", rj.Regex)
		}
		dm.Rules = append(dm.Rules, MixinRule{Regex: rj.Regex, ClassRef: rj.ClassRef})
	}
	if err := compileMixinRules(dm.Rules); err != nil {
		return nil, err.(*Error)
	}
	return dm, nil
}

// StringifyClass emits the canonical, deterministic JSON form of cd. Persisted
// properties are keyed by id; unsaved ones by name.
func StringifyClass(cd *ClassDef) []byte {
	cj := classJSON{
		Properties: make(map[string]*propJSON, len(cd.props)),
	}
	if cd.AllowAnyProps {
		cj.AllowAnyProps = &cd.AllowAnyProps
	}
	if cd.AsTable {
		cj.AsTable = &cd.AsTable
	}
	for _, pd := range cd.Columns() {
		key := pd.Name
		if pd.ID != 0 {
			key = strconv.FormatInt(pd.ID, 10)
		}
		cj.Properties[key] = propToJSON(pd)
	}
	for i, ref := range cd.Special {
		if !ref.IsZero() {
			if cj.SpecialProperties == nil {
				cj.SpecialProperties = make(map[string]MetadataRef)
			}
			cj.SpecialProperties[specialPropNames[i]] = canonicalPropRef(cd, ref)
		}
	}
	for i, ref := range cd.Range {
		if !ref.IsZero() {
			if cj.RangeIndexing == nil {
				cj.RangeIndexing = make(map[string]MetadataRef)
			}
			cj.RangeIndexing[rangeSlotNames[i]] = canonicalPropRef(cd, ref)
		}
	}
	for i, ref := range cd.FullText {
		if !ref.IsZero() {
			if cj.FullTextIndexing == nil {
				cj.FullTextIndexing = make(map[string]MetadataRef)
			}
			cj.FullTextIndexing[fullTextSlotNames[i]] = canonicalPropRef(cd, ref)
		}
	}
	for _, m := range cd.Mixins.Items {
		switch m := m.(type) {
		case *StaticMixin:
			ref := m.ClassRef
			cj.Mixins = append(cj.Mixins, mixinJSON{ClassRef: &ref})
		case *DynamicMixin:
			dj := &dynamicMixinJSON{SelectorProp: canonicalPropRef(cd, m.SelectorProp), Rules: []mixinRuleJSON{}}
			for _, r := range m.Rules {
				dj.Rules = append(dj.Rules, mixinRuleJSON{Regex: r.Regex, ClassRef: r.ClassRef})
			}
			mj := mixinJSON{Dynamic: dj}
			if !m.ClassRef.IsZero() {
				ref := m.ClassRef
				mj.ClassRef = &ref
			}
			cj.Mixins = append(cj.Mixins, mj)
		}
	}
	return must(json.Marshal(cj))
}

func canonicalPropRef(cd *ClassDef, ref MetadataRef) MetadataRef {
	if pd := cd.propByRef(ref); pd != nil {
		return MetadataRef{ID: pd.ID, Name: pd.Name}
	}
	return MetadataRef{ID: ref.ID, Name: ref.Name}
}

func propToJSON(pd *PropertyDef) *propJSON {
	pj := &propJSON{
		Name: pd.Name,
		Rules: &rulesJSON{
			Type:      pd.Type.String(),
			MaxLength: pd.MaxLength,
			MinValue:  pd.MinValue,
			MaxValue:  pd.MaxValue,
			Regex:     pd.Regex,
		},
		Role:            pd.Roles.Names(),
		NoTrackChanges:  pd.NoTrackChanges,
		DefaultValue:    pd.DefaultValue,
		NeedsValidation: pd.NeedsValidation,
	}
	if pd.MinOccurs != 0 {
		n := pd.MinOccurs
		pj.Rules.MinOccurrences = &n
	}
	if pd.MaxOccurs != 1 {
		n := pd.MaxOccurs
		pj.Rules.MaxOccurrences = &n
	}
	if pd.Index != IndexNone {
		pj.Index = pd.Index.String()
	}
	if pd.FixedColumn >= 0 {
		pj.FixedColumn = fixedColumnName(pd.FixedColumn)
	}
	if ed := pd.EnumDef; ed != nil {
		pj.EnumDef = &enumDefJSON{ID: ed.Name.ID, Name: ed.Name.Name, Items: ed.Items}
	}
	if rd := pd.RefDef; rd != nil && !(rd.Dynamic && rd.ClassRef.IsZero() && rd.ReverseProperty.IsZero() && rd.OnDelete == DeleteNone) {
		pj.RefDef = &refDefJSON{
			ClassRef: rd.ClassRef,
			Dynamic:  rd.Dynamic,
		}
		if !rd.ReverseProperty.IsZero() {
			rp := rd.ReverseProperty
			pj.RefDef.ReverseProperty = &rp
		}
		if rd.OnDelete != DeleteNone {
			pj.RefDef.OnDelete = rd.OnDelete.String()
		}
	}
	return pj
}
