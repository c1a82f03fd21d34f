package flexilite

import (
	"fmt"
	"regexp"
	"slices"
)

// Mixin attaches another class to a class definition. It is either a
// StaticMixin or a DynamicMixin.
type Mixin interface {
	// Select picks the mixin class given the selector property's value
	// (ignored by static mixins).
	Select(selector any) MetadataRef
	isMixin()
}

type StaticMixin struct {
	ClassRef MetadataRef
}

func (m *StaticMixin) Select(any) MetadataRef { return m.ClassRef }
func (*StaticMixin) isMixin()                 {}

// DynamicMixin picks its class by matching the selector property's value
// against Rules in order; the first match wins and ClassRef is the fallback.
type DynamicMixin struct {
	ClassRef     MetadataRef
	SelectorProp MetadataRef
	Rules        []MixinRule
}

type MixinRule struct {
	Regex    string
	ClassRef MetadataRef

	re *regexp.Regexp
}

func (m *DynamicMixin) Select(selector any) MetadataRef {
	s, err := coerceString(normalize(selector))
	if err == nil && selector != nil {
		for _, r := range m.Rules {
			if r.re != nil && r.re.MatchString(s) {
				return r.ClassRef
			}
		}
	}
	return m.ClassRef
}

func (*DynamicMixin) isMixin() {}

type MixinList struct {
	Items []Mixin
}

func (ml *MixinList) Len() int {
	if ml == nil {
		return 0
	}
	return len(ml.Items)
}

func compileMixinRules(rules []MixinRule) error {
	for i := range rules {
		re, err := regexp.Compile(rules[i].Regex)
		if err != nil {
			return schemaErrf("invalid mixin rule regex %q: %v", rules[i].Regex, err)
		}
		rules[i].re = re
	}
	return nil
}

// resolveSelectors returns a copy with selector property refs pinned, or ml
// itself when nothing changed.
func (ml *MixinList) resolveSelectors(resolve func(MetadataRef) MetadataRef) *MixinList {
	var out *MixinList
	for i, m := range ml.Items {
		dm, ok := m.(*DynamicMixin)
		if !ok {
			continue
		}
		sel := resolve(dm.SelectorProp)
		if sel == dm.SelectorProp {
			continue
		}
		if out == nil {
			out = &MixinList{Items: append([]Mixin(nil), ml.Items...)}
		}
		c := *dm
		c.SelectorProp = sel
		out.Items[i] = &c
	}
	if out == nil {
		return ml
	}
	return out
}

func (ml *MixinList) equal(o *MixinList) bool {
	if ml.Len() != o.Len() {
		return false
	}
	for i := range ml.Items {
		if !mixinEqual(ml.Items[i], o.Items[i]) {
			return false
		}
	}
	return true
}

func mixinEqual(a, b Mixin) bool {
	switch a := a.(type) {
	case *StaticMixin:
		b, ok := b.(*StaticMixin)
		return ok && metaRefEqual(a.ClassRef, b.ClassRef)
	case *DynamicMixin:
		b, ok := b.(*DynamicMixin)
		if !ok || !metaRefEqual(a.ClassRef, b.ClassRef) || !metaRefEqual(a.SelectorProp, b.SelectorProp) || len(a.Rules) != len(b.Rules) {
			return false
		}
		for i := range a.Rules {
			if a.Rules[i].Regex != b.Rules[i].Regex || !metaRefEqual(a.Rules[i].ClassRef, b.Rules[i].ClassRef) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Errorf("unknown mixin %T", a))
	}
}

// clone deep-copies the list so its class refs can be rewritten.
func (ml *MixinList) clone() *MixinList {
	out := &MixinList{Items: make([]Mixin, len(ml.Items))}
	for i, m := range ml.Items {
		switch m := m.(type) {
		case *StaticMixin:
			c := *m
			out.Items[i] = &c
		case *DynamicMixin:
			c := *m
			c.Rules = slices.Clone(m.Rules)
			out.Items[i] = &c
		}
	}
	return out
}

// classRefs lists every class a mixin list may point at.
func (ml *MixinList) classRefs() []*MetadataRef {
	var out []*MetadataRef
	for _, m := range ml.Items {
		switch m := m.(type) {
		case *StaticMixin:
			out = append(out, &m.ClassRef)
		case *DynamicMixin:
			if !m.ClassRef.IsZero() {
				out = append(out, &m.ClassRef)
			}
			for i := range m.Rules {
				out = append(out, &m.Rules[i].ClassRef)
			}
		}
	}
	return out
}
