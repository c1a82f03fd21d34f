package flexilite

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// propertyDef parses the JSON definition of a single property.
func propertyDef(className, propName string, data []byte) (*ClassDef, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	wrapped, err := json.Marshal(map[string]any{
		"properties": map[string]json.RawMessage{propName: data},
	})
	if err != nil {
		return nil, errf(ErrSchemaSyntax, err, "invalid property definition").class(className).prop(propName)
	}
	def, err := ParseClassJSON(wrapped)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// alterOneProp runs an alteration that touches only the property p, a
// modified copy of an existing property definition.
func (tx *Tx) alterOneProp(cd *ClassDef, p *PropertyDef, opts AlterOptions) (*AlterResult, error) {
	def := newClassDef(cd.Name)
	def.addProp(p)
	return tx.alterClass(cd.Name, def, opts)
}

func (tx *Tx) existingProp(className, propName string) (*ClassDef, *PropertyDef, error) {
	cd, err := tx.ClassByName(className)
	if err != nil {
		return nil, nil, err
	}
	pd := cd.Prop(propName)
	if pd == nil {
		return nil, nil, notFoundErrf("no such property").class(cd.Name).prop(propName)
	}
	return cd, pd, nil
}

// CreateProperty adds one property to a class.
func (c *Conn) CreateProperty(className, propName string, data []byte, opts AlterOptions) (*AlterResult, error) {
	def, err := propertyDef(className, propName, data)
	if err != nil {
		return nil, err
	}
	var res *AlterResult
	err = c.Write(func(tx *Tx) error {
		cd, err := tx.ClassByName(className)
		if err != nil {
			return err
		}
		if cd.Prop(propName) != nil {
			return nameErrf("property already exists").class(cd.Name).prop(propName)
		}
		res, err = tx.alterClass(className, def, opts)
		return err
	})
	return res, err
}

// AlterProperty replaces the definition of one existing property.
func (c *Conn) AlterProperty(className, propName string, data []byte, opts AlterOptions) (*AlterResult, error) {
	def, err := propertyDef(className, propName, data)
	if err != nil {
		return nil, err
	}
	var res *AlterResult
	err = c.Write(func(tx *Tx) error {
		if _, _, err := tx.existingProp(className, propName); err != nil {
			return err
		}
		res, err = tx.alterClass(className, def, opts)
		return err
	})
	return res, err
}

// DropProperty deletes a property together with its values.
func (c *Conn) DropProperty(className, propName string) error {
	return c.Write(func(tx *Tx) error {
		return tx.dropProperty(className, propName)
	})
}

func (tx *Tx) dropProperty(className, propName string) error {
	cd, pd, err := tx.existingProp(className, propName)
	if err != nil {
		return err
	}
	p := pd.clone()
	p.Drop = true
	_, err = tx.alterOneProp(cd, p, AlterOptions{})
	return err
}

// RenameProperty renames a property. Stored values are keyed by property id
// and stay where they are.
func (c *Conn) RenameProperty(className, oldName, newName string) error {
	return c.Write(func(tx *Tx) error {
		cd, pd, err := tx.existingProp(className, oldName)
		if err != nil {
			return err
		}
		p := pd.clone()
		p.RenameTo = newName
		_, err = tx.alterOneProp(cd, p, AlterOptions{})
		return err
	})
}

type MergeOptions struct {
	// Separator joins source values when the target holds a single value.
	Separator string
	// KeepSources leaves the source properties in place.
	KeepSources bool
}

// MergeProperties copies the values of sources, in order, into target. A
// multi-valued target receives every occurrence; a single-valued one gets
// the values joined as text. Sources are dropped unless opts.KeepSources.
func (c *Conn) MergeProperties(className string, sources []string, target string, opts MergeOptions) error {
	if len(sources) == 0 {
		return ruleErrf("no source properties").class(className)
	}
	sep := opts.Separator
	if sep == "" {
		sep = " "
	}
	return c.Write(func(tx *Tx) error {
		cd, tp, err := tx.existingProp(className, target)
		if err != nil {
			return err
		}
		var srcs []*PropertyDef
		for _, name := range sources {
			_, sp, err := tx.existingProp(className, name)
			if err != nil {
				return err
			}
			if sp.ID == tp.ID {
				return ruleErrf("target is also a source").class(cd.Name).prop(target)
			}
			srcs = append(srcs, sp)
		}

		for _, id := range tx.classObjectIDs(cd.ID) {
			obj, err := tx.loadObject(id)
			if err != nil {
				return err
			}
			var occs []any
			for _, sp := range srcs {
				for _, v := range obj.occurrences(sp) {
					occs = append(occs, sp.Type.Present(v))
				}
			}
			if len(occs) == 0 {
				continue
			}
			var v any = occs
			if !tp.IsMulti() {
				parts := make([]string, 0, len(occs))
				for _, o := range occs {
					s, err := coerceString(normalize(o))
					if err != nil {
						return errf(ErrValidation, err, "cannot merge value").class(cd.Name).prop(target).object(id)
					}
					parts = append(parts, s)
				}
				v = strings.Join(parts, sep)
			}
			if err := tx.updateObject(id, 0, nil, map[string]any{tp.Name: v}); err != nil {
				return err
			}
		}
		if !opts.KeepSources {
			for _, sp := range srcs {
				if err := tx.dropProperty(cd.Name, sp.Name); err != nil {
					return err
				}
			}
		}
		tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: properties merged",
			slog.String("class", cd.Name), slog.String("target", tp.Name), slog.Any("sources", sources))
		return nil
	})
}

// SplitProperty distributes the text of source over targets using the
// capture groups of pattern: named groups go to the property of that name,
// unnamed ones to targets by position. Objects whose value does not match
// are left alone.
func (c *Conn) SplitProperty(className, source, pattern string, targets []string, keepSource bool) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errf(ErrConstraintRule, err, "invalid pattern").class(className).prop(source)
	}
	groups := re.SubexpNames()[1:]
	dest := make([]string, len(groups))
	for i, g := range groups {
		switch {
		case g != "":
			dest[i] = g
		case i < len(targets):
			dest[i] = targets[i]
		}
	}
	return c.Write(func(tx *Tx) error {
		cd, sp, err := tx.existingProp(className, source)
		if err != nil {
			return err
		}
		for _, name := range dest {
			if name == "" {
				continue
			}
			if _, _, err := tx.existingProp(className, name); err != nil {
				return err
			}
		}
		for _, id := range tx.classObjectIDs(cd.ID) {
			obj, err := tx.loadObject(id)
			if err != nil {
				return err
			}
			occs := obj.occurrences(sp)
			if len(occs) == 0 {
				continue
			}
			s, err := coerceString(sp.Type.Present(occs[0]))
			if err != nil {
				continue
			}
			m := re.FindStringSubmatch(s)
			if m == nil {
				continue
			}
			values := make(map[string]any)
			for i, name := range dest {
				if name != "" && m[i+1] != "" {
					values[name] = m[i+1]
				}
			}
			if len(values) == 0 {
				continue
			}
			if err := tx.updateObject(id, 0, nil, values); err != nil {
				return err
			}
		}
		if !keepSource {
			return tx.dropProperty(cd.Name, sp.Name)
		}
		return nil
	})
}
