package flexilite

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// ValidationMode decides what happens when existing data violates a
// tightened property definition.
type ValidationMode int

const (
	// ValidateDefault defers to Options.DefaultValidationMode, then ABORT.
	ValidateDefault ValidationMode = iota
	// ValidateAbort fails the alteration on the first violating object.
	ValidateAbort
	// ValidateIgnore commits the alteration and flags violating objects.
	ValidateIgnore
)

func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ABORT":
		return ValidateAbort, nil
	case "IGNORE":
		return ValidateIgnore, nil
	case "":
		return ValidateDefault, nil
	}
	return ValidateDefault, ruleErrf("unknown validation mode %q", s)
}

func (m ValidationMode) String() string {
	switch m {
	case ValidateAbort:
		return "ABORT"
	case ValidateIgnore:
		return "IGNORE"
	default:
		return "DEFAULT"
	}
}

type AlterOptions struct {
	Mode ValidationMode
}

// PropertyChange describes what an alteration did to one property.
type PropertyChange struct {
	Property    string
	PropID      int64
	Status      ChangeStatus
	RenamedFrom string
	OldType     PropertyType
	NewType     PropertyType
	Transition  Transition
	Scanned     bool
}

type AlterResult struct {
	Class   *ClassDef
	Changes []PropertyChange

	Added    int
	Modified int
	Deleted  int

	// Scanned is the number of objects checked against the new definition.
	Scanned        int
	InvalidObjects []int64
}

func (r *AlterResult) count() {
	r.Added, r.Modified, r.Deleted = 0, 0, 0
	for _, ch := range r.Changes {
		switch ch.Status {
		case StatusAdded:
			r.Added++
		case StatusModified:
			r.Modified++
		case StatusDeleted:
			r.Deleted++
		}
	}
}

// classMerge is the outcome of merging a class definition into the current
// one, before anything touches storage.
type classMerge struct {
	merged  *ClassDef
	changes []PropertyChange
	deleted []*PropertyDef
	scan    []*PropertyDef
	changed bool
}

// mergeClassDefs merges newDef into old. Properties absent from newDef are
// kept as they are. The result shares unchanged collections with old but
// never shares a *PropertyDef.
func mergeClassDefs(old, newDef *ClassDef) (*classMerge, error) {
	m := &classMerge{}
	cd := newClassDef(old.Name)
	cd.ID = old.ID
	cd.IsSystem = old.IsSystem
	cd.Unresolved = old.Unresolved
	cd.Maint = old.Maint
	cd.MaintProps = slices.Clone(old.MaintProps)

	cd.AllowAnyProps = old.AllowAnyProps
	if newDef.explicit&blockAllowAny != 0 && newDef.AllowAnyProps != old.AllowAnyProps {
		cd.AllowAnyProps = newDef.AllowAnyProps
		m.changed = true
	}
	cd.AsTable = old.AsTable
	if newDef.explicit&blockAsTable != 0 && newDef.AsTable != old.AsTable {
		cd.AsTable = newDef.AsTable
		m.changed = true
	}

	matched := make(map[*PropertyDef]bool)
	var props []*PropertyDef
	for _, np := range newDef.Props() {
		var op *PropertyDef
		if np.ID != 0 {
			op = old.PropByID(np.ID)
			if op == nil {
				return nil, notFoundErrf("property id %d does not belong to the class", np.ID).class(old.Name).prop(np.Name)
			}
		} else {
			op = old.Prop(np.Name)
		}
		if op != nil && matched[op] {
			return nil, nameErrf("property defined twice").class(old.Name).prop(op.Name)
		}

		switch {
		case np.Drop:
			if op == nil {
				return nil, ruleErrf("cannot drop non-existing property").class(old.Name).prop(np.Name)
			}
			matched[op] = true
			dp := op.clone()
			dp.Status = StatusDeleted
			m.deleted = append(m.deleted, dp)
			m.changes = append(m.changes, PropertyChange{
				Property: op.Name, PropID: op.ID, Status: StatusDeleted,
				OldType: op.Type, NewType: op.Type, Transition: TransitionSame,
			})

		case op == nil:
			if np.RenameTo != "" {
				return nil, ruleErrf("cannot rename a property that does not exist yet").class(old.Name).prop(np.Name)
			}
			p := np.clone()
			p.ID, p.ClassID = 0, old.ID
			p.Status = StatusAdded
			p.NeedsValidation = false
			props = append(props, p)
			m.changes = append(m.changes, PropertyChange{
				Property: p.Name, Status: StatusAdded,
				OldType: p.Type, NewType: p.Type, Transition: TransitionSame,
			})

		default:
			matched[op] = true
			p, ch, err := mergeProp(old, op, np)
			if err != nil {
				return nil, err
			}
			props = append(props, p)
			if ch.Status != StatusUnmodified {
				m.changes = append(m.changes, *ch)
			}
			if ch.Scanned {
				m.scan = append(m.scan, p)
			}
			cd.noteIndexChange(op, p)
		}
	}
	for _, op := range old.Props() {
		if !matched[op] {
			p := op.clone()
			p.Status = StatusUnmodified
			props = append(props, p)
		}
	}
	for _, p := range props {
		if !cd.addProp(p) {
			return nil, nameErrf("duplicate property name").class(old.Name).prop(p.Name)
		}
	}

	cd.Special = pickSlots(old.Special, newDef.Special, newDef.explicit&blockSpecial != 0, cd)
	cd.Range = pickSlots(old.Range, newDef.Range, newDef.explicit&blockRange != 0, cd)
	cd.FullText = pickSlots(old.FullText, newDef.FullText, newDef.explicit&blockFullText != 0, cd)
	if *cd.Range != *old.Range {
		cd.Maint |= MaintRangeIndex
	}
	if *cd.FullText != *old.FullText {
		cd.Maint |= MaintFullText
	}
	if cd.Special != old.Special || cd.Range != old.Range || cd.FullText != old.FullText {
		m.changed = true
	}

	cd.Mixins = old.Mixins
	if newDef.explicit&blockMixins != 0 && !newDef.Mixins.equal(old.Mixins) {
		cd.Mixins = newDef.Mixins
		m.changed = true
	}

	if err := cd.finalize(); err != nil {
		return nil, err
	}
	for _, p := range cd.props {
		if op := old.PropByID(p.ID); op != nil && p.ID != 0 {
			if op.RangeSlot != p.RangeSlot {
				cd.Maint |= MaintRangeIndex
			}
			if op.FullTextSlot != p.FullTextSlot {
				cd.Maint |= MaintFullText
			}
		}
	}
	for _, dm := range cd.Mixins.Items {
		if dm, ok := dm.(*DynamicMixin); ok && cd.propByRef(dm.SelectorProp) == nil {
			return nil, schemaErrf("mixin selector refers to unknown property %s", dm.SelectorProp).class(old.Name)
		}
	}

	if len(m.changes) > 0 || cd.Maint != old.Maint || old.Unresolved {
		m.changed = true
	}
	m.merged = cd
	return m, nil
}

// mergeProp applies the new definition np onto the existing property op.
func mergeProp(old *ClassDef, op, np *PropertyDef) (*PropertyDef, *PropertyChange, error) {
	p := np.clone()
	p.ID, p.ClassID = op.ID, op.ClassID
	p.Name = op.Name
	p.Drop = false
	p.RenameTo = ""
	p.NeedsValidation = op.NeedsValidation || np.NeedsValidation

	ch := &PropertyChange{
		Property: op.Name, PropID: op.ID,
		OldType: op.Type, NewType: p.Type,
	}

	newName := op.Name
	if np.RenameTo != "" {
		newName = np.RenameTo
	} else if np.ID != 0 && np.Name != op.Name {
		newName = np.Name
	}
	if newName != op.Name {
		if err := checkIdentifier("property", newName); err != nil {
			return nil, nil, err.(*Error).class(old.Name).prop(op.Name)
		}
		if other := old.Prop(newName); other != nil && other != op {
			return nil, nil, nameErrf("cannot rename to %q: property exists", newName).class(old.Name).prop(op.Name)
		}
		p.Name = newName
		ch.Property = newName
		ch.RenamedFrom = op.Name
	}

	ch.Transition = CheckTransition(op.Type, p.Type)
	switch ch.Transition {
	case TransitionForbidden:
		return nil, nil, errf(ErrTypeTransition, nil, "cannot change type from %s to %s", op.Type, p.Type).class(old.Name).prop(op.Name)
	case TransitionNeedsValidation:
		ch.Scanned = true
	}
	if p.constraintsTightened(op) {
		ch.Scanned = true
	}
	if ch.Scanned {
		p.NeedsValidation = false
	}

	if p.sameDefinition(op) && p.NeedsValidation == op.NeedsValidation {
		ch.Status = StatusUnmodified
		p.Status = StatusUnmodified
	} else {
		ch.Status = StatusModified
		p.Status = StatusModified
	}
	return p, ch, nil
}

// noteIndexChange flags indexes that no longer match the stored data.
func (cd *ClassDef) noteIndexChange(op, p *PropertyDef) {
	typeChanged := op.Type != p.Type
	if (p.IsIndexed() && (typeChanged || !op.IsIndexed())) || (op.IsIndexed() && !p.IsIndexed()) {
		cd.Maint |= MaintValueIndex
		if !slices.Contains(cd.MaintProps, p.ID) {
			cd.MaintProps = append(cd.MaintProps, p.ID)
		}
	}
	if (op.Index == IndexFullText) != (p.Index == IndexFullText) || (typeChanged && p.Index == IndexFullText) {
		cd.Maint |= MaintFullText
	}
	if typeChanged && op.RangeSlot >= 0 {
		cd.Maint |= MaintRangeIndex
	}
}

type slotArray interface {
	SpecialProps | RangeProps | FullTextProps
}

// pickSlots keeps the old collection pointer unless the new one differs.
// References to properties that no longer exist are cleared from carried-over
// collections.
func pickSlots[T slotArray](old, new *T, explicit bool, cd *ClassDef) *T {
	if explicit {
		oldRefs, newRefs := slotRefs(old), slotRefs(new)
		same := true
		for i := range oldRefs {
			if !metaRefEqual(oldRefs[i], newRefs[i]) {
				same = false
				break
			}
		}
		if same {
			return old
		}
		return new
	}
	var out *T
	refs := slotRefs(old)
	for i, ref := range refs {
		if !ref.IsZero() && cd.propByRef(ref) == nil {
			if out == nil {
				c := *old
				out = &c
			}
			slotRefs(out)[i] = MetadataRef{}
		}
	}
	if out == nil {
		return old
	}
	return out
}

func slotRefs[T slotArray](p *T) []MetadataRef {
	switch p := any(p).(type) {
	case *SpecialProps:
		return p[:]
	case *RangeProps:
		return p[:]
	case *FullTextProps:
		return p[:]
	}
	panic("unreachable")
}

func (tx *Tx) validationMode(m ValidationMode) ValidationMode {
	if m == ValidateDefault {
		m = tx.db.opt.DefaultValidationMode
	}
	if m == ValidateDefault {
		m = ValidateAbort
	}
	return m
}

// CreateClass defines a new class from its JSON definition.
func (c *Conn) CreateClass(name string, data []byte) (*ClassDef, error) {
	def, err := ParseClassJSON(data)
	if err != nil {
		return nil, err
	}
	var cd *ClassDef
	err = c.Write(func(tx *Tx) error {
		var err error
		cd, err = tx.createClass(name, def)
		return err
	})
	return cd, err
}

func (tx *Tx) createClass(name string, def *ClassDef) (*ClassDef, error) {
	if err := checkIdentifier("class", name); err != nil {
		return nil, err
	}
	if tx.classExists(name) {
		return nil, nameErrf("class already exists").class(name)
	}
	// ids in a definition copied from another database mean nothing here
	def.mapSlotRefs(func(ref MetadataRef) MetadataRef {
		if pd := def.propByRef(ref); pd != nil {
			return MetadataRef{Name: pd.Name}
		}
		return ref
	})
	for _, pd := range def.props {
		if pd.Drop || pd.RenameTo != "" {
			return nil, ruleErrf("alteration directives are not allowed in a new class").class(name).prop(pd.Name)
		}
		pd.ID = 0
		pd.Status = StatusAdded
	}
	def.reindex()
	def.Name = name
	if err := tx.persistClass(nil, def, nil); err != nil {
		return nil, err
	}
	tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: class created", slog.String("class", name), slog.Int64("id", def.ID), slog.Int("props", len(def.props)))
	return def, nil
}

// AlterClass merges a new definition into an existing class.
func (c *Conn) AlterClass(name string, data []byte, opts AlterOptions) (*AlterResult, error) {
	def, err := ParseClassJSON(data)
	if err != nil {
		return nil, err
	}
	var res *AlterResult
	err = c.Write(func(tx *Tx) error {
		var err error
		res, err = tx.alterClass(name, def, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (tx *Tx) alterClass(name string, def *ClassDef, opts AlterOptions) (*AlterResult, error) {
	old, err := tx.ClassByName(name)
	if err != nil {
		return nil, err
	}
	m, err := mergeClassDefs(old, def)
	if err != nil {
		return nil, err
	}
	res := &AlterResult{Class: old, Changes: m.changes}
	res.count()
	if !m.changed {
		return res, nil
	}

	mode := tx.validationMode(opts.Mode)
	if len(m.scan) > 0 {
		if err := tx.validateExisting(old, m.merged, m.scan, mode, res); err != nil {
			return nil, err
		}
	}
	if err := tx.persistClass(old, m.merged, m.deleted); err != nil {
		return nil, err
	}
	for i := range res.Changes {
		if res.Changes[i].PropID == 0 {
			if pd := m.merged.Prop(res.Changes[i].Property); pd != nil {
				res.Changes[i].PropID = pd.ID
			}
		}
	}
	res.Class = m.merged
	tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: class altered",
		slog.String("class", old.Name),
		slog.Int("added", res.Added),
		slog.Int("modified", res.Modified),
		slog.Int("deleted", res.Deleted),
		slog.Int("scanned", res.Scanned),
		slog.Int("invalid", len(res.InvalidObjects)))
	return res, nil
}

// RenameClass changes a class name. Objects are untouched.
func (c *Conn) RenameClass(oldName, newName string) error {
	return c.Write(func(tx *Tx) error {
		return tx.renameClass(oldName, newName)
	})
}

func (tx *Tx) renameClass(oldName, newName string) error {
	old, err := tx.ClassByName(oldName)
	if err != nil {
		return err
	}
	if err := checkIdentifier("class", newName); err != nil {
		return err
	}
	if !strings.EqualFold(oldName, newName) && tx.classExists(newName) {
		return nameErrf("class already exists").class(newName)
	}
	cd := old.shallowClone()
	cd.Name = newName
	return tx.persistClass(old, cd, nil)
}

// DropClass deletes a class and all of its objects. Reference policies of
// other classes pointing at those objects apply.
func (c *Conn) DropClass(name string) error {
	return c.Write(func(tx *Tx) error {
		return tx.dropClass(name)
	})
}

func (tx *Tx) dropClass(name string) error {
	cd, err := tx.ClassByName(name)
	if err != nil {
		return err
	}
	if cd.IsSystem {
		return ruleErrf("cannot drop a system class").class(name)
	}
	ids := tx.classObjectIDs(cd.ID)
	for _, id := range ids {
		if !tx.objectExists(id) {
			continue // removed by a cascade
		}
		if err := tx.deleteObject(id, nil); err != nil {
			return err
		}
	}
	for _, pd := range cd.props {
		if pd.ID != 0 {
			tx.deleteRange(bucketValueIndex, RawPrefix(valueIndexPrefix(pd.ID)))
		}
	}
	tx.deleteRange(bucketFullText, RawPrefix(idKey(cd.ID)))
	tx.deleteClassRecord(cd)
	tx.bumpSchemaVer()
	tx.unpublish(cd.ID)
	tx.logger().LogAttrs(context.Background(), slog.LevelInfo, "flexilite: class dropped", slog.String("class", cd.Name), slog.Int("objects", len(ids)))
	return nil
}

// persistClass allocates ids, removes the data of deleted properties, writes
// the class and publishes it to the transaction. old is nil for new classes.
func (tx *Tx) persistClass(old, cd *ClassDef, deleted []*PropertyDef) error {
	tx.markWritten()
	oldName := ""
	if old == nil {
		cd.ID = tx.nextID(metaLastClassID)
	} else {
		oldName = old.Name
	}
	for _, pd := range cd.props {
		pd.ClassID = cd.ID
		if pd.ID == 0 {
			pd.ID = tx.nextID(metaLastPropID)
		}
	}
	cd.reindex()
	cd.resolveRefs()
	if err := tx.resolveClassRefs(cd); err != nil {
		return err
	}

	for _, pd := range deleted {
		tx.dropPropertyData(cd, pd)
	}
	if len(deleted) > 0 {
		cd.MaintProps = slices.DeleteFunc(cd.MaintProps, func(id int64) bool {
			return cd.PropByID(id) == nil
		})
		if len(cd.MaintProps) == 0 {
			cd.Maint &^= MaintValueIndex
		}
	}

	tx.saveClass(cd, oldName)
	tx.bumpSchemaVer()
	tx.publish(cd)
	return nil
}

// resolveClassRefs pins class ids in reference definitions and mixins.
// References to missing classes mark the class Unresolved; mixins must
// point at existing classes.
func (tx *Tx) resolveClassRefs(cd *ClassDef) error {
	lookup := func(ref MetadataRef) (int64, string, bool) {
		if ref.ID == cd.ID || (ref.ID == 0 && strings.EqualFold(ref.Name, cd.Name)) {
			return cd.ID, cd.Name, true
		}
		target, err := tx.Class(ref)
		if err != nil {
			return 0, "", false
		}
		return target.ID, target.Name, true
	}

	cd.Unresolved = false
	for _, pd := range cd.props {
		rd := pd.RefDef
		if rd == nil || rd.ClassRef.IsZero() {
			continue
		}
		ref := rd.ClassRef
		if err := ref.Resolve(lookup); err != nil {
			cd.Unresolved = true
			continue
		}
		if ref != rd.ClassRef {
			c := *rd
			c.ClassRef = ref
			pd.RefDef = &c
		}
	}

	var refs []MetadataRef
	for _, m := range cd.Mixins.Items {
		switch m := m.(type) {
		case *StaticMixin:
			refs = append(refs, m.ClassRef)
		case *DynamicMixin:
			refs = append(refs, m.ClassRef)
			for _, r := range m.Rules {
				refs = append(refs, r.ClassRef)
			}
		}
	}
	dirty := false
	for _, ref := range refs {
		r := ref
		if err := r.Resolve(lookup); err != nil {
			return notFoundErrf("mixin class %s does not exist", ref).class(cd.Name)
		}
		if r != ref {
			dirty = true
		}
	}
	if dirty {
		ml := cd.Mixins.clone()
		for _, p := range ml.classRefs() {
			ensure(p.Resolve(lookup))
		}
		cd.Mixins = ml
	}
	return nil
}
