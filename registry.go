package flexilite

import (
	"strings"
)

// ClassRegistry caches published class definitions for one connection. The
// registry owns every live *ClassDef; entries are replaced, never mutated.
type ClassRegistry struct {
	byID   map[int64]*ClassDef
	byName map[string]*ClassDef

	// schemaVer is the persisted schema version the cache reflects, -1 when
	// unknown.
	schemaVer int64

	loads int
}

func newClassRegistry() *ClassRegistry {
	r := &ClassRegistry{}
	r.invalidate(-1)
	return r
}

// invalidate drops every cached definition.
func (r *ClassRegistry) invalidate(ver int64) {
	r.byID = make(map[int64]*ClassDef)
	r.byName = make(map[string]*ClassDef)
	r.schemaVer = ver
}

func (r *ClassRegistry) Len() int { return len(r.byID) }

// Loads is the number of definitions parsed from storage so far.
func (r *ClassRegistry) Loads() int { return r.loads }

func (r *ClassRegistry) lookupID(id int64) *ClassDef {
	return r.byID[id]
}

func (r *ClassRegistry) lookupName(name string) *ClassDef {
	return r.byName[strings.ToLower(name)]
}

func (r *ClassRegistry) put(cd *ClassDef) {
	if old := r.byID[cd.ID]; old != nil {
		delete(r.byName, strings.ToLower(old.Name))
	}
	r.byID[cd.ID] = cd
	r.byName[strings.ToLower(cd.Name)] = cd
}

func (r *ClassRegistry) remove(id int64) {
	if old := r.byID[id]; old != nil {
		delete(r.byName, strings.ToLower(old.Name))
		delete(r.byID, id)
	}
}

// apply publishes the schema changes of a committed transaction.
func (r *ClassRegistry) apply(pending map[int64]*ClassDef, dropped map[int64]bool, ver int64) {
	for id := range dropped {
		r.remove(id)
	}
	for _, cd := range pending {
		r.put(cd)
	}
	r.schemaVer = ver
}

// ClassByID returns the definition visible to this transaction.
func (tx *Tx) ClassByID(id int64) (*ClassDef, error) {
	if tx.dropped[id] {
		return nil, notFoundErrf("class %d", id)
	}
	if cd := tx.pending[id]; cd != nil {
		return cd, nil
	}
	reg := tx.conn.registry
	if cd := reg.lookupID(id); cd != nil {
		return cd, nil
	}
	cd, err := tx.loadClass(id)
	if err != nil {
		return nil, err
	}
	if cd == nil {
		return nil, notFoundErrf("class %d", id)
	}
	reg.loads++
	reg.put(cd)
	return cd, nil
}

func (tx *Tx) ClassByName(name string) (*ClassDef, error) {
	for _, cd := range tx.pending {
		if strings.EqualFold(cd.Name, name) {
			return cd, nil
		}
	}
	if cd := tx.conn.registry.lookupName(name); cd != nil && !tx.dropped[cd.ID] && tx.pending[cd.ID] == nil {
		return cd, nil
	}
	id, ok := tx.classIDByName(name)
	if !ok || tx.dropped[id] {
		return nil, notFoundErrf("no such class").class(name)
	}
	if tx.pending[id] != nil {
		// renamed within this transaction
		return nil, notFoundErrf("no such class").class(name)
	}
	return tx.ClassByID(id)
}

// Class resolves ref by id first, then by name.
func (tx *Tx) Class(ref MetadataRef) (*ClassDef, error) {
	switch {
	case ref.ID != 0:
		return tx.ClassByID(ref.ID)
	case ref.Name != "":
		return tx.ClassByName(ref.Name)
	default:
		return nil, ruleErrf("empty class reference")
	}
}

func (tx *Tx) classExists(name string) bool {
	_, err := tx.ClassByName(name)
	return err == nil
}

// publish makes cd visible to the rest of the transaction and, after commit,
// to the connection.
func (tx *Tx) publish(cd *ClassDef) {
	if tx.pending == nil {
		tx.pending = make(map[int64]*ClassDef)
	}
	tx.pending[cd.ID] = cd
	delete(tx.dropped, cd.ID)
}

func (tx *Tx) unpublish(id int64) {
	if tx.dropped == nil {
		tx.dropped = make(map[int64]bool)
	}
	tx.dropped[id] = true
	delete(tx.pending, id)
}
