package flexilite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ChangeStatus marks a definition's state relative to the persisted schema.
type ChangeStatus uint8

const (
	StatusUnmodified ChangeStatus = iota
	StatusAdded
	StatusModified
	StatusDeleted
)

func (s ChangeStatus) String() string {
	switch s {
	case StatusUnmodified:
		return "unmodified"
	case StatusAdded:
		return "added"
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MetadataRef is an id-or-name handle. ID 0 means the name hasn't been
// resolved yet.
type MetadataRef struct {
	ID     int64
	Name   string
	Status ChangeStatus
}

func RefByID(id int64) MetadataRef     { return MetadataRef{ID: id} }
func RefByName(name string) MetadataRef { return MetadataRef{Name: name} }

func (r MetadataRef) IsZero() bool   { return r.ID == 0 && r.Name == "" }
func (r MetadataRef) Resolved() bool { return r.ID != 0 }

// Matches compares by id when both sides have one, by name otherwise.
func (r MetadataRef) Matches(o MetadataRef) bool {
	if r.ID != 0 && o.ID != 0 {
		return r.ID == o.ID
	}
	return r.Name != "" && strings.EqualFold(r.Name, o.Name)
}

// Resolve fills in the id (and canonical name) using lookup.
func (r *MetadataRef) Resolve(lookup func(ref MetadataRef) (int64, string, bool)) error {
	if r.IsZero() {
		return nil
	}
	id, name, ok := lookup(*r)
	if !ok {
		return notFoundErrf("cannot resolve %s", r)
	}
	r.ID, r.Name = id, name
	return nil
}

func (r MetadataRef) String() string {
	switch {
	case r.ID != 0 && r.Name != "":
		return fmt.Sprintf("%s(%d)", r.Name, r.ID)
	case r.ID != 0:
		return "#" + strconv.FormatInt(r.ID, 10)
	case r.Name != "":
		return r.Name
	default:
		return "<none>"
	}
}

type metaRefJSON struct {
	ID   int64  `json:"$id,omitempty"`
	Name string `json:"$name,omitempty"`
}

func (r MetadataRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(metaRefJSON{ID: r.ID, Name: r.Name})
}

// UnmarshalJSON accepts {"$id": n}, {"$name": s}, both, a bare string or a
// bare integer.
func (r *MetadataRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = MetadataRef{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = MetadataRef{Name: s}
		return nil
	case data[0] == '{':
		var m metaRefJSON
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if m.ID < 0 {
			return fmt.Errorf("negative $id %d", m.ID)
		}
		*r = MetadataRef{ID: m.ID, Name: m.Name}
		return nil
	default:
		id, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid metadata reference %s", data)
		}
		*r = MetadataRef{ID: id}
		return nil
	}
}
