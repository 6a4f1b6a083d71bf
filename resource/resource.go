// Package resource names the things the lock manager can lock: a resource
// type from a fixed registry plus a 64-bit id within that type.
package resource

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
)

// Type is a kind of lockable resource. ID is small and stable; it sizes the
// per-type partition arrays of the lock table.
type Type struct {
	ID   int
	Name string
}

func (t Type) String() string {
	return t.Name
}

// The resource types used by the storage engine.
var (
	Node                 = Type{ID: 0, Name: "NODE"}
	Relationship         = Type{ID: 1, Name: "RELATIONSHIP"}
	Schema               = Type{ID: 2, Name: "SCHEMA"}
	Label                = Type{ID: 3, Name: "LABEL"}
	IndexEntry           = Type{ID: 4, Name: "INDEX_ENTRY"}
	LegacyIndex          = Type{ID: 5, Name: "LEGACY_INDEX"}
	RelationshipType     = Type{ID: 6, Name: "RELATIONSHIP_TYPE"}
	RelationshipGroup    = Type{ID: 7, Name: "RELATIONSHIP_GROUP"}
	DefaultResourceTypes = []Type{Node, Relationship, Schema, Label, IndexEntry, LegacyIndex, RelationshipType, RelationshipGroup}
)

// Registry is the closed set of resource types a lock manager accepts.
type Registry struct {
	types []Type
	byID  []*Type
	maxID int
}

// NewRegistry validates the given types: at least one, non-negative and
// unique ids.
func NewRegistry(types ...Type) (*Registry, error) {
	if len(types) == 0 {
		return nil, errors.New("there needs to be at least one lock resource type")
	}
	maxID := -1
	for _, t := range types {
		if t.ID < 0 {
			return nil, errors.Newf("resource type %s has negative id %d", t.Name, t.ID)
		}
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	r := &Registry{
		types: make([]Type, 0, len(types)),
		byID:  make([]*Type, maxID+1),
		maxID: maxID,
	}
	for _, t := range types {
		if r.byID[t.ID] != nil {
			return nil, errors.Newf("duplicate resource type id %d (%s)", t.ID, t.Name)
		}
		t := t
		r.byID[t.ID] = &t
		r.types = append(r.types, t)
	}
	sort.Slice(r.types, func(i, j int) bool { return r.types[i].ID < r.types[j].ID })
	return r, nil
}

// MustRegistry is NewRegistry for static type sets.
func MustRegistry(types ...Type) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// Size is one past the largest registered type id.
func (r *Registry) Size() int {
	return r.maxID + 1
}

// Types returns the registered types ordered by id.
func (r *Registry) Types() []Type {
	return append([]Type(nil), r.types...)
}

// Contains reports whether t is registered, name included.
func (r *Registry) Contains(t Type) bool {
	if t.ID < 0 || t.ID > r.maxID {
		return false
	}
	reg := r.byID[t.ID]
	return reg != nil && *reg == t
}

// Key identifies one lockable resource.
type Key struct {
	Type Type
	ID   int64
}

// NewKey is a convenience constructor.
func NewKey(t Type, id int64) Key {
	return Key{Type: t, ID: id}
}

func (k Key) String() string {
	return fmt.Sprintf("%s(%d)", k.Type.Name, k.ID)
}

// Compare orders keys by type id, then by resource id.
func (k Key) Compare(o Key) int {
	switch {
	case k.Type.ID < o.Type.ID:
		return -1
	case k.Type.ID > o.Type.ID:
		return 1
	case k.ID < o.ID:
		return -1
	case k.ID > o.ID:
		return 1
	default:
		return 0
	}
}

// Less is Compare(o) < 0.
func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

// Hash spreads the resource id over partitions of one type.
func (k Key) Hash() uint64 {
	return Hash(k.ID)
}

// Hash is the splitmix64 finalizer; resource ids are often dense so the low
// bits alone would give a poor spread.
func Hash(id int64) uint64 {
	x := uint64(id)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// SortKeys sorts keys in place in Compare order so callers that lock several
// resources can acquire them in a consistent global order.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
