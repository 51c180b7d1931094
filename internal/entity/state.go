package entity

import (
	"encoding/json"
	"fmt"
)

// SelectID derives the identity of a record. It must be pure: calling it
// twice on the same record returns the same id.
type SelectID[T any, ID comparable] func(T) ID

// Patch produces the changed version of an existing record. A nil Patch is an
// empty change set and leaves the record untouched.
type Patch[T any] func(T) T

// Update is a sparse change applied to one existing entity.
// Updates never create entities.
type Update[T any, ID comparable] struct {
	ID      ID
	Changes Patch[T]
}

// State is the normalized container: ordered ids plus an id -> record map.
//
// INVARIANTS (maintained by every operation except the documented Normalize
// duplicate-id policy):
//   - the keys of entities are exactly the values of ids
//   - no id appears twice in ids
//
// State values are immutable once built. Use the package operations to derive
// new states.
type State[T any, ID comparable] struct {
	ids      []ID
	entities map[ID]T
}

// Empty returns a State with no records.
func Empty[T any, ID comparable]() *State[T, ID] {
	return &State[T, ID]{
		ids:      []ID{},
		entities: map[ID]T{},
	}
}

// IDs returns the ordered id sequence. The slice is shared; do not modify it.
func (s *State[T, ID]) IDs() []ID {
	return s.ids
}

// Entities returns the id -> record map. The map is shared; do not modify it.
func (s *State[T, ID]) Entities() map[ID]T {
	return s.entities
}

// Len returns the number of ids.
func (s *State[T, ID]) Len() int {
	return len(s.ids)
}

// Get returns the record stored under id.
func (s *State[T, ID]) Get(id ID) (T, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// Has reports whether id is present.
func (s *State[T, ID]) Has(id ID) bool {
	_, ok := s.entities[id]
	return ok
}

// All returns the records in id order.
// Returns an empty slice (not nil) for an empty state.
func (s *State[T, ID]) All() []T {
	out := make([]T, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.entities[id])
	}
	return out
}

// stateJSON is the persisted shape of a State.
type stateJSON[T any, ID comparable] struct {
	IDs      []ID     `json:"ids"`
	Entities map[ID]T `json:"entities"`
}

// MarshalJSON encodes the state as {"ids": [...], "entities": {...}}.
func (s *State[T, ID]) MarshalJSON() ([]byte, error) {
	ids := s.ids
	if ids == nil {
		ids = []ID{}
	}
	entities := s.entities
	if entities == nil {
		entities = map[ID]T{}
	}
	return json.Marshal(stateJSON[T, ID]{IDs: ids, Entities: entities})
}

// UnmarshalJSON decodes a state written by MarshalJSON.
// Returns an error if an id has no matching entity or an entity has no id.
func (s *State[T, ID]) UnmarshalJSON(data []byte) error {
	var raw stateJSON[T, ID]
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode entity state: %w", err)
	}
	if raw.IDs == nil {
		raw.IDs = []ID{}
	}
	if raw.Entities == nil {
		raw.Entities = map[ID]T{}
	}

	seen := make(map[ID]struct{}, len(raw.IDs))
	for _, id := range raw.IDs {
		if _, ok := raw.Entities[id]; !ok {
			return fmt.Errorf("decode entity state: id %v has no entity", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != len(raw.Entities) {
		return fmt.Errorf("decode entity state: %d entities but %d distinct ids", len(raw.Entities), len(seen))
	}

	s.ids = raw.IDs
	s.entities = raw.Entities
	return nil
}

// cloneEntities copies m with room for extra additional keys.
// Never returns nil.
func cloneEntities[T any, ID comparable](m map[ID]T, extra int) map[ID]T {
	out := make(map[ID]T, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneIDs copies ids with capacity for extra appended ids.
func cloneIDs[ID comparable](ids []ID, extra int) []ID {
	out := make([]ID, len(ids), len(ids)+extra)
	copy(out, ids)
	return out
}
