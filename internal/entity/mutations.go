package entity

import "slices"

// AddOne inserts e if its id is absent, then re-sorts.
// Returns s unchanged when the id is already present.
func AddOne[T any, ID comparable](s *State[T, ID], e T, selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	id := selectID(e)
	if _, ok := s.entities[id]; ok {
		return s
	}

	entities := cloneEntities(s.entities, 1)
	entities[id] = e
	ids := append(cloneIDs(s.ids, 1), id)

	ids, _ = arrange(s.ids, ids, entities, resolve(c))
	return &State[T, ID]{ids: ids, entities: entities}
}

// AddMany inserts every record whose id is absent and re-sorts once.
// Within the batch the first record for an id wins, as with repeated AddOne.
// Returns s unchanged when records is empty or every id is already present.
func AddMany[T any, ID comparable](s *State[T, ID], records []T, selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	var (
		entities map[ID]T
		ids      []ID
	)

	for _, e := range records {
		id := selectID(e)
		if _, ok := s.entities[id]; ok {
			continue
		}
		if entities == nil {
			entities = cloneEntities(s.entities, len(records))
			ids = cloneIDs(s.ids, len(records))
		} else if _, ok := entities[id]; ok {
			continue
		}
		entities[id] = e
		ids = append(ids, id)
	}

	if entities == nil {
		return s
	}

	ids, _ = arrange(s.ids, ids, entities, resolve(c))
	return &State[T, ID]{ids: ids, entities: entities}
}

// UpsertOne inserts e, or replaces the record already stored under its id.
// A replaced record keeps its position unless the comparer moves it.
// Always returns a new State.
func UpsertOne[T any, ID comparable](s *State[T, ID], e T, selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	return UpsertMany(s, []T{e}, selectID, c)
}

// UpsertMany applies UpsertOne to every record and re-sorts once.
// Returns s unchanged only when records is empty.
func UpsertMany[T any, ID comparable](s *State[T, ID], records []T, selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	if len(records) == 0 {
		return s
	}

	entities := cloneEntities(s.entities, len(records))
	var ids []ID // allocated on first insertion

	for _, e := range records {
		id := selectID(e)
		if _, exists := entities[id]; !exists {
			if ids == nil {
				ids = cloneIDs(s.ids, len(records))
			}
			ids = append(ids, id)
		}
		entities[id] = e
	}

	if ids == nil {
		ids = cloneIDs(s.ids, 0)
	}
	ids, _ = arrange(s.ids, ids, entities, resolve(c))
	return &State[T, ID]{ids: ids, entities: entities}
}

// SetAll discards every record in the given state and replaces them with
// records, normalized and sorted. Always returns a new State, even for an empty input.
func SetAll[T any, ID comparable](_ *State[T, ID], records []T, selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	return Normalize(records, selectID, resolve(c))
}

// UpdateOne shallow-merges u.Changes into the record stored under u.ID.
// Returns s unchanged when the id is absent or u.Changes is nil.
//
// When selectID is non-nil and the patched record selects a different id, the
// record is re-keyed in place; an existing record with the new id is replaced.
func UpdateOne[T any, ID comparable](s *State[T, ID], u Update[T, ID], selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	return UpdateMany(s, []Update[T, ID]{u}, selectID, c)
}

// UpdateMany applies each update independently, skipping ids that are not
// present and updates with nil Changes, then re-sorts once.
// Returns s unchanged when no update applied.
func UpdateMany[T any, ID comparable](s *State[T, ID], updates []Update[T, ID], selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	var (
		entities map[ID]T // working copy, allocated on first applied update
		ids      []ID     // working copy, allocated on first re-key
	)

	for _, u := range updates {
		if u.Changes == nil {
			continue
		}
		lookup := s.entities
		if entities != nil {
			lookup = entities
		}
		prev, ok := lookup[u.ID]
		if !ok {
			continue
		}
		if entities == nil {
			entities = cloneEntities(s.entities, 0)
		}

		next := u.Changes(prev)
		newID := u.ID
		if selectID != nil {
			newID = selectID(next)
		}
		if newID != u.ID {
			if ids == nil {
				ids = cloneIDs(s.ids, 0)
			}
			delete(entities, u.ID)
			ids = rekey(ids, u.ID, newID)
		}
		entities[newID] = next
	}

	if entities == nil {
		return s
	}
	if ids == nil {
		ids = cloneIDs(s.ids, 0)
	}

	ids, _ = arrange(s.ids, ids, entities, resolve(c))
	return &State[T, ID]{ids: ids, entities: entities}
}

// rekey replaces from with to at from's position, dropping any other
// occurrence of to. ids is modified in place.
func rekey[ID comparable](ids []ID, from, to ID) []ID {
	out := ids[:0]
	for _, id := range ids {
		switch id {
		case to:
			continue
		case from:
			out = append(out, to)
		default:
			out = append(out, id)
		}
	}
	return out
}

// RemoveOne deletes the record stored under id.
// Returns s unchanged when the id is absent.
func RemoveOne[T any, ID comparable](s *State[T, ID], id ID) *State[T, ID] {
	return RemoveMany(s, []ID{id})
}

// RemoveMany deletes every listed id in one pass. Order of the remaining ids
// is preserved. Returns s unchanged when none of the ids are present.
func RemoveMany[T any, ID comparable](s *State[T, ID], keys []ID) *State[T, ID] {
	var entities map[ID]T
	for _, id := range keys {
		if _, ok := s.entities[id]; !ok {
			continue
		}
		if entities == nil {
			entities = cloneEntities(s.entities, 0)
		}
		delete(entities, id)
	}

	if entities == nil {
		return s
	}

	ids := make([]ID, 0, len(entities))
	for _, id := range s.ids {
		if _, ok := entities[id]; ok {
			ids = append(ids, id)
		}
	}
	return &State[T, ID]{ids: ids, entities: entities}
}

// RemoveAll resets to an empty State.
// Returns s unchanged when it is already empty.
func RemoveAll[T any, ID comparable](s *State[T, ID]) *State[T, ID] {
	if len(s.ids) == 0 && len(s.entities) == 0 {
		return s
	}
	return Empty[T, ID]()
}

// ReSort re-derives id order from the records using c (DefaultComparer when
// nil). The entities map is shared with s. Returns s unchanged when the order
// does not change.
func ReSort[T any, ID comparable](s *State[T, ID], c Comparer[T]) *State[T, ID] {
	ids, reordered := arrange(s.ids, slices.Clone(s.ids), s.entities, resolve(c))
	if !reordered {
		return s
	}
	return &State[T, ID]{ids: ids, entities: s.entities}
}
