package entity

import "slices"

// Normalize builds a State from records in input order, then stably sorts the
// ids when c is non-nil. With a nil comparer the input order is kept as is.
//
// Duplicate ids are not collapsed: the last occurrence wins in the entities
// map but every occurrence stays in ids. Callers that cannot rule out
// duplicates should use SetAll on an adapter whose selectID is unique, or
// dedupe first.
//
// An empty input yields an empty State. Normalize never fails.
func Normalize[T any, ID comparable](records []T, selectID SelectID[T, ID], c Comparer[T]) *State[T, ID] {
	ids := make([]ID, 0, len(records))
	entities := make(map[ID]T, len(records))

	for _, r := range records {
		id := selectID(r)
		ids = append(ids, id)
		entities[id] = r
	}

	if c != nil {
		slices.SortStableFunc(ids, func(a, b ID) int {
			return c(entities[a], entities[b])
		})
	}

	return &State[T, ID]{ids: ids, entities: entities}
}
