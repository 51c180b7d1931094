package entity

// Adapter binds a SelectID and an optional sort comparer so callers do not
// pass them to every operation. It is the "entity store construction"
// surface: build one per record type and reuse it.
//
// Adapter is stateless and safe for concurrent use.
type Adapter[T any, ID comparable] struct {
	selectID     SelectID[T, ID]
	sortComparer Comparer[T]
}

// NewAdapter creates an adapter. sortComparer may be nil, in which case every
// operation sorts with DefaultComparer.
//
// Panics if selectID is nil.
func NewAdapter[T any, ID comparable](selectID SelectID[T, ID], sortComparer Comparer[T]) *Adapter[T, ID] {
	if selectID == nil {
		panic("entity: NewAdapter requires a selectID function")
	}
	return &Adapter[T, ID]{selectID: selectID, sortComparer: sortComparer}
}

// SelectID returns the bound identity function.
func (a *Adapter[T, ID]) SelectID() SelectID[T, ID] { return a.selectID }

// SortComparer returns the bound comparer, or nil if the adapter sorts with
// DefaultComparer.
func (a *Adapter[T, ID]) SortComparer() Comparer[T] { return a.sortComparer }

// Initial returns an empty State.
func (a *Adapter[T, ID]) Initial() *State[T, ID] { return Empty[T, ID]() }

// GetInitialState normalizes records with the bound comparer. Unlike SetAll,
// a nil comparer keeps input order here.
func (a *Adapter[T, ID]) GetInitialState(records []T) *State[T, ID] {
	return Normalize(records, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) AddOne(s *State[T, ID], e T) *State[T, ID] {
	return AddOne(s, e, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) AddMany(s *State[T, ID], records []T) *State[T, ID] {
	return AddMany(s, records, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) UpsertOne(s *State[T, ID], e T) *State[T, ID] {
	return UpsertOne(s, e, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) UpsertMany(s *State[T, ID], records []T) *State[T, ID] {
	return UpsertMany(s, records, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) SetAll(s *State[T, ID], records []T) *State[T, ID] {
	return SetAll(s, records, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) UpdateOne(s *State[T, ID], u Update[T, ID]) *State[T, ID] {
	return UpdateOne(s, u, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) UpdateMany(s *State[T, ID], updates []Update[T, ID]) *State[T, ID] {
	return UpdateMany(s, updates, a.selectID, a.sortComparer)
}

func (a *Adapter[T, ID]) RemoveOne(s *State[T, ID], id ID) *State[T, ID] {
	return RemoveOne(s, id)
}

func (a *Adapter[T, ID]) RemoveMany(s *State[T, ID], ids []ID) *State[T, ID] {
	return RemoveMany(s, ids)
}

func (a *Adapter[T, ID]) RemoveAll(s *State[T, ID]) *State[T, ID] {
	return RemoveAll(s)
}

// ReSort re-sorts with c, or with the bound comparer when c is nil.
func (a *Adapter[T, ID]) ReSort(s *State[T, ID], c Comparer[T]) *State[T, ID] {
	if c == nil {
		c = a.sortComparer
	}
	return ReSort(s, c)
}

// Selectors read a State without the caller reaching into it.

// SelectAll returns the entities in ids order.
func (a *Adapter[T, ID]) SelectAll(s *State[T, ID]) []T { return s.All() }

// SelectByID returns the entity stored under id.
func (a *Adapter[T, ID]) SelectByID(s *State[T, ID], id ID) (T, bool) { return s.Get(id) }

// SelectTotal returns the number of ids.
func (a *Adapter[T, ID]) SelectTotal(s *State[T, ID]) int { return s.Len() }

// SelectIDs returns the ids in order. The slice must not be modified.
func (a *Adapter[T, ID]) SelectIDs(s *State[T, ID]) []ID { return s.IDs() }
