package entity

import (
	"cmp"
	"slices"
)

// Comparer orders two records: negative if a sorts first, positive if b
// sorts first, zero when the comparer has no preference.
type Comparer[T any] func(a, b T) int

// Dated is implemented by records that carry a numeric creation timestamp.
// The bool result is false when the record has no timestamp.
type Dated interface {
	CreatedAt() (float64, bool)
}

// DefaultComparer orders records newest first when both expose a numeric
// createdAt, and otherwise reports no preference.
//
// A record exposes createdAt by implementing Dated or, for map records, by
// holding a numeric "createdAt" key.
func DefaultComparer[T any](a, b T) int {
	ta, ok := createdAt(a)
	if !ok {
		return 0
	}
	tb, ok := createdAt(b)
	if !ok {
		return 0
	}
	return cmp.Compare(tb, ta)
}

func createdAt(v any) (float64, bool) {
	switch r := v.(type) {
	case Dated:
		return r.CreatedAt()
	case map[string]any:
		return Numeric(r["createdAt"])
	}
	return 0, false
}

// Numeric converts the numeric kinds produced by JSON and YAML decoders to
// float64.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// resolve returns c, or DefaultComparer when c is nil.
func resolve[T any](c Comparer[T]) Comparer[T] {
	if c == nil {
		return DefaultComparer[T]
	}
	return c
}

// arrange stably sorts ids (which must be owned by the caller) by their
// records. When the result has the same order as prev, prev is returned so
// the previous slice can be shared.
func arrange[T any, ID comparable](prev, ids []ID, entities map[ID]T, c Comparer[T]) (out []ID, reordered bool) {
	slices.SortStableFunc(ids, func(a, b ID) int {
		return c(entities[a], entities[b])
	})
	if slices.Equal(prev, ids) {
		return prev, false
	}
	return ids, true
}
