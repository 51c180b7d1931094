package record

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/roach88/normstore/internal/entity"
)

// Sort orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// FieldComparer orders records by field. Numbers compare numerically,
// strings lexically; any other combination (including a missing field) has
// no preference, so the stable sort keeps such records where they were.
//
// An empty field returns nil: callers then get entity.DefaultComparer.
func FieldComparer(field, order string) (entity.Comparer[Record], error) {
	if field == "" {
		return nil, nil
	}
	var sign int
	switch order {
	case "", OrderAsc:
		sign = 1
	case OrderDesc:
		sign = -1
	default:
		return nil, fmt.Errorf("sort order %q: must be %s or %s", order, OrderAsc, OrderDesc)
	}
	return func(a, b Record) int {
		return sign * compareValues(a[field], b[field])
	}, nil
}

func compareValues(a, b any) int {
	if fa, ok := entity.Numeric(a); ok {
		if fb, ok := entity.Numeric(b); ok {
			return cmp.Compare(fa, fb)
		}
		return 0
	}
	sa, ok := a.(string)
	if !ok {
		return 0
	}
	sb, ok := b.(string)
	if !ok {
		return 0
	}
	return strings.Compare(sa, sb)
}

// NewAdapter binds ID and the field comparer.
func NewAdapter(field, order string) (*entity.Adapter[Record, string], error) {
	c, err := FieldComparer(field, order)
	if err != nil {
		return nil, err
	}
	return entity.NewAdapter[Record, string](ID, c), nil
}
