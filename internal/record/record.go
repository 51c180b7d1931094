// Package record defines the schemaless records the normstore CLI keeps in an
// entity state: JSON objects identified by their "id" field and optionally
// dated by a numeric "createdAt".
package record

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/normstore/internal/entity"
)

// Field names with special meaning.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
)

// Record is one JSON object.
type Record map[string]any

// State is the collection kept by the CLI.
type State = entity.State[Record, string]

// CreatedAt implements entity.Dated.
func (r Record) CreatedAt() (float64, bool) {
	return entity.Numeric(r[FieldCreatedAt])
}

// ID selects the identity of r: the "id" field as an NFC normalized string.
// Integral numbers are formatted without a fraction so that 1 and "1" name
// the same record. Returns "" when r has no usable id.
func ID(r Record) string {
	switch v := r[FieldID].(type) {
	case string:
		return norm.NFC.String(v)
	case nil:
		return ""
	default:
		f, ok := entity.Numeric(v)
		if !ok {
			return ""
		}
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Merge returns a patch that shallow-merges changes into a record. Keys in
// changes overwrite existing keys; the original record is not modified.
// An empty changes map yields a nil patch, which the entity operations treat
// as a no-op.
func Merge(changes Record) entity.Patch[Record] {
	if len(changes) == 0 {
		return nil
	}
	changes = changes.Clone()
	return func(r Record) Record {
		out := make(Record, len(r)+len(changes))
		maps.Copy(out, r)
		maps.Copy(out, changes)
		return out
	}
}

// CheckChanges rejects changes that would re-key a record to an unusable id,
// such as {"id":""} or {"id":null}. Changes without an "id" key pass.
func CheckChanges(changes Record) error {
	if _, ok := changes[FieldID]; ok && ID(changes) == "" {
		return fmt.Errorf("changes set an empty or invalid id")
	}
	return nil
}

// Parse decodes one JSON object.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("parse record: expected a JSON object")
	}
	return r, nil
}

// DecodeList decodes a YAML or JSON sequence of objects.
func DecodeList(data []byte) ([]Record, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for i, m := range raw {
		if m == nil {
			return nil, fmt.Errorf("decode records: item %d is not an object", i)
		}
		out = append(out, Record(m))
	}
	return out, nil
}

// UpdateSpec is one entry of an update file.
type UpdateSpec struct {
	ID      string         `yaml:"id"`
	Changes map[string]any `yaml:"changes"`
}

// DecodeUpdates decodes a YAML or JSON sequence of {id, changes} entries into
// entity updates.
func DecodeUpdates(data []byte) ([]entity.Update[Record, string], error) {
	var specs []UpdateSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	out := make([]entity.Update[Record, string], 0, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("decode updates: item %d has no id", i)
		}
		if err := CheckChanges(s.Changes); err != nil {
			return nil, fmt.Errorf("decode updates: item %d: %w", i, err)
		}
		out = append(out, entity.Update[Record, string]{
			ID:      norm.NFC.String(s.ID),
			Changes: Merge(Record(s.Changes)),
		})
	}
	return out, nil
}
