package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_PreservesInputOrder(t *testing.T) {
	records := []item{{ID: 5, Name: "e"}, {ID: 1, Name: "a"}, {ID: 3, Name: "c"}}

	s := Normalize(records, itemID, nil)

	assert.Equal(t, []int{5, 1, 3}, s.IDs())
	var rebuilt []item
	for _, id := range s.IDs() {
		rebuilt = append(rebuilt, s.Entities()[id])
	}
	assert.Equal(t, records, rebuilt)
}

func TestNormalize_Empty(t *testing.T) {
	s := Normalize[item, int](nil, itemID, nil)
	assert.NotNil(t, s.IDs())
	assert.Empty(t, s.IDs())
	assert.Empty(t, s.Entities())
}

func TestNormalize_WithComparer(t *testing.T) {
	records := []item{{ID: 1, Created: 1000}, {ID: 2, Created: 2000}}

	s := Normalize(records, itemID, func(a, b item) int {
		return int(b.Created - a.Created)
	})

	assert.Equal(t, []int{2, 1}, s.IDs())
}

func TestNormalize_DuplicateIDsKeptInOrder(t *testing.T) {
	s := Normalize([]item{{ID: 1, Name: "first"}, {ID: 2}, {ID: 1, Name: "last"}}, itemID, nil)

	assert.Equal(t, []int{1, 2, 1}, s.IDs())
	e, _ := s.Get(1)
	assert.Equal(t, "last", e.Name)
	assert.Len(t, s.Entities(), 2)
}

func TestDefaultComparer(t *testing.T) {
	older := item{ID: 1, Created: 10}
	newer := item{ID: 2, Created: 20}
	undated := item{ID: 3}

	assert.Positive(t, DefaultComparer(older, newer))
	assert.Negative(t, DefaultComparer(newer, older))
	assert.Zero(t, DefaultComparer(older, undated))
	assert.Zero(t, DefaultComparer(undated, newer))
}

func TestDefaultComparer_MapRecords(t *testing.T) {
	a := map[string]any{"id": "a", "createdAt": float64(1)}
	b := map[string]any{"id": "b", "createdAt": 2}
	c := map[string]any{"id": "c", "createdAt": "yesterday"}

	assert.Positive(t, DefaultComparer(a, b))
	assert.Zero(t, DefaultComparer(a, c))
}

func TestState_JSONRoundTrip(t *testing.T) {
	s := seed(item{ID: 2, Name: "b"}, item{ID: 1, Name: "a"})

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":[2,1],"entities":{"1":{"id":1,"name":"a"},"2":{"id":2,"name":"b"}}}`, string(data))

	var decoded State[item, int]
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.IDs(), decoded.IDs())
	assert.Equal(t, s.Entities(), decoded.Entities())
}

func TestState_JSONEmpty(t *testing.T) {
	data, err := json.Marshal(&State[item, int]{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":[],"entities":{}}`, string(data))

	var decoded State[item, int]
	require.NoError(t, json.Unmarshal([]byte(`{}`), &decoded))
	assert.Equal(t, 0, decoded.Len())
}

func TestState_JSONRejectsInconsistentState(t *testing.T) {
	cases := map[string]string{
		"id without entity": `{"ids":[1,2],"entities":{"1":{"id":1}}}`,
		"entity without id": `{"ids":[1],"entities":{"1":{"id":1},"2":{"id":2}}}`,
		"not an object":     `[1,2]`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			var decoded State[item, int]
			assert.Error(t, json.Unmarshal([]byte(input), &decoded))
		})
	}
}

func TestState_All(t *testing.T) {
	s := seed(item{ID: 2}, item{ID: 1})
	assert.Equal(t, []item{{ID: 2}, {ID: 1}}, s.All())
	assert.Equal(t, []item{}, Empty[item, int]().All())
}
