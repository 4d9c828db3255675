package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type palette struct {
	Main   color            `json:"main"`
	Others []color          `json:"others"`
	ByName map[string]color `json:"by_name"`
	Next   *palette         `json:"next"`
}

func TestCheckValue_Enum(t *testing.T) {
	shape, err := Validate("p", typeOf[color](), nil)
	require.NoError(t, err)

	assert.NoError(t, CheckValue(shape, json.RawMessage(`"red"`)))
	assert.NoError(t, CheckValue(shape, json.RawMessage(`null`)))
	err = CheckValue(shape, json.RawMessage(`"blue"`))
	require.Error(t, err)
	assert.Equal(t, `"blue" is not one of red|green`, err.Error())
	assert.Error(t, CheckValue(shape, json.RawMessage(`3`)))
}

func TestCheckValue_Nested(t *testing.T) {
	shape, err := Validate("p", typeOf[palette](), nil)
	require.NoError(t, err)

	ok := `{"main":"red","others":["green"],"by_name":{"a":"red"},"next":{"main":"green"}}`
	assert.NoError(t, CheckValue(shape, json.RawMessage(ok)))

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"field", `{"main":"pink"}`, `main: "pink" is not one of red|green`},
		{"list", `{"main":"red","others":["red","pink"]}`, `others[1]: "pink"`},
		{"map", `{"by_name":{"a":"pink"}}`, `by_name["a"]: "pink"`},
		{"recursive record", `{"next":{"next":{"main":"pink"}}}`, `next.next.main: "pink"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckValue(shape, json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckValue_NoEnum(t *testing.T) {
	shape, err := Validate("p", typeOf[point](), nil)
	require.NoError(t, err)
	assert.NoError(t, CheckValue(shape, json.RawMessage(`{"x":1,"y":2}`)))
}

type pair struct {
	Left  palette `json:"left"`
	Right palette `json:"right"`
}

func TestCheckValue_RepeatedRecord(t *testing.T) {
	shape, err := Validate("p", typeOf[pair](), nil)
	require.NoError(t, err)
	require.Empty(t, shape.Fields[1].Shape.Fields)

	err = CheckValue(shape, json.RawMessage(`{"right":{"main":"pink"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `right.main: "pink"`)
}
