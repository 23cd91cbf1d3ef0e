package jsbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	ctx := newTestContext(t)

	v, err := ctx.ParseJSON(`{"name": "jsbridge", "tags": ["a", "b"], "n": 3}`)
	require.NoError(t, err)
	obj, err := v.AsObject()
	require.NoError(t, err)

	name, err := obj.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "jsbridge", name.String())

	tags, err := obj.Get("tags")
	require.NoError(t, err)
	assert.True(t, tags.IsArray())

	_, err = ctx.ParseJSON(`{"unterminated": `)
	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.True(t, IsUsageError(err))
	_, isExc := AsException(err)
	assert.False(t, isExc)
}

func TestToJSON(t *testing.T) {
	ctx := newTestContext(t)

	v, err := ctx.Evaluate("({a: 1, b: [true, null], c: 'x'})", 1)
	require.NoError(t, err)

	text, err := v.ToJSON(0)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":[true,null],"c":"x"}`, text)

	text, err = v.ToJSON(2)
	require.NoError(t, err)
	assert.Contains(t, text, "\n  \"a\": 1")

	for _, code := range []string{"undefined", "(function () {})", "Symbol('s')"} {
		v, err := ctx.Evaluate(code, 1)
		require.NoError(t, err)
		_, err = v.ToJSON(0)
		assert.ErrorIs(t, err, ErrNotSerializable, code)
	}
}

func TestToJSONThrows(t *testing.T) {
	ctx := newTestContext(t)

	v, err := ctx.Evaluate("({ toJSON() { throw new Error('no json') } })", 1)
	require.NoError(t, err)
	_, err = v.ToJSON(0)
	exc, ok := AsException(err)
	require.True(t, ok)
	msg, _ := exc.Message()
	assert.Equal(t, "Error: no json", msg)

	cyclic, err := ctx.Evaluate("var o = {}; o.self = o; o", 1)
	require.NoError(t, err)
	_, err = cyclic.ToJSON(0)
	_, ok = AsException(err)
	assert.True(t, ok)
}

type record struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func TestValueOf(t *testing.T) {
	ctx := newTestContext(t)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"string", "hi", `"hi"`},
		{"bool", true, "true"},
		{"float", 1.5, "1.5"},
		{"int", 7, "7"},
		{"slice", []int{1, 2}, "[1,2]"},
		{"struct", record{Name: "r", Count: 2}, `{"name":"r","count":2,"tags":null}`},
		{"map", map[string]bool{"ok": true}, `{"ok":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ctx.ValueOf(tt.in)
			require.NoError(t, err)
			text, err := v.ToJSON(0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestValueOfPassesValuesThrough(t *testing.T) {
	val := must(t)
	ctx := newTestContext(t)

	obj, err := ctx.NewObject()
	require.NoError(t, err)
	v, err := ctx.ValueOf(obj)
	require.NoError(t, err)
	assert.True(t, v.StrictEquals(obj.Value))

	other := newTestContext(t)
	_, err = ctx.ValueOf(val(other.Null()))
	assert.ErrorIs(t, err, ErrContextMismatch)

	_, err = ctx.ValueOf(make(chan int))
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	ctx := newTestContext(t)

	v, err := ctx.Evaluate("({name: 'decoded', count: 3, tags: ['x', 'y'], ignored: () => 1})", 1)
	require.NoError(t, err)

	var r record
	require.NoError(t, v.Decode(&r))
	assert.Equal(t, record{Name: "decoded", Count: 3, Tags: []string{"x", "y"}}, r)

	var n int
	v, err = ctx.Evaluate("'not a number'", 1)
	require.NoError(t, err)
	assert.Error(t, v.Decode(&n))
}
