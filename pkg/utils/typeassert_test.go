package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeAssert(t *testing.T) {
	s, ok := SafeAssert[string]("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	n, ok := SafeAssert[int]("not an int")
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestAssertMapStringAny(t *testing.T) {
	m, err := AssertMapStringAny(map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, m["k"])

	_, err = AssertMapStringAny([]string{"nope"})
	assert.Error(t, err)
}

func TestGetMapField(t *testing.T) {
	m := map[string]any{"name": "developer", "count": 3}

	name, err := GetMapField[string](m, "name")
	require.NoError(t, err)
	assert.Equal(t, "developer", name)

	_, err = GetMapField[string](m, "missing")
	assert.Error(t, err)

	_, err = GetMapField[string](m, "count")
	assert.Error(t, err, "wrong type must not coerce")
}

func TestStringSlice(t *testing.T) {
	// Decoded JSON arrays arrive as []any.
	out, ok := StringSlice([]any{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, out)

	out, ok = StringSlice([]string{"a"})
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, out)

	_, ok = StringSlice([]any{"a", 1})
	assert.False(t, ok)

	_, ok = StringSlice("a")
	assert.False(t, ok)
}
