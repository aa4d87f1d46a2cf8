package cellid

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expected    ID
		expectError bool
	}{
		{name: "hex token", input: "a1b2c3d4", expected: "a1b2c3d4"},
		{name: "readable token", input: "load_data", expected: "load_data"},
		{name: "single letter", input: "A", expected: "A"},
		{name: "empty", input: "", expectError: true},
		{name: "contains colon", input: "tag:a1", expectError: true},
		{name: "contains dollar", input: "x$a1", expectError: true},
		{name: "contains space", input: "a 1", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Parse(tc.input)
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}

func TestNew(t *testing.T) {
	id := New()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), id.String())
	assert.NotEqual(t, id, New())
}

func TestFromNotebook(t *testing.T) {
	id, err := FromNotebook("4f2a9c1e-0b7d-4e55-9d61-1f0c2b3a4d5e")
	require.NoError(t, err)
	assert.Equal(t, ID("4f2a9c1e"), id)
}

func TestSplitSuffix(t *testing.T) {
	tag, id, ok := SplitSuffix("totals:a1b2")
	assert.True(t, ok)
	assert.Equal(t, "totals", tag)
	assert.Equal(t, ID("a1b2"), id)

	raw, id, ok := SplitSuffix("a1b2")
	assert.False(t, ok)
	assert.Equal(t, "a1b2", raw)
	assert.True(t, id.IsZero())
}

func TestSetToSlice(t *testing.T) {
	set := map[ID]struct{}{"c": {}, "a": {}, "b": {}}
	assert.Equal(t, []ID{"a", "b", "c"}, SetToSlice(set))
}
