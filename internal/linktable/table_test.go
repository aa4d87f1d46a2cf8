package linktable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/testutil"
)

func TestProducerStack(t *testing.T) {
	var s ProducerStack
	s.Push("a")
	s.Push("b")
	s.Push("a")

	assert.Equal(t, []cellid.ID{"b", "a"}, s.Items(), "re-push moves to top")

	top, ok := s.Top()
	assert.True(t, ok)
	assert.Equal(t, cellid.ID("a"), top)

	other, ok := s.TopExcept("a")
	assert.True(t, ok)
	assert.Equal(t, cellid.ID("b"), other)

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	_, ok = s.TopExcept("a")
	assert.False(t, ok)
}

func TestResolveExternalCurrent(t *testing.T) {
	ctx := testutil.Context(t)
	table := New()
	table.Bind(ctx, "x", "A", true)
	table.Bind(ctx, "x", "B", true)

	testCases := []struct {
		name    string
		asking  cellid.ID
		want    cellid.ID
		wantHas bool
	}{
		{name: "third cell sees most recent", asking: "C", want: "B", wantHas: true},
		{name: "top producer skips itself", asking: "B", want: "A", wantHas: true},
		{name: "older producer sees top", asking: "A", want: "B", wantHas: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := table.ResolveExternalCurrent("x", tc.asking)
			assert.Equal(t, tc.wantHas, ok)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantHas, table.HasExternalCurrent("x", tc.asking))
		})
	}

	assert.False(t, table.HasExternalCurrent("missing", "C"))
}

func TestSoleProducerIsNotExternal(t *testing.T) {
	ctx := testutil.Context(t)
	table := New()
	table.Bind(ctx, "x", "A", true)

	assert.False(t, table.HasExternalCurrent("x", "A"))
	assert.True(t, table.HasExternalCurrent("x", "B"))
}

func TestBindWithoutCurrent(t *testing.T) {
	ctx := testutil.Context(t)
	table := New()
	table.Bind(ctx, "x", "A", false)

	_, ok := table.Current("x")
	assert.False(t, ok)
	assert.Equal(t, []cellid.ID{"A"}, table.Producers("x"))
}

func TestUnbindCell(t *testing.T) {
	ctx := testutil.Context(t)
	table := New()
	table.Bind(ctx, "x", "A", true)
	table.Bind(ctx, "y", "A", true)
	table.Bind(ctx, "x", "B", true)

	table.UnbindCell(ctx, "B")

	top, ok := table.Current("x")
	assert.True(t, ok)
	assert.Equal(t, cellid.ID("A"), top, "other producers stay current")
	assert.Equal(t, []cellid.ID{"A"}, table.Producers("x"))

	table.UnbindCell(ctx, "A")
	_, ok = table.Current("x")
	assert.False(t, ok, "a tag without producers is undefined")
	assert.Empty(t, table.Tags())
	assert.Empty(t, table.TagsOf("A"))
}

func TestBindBatch(t *testing.T) {
	ctx := testutil.Context(t)
	table := New()
	table.Bind(ctx, "z", "C", true)

	table.BindBatch(ctx, map[string][]cellid.ID{
		"x": {"A"},
		"y": {"A", "B"},
		"z": {"D"},
	})

	x, ok := table.Current("x")
	assert.True(t, ok)
	assert.Equal(t, cellid.ID("A"), x, "sole producer is promoted")

	_, ok = table.Current("y")
	assert.False(t, ok, "ambiguous tag stays unresolved")
	assert.Equal(t, []cellid.ID{"A", "B"}, table.Producers("y"))

	z, _ := table.Current("z")
	assert.Equal(t, cellid.ID("C"), z, "existing current producer is kept")
	assert.Equal(t, []cellid.ID{"C", "D"}, table.Producers("z"))
}

func TestComplete(t *testing.T) {
	ctx := testutil.Context(t)
	table := New()
	table.Bind(ctx, "total", "a1b2", true)
	table.Bind(ctx, "total", "c3d4", true)
	table.Bind(ctx, "toggle", "e5f6", true)
	table.Bind(ctx, "other", "a1b2", true)
	aliases := map[string]cellid.ID{"sums": "a1b2", "misc": "e5f6"}

	assert.Equal(t, []string{"toggle", "total"}, table.Complete("to", aliases))
	assert.Equal(t, []string{"total$a1b2", "total$c3d4", "total$sums"}, table.Complete("total$", aliases))
	assert.Equal(t, []string{"total$sums"}, table.Complete("total$s", aliases))
	assert.Equal(t, []string{"total$c3d4"}, table.Complete("total$c", aliases))
	assert.Nil(t, table.Complete("missing$", aliases))
}
