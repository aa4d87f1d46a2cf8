package kernel

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/exprsandbox"
	"github.com/vk/dfkernel/internal/graph"
	"github.com/vk/dfkernel/internal/inmemorystore"
	"github.com/vk/dfkernel/internal/inmemorytopology"
	"github.com/vk/dfkernel/internal/linktable"
	"github.com/vk/dfkernel/internal/pysyntax"
	"github.com/vk/dfkernel/internal/sandbox"
	"github.com/vk/dfkernel/internal/testutil"
)

func TestReportShape(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})

	runCell(t, k, ctx, "A", "x = 5")
	report := runCell(t, k, ctx, "B", "y = x$A + 1")

	want := &Report{
		CellID:            "B",
		Status:            StatusOK,
		DisplayCode:       "y = x$A + 1",
		Nodes:             []string{"y"},
		Cells:             []cellid.ID{"A", "B"},
		ImmUpstream:       map[cellid.ID][]string{"A": {"x"}},
		AllUpstream:       []cellid.ID{"A"},
		ImmDownstream:     []cellid.ID{},
		AllDownstream:     []cellid.ID{},
		UpdateDownstreams: []DownstreamUpdate{{Cell: "A", Downstream: []cellid.ID{"B"}}},
	}
	opts := []cmp.Option{
		cmpopts.IgnoreFields(Report{}, "Value", "Elapsed", "Err"),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(want, report, opts...); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(6), peek(t, report.Value, "y"))
}

func TestSingleValueNode(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	report := runCell(t, k, ctx, "A", "1 + 1")
	assert.Equal(t, []string{"Out_A"}, report.Nodes)
}

func TestUpdateDownstreamsIncludesOldUpstream(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "A", "x = 1")
	runCell(t, k, ctx, "C", "z = 3")
	runCell(t, k, ctx, "B", "x$A")

	report := runCell(t, k, ctx, "B", "z$C")

	got := make(map[cellid.ID][]cellid.ID)
	for _, u := range report.UpdateDownstreams {
		got[u.Cell] = u.Downstream
	}
	assert.Empty(t, got["A"], "old parent must be reported with its edge gone")
	assert.Contains(t, got, cellid.ID("A"))
	assert.Equal(t, []cellid.ID{"B"}, got["C"])
}

func TestFailedRunRestoresEdges(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "A", "x = 1")
	runCell(t, k, ctx, "C", "z = 3")
	runCell(t, k, ctx, "B", "x$A + 1")

	report, err := k.Run(ctx, ExecuteRequest{CellID: "B", Code: "z$C + missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCellRaised)
	assert.Equal(t, StatusError, report.Status)
	assert.NotEmpty(t, report.Error)

	assert.Equal(t, []cellid.ID{"A"}, k.Graph().Parents(ctx, "B"))
	assert.Empty(t, k.Graph().Children(ctx, "C"))
}

func TestResolutionErrorRunsNothing(t *testing.T) {
	calls := 0
	inner := exprsandbox.New()
	sb := sandbox.Func(func(ctx context.Context, req sandbox.Request) (*sandbox.Response, error) {
		calls++
		return inner.Run(ctx, req)
	})
	k, ctx := createTestKernel(t, sb, Options{})

	report, err := k.Run(ctx, ExecuteRequest{CellID: "A", Code: "x = ("})
	assert.ErrorIs(t, err, pysyntax.ErrSyntax)
	assert.Equal(t, StatusError, report.Status)
	assert.Zero(t, calls)
}

func TestFailureReportCarriesDeletedCells(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "A", "x = 1")
	require.NoError(t, k.Submit(ctx, "A", ""))

	report, err := k.Run(ctx, ExecuteRequest{CellID: "B", Code: "y +"})
	require.Error(t, err)
	assert.Equal(t, []cellid.ID{"A"}, report.DeletedCells)
}

func TestRunWithEmptyCodeDeletes(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "A", "x = 1")

	report, err := k.Run(ctx, ExecuteRequest{CellID: "A", Code: ""})
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, report.Status)
	assert.Equal(t, []cellid.ID{"A"}, report.DeletedCells)
}

func TestRunWithNotebookCodes(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "OLD", "w = 1")

	report, err := k.Run(ctx, ExecuteRequest{
		CellID: "B",
		Code:   "x$A * 2",
		Codes:  map[cellid.ID]string{"A": "x = 4", "B": "stale text"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), report.Value)
	assert.Equal(t, []cellid.ID{"OLD"}, report.DeletedCells)
}

func TestInputTags(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "A", "x = 5")

	report, err := k.Run(ctx, ExecuteRequest{
		CellID:    "B",
		Code:      "x$setup + 1",
		InputTags: map[string]cellid.ID{"setup": "A"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), report.Value)
	assert.Equal(t, "x$setup:A + 1", report.DisplayCode)
}

func TestOutputTagsSeedLinks(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	require.NoError(t, k.Seed(ctx,
		map[cellid.ID]string{"A": "x = 5"},
		map[cellid.ID][]string{"A": {"x"}},
	))

	report := runCell(t, k, ctx, "B", "x * 2")
	assert.Equal(t, int64(10), report.Value)
	assert.Equal(t, "x$A * 2", report.DisplayCode)
}

func TestAutoUpdate(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	auto := []cellid.ID{"B"}

	_, err := k.Run(ctx, ExecuteRequest{CellID: "A", Code: "x = 1", AutoUpdate: auto})
	require.NoError(t, err)
	_, err = k.Run(ctx, ExecuteRequest{CellID: "B", Code: "y = x$A * 2", AutoUpdate: auto})
	require.NoError(t, err)

	_, err = k.Run(ctx, ExecuteRequest{CellID: "A", Code: "x = 2", AutoUpdate: auto})
	require.NoError(t, err)

	rec, ok := k.Graph().Record(ctx, "B")
	require.True(t, ok)
	assert.False(t, rec.IsStale())
	assert.Equal(t, int64(4), peek(t, rec.Value, "y"))
}

func TestAutoUpdateWaitsForStaleUpstream(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	auto := []cellid.ID{"B"}

	for _, c := range []struct {
		id   cellid.ID
		code string
	}{{"A", "x = 1"}, {"C", "y = 1"}, {"B", "x$A + y$C"}} {
		_, err := k.Run(ctx, ExecuteRequest{CellID: c.id, Code: c.code, AutoUpdate: auto})
		require.NoError(t, err)
	}
	require.NoError(t, k.Submit(ctx, "C", "y = 5"))

	_, err := k.Run(ctx, ExecuteRequest{CellID: "A", Code: "x = 2", AutoUpdate: auto})
	require.NoError(t, err)

	stale, err := k.IsStale(ctx, "B")
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestAutoUpdateCascade(t *testing.T) {
	for _, cascade := range []bool{false, true} {
		t.Run(map[bool]string{false: "single level", true: "cascading"}[cascade], func(t *testing.T) {
			k, ctx := createTestKernel(t, nil, Options{CascadeAutoUpdates: cascade})
			auto := []cellid.ID{"B", "C"}
			for _, c := range []struct {
				id   cellid.ID
				code string
			}{{"A", "x = 1"}, {"B", "y = x$A + 1"}, {"C", "z = y$B + 1"}} {
				_, err := k.Run(ctx, ExecuteRequest{CellID: c.id, Code: c.code, AutoUpdate: auto})
				require.NoError(t, err)
			}

			_, err := k.Run(ctx, ExecuteRequest{CellID: "A", Code: "x = 10", AutoUpdate: auto})
			require.NoError(t, err)

			b, err := k.IsStale(ctx, "B")
			require.NoError(t, err)
			assert.False(t, b)
			c, err := k.IsStale(ctx, "C")
			require.NoError(t, err)
			assert.Equal(t, !cascade, c)
		})
	}
}

func TestAutoUpdateFailureIsSwallowed(t *testing.T) {
	g := graph.New(inmemorytopology.New(), inmemorystore.New())
	k := New(g, linktable.New(), exprsandbox.New(), Options{})
	ctx, logs := testutil.LoggingContext(t)
	auto := []cellid.ID{"B"}

	_, err := k.Run(ctx, ExecuteRequest{CellID: "A", Code: "x = 1", AutoUpdate: auto})
	require.NoError(t, err)
	_, err = k.Run(ctx, ExecuteRequest{CellID: "B", Code: "x$A + 1", AutoUpdate: auto})
	require.NoError(t, err)

	report, err := k.Run(ctx, ExecuteRequest{CellID: "A", Code: `x = "text"`, AutoUpdate: auto})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, report.Status)
	assert.Contains(t, logs.String(), "Auto-update failed.")
}

func TestComplete(t *testing.T) {
	k, ctx := createTestKernel(t, nil, Options{})
	runCell(t, k, ctx, "A", "xval = 5")

	assert.Equal(t, []string{"xval"}, k.Complete("x"))
	assert.Equal(t, []string{"xval$A"}, k.Complete("xval$"))
}
