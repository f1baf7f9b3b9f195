package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/store"
)

func writeResult(t *testing.T, st store.Store, id string, overall float64, catScore, catMax float64) {
	t.Helper()
	require.NoError(t, st.WriteEvalResult(context.Background(), store.EvalResult{
		ArtifactID: id,
		Summary: store.EvalSummary{
			OverallPercent: overall,
			Categories: []store.CategoryBreakdown{
				{Category: "basics", Score: catScore, Max: catMax, Count: 1},
			},
		},
	}))
}

func TestAggregator_CreateFromSelectionValidatesName(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	a := New(st)

	_, err = a.CreateFromSelection(context.Background(), "", []string{"a1"})
	assert.Error(t, err)

	_, err = a.CreateFromSelection(context.Background(), "bad name!", []string{"a1"})
	assert.Error(t, err)
}

func TestAggregator_CreateFromSelectionAndList(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	a := New(st)

	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a1", RunID: "r1"}))

	c, err := a.CreateFromSelection(context.Background(), "nightly", []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, "nightly", c.Name)
	assert.Equal(t, []string{"a1"}, c.Members)

	cols, err := a.List(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "nightly", cols[0].Name)
}

func TestAggregator_StatisticsSingleMemberHasZeroStdDev(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	a := New(st)

	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a1", RunID: "r1"}))
	writeResult(t, st, "a1", 80, 8, 10)

	_, err = a.CreateFromSelection(context.Background(), "solo", []string{"a1"})
	require.NoError(t, err)

	stats, err := a.Statistics(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, 80.0, stats.MeanPercent)
	assert.Equal(t, 0.0, stats.StdDevPercent)
	assert.Equal(t, 80.0, stats.CategoryMeans["basics"])
}

func TestAggregator_StatisticsMeanAndStdDev(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	a := New(st)

	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a1", RunID: "r1"}))
	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a2", RunID: "r2"}))
	writeResult(t, st, "a1", 60, 6, 10)
	writeResult(t, st, "a2", 100, 10, 10)

	_, err = a.CreateFromSelection(context.Background(), "pair", []string{"a1", "a2"})
	require.NoError(t, err)

	stats, err := a.Statistics(context.Background(), "pair")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
	assert.Equal(t, 80.0, stats.MeanPercent)
	assert.Equal(t, 20.0, stats.StdDevPercent)
}

func TestAggregator_CompareComputesDeltas(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	a := New(st)

	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a1", RunID: "r1"}))
	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a2", RunID: "r2"}))
	writeResult(t, st, "a1", 50, 5, 10)
	writeResult(t, st, "a2", 90, 9, 10)

	_, err = a.CreateFromSelection(context.Background(), "before", []string{"a1"})
	require.NoError(t, err)
	_, err = a.CreateFromSelection(context.Background(), "after", []string{"a2"})
	require.NoError(t, err)

	cmp, err := a.Compare(context.Background(), "before", "after")
	require.NoError(t, err)
	assert.Equal(t, []string{"basics"}, cmp.Categories)
	assert.Equal(t, 40.0, cmp.CategoryDeltas["basics"])
	assert.Equal(t, 50.0, cmp.A.MeanPercent)
	assert.Equal(t, 90.0, cmp.B.MeanPercent)
}

func TestAggregator_AddRemoveDelete(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	a := New(st)

	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a1", RunID: "r1"}))
	require.NoError(t, st.WriteArtifact(context.Background(), store.Artifact{ID: "a2", RunID: "r2"}))

	_, err = a.CreateFromSelection(context.Background(), "set", []string{"a1"})
	require.NoError(t, err)
	require.NoError(t, a.Add(context.Background(), "set", "a2"))

	c, err := st.ReadCollection(context.Background(), "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, c.Members)

	require.NoError(t, a.Remove(context.Background(), "set", "a2"))
	c, err = st.ReadCollection(context.Background(), "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, c.Members)

	require.NoError(t, a.Delete(context.Background(), "set"))
	_, err = st.ReadCollection(context.Background(), "set")
	assert.Error(t, err)
}
