package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func sampleArtifact(id string) Artifact {
	return Artifact{
		ID:    id,
		RunID: "run-1",
		Responses: map[string]ResponseEntry{
			"t1": {Code: "func A() {}"},
		},
		Meta: ArtifactMeta{Model: "gpt", Variant: "v1", SuiteName: "core", TotalTests: 1},
	}
}

func TestFSStore_WriteReadArtifact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := sampleArtifact("m-v1-20260101_000000")

	require.NoError(t, s.WriteArtifact(ctx, a))

	got, err := s.ReadArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.RunID, got.RunID)
	assert.Equal(t, a.Responses["t1"].Code, got.Responses["t1"].Code)
	assert.Equal(t, a.Meta, got.Meta)
}

func TestFSStore_ReadArtifact_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ReadArtifact(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_ListArtifacts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.WriteArtifact(ctx, sampleArtifact("a1")))
	require.NoError(t, s.WriteArtifact(ctx, sampleArtifact("a2")))

	got, err := s.ListArtifacts(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFSStore_EvalResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.WriteArtifact(ctx, sampleArtifact("a1")))

	r := EvalResult{
		ArtifactID: "a1",
		Scores: []TestScore{
			{TestID: "t1", Score: 10, Max: 10},
		},
		Summary: EvalSummary{OverallPercent: 100},
	}
	require.NoError(t, s.WriteEvalResult(ctx, r))

	got, err := s.ReadEvalResult(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, r.Summary.OverallPercent, got.Summary.OverallPercent)
	assert.Equal(t, r.Scores, got.Scores)
}

func TestFSStore_CollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.WriteArtifact(ctx, sampleArtifact("a1")))
	require.NoError(t, s.WriteArtifact(ctx, sampleArtifact("a2")))

	c, err := s.CreateCollection(ctx, "nightly", []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, c.Members)

	_, err = s.CreateCollection(ctx, "nightly", nil)
	assert.ErrorIs(t, err, ErrCollectionExists)

	require.NoError(t, s.AddToCollection(ctx, "nightly", "a2"))
	got, err := s.ReadCollection(ctx, "nightly")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, got.Members)

	require.NoError(t, s.RemoveFromCollection(ctx, "nightly", "a1"))
	got, err = s.ReadCollection(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, got.Members)
}

func TestFSStore_DeleteArtifactRefusedWhileInCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.WriteArtifact(ctx, sampleArtifact("a1")))
	_, err := s.CreateCollection(ctx, "kept", []string{"a1"})
	require.NoError(t, err)

	err = s.DeleteArtifact(ctx, "a1")
	assert.ErrorIs(t, err, ErrCollectionNotEmpty)

	require.NoError(t, s.RemoveFromCollection(ctx, "kept", "a1"))
	assert.NoError(t, s.DeleteArtifact(ctx, "a1"))
}

func TestFSStore_ListCollections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.WriteArtifact(ctx, sampleArtifact("a1")))
	_, err := s.CreateCollection(ctx, "c1", []string{"a1"})
	require.NoError(t, err)
	_, err = s.CreateCollection(ctx, "c2", nil)
	require.NoError(t, err)

	got, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFSStore_DeleteCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateCollection(ctx, "temp", nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteCollection(ctx, "temp"))
	_, err = s.ReadCollection(ctx, "temp")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Reopening a FSStore must rediscover existing collections from disk,
// so existence checks (ErrCollectionExists) survive a process restart.
func TestFSStore_ReopenRediscoversCollections(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, err := NewFSStore(dir)
	require.NoError(t, err)
	_, err = s1.CreateCollection(ctx, "persisted", nil)
	require.NoError(t, err)

	s2, err := NewFSStore(dir)
	require.NoError(t, err)
	_, err = s2.CreateCollection(ctx, "persisted", nil)
	assert.ErrorIs(t, err, ErrCollectionExists)
}
