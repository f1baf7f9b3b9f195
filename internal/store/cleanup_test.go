package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanup_DeletesExpiredArtifacts(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	old := Artifact{ID: "old1", RunID: "r1", Meta: ArtifactMeta{CreatedAt: time.Now().Add(-48 * time.Hour)}}
	fresh := Artifact{ID: "fresh1", RunID: "r2", Meta: ArtifactMeta{CreatedAt: time.Now()}}
	require.NoError(t, st.WriteArtifact(ctx, old))
	require.NoError(t, st.WriteArtifact(ctx, fresh))

	c := NewCleanup(st, CleanupConfig{Retention: 24 * time.Hour}, zerolog.Nop())
	c.sweep(ctx)

	_, err = st.ReadArtifact(ctx, "old1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.ReadArtifact(ctx, "fresh1")
	assert.NoError(t, err)
}

func TestCleanup_SkipsArtifactInLiveCollection(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	old := Artifact{ID: "old1", RunID: "r1", Meta: ArtifactMeta{CreatedAt: time.Now().Add(-48 * time.Hour)}}
	require.NoError(t, st.WriteArtifact(ctx, old))
	_, err = st.CreateCollection(ctx, "kept", []string{"old1"})
	require.NoError(t, err)

	c := NewCleanup(st, CleanupConfig{Retention: 24 * time.Hour}, zerolog.Nop())
	c.sweep(ctx)

	_, err = st.ReadArtifact(ctx, "old1")
	assert.NoError(t, err, "artifact referenced by a live collection must survive cleanup")
}
