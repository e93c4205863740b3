package bifrost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bifrost/pkg/linker"
	"github.com/orneryd/bifrost/pkg/storage"
)

// The seedCorpus geometry walked in id order (far, mid, near, src)
// yields six above-threshold suggestions. Three create links and three
// hit the cycle guard on the reverse direction:
//
//	far:  none
//	mid:  mid->near ok, mid->src ok
//	near: near->src ok, near->mid cycle
//	src:  src->near cycle, src->mid cycle
func TestBackfillLinks(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.NodesProcessed)
	assert.Zero(t, report.NodesSkipped)
	assert.Equal(t, 3, report.LinksApplied)
	assert.Equal(t, 3, report.LinksSkipped, "reverse directions trip the cycle guard")
	assert.Zero(t, report.Failures)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Links)

	links, err := db.QueryLinks(ctx, linker.LinkFilter{ProjectID: "proj-a"})
	require.NoError(t, err)
	require.Len(t, links, 3)
	for _, link := range links {
		assert.Equal(t, storage.ProvenanceAutoBackfill, link.Provenance.Method)
		assert.NotEmpty(t, link.Provenance.Rationale)
		assert.True(t, link.Active)
		assert.Greater(t, link.Confidence, 0.0)
	}
}

func TestBackfillLinksIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	first, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{})
	require.NoError(t, err)
	second, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.LinksApplied, second.LinksApplied, "existing links update in place")
	assert.Equal(t, first.LinksSkipped, second.LinksSkipped)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Links, "repeat runs add no records")
}

func TestBackfillLinksMinConfidence(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{MinConfidence: 0.99})
	require.NoError(t, err)
	assert.Equal(t, 4, report.NodesProcessed)
	assert.Zero(t, report.LinksApplied)
	assert.Equal(t, 6, report.LinksSkipped)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Links)
}

func TestBackfillLinksDryRun(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 6, report.LinksApplied, "nothing is written, so no cycle guard fires")
	assert.Zero(t, report.LinksSkipped)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Links, "dry run persists nothing")
}

func TestBackfillLinksAllowCycles(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{AllowCycles: true})
	require.NoError(t, err)
	assert.Equal(t, 6, report.LinksApplied, "both directions of each pair persist")
	assert.Zero(t, report.LinksSkipped)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Links)
}

func TestBackfillLinksTopK(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	// One suggestion per node: mid->near and near->src land, src's best
	// (near) closes a cycle.
	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, report.NodesProcessed)
	assert.Equal(t, 2, report.LinksApplied)
	assert.Equal(t, 1, report.LinksSkipped)
}

func TestBackfillLinksThreshold(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	// Dry runs count raw survivors, isolating the threshold from cycle
	// effects: 0.85 drops both directions of the src/mid pair.
	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{DryRun: true, Threshold: 0.85})
	require.NoError(t, err)
	assert.Equal(t, 4, report.LinksApplied)
}

func TestBackfillLinksSkipsEmbeddinglessNodes(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, db.Storage().PutNode(&storage.Node{
		ID:        "bare",
		ProjectID: "proj-a",
		Text:      "not yet embedded",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NodesSkipped)
	assert.Equal(t, 4, report.NodesProcessed)
	assert.Equal(t, 3, report.LinksApplied)
	assert.Zero(t, report.Failures)
}

func TestBackfillLinksValidation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.BackfillLinks(ctx, "", BackfillOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	report, err := db.BackfillLinks(ctx, "empty-project", BackfillOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.NodesProcessed)
	assert.Zero(t, report.LinksApplied)
}

func TestBackfillLinksCancellation(t *testing.T) {
	db := openTestDB(t)
	seedCorpus(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := db.BackfillLinks(ctx, "proj-a", BackfillOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, report, "partial report survives cancellation")
}
