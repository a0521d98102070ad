package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-listing-crawler/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()
	t0 := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.StartRun(ctx, id, t0))
	require.NoError(t, s.StartRun(ctx, id, t0.Add(time.Hour)))

	require.NoError(t, s.AddSiteCounters(ctx, store.SiteCounters{RunID: id, Site: "acme", LastUpdate: t0, Listings: 4}))
	require.NoError(t, s.AddSiteCounters(ctx, store.SiteCounters{RunID: id, Site: "acme", LastUpdate: t0.Add(time.Second), Saved: 2, Skipped: 1}))
	require.NoError(t, s.AddSiteCounters(ctx, store.SiteCounters{RunID: id, Site: "globex", LastUpdate: t0, Duplicate: 1, Failed: 1}))

	msg := "boom"
	require.NoError(t, s.FinishRun(ctx, id, t0.Add(time.Minute), store.RunError, &msg))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, t0, run.StartedAt)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, "boom", *run.ErrorMessage)
	require.Equal(t, int64(4), run.Listings)
	require.Equal(t, int64(2), run.Saved)
	require.Equal(t, int64(1), run.Duplicate)
	require.Equal(t, int64(1), run.Failed)
	require.Equal(t, int64(1), run.Skipped)

	sites, err := s.ListRunSites(ctx, id)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.Equal(t, "acme", sites[0].Site)
	require.Equal(t, t0.Add(time.Second), sites[0].LastUpdate)
}

func TestRunStoreNotFound(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	_, err := s.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	err = s.FinishRun(context.Background(), uuid.New(), time.Now(), store.RunSuccess, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	t0 := time.Unix(1700000000, 0).UTC()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		require.NoError(t, s.StartRun(ctx, id, t0.Add(time.Duration(i)*time.Hour)))
	}
	require.NoError(t, s.FinishRun(ctx, ids[0], t0.Add(time.Minute), store.RunSuccess, nil))

	all, err := s.ListRuns(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)

	page, err := s.ListRuns(ctx, nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[1], page[0].ID)

	success := store.RunSuccess
	done, err := s.ListRuns(ctx, &success, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, ids[0], done[0].ID)

	empty, err := s.ListRuns(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}
