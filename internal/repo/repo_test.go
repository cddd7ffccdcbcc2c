package repo_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"reelmarket/internal/config"
	"reelmarket/internal/db"
	"reelmarket/internal/domain"
	"reelmarket/internal/migrate"
	"reelmarket/internal/repo"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{
		DB:  conn,
		Now: func() time.Time { return fixedNow },
		SeedEditors: func(now time.Time) []domain.Editor {
			return []domain.Editor{
				{ID: "editor1", Name: "Michael Chen", CompletedDeals: 8, CancelledDeals: 1, LastActivity: now},
				{ID: "editor2", Name: "Sarah Williams", CompletedDeals: 12, LateDeliveries: 1, LastActivity: now},
			}
		},
	}
}

func TestEditorsSeededOnFirstRead(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	editors, err := r.ListEditors(ctx)
	require.NoError(t, err)
	require.Len(t, editors, 2)
	require.Equal(t, "editor1", editors[0].ID)
	require.True(t, editors[0].LastActivity.Equal(fixedNow))

	// A seeded collection is never reseeded, even after its records change.
	require.NoError(t, r.UpsertEditor(ctx, domain.Editor{ID: "editor1", Name: "Renamed", CompletedDeals: 9}))
	editors, err = r.ListEditors(ctx)
	require.NoError(t, err)
	require.Len(t, editors, 2)
	require.Equal(t, "Renamed", editors[0].Name)
}

func TestUpsertBeforeReadStillSeeds(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertEditor(ctx, domain.Editor{ID: "editor9", Name: "New"}))
	editors, err := r.ListEditors(ctx)
	require.NoError(t, err)
	ids := []string{}
	for _, e := range editors {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{"editor1", "editor2", "editor9"}, ids)
}

func TestGetMissingRecordsReportAbsence(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	_, found, err := r.GetEditor(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = r.GetDeal(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = r.GetTracker(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, found)

	deals, err := r.ListDeals(ctx)
	require.NoError(t, err)
	require.Empty(t, deals)
	require.NotNil(t, deals)
}

func TestDealUpsertMergesFields(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	require.NoError(t, r.UpsertDeal(ctx, domain.Deal{
		ID: "d1", Budget: 500, AdvancePaid: true, AdvanceAmount: 100, AdminFee: 5,
		Status: domain.DealStatusCancelled, RefundAmount: 95,
	}))
	// refundAmount is omitted from this body, so the stored value survives.
	require.NoError(t, r.UpsertDeal(ctx, domain.Deal{ID: "d1", Budget: 800, Status: domain.DealStatusPending}))

	got, found, err := r.GetDeal(ctx, "d1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 800.0, got.Budget)
	require.Equal(t, domain.DealStatusPending, got.Status)
	require.False(t, got.AdvancePaid)
	require.Equal(t, 95.0, got.RefundAmount)

	v, err := r.Version(ctx, repo.KindDeals, "d1")
	require.NoError(t, err)
	require.EqualValues(t, 2, v)
}

func TestTrackerSaveReplacesWholesale(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	first := domain.Tracker{DealID: "d1", Status: "In Progress", Progress: 40, StartDate: fixedNow, LastUpdated: fixedNow,
		Milestones: []domain.Milestone{{ID: "m1", Title: "Rough cut", Date: fixedNow}}}
	require.NoError(t, r.SaveTracker(ctx, first))
	second := domain.Tracker{DealID: "d1", Status: domain.TrackerStatusNotStarted, StartDate: fixedNow, LastUpdated: fixedNow}
	require.NoError(t, r.SaveTracker(ctx, second))

	got, found, err := r.GetTracker(ctx, "d1")
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, got.Milestones)
	require.Equal(t, 0, got.Progress)
}

func TestCollectionsRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	done := fixedNow.Add(time.Hour)

	deals := []domain.Deal{
		{ID: "d1", Budget: 1000, Status: domain.DealStatusPending},
		{ID: "d2", Budget: 250.5, AdvancePaid: true, AdvanceAmount: 60, AdminFee: 3, Status: domain.DealStatusInProgress, WorkStarted: true},
	}
	trackers := []domain.Tracker{
		{DealID: "d1", StartDate: fixedNow, Status: domain.TrackerStatusNotStarted, LastUpdated: fixedNow},
		{DealID: "d2", StartDate: fixedNow, Status: "Editing", Progress: 55, LastUpdated: done, Milestones: []domain.Milestone{
			{ID: "a", Title: "Assembly", Date: fixedNow, Completed: true, CompletedDate: &done},
			{ID: "b", Title: "Color", Date: fixedNow},
		}},
	}
	for _, d := range deals {
		require.NoError(t, r.UpsertDeal(ctx, d))
	}
	for _, tr := range trackers {
		require.NoError(t, r.SaveTracker(ctx, tr))
	}

	gotDeals, err := r.ListDeals(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(deals, gotDeals); diff != "" {
		t.Fatalf("deals mismatch (-want +got):\n%s", diff)
	}
	gotTrackers, err := r.ListTrackers(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(trackers, gotTrackers, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("trackers mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentReadModifyWriteKeepsEveryIncrement(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.InTx(ctx, repo.KindEditors, func(tx *sql.Tx) error {
				e, _, err := r.GetEditorTx(ctx, tx, "editor1")
				if err != nil {
					return err
				}
				e.CompletedDeals++
				return r.UpsertEditorTx(ctx, tx, e)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	e, found, err := r.GetEditor(ctx, "editor1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 8+writers, e.CompletedDeals)
}

func TestMarketConfigStored(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	_, err := r.SingleMarket(ctx)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = r.GetMarketConfig(ctx, "m1")
	require.ErrorIs(t, err, repo.ErrNotFound)

	cfg := config.Default("m1")
	cfg.Rules.Escrow.AdvanceRatio = 0.3
	require.NoError(t, r.UpsertMarketConfig(ctx, "m1", cfg))
	got, err := r.GetMarketConfig(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 0.3, got.Rules.Escrow.AdvanceRatio)
	id, err := r.SingleMarket(ctx)
	require.NoError(t, err)
	require.Equal(t, "m1", id)
}
