package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"reelmarket/internal/config"
	"reelmarket/internal/db"
	"reelmarket/internal/domain"
	"reelmarket/internal/engine"
	"reelmarket/internal/events"
	"reelmarket/internal/migrate"
	"reelmarket/internal/repo"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Logs   *observer.ObservedLogs
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := config.Default("market-1")
	eng := engine.New(conn, cfg, zap.New(core)).WithClock(func() time.Time { return fixedNow })
	return testEnv{Engine: eng, Ctx: ctx, Logs: logs}
}

func (env testEnv) seedDeal(t *testing.T, d domain.Deal) {
	t.Helper()
	if err := env.Engine.Repo.UpsertDeal(env.Ctx, d); err != nil {
		t.Fatalf("seed deal: %v", err)
	}
}

func (env testEnv) eventTypes(t *testing.T, entityID string) []string {
	t.Helper()
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{EntityID: entityID, Limit: 100})
	require.NoError(t, err)
	types := []string{}
	for i := len(evts) - 1; i >= 0; i-- {
		types = append(types, evts[i].Type)
	}
	return types
}

func TestCommissionSilverRate(t *testing.T) {
	env := newTestEnv(t)
	for _, amount := range []float64{0, 1, 99.99, 1000, 123456.78} {
		got := env.Engine.CalculateCommission(env.Ctx, "editor1", amount)
		require.Equal(t, domain.TierSilver, got.LoyaltyLevel)
		require.Equal(t, 0.05, got.CommissionRate)
		require.InDelta(t, 0.05*amount, got.Commission, 1e-9)
		require.InDelta(t, 0.95*amount, got.EditorEarnings, 1e-9)
	}
}

func TestCommissionBronzeBelowFiveDeals(t *testing.T) {
	env := newTestEnv(t)
	got := env.Engine.CalculateCommission(env.Ctx, "editor3", 200)
	require.Equal(t, domain.TierBronze, got.LoyaltyLevel)
	require.Equal(t, 0.10, got.CommissionRate)
	require.InDelta(t, 20, got.Commission, 1e-9)
	require.InDelta(t, 180, got.EditorEarnings, 1e-9)

	// Unknown editors are synthesized with zero deals.
	got = env.Engine.CalculateCommission(env.Ctx, "ghost", 50)
	require.Equal(t, domain.TierBronze, got.LoyaltyLevel)
	require.Equal(t, 0.10, got.CommissionRate)
	_, found, err := env.Engine.Repo.GetEditor(env.Ctx, "ghost")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLoyaltyLevelIgnoresInactivityForExperiencedEditors(t *testing.T) {
	env := newTestEnv(t)
	stale := fixedNow.AddDate(0, 0, -90)
	require.Equal(t, domain.TierSilver, env.Engine.LoyaltyLevel(domain.Editor{CompletedDeals: 5, LastActivity: stale}))
	require.Equal(t, domain.TierBronze, env.Engine.LoyaltyLevel(domain.Editor{CompletedDeals: 4, LastActivity: stale}))
	require.Equal(t, domain.TierBronze, env.Engine.LoyaltyLevel(domain.Editor{CompletedDeals: 0}))
}

func TestUpdateEditorActivityStampsNow(t *testing.T) {
	env := newTestEnv(t)
	later := fixedNow.Add(48 * time.Hour)
	eng := env.Engine.WithClock(func() time.Time { return later })
	ed := eng.UpdateEditorActivity(env.Ctx, "editor2")
	require.True(t, ed.LastActivity.Equal(later))
	require.Equal(t, 12, ed.CompletedDeals)

	stored := env.Engine.GetEditor(env.Ctx, "editor2")
	require.True(t, stored.LastActivity.Equal(later))
	require.Equal(t, "Sarah Williams", stored.Name)
}

func TestAdvanceBelowRequiredNeverMutates(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, domain.Deal{ID: "d1", Budget: 1000, Status: domain.DealStatusPending})

	res := env.Engine.ProcessAdvancePayment(env.Ctx, "d1", 199.99)
	require.False(t, res.Success)
	require.Equal(t, 1000*0.2, res.RequiredAmount)

	d := env.Engine.GetDeal(env.Ctx, "d1")
	require.False(t, d.AdvancePaid)
	require.Zero(t, d.AdvanceAmount)
	v, err := env.Engine.Repo.Version(env.Ctx, repo.KindDeals, "d1")
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
	require.NotContains(t, env.eventTypes(t, "d1"), events.DealAdvancePaid)
}

func TestAdvanceAtOrAboveRequiredMarksPaid(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, domain.Deal{ID: "d1", Budget: 1000, Status: domain.DealStatusPending})

	res := env.Engine.ProcessAdvancePayment(env.Ctx, "d1", 200)
	require.True(t, res.Success)
	require.Equal(t, 0.05*200, res.AdminFee)

	d := env.Engine.GetDeal(env.Ctx, "d1")
	require.True(t, d.AdvancePaid)
	require.Equal(t, 200.0, d.AdvanceAmount)
	require.Equal(t, 0.05*200, d.AdminFee)
	require.Equal(t, 1000.0, d.Budget)
	require.Equal(t, []string{events.DealAdvancePaid}, env.eventTypes(t, "d1"))
}

func TestAdvanceOnMissingDealUsesDefaults(t *testing.T) {
	env := newTestEnv(t)
	res := env.Engine.ProcessAdvancePayment(env.Ctx, "fresh", 40)
	require.True(t, res.Success)
	d, found, err := env.Engine.Repo.GetDeal(env.Ctx, "fresh")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.DealStatusPending, d.Status)
	require.Equal(t, 40.0, d.AdvanceAmount)
}

func TestCancelRefundsAdvanceMinusFee(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, domain.Deal{ID: "d1", Budget: 500, AdvancePaid: true, AdvanceAmount: 100, AdminFee: 5, Status: domain.DealStatusPending})

	res := env.Engine.CancelDeal(env.Ctx, "d1")
	require.Equal(t, domain.CancelResult{Refunded: true, Amount: 95, AdminFee: 5}, res)

	d := env.Engine.GetDeal(env.Ctx, "d1")
	require.Equal(t, domain.DealStatusCancelled, d.Status)
	require.Equal(t, 95.0, d.RefundAmount)
}

func TestCancelAfterWorkStartedIsRefused(t *testing.T) {
	for _, paid := range []bool{true, false} {
		env := newTestEnv(t)
		env.seedDeal(t, domain.Deal{ID: "d1", Budget: 500, AdvancePaid: paid, AdvanceAmount: 100, AdminFee: 5, Status: domain.DealStatusInProgress, WorkStarted: true})
		before := env.Engine.GetDeal(env.Ctx, "d1")

		res := env.Engine.CancelDeal(env.Ctx, "d1")
		require.Equal(t, domain.CancelResult{Refunded: false}, res)
		require.Equal(t, before, env.Engine.GetDeal(env.Ctx, "d1"))
		require.NotContains(t, env.eventTypes(t, "d1"), events.DealCancelled)
	}
}

func TestCancelWithoutAdvanceIsRefused(t *testing.T) {
	env := newTestEnv(t)
	require.False(t, env.Engine.CancelDeal(env.Ctx, "never-paid").Refunded)
	_, found, err := env.Engine.Repo.GetDeal(env.Ctx, "never-paid")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStartWorkClosesRefundWindow(t *testing.T) {
	env := newTestEnv(t)
	budget := 300.0
	env.Engine.SaveDeal(env.Ctx, "d1", engine.DealPatch{Budget: &budget})
	require.True(t, env.Engine.ProcessAdvancePayment(env.Ctx, "d1", 60).Success)

	d := env.Engine.StartWork(env.Ctx, "d1")
	require.True(t, d.WorkStarted)
	require.Equal(t, domain.DealStatusInProgress, d.Status)
	require.False(t, env.Engine.CancelDeal(env.Ctx, "d1").Refunded)
	require.Equal(t,
		[]string{events.DealSaved, events.DealAdvancePaid, events.DealWorkStarted},
		env.eventTypes(t, "d1"))
}

func TestReputationFormula(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name  string
		ed    domain.Editor
		pts   int
		level domain.Tier
		badge string
	}{
		{"clamped at zero", domain.Editor{CancelledDeals: 10}, 0, domain.TierBronze, "⭐ Bronze"},
		{"just under silver", domain.Editor{CompletedDeals: 5}, 50, domain.TierBronze, "⭐ Bronze"},
		{"penalties offset completions", domain.Editor{CompletedDeals: 6, LateDeliveries: 1, CancelledDeals: 1}, 50, domain.TierBronze, "⭐ Bronze"},
		{"mixed history", domain.Editor{CompletedDeals: 7, CancelledDeals: 3, LateDeliveries: 1}, 50, domain.TierBronze, "⭐ Bronze"},
		{"silver", domain.Editor{CompletedDeals: 6, LateDeliveries: 1}, 55, domain.TierSilver, "🌟 Silver"},
		{"top of silver", domain.Editor{CompletedDeals: 10}, 100, domain.TierSilver, "🌟 Silver"},
		{"gold", domain.Editor{CompletedDeals: 11}, 110, domain.TierGold, "💎 Gold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := env.Engine.CalculateReputation(tc.ed)
			require.Equal(t, tc.pts, got.Points)
			require.Equal(t, tc.level, got.Level)
			require.Equal(t, tc.badge, got.Badge)
		})
	}
}

func TestReputationBoundariesAreExact(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.Engine.Config.Rules.Reputation
	// 10 points per completed deal and 5 per late delivery reach every integer multiple of 5.
	at := func(points int) domain.Reputation {
		completed := (points + 9) / 10
		late := (completed*cfg.CompletedPoints - points) / cfg.LatePenalty
		return env.Engine.CalculateReputation(domain.Editor{CompletedDeals: completed, LateDeliveries: late})
	}
	require.Equal(t, domain.TierBronze, at(50).Level)
	require.Equal(t, 50, at(50).Points)
	require.Equal(t, domain.TierSilver, at(55).Level)
	require.Equal(t, domain.TierSilver, at(100).Level)
	require.Equal(t, domain.TierGold, at(105).Level)

	// 51 and 101 are not reachable with the default weights; lower the step to hit them.
	custom := *env.Engine.Config
	custom.Rules.Reputation.CompletedPoints = 1
	eng := env.Engine
	eng.Config = &custom
	require.Equal(t, domain.TierBronze, eng.CalculateReputation(domain.Editor{CompletedDeals: 50}).Level)
	require.Equal(t, domain.TierSilver, eng.CalculateReputation(domain.Editor{CompletedDeals: 51}).Level)
	require.Equal(t, domain.TierSilver, eng.CalculateReputation(domain.Editor{CompletedDeals: 100}).Level)
	require.Equal(t, domain.TierGold, eng.CalculateReputation(domain.Editor{CompletedDeals: 101}).Level)
}

func TestReputationMonotonic(t *testing.T) {
	env := newTestEnv(t)
	base := domain.Editor{CompletedDeals: 6, CancelledDeals: 2, LateDeliveries: 1}
	p := env.Engine.CalculateReputation(base).Points
	for i := 0; i < 20; i++ {
		more := base
		more.CompletedDeals += i
		require.GreaterOrEqual(t, env.Engine.CalculateReputation(more).Points, p)
		worse := base
		worse.CancelledDeals += i
		worse.LateDeliveries += i
		got := env.Engine.CalculateReputation(worse).Points
		require.LessOrEqual(t, got, p)
		require.GreaterOrEqual(t, got, 0)
	}
}

func TestUpdateReputationPersistsCounters(t *testing.T) {
	env := newTestEnv(t)
	rep := env.Engine.UpdateReputation(env.Ctx, "editor1", domain.ActionDealCompleted)
	// editor1 starts at 8 completed and 1 cancelled.
	require.Equal(t, 85, rep.Points)
	require.Equal(t, domain.TierSilver, rep.Level)

	env.Engine.UpdateReputation(env.Ctx, "editor1", domain.ActionLateDelivery)
	env.Engine.UpdateReputation(env.Ctx, "editor1", domain.ActionDealCancelled)
	ed := env.Engine.GetEditor(env.Ctx, "editor1")
	require.Equal(t, 9, ed.CompletedDeals)
	require.Equal(t, 2, ed.CancelledDeals)
	require.Equal(t, 1, ed.LateDeliveries)
	require.Equal(t, "Michael Chen", ed.Name)

	// Unknown actions change nothing but still write the editor.
	v0, err := env.Engine.Repo.Version(env.Ctx, repo.KindEditors, "editor1")
	require.NoError(t, err)
	rep = env.Engine.UpdateReputation(env.Ctx, "editor1", domain.ReputationAction("bogus"))
	require.Equal(t, 75, rep.Points)
	v1, err := env.Engine.Repo.Version(env.Ctx, repo.KindEditors, "editor1")
	require.NoError(t, err)
	require.Equal(t, v0+1, v1)
}

func TestConcurrentReputationUpdatesAreSerialized(t *testing.T) {
	env := newTestEnv(t)
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.Engine.UpdateReputation(env.Ctx, "editor3", domain.ActionDealCompleted)
		}()
	}
	wg.Wait()
	require.Equal(t, 3+n, env.Engine.GetEditor(env.Ctx, "editor3").CompletedDeals)
}

func TestTrackerMilestoneLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tr := env.Engine.CreateTracker(env.Ctx, "d1")
	require.Equal(t, domain.TrackerStatusNotStarted, tr.Status)
	require.Zero(t, tr.Progress)
	require.Empty(t, tr.Milestones)
	require.True(t, tr.StartDate.Equal(fixedNow))

	m, ok := env.Engine.AddMilestone(env.Ctx, "d1", domain.Milestone{Title: "Rough cut", Completed: true})
	require.True(t, ok)
	require.NotEmpty(t, m.ID)
	require.False(t, m.Completed)
	require.Nil(t, m.CompletedDate)

	later := fixedNow.Add(time.Hour)
	eng := env.Engine.WithClock(func() time.Time { return later })
	require.True(t, eng.CompleteMilestone(env.Ctx, "d1", m.ID))
	got, found := env.Engine.GetTracker(env.Ctx, "d1")
	require.True(t, found)
	done, idx := got.Milestone(m.ID)
	require.Equal(t, 0, idx)
	require.True(t, done.Completed)
	require.NotNil(t, done.CompletedDate)
	require.True(t, done.CompletedDate.Equal(later))
	require.Zero(t, got.Progress)

	// A second completion succeeds and keeps the first date.
	eng = env.Engine.WithClock(func() time.Time { return later.Add(time.Hour) })
	require.True(t, eng.CompleteMilestone(env.Ctx, "d1", m.ID))
	again, _ := env.Engine.GetTracker(env.Ctx, "d1")
	require.Equal(t, got, again)
}

func TestTrackerOperationsIgnoreMissingRecords(t *testing.T) {
	env := newTestEnv(t)
	require.False(t, env.Engine.UpdateProgress(env.Ctx, "none", "Editing", 50))
	_, ok := env.Engine.AddMilestone(env.Ctx, "none", domain.Milestone{Title: "x"})
	require.False(t, ok)
	require.False(t, env.Engine.CompleteMilestone(env.Ctx, "none", "m"))
	_, found := env.Engine.GetTracker(env.Ctx, "none")
	require.False(t, found)

	env.Engine.CreateTracker(env.Ctx, "d1")
	require.False(t, env.Engine.CompleteMilestone(env.Ctx, "d1", "missing"))
	require.Equal(t, []string{events.TrackerCreated}, env.eventTypes(t, "d1"))
	require.Empty(t, env.Engine.ListTrackers(env.Ctx)[0].Milestones)
	require.Len(t, env.Engine.ListTrackers(env.Ctx), 1)
	require.Empty(t, env.eventTypes(t, "none"))
}

func TestUpdateProgressOverwrites(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.CreateTracker(env.Ctx, "d1")
	later := fixedNow.Add(2 * time.Hour)
	require.True(t, env.Engine.WithClock(func() time.Time { return later }).UpdateProgress(env.Ctx, "d1", "Editing", 40))
	got, _ := env.Engine.GetTracker(env.Ctx, "d1")
	require.Equal(t, "Editing", got.Status)
	require.Equal(t, 40, got.Progress)
	require.True(t, got.LastUpdated.Equal(later))
	require.True(t, got.StartDate.Equal(fixedNow))
}

func TestCreateTrackerTwiceReplacesAndWarns(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.CreateTracker(env.Ctx, "d1")
	_, ok := env.Engine.AddMilestone(env.Ctx, "d1", domain.Milestone{Title: "Assembly"})
	require.True(t, ok)

	env.Engine.CreateTracker(env.Ctx, "d1")
	got, _ := env.Engine.GetTracker(env.Ctx, "d1")
	require.Empty(t, got.Milestones)
	require.Equal(t, 1, env.Logs.FilterMessage("tracker already exists, replacing it").Len())

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: events.TrackerCreated, EntityID: "d1"})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	require.JSONEq(t, `{"replaced":true}`, evts[0].Payload)
	require.JSONEq(t, `{"replaced":false}`, evts[1].Payload)
}

func TestMilestoneIDsAreUnique(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.CreateTracker(env.Ctx, "d1")
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		m, ok := env.Engine.AddMilestone(env.Ctx, "d1", domain.Milestone{Title: "step"})
		require.True(t, ok)
		_, dup := seen[m.ID]
		require.False(t, dup, "duplicate milestone id %s", m.ID)
		seen[m.ID] = struct{}{}
	}
	got, _ := env.Engine.GetTracker(env.Ctx, "d1")
	require.Len(t, got.Milestones, 50)
}

func TestCheckoutDeclines(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, domain.Deal{ID: "d1", Budget: 1000, Status: domain.DealStatusPending})

	rec := env.Engine.CompleteCheckout(env.Ctx, domain.Checkout{DealID: "d1", Amount: 300})
	require.False(t, rec.Accepted)
	require.Equal(t, domain.DeclinePaymentMethodRequired, rec.Reason)

	rec = env.Engine.CompleteCheckout(env.Ctx, domain.Checkout{DealID: "d1", Method: "crypto", Amount: 300})
	require.False(t, rec.Accepted)
	require.Equal(t, domain.DeclineUnsupportedMethod, rec.Reason)

	rec = env.Engine.CompleteCheckout(env.Ctx, domain.Checkout{DealID: "d1", Method: "card", Amount: 100})
	require.False(t, rec.Accepted)
	require.Equal(t, domain.DeclineInsufficientAdvance, rec.Reason)
	require.Equal(t, 200.0, rec.Advance.RequiredAmount)
	require.Nil(t, rec.Tracker)

	_, found := env.Engine.GetTracker(env.Ctx, "d1")
	require.False(t, found)
	require.False(t, env.Engine.GetDeal(env.Ctx, "d1").AdvancePaid)
}

func TestCheckoutPaysAdvanceAndOpensTracker(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, domain.Deal{ID: "d1", Budget: 1000, Status: domain.DealStatusPending})

	q := env.Engine.QuoteCheckout(200)
	require.InDelta(t, 10, q.PlatformFee, 1e-9)
	require.InDelta(t, 210, q.Total, 1e-9)

	rec := env.Engine.CompleteCheckout(env.Ctx, domain.Checkout{DealID: "d1", Method: "paypal", Amount: 200})
	require.True(t, rec.Accepted)
	require.Empty(t, rec.Reason)
	require.Equal(t, "paypal", rec.Method)
	require.True(t, rec.Advance.Success)
	require.NotNil(t, rec.Tracker)
	require.Equal(t, domain.TrackerStatusNotStarted, rec.Tracker.Status)

	require.True(t, env.Engine.GetDeal(env.Ctx, "d1").AdvancePaid)
	_, found := env.Engine.GetTracker(env.Ctx, "d1")
	require.True(t, found)
	require.Equal(t,
		[]string{events.DealAdvancePaid, events.TrackerCreated, events.CheckoutCompleted},
		env.eventTypes(t, "d1"))
}

func TestEventsCarryActor(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.WithActor("ops").UpdateEditorActivity(env.Ctx, "editor1")
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: events.EditorActivity})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, "ops", evts[0].ActorID)
	require.Equal(t, "editor", evts[0].EntityKind)
}

func TestStorageFaultIsLoggedNotReturned(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.DB.Close())

	rep := env.Engine.UpdateReputation(env.Ctx, "editor1", domain.ActionDealCompleted)
	// The editor could not be read: the outcome is dropped and the seeded
	// record's reputation (8 completed, 1 cancelled) is reported.
	require.Equal(t, 75, rep.Points)
	require.Equal(t, domain.TierSilver, rep.Level)

	faults := env.Logs.FilterMessage("persist failed, mutation discarded")
	require.Equal(t, 1, faults.Len())
	entry := faults.All()[0]
	require.Equal(t, zapcore.ErrorLevel, entry.Level)
	require.Equal(t, "update_reputation", entry.ContextMap()["op"])

	require.False(t, env.Engine.CancelDeal(env.Ctx, "d1").Refunded)
	_, found := env.Engine.GetTracker(env.Ctx, "d1")
	require.False(t, found)
}

func TestUnreadableDealDeclinesPayment(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, domain.Deal{ID: "d1", Budget: 1000, Status: domain.DealStatusPending})
	require.NoError(t, env.Engine.DB.Close())

	res := env.Engine.ProcessAdvancePayment(env.Ctx, "d1", 1)
	require.False(t, res.Success)
	require.Zero(t, res.AdminFee)

	rec := env.Engine.CompleteCheckout(env.Ctx, domain.Checkout{DealID: "d1", Method: "card", Amount: 1})
	require.False(t, rec.Accepted)
	require.Equal(t, domain.DeclineStoreUnavailable, rec.Reason)
	require.False(t, rec.Advance.Success)
	require.Nil(t, rec.Tracker)
	require.Zero(t, env.Logs.FilterMessage("checkout completed").Len())
}

func TestCheckoutSessionPaysOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, domain.Deal{ID: "d1", Budget: 1000, Status: domain.DealStatusPending})
	c := domain.Checkout{DealID: "d1", Method: "card", Amount: 200, SessionID: "sess-1"}

	first := env.Engine.CompleteCheckout(env.Ctx, c)
	require.True(t, first.Accepted)
	_, ok := env.Engine.AddMilestone(env.Ctx, "d1", domain.Milestone{Title: "Rough cut"})
	require.True(t, ok)

	replay := env.Engine.CompleteCheckout(env.Ctx, c)
	require.False(t, replay.Accepted)
	require.Equal(t, domain.DeclineSessionUsed, replay.Reason)
	require.Nil(t, replay.Tracker)

	tr, found := env.Engine.GetTracker(env.Ctx, "d1")
	require.True(t, found)
	require.Len(t, tr.Milestones, 1)
	require.Equal(t,
		[]string{events.DealAdvancePaid, events.TrackerCreated, events.CheckoutCompleted, events.TrackerMilestoneAdded},
		env.eventTypes(t, "d1"))

	// A declined payment does not spend its session.
	env.seedDeal(t, domain.Deal{ID: "d2", Budget: 1000, Status: domain.DealStatusPending})
	short := domain.Checkout{DealID: "d2", Method: "card", Amount: 10, SessionID: "sess-2"}
	require.Equal(t, domain.DeclineInsufficientAdvance, env.Engine.CompleteCheckout(env.Ctx, short).Reason)
	require.Equal(t, domain.DeclineInsufficientAdvance, env.Engine.CompleteCheckout(env.Ctx, short).Reason)
}
