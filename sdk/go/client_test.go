package reelmarketsdk_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"reelmarket/internal/config"
	"reelmarket/internal/db"
	"reelmarket/internal/engine"
	"reelmarket/internal/migrate"
	"reelmarket/internal/server"
	reelmarketsdk "reelmarket/sdk/go"
)

func newClient(t *testing.T) *reelmarketsdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:        engine.New(conn, config.Default("market-1"), nil),
		SessionSecret: "sdk-test",
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := reelmarketsdk.New(srv.URL)
	c.ActorID = "sdk"
	t.Cleanup(func() {
		if c.HTTPClient != nil {
			c.HTTPClient.CloseIdleConnections()
		}
	})
	return c
}

func TestClientBookingFlow(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	editors, err := c.ListEditors(ctx)
	require.NoError(t, err)
	require.Len(t, editors, 3)

	quote, err := c.QuoteCommission(ctx, "editor3", 100)
	require.NoError(t, err)
	require.Equal(t, "Bronze", quote.LoyaltyLevel)
	require.InDelta(t, 10, quote.Commission, 1e-9)

	_, err = c.SaveDeal(ctx, "deal-1", 750)
	require.NoError(t, err)
	session, err := c.OpenCheckout(ctx, "deal-1", "bank_transfer", 150)
	require.NoError(t, err)
	receipt, err := c.CompleteCheckout(ctx, session.Token)
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.NotNil(t, receipt.Tracker)

	_, err = c.CompleteCheckout(ctx, session.Token)
	var replayErr *reelmarketsdk.APIError
	require.ErrorAs(t, err, &replayErr)
	require.Equal(t, 409, replayErr.StatusCode)
	require.Equal(t, "checkout_session_used", replayErr.Code)

	m, err := c.AddMilestone(ctx, "deal-1", "Color grade")
	require.NoError(t, err)
	tr, err := c.CompleteMilestone(ctx, "deal-1", m.ID)
	require.NoError(t, err)
	require.True(t, tr.Milestones[0].Completed)

	deal, err := c.StartWork(ctx, "deal-1")
	require.NoError(t, err)
	require.Equal(t, "in_progress", deal.Status)
	refund, err := c.CancelDeal(ctx, "deal-1")
	require.NoError(t, err)
	require.False(t, refund.Refunded)

	rep, err := c.RecordOutcome(ctx, "editor3", "deal_completed")
	require.NoError(t, err)
	require.Equal(t, 40, rep.Points)

	evts, err := c.ListEvents(ctx, "", "deal", "deal-1", 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, evts.Items)
	require.Equal(t, "sdk", evts.Items[0].ActorID)
}

func TestClientReportsMissingTracker(t *testing.T) {
	c := newClient(t)
	_, err := c.GetTracker(context.Background(), "nope")
	require.Error(t, err)
	require.True(t, reelmarketsdk.IsNotFound(err))
	var apiErr *reelmarketsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "not_found", apiErr.Code)
}
