package engine

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"reelmarket/internal/domain"
	"reelmarket/internal/events"
	"reelmarket/internal/repo"
)

// QuoteCheckout adds the platform fee to amount.
func (e Engine) QuoteCheckout(amount float64) domain.Quote {
	rate := 0.0
	if e.Config != nil {
		rate = e.Config.Checkout.PlatformFeeRate
	}
	fee := amount * rate
	return domain.Quote{Amount: amount, PlatformFee: fee, Total: amount + fee}
}

// CompleteCheckout pays the advance on c.DealID with the chosen method and,
// once the payment is stored, opens the deal's tracker.
func (e Engine) CompleteCheckout(ctx context.Context, c domain.Checkout) domain.Receipt {
	method := strings.TrimSpace(c.Method)
	rec := domain.Receipt{Method: method, Quote: e.QuoteCheckout(c.Amount)}
	switch {
	case method == "":
		rec.Reason = domain.DeclinePaymentMethodRequired
		return rec
	case e.Config == nil || !e.Config.Checkout.HasMethod(method):
		rec.Reason = domain.DeclineUnsupportedMethod
		return rec
	}

	adv, outcome := e.payAdvance(ctx, c.DealID, c.Amount, c.SessionID)
	rec.Advance = adv
	switch outcome {
	case advanceSpent:
		rec.Reason = domain.DeclineSessionUsed
		return rec
	case advanceDeclined:
		rec.Reason = domain.DeclineInsufficientAdvance
		return rec
	case advanceUnread, advanceDiscarded:
		rec.Advance = domain.AdvanceResult{RequiredAmount: adv.RequiredAmount}
		rec.Reason = domain.DeclineStoreUnavailable
		return rec
	}
	t := e.CreateTracker(ctx, c.DealID)
	rec.Accepted = true
	rec.Tracker = &t

	e.mutate(ctx, repo.KindDeals, "complete_checkout", func(tx *sql.Tx) error {
		return e.appendEvent(ctx, tx, events.CheckoutCompleted, "deal", c.DealID, events.Payload{
			"method":       method,
			"amount":       c.Amount,
			"platform_fee": rec.Quote.PlatformFee,
			"total":        rec.Quote.Total,
		})
	})
	e.logger().Info("checkout completed",
		zap.String("deal_id", c.DealID),
		zap.String("method", method),
		zap.Float64("amount", c.Amount))
	return rec
}
