package engine

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"reelmarket/internal/domain"
	"reelmarket/internal/events"
	"reelmarket/internal/repo"
)

func defaultDeal(id string) domain.Deal {
	return domain.Deal{ID: id, Status: domain.DealStatusPending}
}

// GetDeal returns the stored deal or a pending, unpaid default that is not
// persisted.
func (e Engine) GetDeal(ctx context.Context, dealID string) domain.Deal {
	d, found, err := e.Repo.GetDeal(ctx, dealID)
	if err != nil {
		e.logger().Error("load deal failed", zap.String("deal_id", dealID), zap.Error(err))
	}
	if err != nil || !found {
		return defaultDeal(dealID)
	}
	return d
}

func (e Engine) ListDeals(ctx context.Context) []domain.Deal {
	deals, err := e.Repo.ListDeals(ctx)
	if err != nil {
		e.logger().Error("list deals failed", zap.Error(err))
		return []domain.Deal{}
	}
	return deals
}

func (e Engine) dealTx(ctx context.Context, tx *sql.Tx, dealID string) (domain.Deal, error) {
	d, found, err := e.Repo.GetDealTx(ctx, tx, dealID)
	if err != nil {
		return domain.Deal{}, err
	}
	if !found {
		return defaultDeal(dealID), nil
	}
	return d, nil
}

// DealPatch carries the fields the booking flow sets on a deal.
type DealPatch struct {
	Budget *float64
	Status *string
}

// SaveDeal applies patch to the deal, creating it with defaults when missing.
func (e Engine) SaveDeal(ctx context.Context, dealID string, patch DealPatch) domain.Deal {
	apply := func(d domain.Deal) domain.Deal {
		if patch.Budget != nil {
			d.Budget = *patch.Budget
		}
		if patch.Status != nil {
			d.Status = *patch.Status
		}
		return d
	}
	deal := apply(defaultDeal(dealID))
	e.mutate(ctx, repo.KindDeals, "save_deal", func(tx *sql.Tx) error {
		cur, err := e.dealTx(ctx, tx, dealID)
		if err != nil {
			return err
		}
		deal = apply(cur)
		if err := e.Repo.UpsertDealTx(ctx, tx, deal); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.DealSaved, "deal", dealID, events.Payload{"budget": deal.Budget, "status": deal.Status})
	})
	return deal
}

// StartWork marks the deal as under way, which closes the refund window.
func (e Engine) StartWork(ctx context.Context, dealID string) domain.Deal {
	deal := defaultDeal(dealID)
	e.mutate(ctx, repo.KindDeals, "start_work", func(tx *sql.Tx) error {
		cur, err := e.dealTx(ctx, tx, dealID)
		if err != nil {
			return err
		}
		cur.WorkStarted = true
		cur.Status = domain.DealStatusInProgress
		deal = cur
		if err := e.Repo.UpsertDealTx(ctx, tx, cur); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.DealWorkStarted, "deal", dealID, nil)
	})
	return deal
}

// decideAdvance applies the advance rule to d without touching storage.
func (e Engine) decideAdvance(d domain.Deal, amount float64) (domain.Deal, domain.AdvanceResult) {
	r := e.rules().Escrow
	required := d.Budget * r.AdvanceRatio
	if amount < required {
		return d, domain.AdvanceResult{Success: false, RequiredAmount: required}
	}
	d.AdvancePaid = true
	d.AdvanceAmount = amount
	d.AdminFee = amount * r.AdminFeeRate
	return d, domain.AdvanceResult{Success: true, AdminFee: d.AdminFee}
}

// advanceOutcome says how far an advance payment got in storage.
type advanceOutcome int

const (
	// advanceUnread means the deal could not be loaded.
	advanceUnread advanceOutcome = iota
	advanceDeclined
	// advanceSpent means the checkout session had already paid.
	advanceSpent
	// advanceDiscarded means the payment was decided but not persisted.
	advanceDiscarded
	advanceCommitted
)

// ProcessAdvancePayment records an upfront payment when it covers the
// required share of the budget; otherwise it reports the required amount and
// leaves the deal alone. A deal that cannot be read is declined.
func (e Engine) ProcessAdvancePayment(ctx context.Context, dealID string, amount float64) domain.AdvanceResult {
	res, _ := e.payAdvance(ctx, dealID, amount, "")
	return res
}

// payAdvance applies the advance rule in one deals transaction. A non-empty
// sessionID is spent in that same transaction, and a spent session declines.
func (e Engine) payAdvance(ctx context.Context, dealID string, amount float64, sessionID string) (domain.AdvanceResult, advanceOutcome) {
	var res domain.AdvanceResult
	outcome := advanceUnread
	committed := e.mutate(ctx, repo.KindDeals, "process_advance_payment", func(tx *sql.Tx) error {
		if sessionID != "" {
			used, err := e.Repo.CheckoutSessionUsedTx(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if used {
				outcome = advanceSpent
				return errUnchanged
			}
		}
		cur, err := e.dealTx(ctx, tx, dealID)
		if err != nil {
			return err
		}
		next, r := e.decideAdvance(cur, amount)
		res = r
		if !r.Success {
			outcome = advanceDeclined
			return errUnchanged
		}
		outcome = advanceDiscarded
		if err := e.Repo.UpsertDealTx(ctx, tx, next); err != nil {
			return err
		}
		if sessionID != "" {
			if err := e.Repo.SpendCheckoutSessionTx(ctx, tx, sessionID, dealID); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, events.DealAdvancePaid, "deal", dealID, events.Payload{
			"amount":    next.AdvanceAmount,
			"admin_fee": next.AdminFee,
		})
	})
	if committed {
		outcome = advanceCommitted
	}
	if outcome == advanceUnread {
		res = domain.AdvanceResult{Success: false}
		if d, found, err := e.Repo.GetDeal(ctx, dealID); err == nil && found {
			res.RequiredAmount = d.Budget * e.rules().Escrow.AdvanceRatio
		}
	}
	return res, outcome
}

// decideCancel refunds the advance minus the admin fee, but only while work
// has not started. Both refusal causes yield the same result.
func decideCancel(d domain.Deal) (domain.Deal, domain.CancelResult) {
	if !d.AdvancePaid || d.WorkStarted {
		return d, domain.CancelResult{Refunded: false}
	}
	refund := d.AdvanceAmount - d.AdminFee
	d.Status = domain.DealStatusCancelled
	d.RefundAmount = refund
	return d, domain.CancelResult{Refunded: true, Amount: refund, AdminFee: d.AdminFee}
}

func (e Engine) CancelDeal(ctx context.Context, dealID string) domain.CancelResult {
	var res domain.CancelResult
	e.mutate(ctx, repo.KindDeals, "cancel_deal", func(tx *sql.Tx) error {
		cur, err := e.dealTx(ctx, tx, dealID)
		if err != nil {
			return err
		}
		next, r := decideCancel(cur)
		res = r
		if !r.Refunded {
			return errUnchanged
		}
		if err := e.Repo.UpsertDealTx(ctx, tx, next); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.DealCancelled, "deal", dealID, events.Payload{
			"refund_amount": r.Amount,
			"admin_fee":     r.AdminFee,
		})
	})
	return res
}
