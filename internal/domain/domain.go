package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the shared Bronze/Silver/Gold ladder used by loyalty and reputation.
type Tier string

const (
	TierBronze Tier = "Bronze"
	TierSilver Tier = "Silver"
	TierGold   Tier = "Gold"
)

const (
	DealStatusPending    = "pending"
	DealStatusInProgress = "in_progress"
	DealStatusCancelled  = "cancelled"
	DealStatusCompleted  = "completed"
)

const TrackerStatusNotStarted = "Not Started"

type Editor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CompletedDeals int       `json:"completedDeals"`
	CancelledDeals int       `json:"cancelledDeals"`
	LateDeliveries int       `json:"lateDeliveries"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Deal is an engagement between a client and an editor. AdvanceAmount and
// AdminFee are only meaningful once AdvancePaid is set.
type Deal struct {
	ID            string  `json:"id"`
	Budget        float64 `json:"budget"`
	AdvancePaid   bool    `json:"advancePaid"`
	AdvanceAmount float64 `json:"advanceAmount"`
	AdminFee      float64 `json:"adminFee"`
	Status        string  `json:"status"`
	WorkStarted   bool    `json:"workStarted"`
	RefundAmount  float64 `json:"refundAmount,omitempty"`
}

type Tracker struct {
	DealID      string      `json:"dealId"`
	StartDate   time.Time   `json:"startDate"`
	Status      string      `json:"status"`
	Progress    int         `json:"progress"`
	Milestones  []Milestone `json:"milestones"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

type Milestone struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Date          time.Time  `json:"date"`
	Completed     bool       `json:"completed"`
	CompletedDate *time.Time `json:"completedDate,omitempty"`
}

// Milestone returns the milestone with the given id and its index, or -1.
func (t Tracker) Milestone(id string) (Milestone, int) {
	for i, m := range t.Milestones {
		if m.ID == id {
			return m, i
		}
	}
	return Milestone{}, -1
}

type Commission struct {
	CommissionRate float64 `json:"commissionRate"`
	Commission     float64 `json:"commission"`
	EditorEarnings float64 `json:"editorEarnings"`
	LoyaltyLevel   Tier    `json:"loyaltyLevel"`
}

// AdvanceResult is either a success carrying AdminFee or a decline carrying
// the RequiredAmount the caller must prompt for.
type AdvanceResult struct {
	Success        bool    `json:"success"`
	AdminFee       float64 `json:"adminFee,omitempty"`
	RequiredAmount float64 `json:"requiredAmount,omitempty"`
}

type CancelResult struct {
	Refunded bool    `json:"refunded"`
	Amount   float64 `json:"amount,omitempty"`
	AdminFee float64 `json:"adminFee,omitempty"`
}

type Reputation struct {
	Points int    `json:"points"`
	Badge  string `json:"badge"`
	Level  Tier   `json:"level"`
}

type ReputationAction string

const (
	ActionDealCompleted ReputationAction = "deal_completed"
	ActionDealCancelled ReputationAction = "deal_cancelled"
	ActionLateDelivery  ReputationAction = "late_delivery"
)

// ParseReputationAction validates an action name coming from a CLI flag or
// request body.
func ParseReputationAction(s string) (ReputationAction, error) {
	switch a := ReputationAction(strings.TrimSpace(s)); a {
	case ActionDealCompleted, ActionDealCancelled, ActionLateDelivery:
		return a, nil
	default:
		return "", fmt.Errorf("invalid reputation action %q (want deal_completed, deal_cancelled or late_delivery)", s)
	}
}

// Checkout carries the payment method and amount chosen for a deal. It is
// built per request; nothing about an in-flight payment lives in globals.
// SessionID, when set, names the checkout session paying for it; a session
// pays at most once.
type Checkout struct {
	DealID    string  `json:"dealId"`
	Method    string  `json:"method"`
	Amount    float64 `json:"amount"`
	SessionID string  `json:"sessionId,omitempty"`
}

type Quote struct {
	Amount      float64 `json:"amount"`
	PlatformFee float64 `json:"platformFee"`
	Total       float64 `json:"total"`
}

const (
	DeclinePaymentMethodRequired = "payment_method_required"
	DeclineUnsupportedMethod     = "unsupported_payment_method"
	DeclineInsufficientAdvance   = "insufficient_advance"
	DeclineSessionUsed           = "checkout_session_used"
	DeclineStoreUnavailable      = "store_unavailable"
)

type Receipt struct {
	Accepted bool          `json:"accepted"`
	Reason   string        `json:"reason,omitempty"`
	Method   string        `json:"method,omitempty"`
	Quote    Quote         `json:"quote"`
	Advance  AdvanceResult `json:"advance"`
	Tracker  *Tracker      `json:"tracker,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
