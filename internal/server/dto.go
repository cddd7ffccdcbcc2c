package server

import (
	"encoding/json"
	"time"

	"reelmarket/internal/config"
	"reelmarket/internal/domain"
)

// Request payloads

type SaveEditorRequest struct {
	Name *string `json:"name,omitempty"`
}

type ReputationRequest struct {
	Action string `json:"action" enum:"deal_completed,deal_cancelled,late_delivery"`
}

type CommissionQuoteRequest struct {
	EditorID string  `json:"editor_id"`
	Amount   float64 `json:"amount" minimum:"0"`
}

type SaveDealRequest struct {
	Budget *float64 `json:"budget,omitempty" minimum:"0"`
	Status *string  `json:"status,omitempty" enum:"pending,in_progress,cancelled,completed"`
}

type AdvanceRequest struct {
	Amount float64 `json:"amount" minimum:"0"`
}

type ProgressRequest struct {
	Status   string `json:"status"`
	Progress int    `json:"progress" minimum:"0" maximum:"100"`
}

type AddMilestoneRequest struct {
	Title string `json:"title"`
}

type CheckoutQuoteRequest struct {
	Amount float64 `json:"amount" minimum:"0"`
}

type CheckoutSessionRequest struct {
	DealID string  `json:"deal_id"`
	Method string  `json:"method,omitempty"`
	Amount float64 `json:"amount" minimum:"0"`
}

type CompleteCheckoutRequest struct {
	Token string `json:"token"`
}

// Response payloads

type EditorResponse struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	CompletedDeals int                `json:"completed_deals"`
	CancelledDeals int                `json:"cancelled_deals"`
	LateDeliveries int                `json:"late_deliveries"`
	LastActivity   time.Time          `json:"last_activity"`
	Reputation     ReputationResponse `json:"reputation"`
}

type ReputationResponse struct {
	Points int    `json:"points"`
	Badge  string `json:"badge"`
	Level  string `json:"level" enum:"Bronze,Silver,Gold"`
}

type CommissionResponse struct {
	EditorID       string  `json:"editor_id"`
	Amount         float64 `json:"amount"`
	CommissionRate float64 `json:"commission_rate"`
	Commission     float64 `json:"commission"`
	EditorEarnings float64 `json:"editor_earnings"`
	LoyaltyLevel   string  `json:"loyalty_level" enum:"Bronze,Silver"`
}

type DealResponse struct {
	ID            string  `json:"id"`
	Budget        float64 `json:"budget"`
	AdvancePaid   bool    `json:"advance_paid"`
	AdvanceAmount float64 `json:"advance_amount"`
	AdminFee      float64 `json:"admin_fee"`
	Status        string  `json:"status"`
	WorkStarted   bool    `json:"work_started"`
	RefundAmount  float64 `json:"refund_amount,omitempty"`
}

type AdvanceResponse struct {
	Success        bool    `json:"success"`
	AdminFee       float64 `json:"admin_fee,omitempty"`
	RequiredAmount float64 `json:"required_amount,omitempty"`
}

type CancelResponse struct {
	Refunded bool    `json:"refunded"`
	Amount   float64 `json:"amount,omitempty"`
	AdminFee float64 `json:"admin_fee,omitempty"`
}

type MilestoneResponse struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Date          time.Time  `json:"date"`
	Completed     bool       `json:"completed"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
}

type TrackerResponse struct {
	DealID      string              `json:"deal_id"`
	StartDate   time.Time           `json:"start_date"`
	Status      string              `json:"status"`
	Progress    int                 `json:"progress"`
	Milestones  []MilestoneResponse `json:"milestones"`
	LastUpdated time.Time           `json:"last_updated"`
}

type QuoteResponse struct {
	Amount      float64 `json:"amount"`
	PlatformFee float64 `json:"platform_fee"`
	Total       float64 `json:"total"`
}

type CheckoutSessionResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Quote     QuoteResponse `json:"quote"`
	Methods   []string      `json:"methods"`
}

type ReceiptResponse struct {
	Accepted bool             `json:"accepted"`
	Reason   string           `json:"reason,omitempty"`
	Method   string           `json:"method,omitempty"`
	Quote    QuoteResponse    `json:"quote"`
	Advance  AdvanceResponse  `json:"advance"`
	Tracker  *TrackerResponse `json:"tracker,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type MarketConfigResponse struct {
	MarketID string          `json:"market_id"`
	Rules    config.Rules    `json:"rules"`
	Checkout config.Checkout `json:"checkout"`
	Webhooks int             `json:"webhooks"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func editorResponse(ed domain.Editor, rep domain.Reputation) EditorResponse {
	return EditorResponse{
		ID:             ed.ID,
		Name:           ed.Name,
		CompletedDeals: ed.CompletedDeals,
		CancelledDeals: ed.CancelledDeals,
		LateDeliveries: ed.LateDeliveries,
		LastActivity:   ed.LastActivity,
		Reputation:     reputationResponse(rep),
	}
}

func reputationResponse(r domain.Reputation) ReputationResponse {
	return ReputationResponse{Points: r.Points, Badge: r.Badge, Level: string(r.Level)}
}

func dealResponse(d domain.Deal) DealResponse {
	return DealResponse(d)
}

func mapDeals(items []domain.Deal) []DealResponse {
	out := make([]DealResponse, 0, len(items))
	for _, d := range items {
		out = append(out, dealResponse(d))
	}
	return out
}

func advanceResponse(r domain.AdvanceResult) AdvanceResponse {
	return AdvanceResponse(r)
}

func cancelResponse(r domain.CancelResult) CancelResponse {
	return CancelResponse(r)
}

func milestoneResponse(m domain.Milestone) MilestoneResponse {
	return MilestoneResponse(m)
}

func trackerResponse(t domain.Tracker) TrackerResponse {
	res := TrackerResponse{
		DealID:      t.DealID,
		StartDate:   t.StartDate,
		Status:      t.Status,
		Progress:    t.Progress,
		Milestones:  make([]MilestoneResponse, 0, len(t.Milestones)),
		LastUpdated: t.LastUpdated,
	}
	for _, m := range t.Milestones {
		res.Milestones = append(res.Milestones, milestoneResponse(m))
	}
	return res
}

func mapTrackers(items []domain.Tracker) []TrackerResponse {
	out := make([]TrackerResponse, 0, len(items))
	for _, t := range items {
		out = append(out, trackerResponse(t))
	}
	return out
}

func quoteResponse(q domain.Quote) QuoteResponse {
	return QuoteResponse(q)
}

func receiptResponse(r domain.Receipt) ReceiptResponse {
	res := ReceiptResponse{
		Accepted: r.Accepted,
		Reason:   r.Reason,
		Method:   r.Method,
		Quote:    quoteResponse(r.Quote),
		Advance:  advanceResponse(r.Advance),
	}
	if r.Tracker != nil {
		t := trackerResponse(*r.Tracker)
		res.Tracker = &t
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) MarketConfigResponse {
	return MarketConfigResponse{
		MarketID: cfg.Market.ID,
		Rules:    cfg.Rules,
		Checkout: cfg.Checkout,
		Webhooks: len(cfg.Webhooks),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}
