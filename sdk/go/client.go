package reelmarketsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal reelmarket HTTP API client.
type Client struct {
	BaseURL string
	// ActorID is sent as X-Actor-Id and recorded on events.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Reputation struct {
	Points int    `json:"points"`
	Badge  string `json:"badge"`
	Level  string `json:"level"`
}

type Editor struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CompletedDeals int        `json:"completed_deals"`
	CancelledDeals int        `json:"cancelled_deals"`
	LateDeliveries int        `json:"late_deliveries"`
	LastActivity   time.Time  `json:"last_activity"`
	Reputation     Reputation `json:"reputation"`
}

type Commission struct {
	EditorID       string  `json:"editor_id"`
	Amount         float64 `json:"amount"`
	CommissionRate float64 `json:"commission_rate"`
	Commission     float64 `json:"commission"`
	EditorEarnings float64 `json:"editor_earnings"`
	LoyaltyLevel   string  `json:"loyalty_level"`
}

type Deal struct {
	ID            string  `json:"id"`
	Budget        float64 `json:"budget"`
	AdvancePaid   bool    `json:"advance_paid"`
	AdvanceAmount float64 `json:"advance_amount"`
	AdminFee      float64 `json:"admin_fee"`
	Status        string  `json:"status"`
	WorkStarted   bool    `json:"work_started"`
	RefundAmount  float64 `json:"refund_amount,omitempty"`
}

// AdvanceResult reports either success with the admin fee or the amount
// required for the advance to be accepted.
type AdvanceResult struct {
	Success        bool    `json:"success"`
	AdminFee       float64 `json:"admin_fee"`
	RequiredAmount float64 `json:"required_amount"`
}

type CancelResult struct {
	Refunded bool    `json:"refunded"`
	Amount   float64 `json:"amount"`
	AdminFee float64 `json:"admin_fee"`
}

type Milestone struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Date          time.Time  `json:"date"`
	Completed     bool       `json:"completed"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
}

type Tracker struct {
	DealID      string      `json:"deal_id"`
	StartDate   time.Time   `json:"start_date"`
	Status      string      `json:"status"`
	Progress    int         `json:"progress"`
	Milestones  []Milestone `json:"milestones"`
	LastUpdated time.Time   `json:"last_updated"`
}

type Quote struct {
	Amount      float64 `json:"amount"`
	PlatformFee float64 `json:"platform_fee"`
	Total       float64 `json:"total"`
}

// CheckoutSession holds the signed token returned when a checkout is opened.
type CheckoutSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Quote     Quote     `json:"quote"`
	Methods   []string  `json:"methods"`
}

type Receipt struct {
	Accepted bool          `json:"accepted"`
	Reason   string        `json:"reason,omitempty"`
	Method   string        `json:"method,omitempty"`
	Quote    Quote         `json:"quote"`
	Advance  AdvanceResult `json:"advance"`
	Tracker  *Tracker      `json:"tracker,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) ListEditors(ctx context.Context) ([]Editor, error) {
	var resp []Editor
	err := c.do(ctx, http.MethodGet, "v0/editors", nil, &resp)
	return resp, err
}

// GetEditor fetches an editor; unknown ids come back with default values.
func (c *Client) GetEditor(ctx context.Context, id string) (Editor, error) {
	var resp Editor
	err := c.do(ctx, http.MethodGet, "v0/editors/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) RenameEditor(ctx context.Context, id, name string) (Editor, error) {
	var resp Editor
	err := c.do(ctx, http.MethodPatch, "v0/editors/"+url.PathEscape(id), map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) TouchEditor(ctx context.Context, id string) (Editor, error) {
	var resp Editor
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/editors/%s/activity", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RecordOutcome applies deal_completed, deal_cancelled or late_delivery to an editor.
func (c *Client) RecordOutcome(ctx context.Context, editorID, action string) (Reputation, error) {
	var resp Reputation
	endpoint := fmt.Sprintf("v0/editors/%s/reputation", url.PathEscape(editorID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"action": action}, &resp)
	return resp, err
}

func (c *Client) QuoteCommission(ctx context.Context, editorID string, amount float64) (Commission, error) {
	var resp Commission
	err := c.do(ctx, http.MethodPost, "v0/commission/quote", map[string]any{"editor_id": editorID, "amount": amount}, &resp)
	return resp, err
}

func (c *Client) GetDeal(ctx context.Context, id string) (Deal, error) {
	var resp Deal
	err := c.do(ctx, http.MethodGet, "v0/deals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SaveDeal creates or updates a deal's budget.
func (c *Client) SaveDeal(ctx context.Context, id string, budget float64) (Deal, error) {
	var resp Deal
	err := c.do(ctx, http.MethodPut, "v0/deals/"+url.PathEscape(id), map[string]any{"budget": budget}, &resp)
	return resp, err
}

func (c *Client) StartWork(ctx context.Context, dealID string) (Deal, error) {
	var resp Deal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/deals/%s/start-work", url.PathEscape(dealID)), nil, &resp)
	return resp, err
}

func (c *Client) PayAdvance(ctx context.Context, dealID string, amount float64) (AdvanceResult, error) {
	var resp AdvanceResult
	endpoint := fmt.Sprintf("v0/deals/%s/advance", url.PathEscape(dealID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"amount": amount}, &resp)
	return resp, err
}

func (c *Client) CancelDeal(ctx context.Context, dealID string) (CancelResult, error) {
	var resp CancelResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/deals/%s/cancel", url.PathEscape(dealID)), nil, &resp)
	return resp, err
}

func (c *Client) CreateTracker(ctx context.Context, dealID string) (Tracker, error) {
	var resp Tracker
	err := c.do(ctx, http.MethodPost, "v0/trackers/"+url.PathEscape(dealID), nil, &resp)
	return resp, err
}

// GetTracker fetches a deal's tracker. Use IsNotFound to detect a missing one.
func (c *Client) GetTracker(ctx context.Context, dealID string) (Tracker, error) {
	var resp Tracker
	err := c.do(ctx, http.MethodGet, "v0/trackers/"+url.PathEscape(dealID), nil, &resp)
	return resp, err
}

func (c *Client) UpdateProgress(ctx context.Context, dealID, status string, progress int) (Tracker, error) {
	var resp Tracker
	endpoint := fmt.Sprintf("v0/trackers/%s/progress", url.PathEscape(dealID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status, "progress": progress}, &resp)
	return resp, err
}

func (c *Client) AddMilestone(ctx context.Context, dealID, title string) (Milestone, error) {
	var resp Milestone
	endpoint := fmt.Sprintf("v0/trackers/%s/milestones", url.PathEscape(dealID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *Client) CompleteMilestone(ctx context.Context, dealID, milestoneID string) (Tracker, error) {
	var resp Tracker
	endpoint := fmt.Sprintf("v0/trackers/%s/milestones/%s/complete", url.PathEscape(dealID), url.PathEscape(milestoneID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) QuoteCheckout(ctx context.Context, amount float64) (Quote, error) {
	var resp Quote
	err := c.do(ctx, http.MethodPost, "v0/checkout/quote", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// OpenCheckout starts a checkout for a deal. An empty method is allowed and
// is declined when the session is paid.
func (c *Client) OpenCheckout(ctx context.Context, dealID, method string, amount float64) (CheckoutSession, error) {
	body := map[string]any{"deal_id": dealID, "amount": amount}
	if method != "" {
		body["method"] = method
	}
	var resp CheckoutSession
	err := c.do(ctx, http.MethodPost, "v0/checkout/sessions", body, &resp)
	return resp, err
}

func (c *Client) CompleteCheckout(ctx context.Context, token string) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "v0/checkout/complete", map[string]any{"token": token}, &resp)
	return resp, err
}

// ListEvents returns recent events, newest first.
func (c *Client) ListEvents(ctx context.Context, eventType, entityKind, entityID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
