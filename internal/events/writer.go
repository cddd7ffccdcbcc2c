package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engines.
const (
	EditorSaved               = "editor.saved"
	EditorActivity            = "editor.activity"
	EditorReputation          = "editor.reputation"
	DealSaved                 = "deal.saved"
	DealWorkStarted           = "deal.work_started"
	DealAdvancePaid           = "deal.advance_paid"
	DealCancelled             = "deal.cancelled"
	TrackerCreated            = "tracker.created"
	TrackerProgress           = "tracker.progress"
	TrackerMilestoneAdded     = "tracker.milestone_added"
	TrackerMilestoneCompleted = "tracker.milestone_completed"
	CheckoutCompleted         = "checkout.completed"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

type Entry struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

// Append records an event inside tx so it commits or rolls back with the
// mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	if e.ActorID == "" {
		e.ActorID = "system"
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, e.Type, e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
