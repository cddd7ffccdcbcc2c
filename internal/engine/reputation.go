package engine

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"reelmarket/internal/domain"
	"reelmarket/internal/events"
	"reelmarket/internal/repo"
)

// CalculateReputation scores an editor's deal history. It has no side effects.
func (e Engine) CalculateReputation(ed domain.Editor) domain.Reputation {
	r := e.rules().Reputation
	points := ed.CompletedDeals*r.CompletedPoints -
		ed.CancelledDeals*r.CancelledPenalty -
		ed.LateDeliveries*r.LatePenalty
	if points < 0 {
		points = 0
	}
	level := domain.TierBronze
	switch {
	case points >= r.GoldMinPoints:
		level = domain.TierGold
	case points >= r.SilverMinPoints:
		level = domain.TierSilver
	}
	badge := string(level)
	if glyph := r.Badges[string(level)]; glyph != "" {
		badge = glyph + " " + badge
	}
	return domain.Reputation{Points: points, Badge: badge, Level: level}
}

// UpdateReputation bumps the counter that matches action, persists the editor
// and returns the recomputed reputation. An unrecognised action bumps nothing
// but the editor is still written. When the editor cannot be read the outcome
// is dropped and the last known reputation is returned.
func (e Engine) UpdateReputation(ctx context.Context, editorID string, action domain.ReputationAction) domain.Reputation {
	var ed domain.Editor
	loaded := false
	e.mutate(ctx, repo.KindEditors, "update_reputation", func(tx *sql.Tx) error {
		cur, err := e.editorTx(ctx, tx, editorID)
		if err != nil {
			return err
		}
		bump(&cur, action)
		ed, loaded = cur, true
		if err := e.Repo.UpsertEditorTx(ctx, tx, cur); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.EditorReputation, "editor", editorID, events.Payload{
			"action":          string(action),
			"completed_deals": cur.CompletedDeals,
			"cancelled_deals": cur.CancelledDeals,
			"late_deliveries": cur.LateDeliveries,
		})
	})
	if !loaded {
		ed = e.lastKnownEditor(ctx, editorID)
	}
	rep := e.CalculateReputation(ed)
	e.logger().Debug("reputation updated",
		zap.String("editor_id", editorID),
		zap.String("action", string(action)),
		zap.Int("points", rep.Points))
	return rep
}

func bump(ed *domain.Editor, action domain.ReputationAction) {
	switch action {
	case domain.ActionDealCompleted:
		ed.CompletedDeals++
	case domain.ActionDealCancelled:
		ed.CancelledDeals++
	case domain.ActionLateDelivery:
		ed.LateDeliveries++
	}
}
