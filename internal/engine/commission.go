package engine

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"reelmarket/internal/domain"
	"reelmarket/internal/events"
	"reelmarket/internal/repo"
)

const unknownEditorName = "Unknown Editor"

func (e Engine) defaultEditor(id string) domain.Editor {
	return domain.Editor{ID: id, Name: unknownEditorName, LastActivity: e.now()}
}

// GetEditor returns the stored editor or a zeroed default that is not persisted.
func (e Engine) GetEditor(ctx context.Context, editorID string) domain.Editor {
	ed, found, err := e.Repo.GetEditor(ctx, editorID)
	if err != nil {
		e.logger().Error("load editor failed", zap.String("editor_id", editorID), zap.Error(err))
	}
	if err != nil || !found {
		return e.defaultEditor(editorID)
	}
	return ed
}

// lastKnownEditor is the best record available when the store cannot be
// read in a transaction: a plain read, then the configured seed, then a
// default.
func (e Engine) lastKnownEditor(ctx context.Context, editorID string) domain.Editor {
	if ed, found, err := e.Repo.GetEditor(ctx, editorID); err == nil && found {
		return ed
	}
	if e.Config != nil {
		for _, ed := range seedEditors(e.Config)(e.now()) {
			if ed.ID == editorID {
				return ed
			}
		}
	}
	return e.defaultEditor(editorID)
}

func (e Engine) ListEditors(ctx context.Context) []domain.Editor {
	eds, err := e.Repo.ListEditors(ctx)
	if err != nil {
		e.logger().Error("list editors failed", zap.Error(err))
		return []domain.Editor{}
	}
	return eds
}

func (e Engine) editorTx(ctx context.Context, tx *sql.Tx, editorID string) (domain.Editor, error) {
	ed, found, err := e.Repo.GetEditorTx(ctx, tx, editorID)
	if err != nil {
		return domain.Editor{}, err
	}
	if !found {
		return e.defaultEditor(editorID), nil
	}
	return ed, nil
}

// EditorPatch lists the profile fields an editor may change directly. Deal
// counters only move through UpdateReputation.
type EditorPatch struct {
	Name *string
}

// SaveEditor applies patch to the editor, creating it when missing.
func (e Engine) SaveEditor(ctx context.Context, editorID string, patch EditorPatch) domain.Editor {
	ed := e.defaultEditor(editorID)
	if patch.Name != nil {
		ed.Name = *patch.Name
	}
	e.mutate(ctx, repo.KindEditors, "save_editor", func(tx *sql.Tx) error {
		cur, err := e.editorTx(ctx, tx, editorID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			cur.Name = *patch.Name
		}
		ed = cur
		if err := e.Repo.UpsertEditorTx(ctx, tx, cur); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.EditorSaved, "editor", editorID, events.Payload{"name": cur.Name})
	})
	return ed
}

// LoyaltyLevel classifies an editor for commission purposes. An editor with no
// recorded activity counts as active now.
func (e Engine) LoyaltyLevel(ed domain.Editor) domain.Tier {
	r := e.rules().Commission
	now := e.now()
	last := ed.LastActivity
	if last.IsZero() {
		last = now
	}
	daysSinceActivity := now.Sub(last).Hours() / 24
	if daysSinceActivity > r.InactivityDays && ed.CompletedDeals < r.SilverMinCompletedDeals {
		return domain.TierBronze
	}
	if ed.CompletedDeals >= r.SilverMinCompletedDeals {
		return domain.TierSilver
	}
	return domain.TierBronze
}

// CalculateCommission splits amount between the platform and the editor.
// It has no side effects.
func (e Engine) CalculateCommission(ctx context.Context, editorID string, amount float64) domain.Commission {
	ed := e.GetEditor(ctx, editorID)
	level := e.LoyaltyLevel(ed)
	r := e.rules().Commission
	rate := r.BronzeRate
	if level == domain.TierSilver {
		rate = r.SilverRate
	}
	commission := amount * rate
	return domain.Commission{
		CommissionRate: rate,
		Commission:     commission,
		EditorEarnings: amount - commission,
		LoyaltyLevel:   level,
	}
}

// UpdateEditorActivity stamps the editor's lastActivity with the current time.
func (e Engine) UpdateEditorActivity(ctx context.Context, editorID string) domain.Editor {
	ed := e.defaultEditor(editorID)
	e.mutate(ctx, repo.KindEditors, "update_editor_activity", func(tx *sql.Tx) error {
		cur, err := e.editorTx(ctx, tx, editorID)
		if err != nil {
			return err
		}
		cur.LastActivity = e.now()
		ed = cur
		if err := e.Repo.UpsertEditorTx(ctx, tx, cur); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.EditorActivity, "editor", editorID, events.Payload{"last_activity": cur.LastActivity})
	})
	return ed
}
