package engine

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"reelmarket/internal/domain"
	"reelmarket/internal/events"
	"reelmarket/internal/repo"
)

// CreateTracker starts a fresh tracker for dealID. An existing tracker for the
// deal is replaced along with its milestones.
func (e Engine) CreateTracker(ctx context.Context, dealID string) domain.Tracker {
	now := e.now()
	t := domain.Tracker{
		DealID:      dealID,
		StartDate:   now,
		Status:      domain.TrackerStatusNotStarted,
		Progress:    0,
		Milestones:  []domain.Milestone{},
		LastUpdated: now,
	}
	e.mutate(ctx, repo.KindTrackers, "create_tracker", func(tx *sql.Tx) error {
		prev, replaced, err := e.Repo.GetTrackerTx(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if replaced {
			// Replacement is kept; the event payload records it.
			e.logger().Warn("tracker already exists, replacing it",
				zap.String("deal_id", dealID),
				zap.Int("dropped_milestones", len(prev.Milestones)))
		}
		if err := e.Repo.SaveTrackerTx(ctx, tx, t); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.TrackerCreated, "tracker", dealID, events.Payload{"replaced": replaced})
	})
	return t
}

func (e Engine) GetTracker(ctx context.Context, dealID string) (domain.Tracker, bool) {
	t, found, err := e.Repo.GetTracker(ctx, dealID)
	if err != nil {
		e.logger().Error("load tracker failed", zap.String("deal_id", dealID), zap.Error(err))
		return domain.Tracker{}, false
	}
	return t, found
}

func (e Engine) ListTrackers(ctx context.Context) []domain.Tracker {
	ts, err := e.Repo.ListTrackers(ctx)
	if err != nil {
		e.logger().Error("list trackers failed", zap.Error(err))
		return []domain.Tracker{}
	}
	return ts
}

// withTracker loads the deal's tracker inside a transaction and hands it to
// fn. A missing tracker rolls back quietly and reports false.
func (e Engine) withTracker(ctx context.Context, dealID, op string, fn func(tx *sql.Tx, t *domain.Tracker) error) bool {
	return e.mutate(ctx, repo.KindTrackers, op, func(tx *sql.Tx) error {
		t, found, err := e.Repo.GetTrackerTx(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if !found {
			return errUnchanged
		}
		return fn(tx, &t)
	})
}

// UpdateProgress overwrites status and progress. It reports false when the
// deal has no tracker.
func (e Engine) UpdateProgress(ctx context.Context, dealID, status string, progress int) bool {
	return e.withTracker(ctx, dealID, "update_progress", func(tx *sql.Tx, t *domain.Tracker) error {
		t.Status = status
		t.Progress = progress
		t.LastUpdated = e.now()
		if err := e.Repo.SaveTrackerTx(ctx, tx, *t); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.TrackerProgress, "tracker", dealID, events.Payload{
			"status":   status,
			"progress": progress,
		})
	})
}

// AddMilestone appends m with a fresh id and today's date. Any id, date or
// completion state on m is ignored.
func (e Engine) AddMilestone(ctx context.Context, dealID string, m domain.Milestone) (domain.Milestone, bool) {
	m.ID = e.newID()
	m.Date = e.now()
	m.Completed = false
	m.CompletedDate = nil
	ok := e.withTracker(ctx, dealID, "add_milestone", func(tx *sql.Tx, t *domain.Tracker) error {
		t.Milestones = append(t.Milestones, m)
		if err := e.Repo.SaveTrackerTx(ctx, tx, *t); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.TrackerMilestoneAdded, "tracker", dealID, events.Payload{
			"milestone_id": m.ID,
			"title":        m.Title,
		})
	})
	if !ok {
		return domain.Milestone{}, false
	}
	return m, true
}

// CompleteMilestone marks a milestone done. Completing it again succeeds and
// keeps the first completion date. Progress is left as is.
func (e Engine) CompleteMilestone(ctx context.Context, dealID, milestoneID string) bool {
	return e.withTracker(ctx, dealID, "complete_milestone", func(tx *sql.Tx, t *domain.Tracker) error {
		m, i := t.Milestone(milestoneID)
		if i < 0 {
			return errUnchanged
		}
		if m.Completed && m.CompletedDate != nil {
			return nil
		}
		now := e.now()
		m.Completed = true
		m.CompletedDate = &now
		t.Milestones[i] = m
		if err := e.Repo.SaveTrackerTx(ctx, tx, *t); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.TrackerMilestoneCompleted, "tracker", dealID, events.Payload{
			"milestone_id":   milestoneID,
			"completed_date": now,
		})
	})
}
