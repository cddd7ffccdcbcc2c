package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reelmarket/internal/config"
	"reelmarket/internal/domain"
	"reelmarket/internal/events"
	"reelmarket/internal/repo"
)

// Engine hosts the commission, escrow, reputation, tracker and checkout rules.
// Operations never return errors: declines are result values, absent trackers
// are reported as false, and storage faults are logged and the mutation dropped.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
	NewID  func() string
	// Actor is stamped on events written by this engine value.
	Actor string
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default("reelmarket")
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := Engine{
		DB:     db,
		Config: cfg,
		Log:    log,
		Now:    time.Now,
		NewID:  uuid.NewString,
		Actor:  "system",
	}
	e.Repo = repo.Repo{DB: db, SeedEditors: seedEditors(cfg), Now: e.now}
	e.Events = events.Writer{Now: e.now}
	return e
}

// WithActor returns a copy of e that attributes its events to actorID.
func (e Engine) WithActor(actorID string) Engine {
	if actorID != "" {
		e.Actor = actorID
	}
	return e
}

// WithClock returns a copy of e whose rules, records and events all use now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Repo.Now = e.now
	e.Events.Now = e.now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) rules() config.Rules {
	if e.Config == nil {
		return config.Default("reelmarket").Rules
	}
	return e.Config.Rules
}

func seedEditors(cfg *config.Config) func(time.Time) []domain.Editor {
	seeds := cfg.Seed.Editors
	return func(now time.Time) []domain.Editor {
		out := make([]domain.Editor, 0, len(seeds))
		for _, s := range seeds {
			out = append(out, domain.Editor{
				ID:             s.ID,
				Name:           s.Name,
				CompletedDeals: s.CompletedDeals,
				CancelledDeals: s.CancelledDeals,
				LateDeliveries: s.LateDeliveries,
				LastActivity:   now,
			})
		}
		return out
	}
}

// errUnchanged rolls a mutation back without it counting as a fault.
var errUnchanged = errors.New("unchanged")

// mutate runs fn in a transaction on kind. It reports whether the change was
// committed; storage faults are logged here and go no further.
func (e Engine) mutate(ctx context.Context, kind repo.Kind, op string, fn func(tx *sql.Tx) error) bool {
	err := e.Repo.InTx(ctx, kind, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errUnchanged):
		return false
	default:
		e.logger().Error("persist failed, mutation discarded",
			zap.String("op", op),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return false
	}
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, payload events.Payload) error {
	return e.Events.Append(ctx, tx, events.Entry{
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    e.Actor,
		Payload:    payload,
	})
}
