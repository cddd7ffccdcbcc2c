package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"reelmarket/internal/config"
	"reelmarket/internal/domain"
)

// Kind names a persisted record collection.
type Kind string

const (
	KindEditors  Kind = "editors"
	KindDeals    Kind = "deals"
	KindTrackers Kind = "projectTrackers"
)

type Repo struct {
	DB *sql.DB
	// SeedEditors supplies the records written the first time the editors
	// collection is read while absent. Nil means no seeding.
	SeedEditors func(now time.Time) []domain.Editor
	Now         func() time.Time
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type lockKey struct {
	db   *sql.DB
	kind Kind
}

// kindLocks serializes writers per (database, collection) inside this process.
var kindLocks sync.Map

func (r Repo) lock(kind Kind) *sync.Mutex {
	mu, _ := kindLocks.LoadOrStore(lockKey{db: r.DB, kind: kind}, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// InTx runs fn inside one transaction while holding the write lock for kind.
// The transaction commits only when fn returns nil.
func (r Repo) InTx(ctx context.Context, kind Kind, fn func(tx *sql.Tx) error) error {
	mu := r.lock(kind)
	mu.Lock()
	defer mu.Unlock()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", kind, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", kind, err)
	}
	return nil
}

func (r Repo) UpsertMarketConfig(ctx context.Context, marketID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Market.ID = marketID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := r.now().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO market_configs(market_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(market_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, marketID, string(payload), now, now)
	return err
}

func (r Repo) GetMarketConfig(ctx context.Context, marketID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM market_configs WHERE market_id=?`, marketID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Market.ID == "" {
		cfg.Market.ID = marketID
	}
	return &cfg, cfg.Validate()
}

// SingleMarket returns the only stored market id, ErrNotFound when none is
// stored, or an error when several exist.
func (r Repo) SingleMarket(ctx context.Context) (string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT market_id FROM market_configs ORDER BY market_id`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", ErrNotFound
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("multiple markets configured (%s); specify --market", strings.Join(ids, ", "))
	}
}

// EventFilter narrows LatestEvents; zero values match everything.
type EventFilter struct {
	Limit      int
	Cursor     int64
	Type       string
	EntityKind string
	EntityID   string
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
