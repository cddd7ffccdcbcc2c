package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reelmarket/internal/domain"
)

type writeMode int

const (
	// mergeFields overlays the new body's keys onto the stored body.
	mergeFields writeMode = iota
	// replaceRecord stores the new body as-is.
	replaceRecord
)

func collectionExists(ctx context.Context, q queryer, kind Kind) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE kind=?`, kind).Scan(&n); err != nil {
		return false, fmt.Errorf("check collection %s: %w", kind, err)
	}
	return n > 0, nil
}

func ensureCollection(ctx context.Context, q queryer, kind Kind, now time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO collections(kind,created_at) VALUES (?,?) ON CONFLICT(kind) DO NOTHING`,
		kind, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create collection %s: %w", kind, err)
	}
	return nil
}

func getRecord[T any](ctx context.Context, q queryer, kind Kind, id string) (T, bool, error) {
	var rec T
	var body string
	err := q.QueryRowContext(ctx, `SELECT body_json FROM records WHERE kind=? AND id=?`, kind, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return rec, false, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return rec, true, nil
}

func listRecords[T any](ctx context.Context, q queryer, kind Kind) ([]T, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,body_json FROM records WHERE kind=? ORDER BY seq ASC`, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()
	res := []T{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var rec T
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", kind, id, err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// putRecord updates the record in place when it exists (merging or replacing
// per mode) and otherwise appends it to the end of the collection.
func putRecord(ctx context.Context, q queryer, kind Kind, id string, rec any, mode writeMode, now time.Time) error {
	if id == "" {
		return fmt.Errorf("put %s: empty id", kind)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	if err := ensureCollection(ctx, q, kind, now); err != nil {
		return err
	}
	ts := now.Format(time.RFC3339Nano)
	var stored string
	err = q.QueryRowContext(ctx, `SELECT body_json FROM records WHERE kind=? AND id=?`, kind, id).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.ExecContext(ctx, `INSERT INTO records(kind,id,seq,body_json,version,updated_at)
VALUES (?,?,(SELECT COALESCE(MAX(seq),0)+1 FROM records WHERE kind=?),?,1,?)`, kind, id, kind, string(body), ts)
		if err != nil {
			return fmt.Errorf("insert %s/%s: %w", kind, id, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load %s/%s: %w", kind, id, err)
	}
	if mode == mergeFields {
		body, err = mergeJSON([]byte(stored), body)
		if err != nil {
			return fmt.Errorf("merge %s/%s: %w", kind, id, err)
		}
	}
	if _, err := q.ExecContext(ctx, `UPDATE records SET body_json=?, version=version+1, updated_at=? WHERE kind=? AND id=?`,
		string(body), ts, kind, id); err != nil {
		return fmt.Errorf("update %s/%s: %w", kind, id, err)
	}
	return nil
}

// mergeJSON is a shallow object merge: top-level keys of incoming win, keys
// only present in stored survive.
func mergeJSON(stored, incoming []byte) ([]byte, error) {
	base := map[string]json.RawMessage{}
	if err := json.Unmarshal(stored, &base); err != nil {
		return nil, err
	}
	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(incoming, &overlay); err != nil {
		return nil, err
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

// Version reports how many times a record has been written.
func (r Repo) Version(ctx context.Context, kind Kind, id string) (int64, error) {
	var v int64
	err := r.DB.QueryRowContext(ctx, `SELECT version FROM records WHERE kind=? AND id=?`, kind, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return v, err
}

// Editors

func (r Repo) seedEditorsTx(ctx context.Context, tx *sql.Tx) error {
	exists, err := collectionExists(ctx, tx, KindEditors)
	if err != nil || exists {
		return err
	}
	now := r.now()
	if err := ensureCollection(ctx, tx, KindEditors, now); err != nil {
		return err
	}
	if r.SeedEditors == nil {
		return nil
	}
	for _, e := range r.SeedEditors(now) {
		if err := putRecord(ctx, tx, KindEditors, e.ID, e, replaceRecord, now); err != nil {
			return fmt.Errorf("seed editor %s: %w", e.ID, err)
		}
	}
	return nil
}

// ensureEditorsSeeded writes the seed editors the first time the collection
// is touched; later calls only pay for the existence check.
func (r Repo) ensureEditorsSeeded(ctx context.Context) error {
	exists, err := collectionExists(ctx, r.DB, KindEditors)
	if err != nil || exists {
		return err
	}
	return r.InTx(ctx, KindEditors, func(tx *sql.Tx) error {
		return r.seedEditorsTx(ctx, tx)
	})
}

func (r Repo) ListEditors(ctx context.Context) ([]domain.Editor, error) {
	if err := r.ensureEditorsSeeded(ctx); err != nil {
		return nil, err
	}
	return listRecords[domain.Editor](ctx, r.DB, KindEditors)
}

func (r Repo) GetEditor(ctx context.Context, id string) (domain.Editor, bool, error) {
	if err := r.ensureEditorsSeeded(ctx); err != nil {
		return domain.Editor{}, false, err
	}
	return getRecord[domain.Editor](ctx, r.DB, KindEditors, id)
}

func (r Repo) GetEditorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Editor, bool, error) {
	if err := r.seedEditorsTx(ctx, tx); err != nil {
		return domain.Editor{}, false, err
	}
	return getRecord[domain.Editor](ctx, tx, KindEditors, id)
}

func (r Repo) UpsertEditor(ctx context.Context, e domain.Editor) error {
	return r.InTx(ctx, KindEditors, func(tx *sql.Tx) error {
		return r.UpsertEditorTx(ctx, tx, e)
	})
}

func (r Repo) UpsertEditorTx(ctx context.Context, tx *sql.Tx, e domain.Editor) error {
	if err := r.seedEditorsTx(ctx, tx); err != nil {
		return err
	}
	return putRecord(ctx, tx, KindEditors, e.ID, e, mergeFields, r.now())
}

// Deals

func (r Repo) ListDeals(ctx context.Context) ([]domain.Deal, error) {
	return listRecords[domain.Deal](ctx, r.DB, KindDeals)
}

func (r Repo) GetDeal(ctx context.Context, id string) (domain.Deal, bool, error) {
	return getRecord[domain.Deal](ctx, r.DB, KindDeals, id)
}

func (r Repo) GetDealTx(ctx context.Context, tx *sql.Tx, id string) (domain.Deal, bool, error) {
	return getRecord[domain.Deal](ctx, tx, KindDeals, id)
}

func (r Repo) UpsertDeal(ctx context.Context, d domain.Deal) error {
	return r.InTx(ctx, KindDeals, func(tx *sql.Tx) error {
		return r.UpsertDealTx(ctx, tx, d)
	})
}

func (r Repo) UpsertDealTx(ctx context.Context, tx *sql.Tx, d domain.Deal) error {
	return putRecord(ctx, tx, KindDeals, d.ID, d, mergeFields, r.now())
}

// Trackers

func (r Repo) ListTrackers(ctx context.Context) ([]domain.Tracker, error) {
	return listRecords[domain.Tracker](ctx, r.DB, KindTrackers)
}

func (r Repo) GetTracker(ctx context.Context, dealID string) (domain.Tracker, bool, error) {
	return getRecord[domain.Tracker](ctx, r.DB, KindTrackers, dealID)
}

func (r Repo) GetTrackerTx(ctx context.Context, tx *sql.Tx, dealID string) (domain.Tracker, bool, error) {
	return getRecord[domain.Tracker](ctx, tx, KindTrackers, dealID)
}

func (r Repo) SaveTracker(ctx context.Context, t domain.Tracker) error {
	return r.InTx(ctx, KindTrackers, func(tx *sql.Tx) error {
		return r.SaveTrackerTx(ctx, tx, t)
	})
}

func (r Repo) SaveTrackerTx(ctx context.Context, tx *sql.Tx, t domain.Tracker) error {
	return putRecord(ctx, tx, KindTrackers, t.DealID, t, replaceRecord, r.now())
}
