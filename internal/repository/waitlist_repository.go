package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/model"
)

// WaitlistRepo provides data access to the waitlist table. An OFFERED
// entry holds its room_id: the inventory scans treat that room as taken
// until the entry is fulfilled or expires. All timestamps are UTC.
type WaitlistRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewWaitlistRepo returns a WaitlistRepo bound to the given database.
func NewWaitlistRepo(db *sql.DB, d database.Dialect) *WaitlistRepo {
	return &WaitlistRepo{db: db, dialect: d}
}

const waitlistColumns = `id, visit_id, checkin_block_id, desired_tier, backup_tier, status, room_id,
	offered_at, offer_expires_at, completed_at, created_at, updated_at`

func scanWaitlist(row rowScanner) (*model.WaitlistEntry, error) {
	var (
		e                           model.WaitlistEntry
		room                        sql.NullString
		offered, expires, completed sql.NullTime
	)
	err := row.Scan(&e.ID, &e.VisitID, &e.CheckinBlockID, &e.DesiredTier, &e.BackupTier, &e.Status, &room,
		&offered, &expires, &completed, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	e.RoomID = strPtr[string](room)
	e.OfferedAt = timePtr(offered)
	e.OfferExpiresAt = timePtr(expires)
	e.CompletedAt = timePtr(completed)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func collectWaitlist(rows *sql.Rows) ([]model.WaitlistEntry, error) {
	defer rows.Close()
	var out []model.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CreateTx inserts an entry. CreatedAt and UpdatedAt must be set.
func (r *WaitlistRepo) CreateTx(ctx context.Context, tx *sql.Tx, e *model.WaitlistEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO waitlist (`+waitlistColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.VisitID, e.CheckinBlockID, string(e.DesiredTier), string(e.BackupTier), string(e.Status),
		nullStr(e.RoomID), nullTime(e.OfferedAt), nullTime(e.OfferExpiresAt), nullTime(e.CompletedAt),
		e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	return err
}

// GetByIDTx loads an entry, locking it when lock is true.
func (r *WaitlistRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (*model.WaitlistEntry, error) {
	q := `SELECT ` + waitlistColumns + ` FROM waitlist WHERE id = ?`
	if lock {
		q += r.dialect.ForUpdate()
	}
	return scanWaitlist(tx.QueryRowContext(ctx, q, id))
}

// GetByID loads an entry through the pool.
func (r *WaitlistRepo) GetByID(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return scanWaitlist(r.db.QueryRowContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist WHERE id = ?`, id))
}

// CountActive returns the number of ACTIVE entries queued for tier.
func (r *WaitlistRepo) CountActive(ctx context.Context, tier model.RentalType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM waitlist WHERE desired_tier = ? AND status = ?`,
		string(tier), string(model.WaitlistActive)).Scan(&n)
	return n, err
}

// CountActiveOpenStayTx counts ACTIVE entries for tier whose visit is still
// open. Auto-selection skips this many rooms so queued customers keep the
// first rooms of their tier.
func (r *WaitlistRepo) CountActiveOpenStayTx(ctx context.Context, tx *sql.Tx, tier model.RentalType) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM waitlist w JOIN visits v ON v.id = w.visit_id
		WHERE w.desired_tier = ? AND w.status = ? AND v.ended_at IS NULL`,
		string(tier), string(model.WaitlistActive)).Scan(&n)
	return n, err
}

// OldestActiveTx locks and returns the oldest ACTIVE entry for tier with an
// open visit. Entries locked by a concurrent scan are skipped.
func (r *WaitlistRepo) OldestActiveTx(ctx context.Context, tx *sql.Tx, tier model.RentalType) (*model.WaitlistEntry, error) {
	q := `SELECT w.id, w.visit_id, w.checkin_block_id, w.desired_tier, w.backup_tier, w.status, w.room_id,
		w.offered_at, w.offer_expires_at, w.completed_at, w.created_at, w.updated_at
		FROM waitlist w JOIN visits v ON v.id = w.visit_id
		WHERE w.desired_tier = ? AND w.status = ? AND v.ended_at IS NULL
		ORDER BY w.created_at, w.id LIMIT 1` + r.dialect.ForUpdateSkipLocked()
	return scanWaitlist(tx.QueryRowContext(ctx, q, string(tier), string(model.WaitlistActive)))
}

// OfferTx moves an ACTIVE entry to OFFERED and attaches roomID as its hold.
func (r *WaitlistRepo) OfferTx(ctx context.Context, tx *sql.Tx, id, roomID string, now, expiresAt time.Time) error {
	return r.guardedUpdate(ctx, tx, `UPDATE waitlist SET status = ?, room_id = ?, offered_at = ?, offer_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.WaitlistOffered), roomID, now.UTC(), expiresAt.UTC(), now.UTC(), id, string(model.WaitlistActive))
}

// Claim marks an OFFERED entry as being fulfilled under claim. Only one
// claim can be held at a time; a second caller gets ErrConflict. The offer
// keeps holding its room while claimed.
func (r *WaitlistRepo) Claim(ctx context.Context, id, claim string, now time.Time) error {
	return exactlyOne(r.db.ExecContext(ctx, `UPDATE waitlist SET claim_ref = ?, updated_at = ?
		WHERE id = ? AND status = ? AND claim_ref IS NULL`,
		claim, now.UTC(), id, string(model.WaitlistOffered)))
}

// ReleaseClaim drops claim from the entry if it still holds it.
func (r *WaitlistRepo) ReleaseClaim(ctx context.Context, id, claim string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE waitlist SET claim_ref = NULL, updated_at = ? WHERE id = ? AND claim_ref = ?`,
		now.UTC(), id, claim)
	return err
}

// FulfillTx moves an OFFERED entry held under claim to FULFILLED.
func (r *WaitlistRepo) FulfillTx(ctx context.Context, tx *sql.Tx, id, claim string, now time.Time) error {
	return r.guardedUpdate(ctx, tx, `UPDATE waitlist SET status = ?, claim_ref = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND claim_ref = ?`,
		string(model.WaitlistFulfilled), now.UTC(), now.UTC(), id, string(model.WaitlistOffered), claim)
}

func (r *WaitlistRepo) guardedUpdate(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	return exactlyOne(tx.ExecContext(ctx, q, args...))
}

// exactlyOne maps an update that touched no row to ErrConflict.
func exactlyOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

// ExpireOffersTx expires every OFFERED entry whose offer lapsed at or
// before now and returns the entries as they were before the update, so
// the caller can report which holds were released.
//
// When nothing has lapsed, it returns an empty slice and nil error.
func (r *WaitlistRepo) ExpireOffersTx(ctx context.Context, tx *sql.Tx, now time.Time) ([]model.WaitlistEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist
		WHERE status = ? AND offer_expires_at <= ?`+r.dialect.ForUpdate(),
		string(model.WaitlistOffered), now.UTC())
	if err != nil {
		return nil, err
	}
	lapsed, err := collectWaitlist(rows)
	if err != nil {
		return nil, err
	}
	if len(lapsed) == 0 {
		return []model.WaitlistEntry{}, nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE waitlist SET status = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND offer_expires_at <= ?`,
		string(model.WaitlistExpired), now.UTC(), now.UTC(), string(model.WaitlistOffered), now.UTC())
	if err != nil {
		return nil, err
	}
	return lapsed, nil
}

// ExpireByVisitTx expires the ACTIVE and OFFERED entries of a visit, used
// at checkout. It returns the expired entries.
func (r *WaitlistRepo) ExpireByVisitTx(ctx context.Context, tx *sql.Tx, visitID string, now time.Time) ([]model.WaitlistEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist
		WHERE visit_id = ? AND status IN (?, ?)`+r.dialect.ForUpdate(),
		visitID, string(model.WaitlistActive), string(model.WaitlistOffered))
	if err != nil {
		return nil, err
	}
	open, err := collectWaitlist(rows)
	if err != nil || len(open) == 0 {
		return open, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE waitlist SET status = ?, completed_at = ?, updated_at = ?
		WHERE visit_id = ? AND status IN (?, ?)`,
		string(model.WaitlistExpired), now.UTC(), now.UTC(), visitID,
		string(model.WaitlistActive), string(model.WaitlistOffered))
	if err != nil {
		return nil, err
	}
	return open, nil
}

// OpenByVisit returns the ACTIVE or OFFERED entry of a visit, if any.
func (r *WaitlistRepo) OpenByVisit(ctx context.Context, visitID string) (*model.WaitlistEntry, error) {
	return scanWaitlist(r.db.QueryRowContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist
		WHERE visit_id = ? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		visitID, string(model.WaitlistActive), string(model.WaitlistOffered)))
}
