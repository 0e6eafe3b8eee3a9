package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/model"
)

// LaneSessionRepo persists lane sessions and the lanes they belong to.
type LaneSessionRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewLaneSessionRepo returns a LaneSessionRepo bound to the given database.
func NewLaneSessionRepo(db *sql.DB, d database.Dialect) *LaneSessionRepo {
	return &LaneSessionRepo{db: db, dialect: d}
}

const sessionColumns = `id, lane_id, status, staff_id, customer_id, mode, renewal_hours, renewal_visit_id,
	customer_language, past_due_bypassed, desired_rental_type, proposed_rental_type, proposed_by,
	selection_confirmed, selection_confirmed_by, selection_locked_at, assigned_resource_id,
	assigned_resource_type, customer_confirmation_pending, waitlist_desired_type, backup_rental_type,
	payment_intent_id, price_quote_json, visit_id, created_at, updated_at`

// nonTerminalIn renders the non-terminal status set as an SQL list literal.
// The values are constants, so inlining them is safe.
func nonTerminalIn() string {
	parts := make([]string, 0, len(model.NonTerminalStatuses))
	for _, s := range model.NonTerminalStatuses {
		parts = append(parts, "'"+string(s)+"'")
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func scanSession(row rowScanner) (*model.LaneSession, error) {
	var (
		s                                                      model.LaneSession
		customerID, renewalVisit, language, desired, proposed  sql.NullString
		proposedBy, confirmedBy, resourceID, resourceType      sql.NullString
		waitlistDesired, backup, paymentIntent, quote, visitID sql.NullString
		renewalHours                                           sql.NullInt64
		lockedAt                                               sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.LaneID, &s.Status, &s.StaffID, &customerID, &s.Mode, &renewalHours, &renewalVisit,
		&language, &s.PastDueBypassed, &desired, &proposed, &proposedBy,
		&s.SelectionConfirmed, &confirmedBy, &lockedAt, &resourceID,
		&resourceType, &s.CustomerConfirmationPending, &waitlistDesired, &backup,
		&paymentIntent, &quote, &visitID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	s.CustomerID = strPtr[string](customerID)
	s.RenewalHours = intPtr(renewalHours)
	s.RenewalVisitID = strPtr[string](renewalVisit)
	s.CustomerLanguage = strPtr[string](language)
	s.DesiredRentalType = strPtr[model.RentalType](desired)
	s.ProposedRentalType = strPtr[model.RentalType](proposed)
	s.ProposedBy = strPtr[model.Actor](proposedBy)
	s.SelectionConfirmedBy = strPtr[model.Actor](confirmedBy)
	s.SelectionLockedAt = timePtr(lockedAt)
	s.AssignedResourceID = strPtr[string](resourceID)
	s.AssignedResourceType = strPtr[model.ResourceType](resourceType)
	s.WaitlistDesiredType = strPtr[model.RentalType](waitlistDesired)
	s.BackupRentalType = strPtr[model.RentalType](backup)
	s.PaymentIntentID = strPtr[string](paymentIntent)
	s.PriceQuoteJSON = strPtr[string](quote)
	s.VisitID = strPtr[string](visitID)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// LockLaneTx makes sure the lane row exists and locks it for the rest of
// the transaction. Every operation that may create a session for a lane
// takes this lock first, which serializes identification requests so a
// lane never ends up with two non-terminal sessions.
func (r *LaneSessionRepo) LockLaneTx(ctx context.Context, tx *sql.Tx, laneID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, r.dialect.InsertIgnore()+` INTO lanes (id, created_at) VALUES (?, ?)`, laneID, now.UTC()); err != nil {
		return err
	}
	var id string
	return tx.QueryRowContext(ctx, `SELECT id FROM lanes WHERE id = ?`+r.dialect.ForUpdate(), laneID).Scan(&id)
}

// ActiveByLaneTx returns the non-terminal session of a lane, locking it when
// lock is true. It returns ErrNotFound when the lane is free.
func (r *LaneSessionRepo) ActiveByLaneTx(ctx context.Context, tx *sql.Tx, laneID string, lock bool) (*model.LaneSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM lane_sessions
		WHERE lane_id = ? AND status IN ` + nonTerminalIn() + `
		ORDER BY created_at DESC LIMIT 1`
	if lock {
		q += r.dialect.ForUpdate()
	}
	return scanSession(tx.QueryRowContext(ctx, q, laneID))
}

// ActiveByLane is the pool variant of ActiveByLaneTx used by read paths.
func (r *LaneSessionRepo) ActiveByLane(ctx context.Context, laneID string) (*model.LaneSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM lane_sessions
		WHERE lane_id = ? AND status IN ` + nonTerminalIn() + `
		ORDER BY created_at DESC LIMIT 1`
	return scanSession(r.db.QueryRowContext(ctx, q, laneID))
}

// LatestByLane returns the most recent session of a lane in any status.
func (r *LaneSessionRepo) LatestByLane(ctx context.Context, laneID string) (*model.LaneSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM lane_sessions WHERE lane_id = ? ORDER BY updated_at DESC LIMIT 1`
	return scanSession(r.db.QueryRowContext(ctx, q, laneID))
}

// GetByIDTx loads a session inside a transaction, locking the row when lock is true.
func (r *LaneSessionRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (*model.LaneSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM lane_sessions WHERE id = ?`
	if lock {
		q += r.dialect.ForUpdate()
	}
	return scanSession(tx.QueryRowContext(ctx, q, id))
}

// GetByID loads a session through the pool.
func (r *LaneSessionRepo) GetByID(ctx context.Context, id string) (*model.LaneSession, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM lane_sessions WHERE id = ?`, id))
}

// HolderOfResourceTx returns the ID of a non-terminal session other than
// exceptSessionID that holds resourceID as its soft reservation, or
// ErrNotFound when nobody does. The matching session row is locked so a
// concurrent release cannot slip in between the check and our write.
func (r *LaneSessionRepo) HolderOfResourceTx(ctx context.Context, tx *sql.Tx, resourceID, exceptSessionID string) (string, error) {
	q := `SELECT id FROM lane_sessions
		WHERE assigned_resource_id = ? AND status IN ` + nonTerminalIn() + ` AND id <> ?
		LIMIT 1` + r.dialect.ForUpdate()
	var id string
	if err := tx.QueryRowContext(ctx, q, resourceID, exceptSessionID).Scan(&id); err != nil {
		return "", notFound(err)
	}
	return id, nil
}

// CreateTx inserts a new session. CreatedAt and UpdatedAt must be set.
func (r *LaneSessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.LaneSession) error {
	q := `INSERT INTO lane_sessions (` + sessionColumns + `) VALUES (` + placeholders(26) + `)`
	_, err := tx.ExecContext(ctx, q, r.args(s)...)
	return err
}

// UpdateTx writes every mutable column of s.
func (r *LaneSessionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.LaneSession) error {
	const q = `UPDATE lane_sessions SET
		status = ?, staff_id = ?, customer_id = ?, mode = ?, renewal_hours = ?, renewal_visit_id = ?,
		customer_language = ?, past_due_bypassed = ?, desired_rental_type = ?, proposed_rental_type = ?,
		proposed_by = ?, selection_confirmed = ?, selection_confirmed_by = ?, selection_locked_at = ?,
		assigned_resource_id = ?, assigned_resource_type = ?, customer_confirmation_pending = ?,
		waitlist_desired_type = ?, backup_rental_type = ?, payment_intent_id = ?, price_quote_json = ?,
		visit_id = ?, updated_at = ?
		WHERE id = ?`
	args := r.args(s)
	// drop id, lane_id (front) and created_at (second to last); keep updated_at, then id for WHERE
	upd := append([]any{}, args[2:24]...)
	upd = append(upd, args[25], s.ID)
	_, err := tx.ExecContext(ctx, q, upd...)
	return err
}

func (r *LaneSessionRepo) args(s *model.LaneSession) []any {
	return []any{
		s.ID, s.LaneID, string(s.Status), s.StaffID, nullStr(s.CustomerID), string(s.Mode),
		nullInt(s.RenewalHours), nullStr(s.RenewalVisitID), nullStr(s.CustomerLanguage), s.PastDueBypassed,
		nullStr(s.DesiredRentalType), nullStr(s.ProposedRentalType), nullStr(s.ProposedBy),
		s.SelectionConfirmed, nullStr(s.SelectionConfirmedBy), nullTime(s.SelectionLockedAt),
		nullStr(s.AssignedResourceID), nullStr(s.AssignedResourceType), s.CustomerConfirmationPending,
		nullStr(s.WaitlistDesiredType), nullStr(s.BackupRentalType), nullStr(s.PaymentIntentID),
		nullStr(s.PriceQuoteJSON), nullStr(s.VisitID), s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	}
}
