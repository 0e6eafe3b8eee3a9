package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/model"
)

// CheckinRepo persists visits and their stay blocks. A block is the
// durable record that a customer occupies a resource for a period.
type CheckinRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewCheckinRepo returns a CheckinRepo bound to the given database.
func NewCheckinRepo(db *sql.DB, d database.Dialect) *CheckinRepo {
	return &CheckinRepo{db: db, dialect: d}
}

const blockColumns = `id, visit_id, session_id, block_type, rental_type, room_id, locker_id,
	starts_at, ends_at, agreement_ref, created_at`

func scanVisit(row rowScanner) (*model.Visit, error) {
	var (
		v     model.Visit
		ended sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.CustomerID, &v.StartedAt, &ended); err != nil {
		return nil, notFound(err)
	}
	v.StartedAt = v.StartedAt.UTC()
	v.EndedAt = timePtr(ended)
	return &v, nil
}

func scanBlock(row rowScanner) (*model.CheckinBlock, error) {
	var (
		b                                model.CheckinBlock
		session, room, locker, agreement sql.NullString
	)
	err := row.Scan(&b.ID, &b.VisitID, &session, &b.BlockType, &b.RentalType, &room, &locker,
		&b.StartsAt, &b.EndsAt, &agreement, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	b.SessionID = strPtr[string](session)
	b.RoomID = strPtr[string](room)
	b.LockerID = strPtr[string](locker)
	b.AgreementRef = strPtr[string](agreement)
	b.StartsAt = b.StartsAt.UTC()
	b.EndsAt = b.EndsAt.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

// CreateVisitTx inserts a visit.
func (r *CheckinRepo) CreateVisitTx(ctx context.Context, tx *sql.Tx, v *model.Visit) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO visits (id, customer_id, started_at, ended_at) VALUES (?, ?, ?, ?)`,
		v.ID, v.CustomerID, v.StartedAt.UTC(), nullTime(v.EndedAt))
	return err
}

// GetVisitTx loads a visit, locking it when lock is true.
func (r *CheckinRepo) GetVisitTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (*model.Visit, error) {
	q := `SELECT id, customer_id, started_at, ended_at FROM visits WHERE id = ?`
	if lock {
		q += r.dialect.ForUpdate()
	}
	return scanVisit(tx.QueryRowContext(ctx, q, id))
}

// GetVisit loads a visit through the pool.
func (r *CheckinRepo) GetVisit(ctx context.Context, id string) (*model.Visit, error) {
	return scanVisit(r.db.QueryRowContext(ctx, `SELECT id, customer_id, started_at, ended_at FROM visits WHERE id = ?`, id))
}

const openVisitQuery = `SELECT id, customer_id, started_at, ended_at FROM visits
	WHERE customer_id = ? AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`

// OpenVisitForCustomer returns the customer's open visit through the pool.
func (r *CheckinRepo) OpenVisitForCustomer(ctx context.Context, customerID string) (*model.Visit, error) {
	return scanVisit(r.db.QueryRowContext(ctx, openVisitQuery, customerID))
}

// OpenVisitForCustomerTx returns the customer's visit that has not ended yet.
func (r *CheckinRepo) OpenVisitForCustomerTx(ctx context.Context, tx *sql.Tx, customerID string) (*model.Visit, error) {
	return scanVisit(tx.QueryRowContext(ctx, openVisitQuery, customerID))
}

// CloseVisitTx stamps the end of a visit. It returns ErrConflict when the
// visit had already ended.
func (r *CheckinRepo) CloseVisitTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE visits SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, now.UTC(), id)
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

// CreateBlockTx inserts a stay block. CreatedAt must be set.
func (r *CheckinRepo) CreateBlockTx(ctx context.Context, tx *sql.Tx, b *model.CheckinBlock) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checkin_blocks (`+blockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.VisitID, nullStr(b.SessionID), string(b.BlockType), string(b.RentalType), nullStr(b.RoomID),
		nullStr(b.LockerID), b.StartsAt.UTC(), b.EndsAt.UTC(), nullStr(b.AgreementRef), b.CreatedAt.UTC())
	return err
}

// BlocksByVisitTx lists a visit's blocks in stay order.
func (r *CheckinRepo) BlocksByVisitTx(ctx context.Context, tx *sql.Tx, visitID string) ([]model.CheckinBlock, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+blockColumns+` FROM checkin_blocks WHERE visit_id = ? ORDER BY ends_at, created_at`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CheckinBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// LatestBlockTx returns the block with the latest checkout time for a visit.
func (r *CheckinRepo) LatestBlockTx(ctx context.Context, tx *sql.Tx, visitID string) (*model.CheckinBlock, error) {
	return scanBlock(tx.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM checkin_blocks
		WHERE visit_id = ? ORDER BY ends_at DESC, created_at DESC LIMIT 1`, visitID))
}

// LatestBlock is the pool variant of LatestBlockTx.
func (r *CheckinRepo) LatestBlock(ctx context.Context, visitID string) (*model.CheckinBlock, error) {
	return scanBlock(r.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM checkin_blocks
		WHERE visit_id = ? ORDER BY ends_at DESC, created_at DESC LIMIT 1`, visitID))
}

// UpcomingRoomBlock is one stay block that ends in the future on a room.
type UpcomingRoomBlock struct {
	RoomNumber int
	EndsAt     time.Time
}

// UpcomingRoomBlocks lists room blocks of open visits ending after now,
// ordered by end time. Only the latest block per visit counts, since an
// earlier block of a renewed or upgraded stay does not free the room.
func (r *CheckinRepo) UpcomingRoomBlocks(ctx context.Context, now time.Time) ([]UpcomingRoomBlock, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT rm.number, b.ends_at FROM checkin_blocks b
		JOIN visits v ON v.id = b.visit_id
		JOIN rooms rm ON rm.id = b.room_id
		WHERE v.ended_at IS NULL AND b.ends_at > ?
		  AND NOT EXISTS (SELECT 1 FROM checkin_blocks b2 WHERE b2.visit_id = b.visit_id
		      AND (b2.ends_at > b.ends_at OR (b2.ends_at = b.ends_at AND b2.created_at > b.created_at)))
		ORDER BY b.ends_at, rm.number`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UpcomingRoomBlock
	for rows.Next() {
		var u UpcomingRoomBlock
		if err := rows.Scan(&u.RoomNumber, &u.EndsAt); err != nil {
			return nil, err
		}
		u.EndsAt = u.EndsAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}
