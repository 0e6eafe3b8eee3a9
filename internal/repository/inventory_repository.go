package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/model"
)

// InventoryRepo gives the reservation engine access to rooms and lockers.
// It is the only code that flips a resource between CLEAN and OCCUPIED.
type InventoryRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewInventoryRepo returns an InventoryRepo bound to the given database.
func NewInventoryRepo(db *sql.DB, d database.Dialect) *InventoryRepo {
	return &InventoryRepo{db: db, dialect: d}
}

func tableFor(t model.ResourceType) (string, error) {
	switch t {
	case model.ResourceRoom:
		return "rooms", nil
	case model.ResourceLocker:
		return "lockers", nil
	}
	return "", fmt.Errorf("unknown resource type %q", t)
}

// notSoftReserved and notOfferedHold are the two halves of the availability
// predicate that live outside the inventory row itself.
func notSoftReserved(alias string) string {
	return ` AND NOT EXISTS (SELECT 1 FROM lane_sessions ls WHERE ls.assigned_resource_id = ` + alias +
		`.id AND ls.status IN ` + nonTerminalIn() + `)`
}

func notOfferedHold(alias string) string {
	return ` AND NOT EXISTS (SELECT 1 FROM waitlist w WHERE w.room_id = ` + alias + `.id AND w.status = '` +
		string(model.WaitlistOffered) + `')`
}

// tierClause restricts a rooms scan to one tier using the room number table.
func tierClause(alias string, tier model.RentalType) string {
	intList := func(ns []int) string {
		sort.Ints(ns)
		parts := make([]string, len(ns))
		for i, n := range ns {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	}
	if tier == model.RentalStandard {
		all := append(model.RoomNumbersForTier(model.RentalSpecial), model.RoomNumbersForTier(model.RentalDouble)...)
		return ` AND ` + alias + `.number NOT IN (` + intList(all) + `)`
	}
	return ` AND ` + alias + `.number IN (` + intList(model.RoomNumbersForTier(tier)) + `)`
}

func scanResource(row rowScanner, t model.ResourceType) (*model.Resource, error) {
	var (
		res   model.Resource
		owner sql.NullString
	)
	if err := row.Scan(&res.ID, &res.Number, &res.Status, &owner); err != nil {
		return nil, notFound(err)
	}
	res.Type = t
	res.AssignedToCustomerID = strPtr[string](owner)
	if t == model.ResourceLocker {
		res.Tier = model.RentalLocker
	} else {
		res.Tier = model.TierForRoomNumber(res.Number)
	}
	return &res, nil
}

// CreateRoom inserts a room. Used by seeding and tests.
func (r *InventoryRepo) CreateRoom(ctx context.Context, room model.Room) error {
	if room.Status == "" {
		room.Status = model.ResourceClean
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rooms (id, number, type, status, assigned_to_customer_id, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		room.ID, room.Number, room.Type, string(room.Status), nullStr(room.AssignedToCustomerID), time.Now().UTC())
	return err
}

// CreateLocker inserts a locker. Used by seeding and tests.
func (r *InventoryRepo) CreateLocker(ctx context.Context, l model.Locker) error {
	if l.Status == "" {
		l.Status = model.ResourceClean
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lockers (id, number, status, assigned_to_customer_id, updated_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Number, string(l.Status), nullStr(l.AssignedToCustomerID), time.Now().UTC())
	return err
}

// GetTx loads a resource, taking a row lock when lock is true.
func (r *InventoryRepo) GetTx(ctx context.Context, tx *sql.Tx, t model.ResourceType, id string, lock bool) (*model.Resource, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	q := `SELECT id, number, status, assigned_to_customer_id FROM ` + table + ` WHERE id = ?`
	if lock {
		q += r.dialect.ForUpdate()
	}
	return scanResource(tx.QueryRowContext(ctx, q, id), t)
}

// Get loads a resource through the pool.
func (r *InventoryRepo) Get(ctx context.Context, t model.ResourceType, id string) (*model.Resource, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	return scanResource(r.db.QueryRowContext(ctx,
		`SELECT id, number, status, assigned_to_customer_id FROM `+table+` WHERE id = ?`, id), t)
}

// PickRoomTx auto-selects a room of the given tier: the (skip+1)-th clean,
// unassigned room by room number that is neither soft-reserved by a
// non-terminal lane session nor held for an OFFERED waitlist entry. Rows
// locked by concurrent scans are skipped rather than waited on. It returns
// ErrNotFound when no such room exists.
func (r *InventoryRepo) PickRoomTx(ctx context.Context, tx *sql.Tx, tier model.RentalType, skip int) (*model.Resource, error) {
	if skip < 0 {
		skip = 0
	}
	q := `SELECT r.id, r.number, r.status, r.assigned_to_customer_id FROM rooms r
		WHERE r.status = ? AND r.assigned_to_customer_id IS NULL` +
		tierClause("r", tier) + notSoftReserved("r") + notOfferedHold("r") + `
		ORDER BY r.number LIMIT 1 OFFSET ?` + r.dialect.ForUpdateSkipLocked()
	return scanResource(tx.QueryRowContext(ctx, q, string(model.ResourceClean), skip), model.ResourceRoom)
}

// PickLockerTx auto-selects the lowest numbered available locker.
func (r *InventoryRepo) PickLockerTx(ctx context.Context, tx *sql.Tx) (*model.Resource, error) {
	q := `SELECT l.id, l.number, l.status, l.assigned_to_customer_id FROM lockers l
		WHERE l.status = ? AND l.assigned_to_customer_id IS NULL` + notSoftReserved("l") + `
		ORDER BY l.number LIMIT 1` + r.dialect.ForUpdateSkipLocked()
	return scanResource(tx.QueryRowContext(ctx, q, string(model.ResourceClean)), model.ResourceLocker)
}

// OccupyTx flips a CLEAN, unassigned resource to OCCUPIED for customerID.
// It returns ErrConflict when the guard no longer holds.
func (r *InventoryRepo) OccupyTx(ctx context.Context, tx *sql.Tx, t model.ResourceType, id, customerID string, now time.Time) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET status = ?, assigned_to_customer_id = ?, updated_at = ?
		WHERE id = ? AND status = ? AND assigned_to_customer_id IS NULL`,
		string(model.ResourceOccupied), customerID, now.UTC(), id, string(model.ResourceClean))
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

// ReleaseTx detaches a resource from its customer after checkout or an
// upgrade; the resource goes to DIRTY until housekeeping marks it clean.
func (r *InventoryRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, t model.ResourceType, id, customerID string, now time.Time) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE `+table+` SET status = ?, assigned_to_customer_id = NULL, updated_at = ?
		WHERE id = ? AND assigned_to_customer_id = ?`,
		string(model.ResourceDirty), now.UTC(), id, customerID)
	return err
}

// ClearOwnerTx clears the owner of a CLEAN resource if it is customerID.
// Used when a soft reservation is released; occupied resources are untouched.
func (r *InventoryRepo) ClearOwnerTx(ctx context.Context, tx *sql.Tx, t model.ResourceType, id, customerID string, now time.Time) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE `+table+` SET assigned_to_customer_id = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND assigned_to_customer_id = ?`,
		now.UTC(), id, string(model.ResourceClean), customerID)
	return err
}

// MarkCleanTx moves a DIRTY resource back to CLEAN. It returns ErrConflict
// when the resource was not DIRTY.
func (r *InventoryRepo) MarkCleanTx(ctx context.Context, tx *sql.Tx, t model.ResourceType, id string, now time.Time) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ResourceClean), now.UTC(), id, string(model.ResourceDirty))
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

// AvailableTx evaluates the full availability predicate for one resource:
// CLEAN, unassigned, not soft-reserved and, for rooms, not held by an offer.
// A soft reservation by exceptSessionID is ignored; pass "" to count all.
func (r *InventoryRepo) AvailableTx(ctx context.Context, tx *sql.Tx, t model.ResourceType, id, exceptSessionID string) (bool, error) {
	return r.available(ctx, tx, t, id, exceptSessionID)
}

// Available is the pool variant of AvailableTx.
func (r *InventoryRepo) Available(ctx context.Context, t model.ResourceType, id string) (bool, error) {
	return r.available(ctx, r.db, t, id, "")
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *InventoryRepo) available(ctx context.Context, q queryRower, t model.ResourceType, id, exceptSessionID string) (bool, error) {
	table, err := tableFor(t)
	if err != nil {
		return false, err
	}
	query := `SELECT COUNT(*) FROM ` + table + ` x WHERE x.id = ? AND x.status = ? AND x.assigned_to_customer_id IS NULL
		AND NOT EXISTS (SELECT 1 FROM lane_sessions ls WHERE ls.assigned_resource_id = x.id
			AND ls.status IN ` + nonTerminalIn() + ` AND ls.id <> ?)`
	if t == model.ResourceRoom {
		query += notOfferedHold("x")
	}
	var n int
	if err := q.QueryRowContext(ctx, query, id, string(model.ResourceClean), exceptSessionID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AvailableCounts returns the number of available resources per tier.
// Rooms held for OFFERED waitlist entries are not counted.
func (r *InventoryRepo) AvailableCounts(ctx context.Context) (map[model.RentalType]int, error) {
	out := map[model.RentalType]int{}
	for _, t := range model.RentalTypes {
		out[t] = 0
	}
	rows, err := r.db.QueryContext(ctx, `SELECT r.number FROM rooms r
		WHERE r.status = ? AND r.assigned_to_customer_id IS NULL`+notSoftReserved("r")+notOfferedHold("r"),
		string(model.ResourceClean))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out[model.TierForRoomNumber(n)]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var lockers int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lockers l
		WHERE l.status = ? AND l.assigned_to_customer_id IS NULL`+notSoftReserved("l"),
		string(model.ResourceClean)).Scan(&lockers); err != nil {
		return nil, err
	}
	out[model.RentalLocker] = lockers
	return out, nil
}
