package service

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/metrics"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

func TestAssignRequiresLockedSelection(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-1")
	_, err := f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(101))
	e := requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "selection_confirmed", e.Guard)
}

func TestConcurrentAssignHasOneWinner(t *testing.T) {
	f := newFixture(t)
	const lanes = 4
	sessions := make([]string, lanes)
	for i := range sessions {
		sessions[i] = f.locked(t, laneName(i), customerName(i), model.RentalStandard).ID
	}
	f.rec.reset()

	var (
		wg   sync.WaitGroup
		errs = make([]error, lanes)
	)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Reservations.Assign(f.ctx, sessions[i], model.ResourceRoom, roomID(102))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		e := requireKind(t, err, KindConflict)
		assert.True(t, e.RaceLost)
		assert.Equal(t, roomID(102), e.Resource)
	}
	assert.Equal(t, 1, winners)

	failed := 0
	for i := range sessions {
		for _, ev := range f.rec.seen(laneName(i)) {
			if ev.Type == realtime.AssignmentFailed {
				failed++
			}
		}
	}
	assert.Equal(t, lanes-1, failed)
}

func laneName(i int) string     { return "lane-" + string(rune('a'+i)) }
func customerName(i int) string { return "cust-" + string(rune('1'+i)) }

func TestAssignRejectsOccupiedAndReassignReleasesPrevious(t *testing.T) {
	f := newFixture(t)
	a := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	res, err := f.svc.Reservations.Assign(f.ctx, a.ID, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	assert.False(t, res.NeedsConfirmation)

	again, err := f.svc.Reservations.Assign(f.ctx, a.ID, model.ResourceRoom, roomID(101))
	require.NoError(t, err, "assigning the held resource again is a no-op")
	assert.Equal(t, roomID(101), again.Resource.ID)

	_, err = f.svc.Reservations.Assign(f.ctx, a.ID, model.ResourceRoom, roomID(102))
	require.NoError(t, err)
	ok, err := f.inv.Available(f.ctx, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	assert.True(t, ok, "previous soft reservation released")
	ok, err = f.inv.Available(f.ctx, model.ResourceRoom, roomID(102))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.Reservations.Assign(f.ctx, a.ID, model.ResourceRoom, "room-999")
	requireKind(t, err, KindNotFound)
}

func TestCommitLeavesNoPhantomAvailability(t *testing.T) {
	f := newFixture(t)
	before, err := f.svc.Snapshots.Availability(f.ctx)
	require.NoError(t, err)

	sess := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	_, err = f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	f.rec.reset()
	out := f.complete(t, sess.ID)

	assert.Equal(t, model.StatusCompleted, out.Session.Status)
	assert.Equal(t, out.Visit.ID, *out.Session.VisitID)
	assert.Equal(t, model.BlockInitial, out.Block.BlockType)
	assert.True(t, out.Visit.StartedAt.Add(6*time.Hour).Equal(out.Block.EndsAt))
	require.NotNil(t, out.Block.AgreementRef)

	r, err := f.inv.Get(f.ctx, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	assert.Equal(t, model.ResourceOccupied, r.Status)
	assert.Equal(t, "cust-1", *r.AssignedToCustomerID)

	ok, err := f.inv.Available(f.ctx, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	assert.False(t, ok)
	after, err := f.svc.Snapshots.Availability(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, before[model.RentalStandard]-1, after[model.RentalStandard])

	assert.Contains(t, f.rec.types("lane-1"), realtime.InventoryUpdated)

	other := f.locked(t, "lane-2", "cust-2", model.RentalStandard)
	_, err = f.svc.Reservations.Assign(f.ctx, other.ID, model.ResourceRoom, roomID(101))
	e := requireKind(t, err, KindConflict)
	assert.True(t, e.RaceLost)
}

func TestSignGuards(t *testing.T) {
	f := newFixture(t)
	sess := f.locked(t, "lane-1", "cust-1", model.RentalLocker)

	_, err := f.svc.Reservations.Sign(f.ctx, sess.ID, "signed")
	e := requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "status", e.Guard)

	_, err = f.svc.Lanes.CreatePaymentIntent(f.ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Reservations.Sign(f.ctx, sess.ID, "signed")
	requireKind(t, err, KindPreconditionFailed)

	_, err = f.svc.Lanes.MarkPaid(f.ctx, sess.ID, "CARD", nil)
	require.NoError(t, err)
	_, err = f.svc.Reservations.Sign(f.ctx, sess.ID, "")
	requireKind(t, err, KindInvalid)

	out, err := f.svc.Reservations.BypassAgreement(f.ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, out.Block.AgreementRef)
	assert.Equal(t, model.ResourceLocker, out.Resource.Type)
	assert.Equal(t, lockerID(1), out.Resource.ID)

	_, err = f.svc.Reservations.Sign(f.ctx, sess.ID, "signed")
	requireKind(t, err, KindNotFound)
}

func TestAutoSelectSkipsRoomsForWaitlistedCustomers(t *testing.T) {
	f := newFixture(t)
	w := f.waitlisted(t, "lane-1", "cust-1", model.RentalLocker, model.RentalStandard)
	first := f.complete(t, w.ID)
	require.NotNil(t, first.Waitlist)
	assert.Equal(t, model.WaitlistActive, first.Waitlist.Status)
	assert.Equal(t, model.ResourceLocker, first.Resource.Type)

	f.clock.Advance(time.Minute)
	sess := f.locked(t, "lane-2", "cust-2", model.RentalStandard)
	out := f.complete(t, sess.ID)
	assert.Equal(t, roomID(102), out.Resource.ID, "one queued customer keeps the first room")
}

func TestOfferedRoomIsNotSellable(t *testing.T) {
	f := newFixture(t)
	w := f.waitlisted(t, "lane-1", "cust-1", model.RentalLocker, model.RentalStandard)
	f.complete(t, w.ID)

	offer, err := f.svc.Waitlist.OfferFreedRoom(f.ctx, roomID(101))
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, model.WaitlistOffered, offer.Status)

	f.clock.Advance(time.Minute)
	sess := f.locked(t, "lane-2", "cust-2", model.RentalStandard)
	_, err = f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(101))
	e := requireKind(t, err, KindConflict)
	assert.True(t, e.RaceLost)

	out := f.complete(t, sess.ID)
	assert.Equal(t, roomID(102), out.Resource.ID)
}

func TestAutoSelectNoInventory(t *testing.T) {
	f := newFixture(t)
	sess := f.locked(t, "lane-1", "cust-1", model.RentalSpecial)
	f.complete(t, sess.ID)

	f.clock.Advance(time.Minute)
	next := f.locked(t, "lane-2", "cust-2", model.RentalSpecial)
	_, err := f.svc.Lanes.CreatePaymentIntent(f.ctx, next.ID)
	require.NoError(t, err)
	_, err = f.svc.Lanes.MarkPaid(f.ctx, next.ID, "CASH", nil)
	require.NoError(t, err)
	f.rec.reset()
	_, err = f.svc.Reservations.Sign(f.ctx, next.ID, "signed")
	e := requireKind(t, err, KindConflict)
	assert.False(t, e.RaceLost)
	assert.Contains(t, f.rec.types("lane-2"), realtime.AssignmentFailed)

	got, err := f.svc.Lanes.ActiveSession(f.ctx, "lane-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingSignature, got.Status, "failed commit leaves the session untouched")
}

func TestCrossTierAssignmentNeedsCustomer(t *testing.T) {
	f := newFixture(t)
	sess := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	f.rec.reset()
	res, err := f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(216))
	require.NoError(t, err)
	assert.True(t, res.NeedsConfirmation)
	assert.Contains(t, f.rec.types("lane-1"), realtime.CustomerConfirmationRequired)

	_, err = f.svc.Lanes.CreatePaymentIntent(f.ctx, sess.ID)
	e := requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "customer_confirmation", e.Guard)

	declined, err := f.svc.Reservations.CustomerRespond(f.ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Nil(t, declined.AssignedResourceID)
	assert.False(t, declined.CustomerConfirmationPending)
	assert.Contains(t, f.rec.types("lane-1"), realtime.CustomerDeclined)

	_, err = f.svc.Reservations.CustomerRespond(f.ctx, sess.ID, true)
	requireKind(t, err, KindPreconditionFailed)

	_, err = f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(218))
	require.NoError(t, err)
	accepted, err := f.svc.Reservations.CustomerRespond(f.ctx, sess.ID, true)
	require.NoError(t, err)
	assert.False(t, accepted.CustomerConfirmationPending)

	intent, err := f.svc.Lanes.CreatePaymentIntent(f.ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 6500+1300, intent.AmountCents, "priced at the assigned tier")
	out := f.complete(t, sess.ID)
	assert.Equal(t, model.RentalDouble, out.Block.RentalType)
}

func TestRenewalExtendsCurrentStay(t *testing.T) {
	f := newFixture(t)
	sess := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	first := f.complete(t, sess.ID)

	two := 2
	in := IdentifyInput{LaneID: "lane-1", StaffID: "staff-1", CustomerID: "cust-1", Mode: model.ModeRenewal, RenewalHours: &two}
	_, err := f.svc.Lanes.Identify(f.ctx, in)
	e := requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "renewal_window", e.Guard)

	f.clock.Advance(5*time.Hour + 30*time.Minute)
	renewal, err := f.svc.Lanes.Identify(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, renewal.SelectionConfirmed)
	assert.Equal(t, model.RentalStandard, *renewal.DesiredRentalType)
	assert.Equal(t, first.Visit.ID, *renewal.RenewalVisitID)

	_, err = f.svc.Reservations.Assign(f.ctx, renewal.ID, model.ResourceRoom, roomID(102))
	requireKind(t, err, KindPreconditionFailed)

	_, err = f.svc.Lanes.SetLanguage(f.ctx, renewal.ID, "en")
	require.NoError(t, err)
	intent, err := f.svc.Lanes.CreatePaymentIntent(f.ctx, renewal.ID)
	require.NoError(t, err)
	assert.Equal(t, 2500, intent.AmountCents)

	out := f.complete(t, renewal.ID)
	assert.Equal(t, model.BlockRenewal, out.Block.BlockType)
	assert.Equal(t, first.Visit.ID, out.Visit.ID)
	assert.True(t, first.Block.EndsAt.Equal(out.Block.StartsAt))
	assert.True(t, first.Block.EndsAt.Add(2*time.Hour).Equal(out.Block.EndsAt))
	assert.Equal(t, roomID(first.Resource.Number), out.Resource.ID)
}

func TestCommitRollsBackWhenOccupancyDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	sess := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	_, err := f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	_, err = f.svc.Lanes.CreatePaymentIntent(f.ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Lanes.MarkPaid(f.ctx, sess.ID, "CASH", nil)
	require.NoError(t, err)

	// Undo every occupancy write inside the same statement.
	_, err = f.db.ExecContext(f.ctx, `CREATE TRIGGER undo_occupancy AFTER UPDATE OF status ON rooms
		WHEN NEW.status = 'OCCUPIED'
		BEGIN
			UPDATE rooms SET status = 'CLEAN', assigned_to_customer_id = NULL WHERE id = NEW.id;
		END`)
	require.NoError(t, err)

	violations := metrics.InvariantViolationsTotal.WithLabelValues("owner")
	before := testutil.ToFloat64(violations)

	_, err = f.svc.Reservations.Sign(f.ctx, sess.ID, "signed")
	e := requireKind(t, err, KindInternal)
	assert.Contains(t, e.Error(), "persistence assertion failed")
	assert.Equal(t, before+1, testutil.ToFloat64(violations))

	var visits, blocks int
	require.NoError(t, f.db.QueryRowContext(f.ctx, `SELECT COUNT(*) FROM visits`).Scan(&visits))
	require.NoError(t, f.db.QueryRowContext(f.ctx, `SELECT COUNT(*) FROM checkin_blocks`).Scan(&blocks))
	assert.Zero(t, visits)
	assert.Zero(t, blocks)

	after, err := repository.NewLaneSessionRepo(f.db, database.SQLite).GetByID(f.ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingSignature, after.Status)
	assert.Nil(t, after.VisitID)
}

func TestOccupancyAssertionReportsMissingResource(t *testing.T) {
	f := newFixture(t)
	tx, err := f.db.BeginTx(f.ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = f.svc.Reservations.assertOccupiedTx(f.ctx, tx, "reservation.sign",
		&model.Resource{Type: model.ResourceRoom, ID: "room-404"}, "cust-1")
	e := requireKind(t, err, KindInternal)
	assert.Contains(t, e.Msg, "resource vanished")
}
