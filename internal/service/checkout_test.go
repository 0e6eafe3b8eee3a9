package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
)

func TestCheckoutReleasesToHousekeeping(t *testing.T) {
	f := newFixture(t)
	sess := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	in := f.complete(t, sess.ID)

	f.rec.reset()
	visit, err := f.svc.Checkout.Request(f.ctx, "lane-1", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, in.Visit.ID, visit.ID)
	assert.Equal(t, []realtime.EventType{realtime.CheckoutRequested}, f.rec.types("lane-1"))

	f.clock.Advance(3 * time.Hour)
	out, err := f.svc.Checkout.Complete(f.ctx, in.Visit.ID, "lane-1")
	require.NoError(t, err)
	require.NotNil(t, out.Visit.EndedAt)
	require.Len(t, out.Released, 1)
	assert.Equal(t, in.Resource.ID, out.Released[0].ID)
	assert.Contains(t, f.rec.types("lane-1"), realtime.CheckoutCompleted)

	r, err := f.inv.Get(f.ctx, model.ResourceRoom, in.Resource.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResourceDirty, r.Status)
	assert.Nil(t, r.AssignedToCustomerID)
	ok, err := f.inv.Available(f.ctx, model.ResourceRoom, in.Resource.ID)
	require.NoError(t, err)
	assert.False(t, ok, "dirty rooms are not sellable")

	_, err = f.svc.Checkout.Complete(f.ctx, in.Visit.ID, "lane-1")
	e := requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "visit_open", e.Guard)
	_, err = f.svc.Checkout.Request(f.ctx, "lane-1", "cust-1")
	requireKind(t, err, KindNotFound)

	offer, err := f.svc.Checkout.MarkClean(f.ctx, model.ResourceRoom, in.Resource.ID)
	require.NoError(t, err)
	assert.Nil(t, offer)
	ok, err = f.inv.Available(f.ctx, model.ResourceRoom, in.Resource.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.Checkout.MarkClean(f.ctx, model.ResourceRoom, in.Resource.ID)
	e = requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "dirty", e.Guard)
	_, err = f.svc.Checkout.MarkClean(f.ctx, model.ResourceRoom, "room-404")
	requireKind(t, err, KindNotFound)
}

func TestCleanedRoomIsOfferedToWaitlist(t *testing.T) {
	f := newFixture(t)
	var last CommitResult
	for i, n := range standardRooms {
		sess := f.locked(t, "lane-1", customerName(i), model.RentalStandard)
		_, err := f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(n))
		require.NoError(t, err)
		last = f.complete(t, sess.ID)
	}
	f.clock.Advance(time.Minute)
	w := f.waitlisted(t, "lane-2", "cust-4", model.RentalLocker, model.RentalStandard)
	queued := f.complete(t, w.ID)

	_, err := f.svc.Checkout.Complete(f.ctx, last.Visit.ID, "")
	require.NoError(t, err)
	offer, err := f.svc.Checkout.MarkClean(f.ctx, model.ResourceRoom, last.Resource.ID)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, queued.Waitlist.ID, offer.ID)
	assert.Equal(t, roomID(103), *offer.RoomID)
}

func TestCheckoutExpiresWaitlistAndReoffersHold(t *testing.T) {
	f := newFixture(t)
	first := f.waitlisted(t, "lane-1", "cust-1", model.RentalLocker, model.RentalStandard)
	a := f.complete(t, first.ID)
	f.clock.Advance(time.Minute)
	second := f.waitlisted(t, "lane-1", "cust-2", model.RentalLocker, model.RentalStandard)
	b := f.complete(t, second.ID)

	offer, err := f.svc.Waitlist.OfferFreedRoom(f.ctx, roomID(101))
	require.NoError(t, err)
	require.Equal(t, a.Waitlist.ID, offer.ID)

	out, err := f.svc.Checkout.Complete(f.ctx, a.Visit.ID, "lane-1")
	require.NoError(t, err)
	require.Len(t, out.Expired, 1)
	assert.Equal(t, model.WaitlistExpired, out.Expired[0].Status)

	snap, err := f.svc.Snapshots.ForLane(f.ctx, "lane-1")
	require.NoError(t, err)
	require.NotNil(t, snap.Waitlist)
	require.NotNil(t, snap.Waitlist.Status)
	assert.Equal(t, b.Waitlist.ID, *snap.Waitlist.EntryID)
	assert.Equal(t, model.WaitlistOffered, *snap.Waitlist.Status, "released hold went to the next in line")
}

func TestSnapshotReflectsLane(t *testing.T) {
	f := newFixture(t)
	empty, err := f.svc.Snapshots.ForLane(f.ctx, "lane-9")
	require.NoError(t, err)
	assert.Nil(t, empty.Session)

	sess := f.identify(t, "lane-1", "cust-late")
	snap, err := f.svc.Snapshots.ForLane(f.ctx, "lane-1")
	require.NoError(t, err)
	require.NotNil(t, snap.Customer)
	assert.Equal(t, sess.ID, snap.Session.ID)
	assert.Equal(t, "Late Payer", snap.Customer.Name)
	assert.Equal(t, -1, snap.Customer.Age)
	assert.Equal(t, "EN", *snap.Customer.Language)
	assert.True(t, snap.Customer.PastDueBlocked)
	assert.Nil(t, snap.Assignment)

	_, err = f.svc.Lanes.BypassPastDue(f.ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalStandard, By: model.ActorCustomer})
	require.NoError(t, err)
	_, err = f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, nil)
	require.NoError(t, err)
	_, err = f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(216))
	require.NoError(t, err)
	_, err = f.svc.Reservations.CustomerRespond(f.ctx, sess.ID, true)
	require.NoError(t, err)
	_, err = f.svc.Lanes.CreatePaymentIntent(f.ctx, sess.ID)
	require.NoError(t, err)

	snap, err = f.svc.Snapshots.ForLane(f.ctx, "lane-1")
	require.NoError(t, err)
	assert.False(t, snap.Customer.PastDueBlocked)
	require.NotNil(t, snap.Assignment)
	assert.Equal(t, 216, snap.Assignment.Number)
	assert.Equal(t, model.RentalDouble, snap.Assignment.Tier)
	assert.False(t, snap.Assignment.Occupied)
	require.NotNil(t, snap.Payment)
	assert.Equal(t, model.PaymentDue, snap.Payment.Status)
	assert.Equal(t, 6500+1300, snap.Payment.AmountCents)

	pushed := f.rec.seen("lane-1")
	require.NotEmpty(t, pushed)
	lastEv := pushed[len(pushed)-1]
	require.Equal(t, realtime.SessionUpdated, lastEv.Type)
	var viaPush realtime.Snapshot
	require.NoError(t, lastEv.Decode(&viaPush))
	assert.Equal(t, snap.Session.Status, viaPush.Session.Status)
	assert.Equal(t, snap.Payment.IntentID, viaPush.Payment.IntentID)
}
