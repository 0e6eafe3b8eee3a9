package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
)

func TestProposeRequiresLanguage(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.Lanes.Identify(f.ctx, IdentifyInput{LaneID: "lane-1", StaffID: "staff-1", CustomerID: "cust-1"})
	require.NoError(t, err)

	for _, by := range []model.Actor{model.ActorCustomer, model.ActorEmployee} {
		_, err = f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalLocker, By: by})
		e := requireKind(t, err, KindPreconditionFailed)
		assert.Equal(t, "customer_language", e.Guard)
	}
}

func TestPastDueBlocksOnlyTheCustomer(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-late")

	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalLocker, By: model.ActorCustomer})
	requireKind(t, err, KindForbidden)

	_, err = f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalLocker, By: model.ActorEmployee})
	require.NoError(t, err)
	_, err = f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, nil)
	requireKind(t, err, KindForbidden)

	_, err = f.svc.Lanes.BypassPastDue(f.ctx, sess.ID)
	require.NoError(t, err)
	res, err := f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, nil)
	require.NoError(t, err)
	assert.True(t, res.Session.SelectionConfirmed)
}

func TestLastProposalWinsUntilLocked(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-1")

	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalStandard, By: model.ActorCustomer})
	require.NoError(t, err)
	out, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalDouble, By: model.ActorEmployee})
	require.NoError(t, err)
	assert.Equal(t, model.RentalDouble, *out.ProposedRentalType)
	assert.Equal(t, model.ActorEmployee, *out.ProposedBy)

	std := model.RentalStandard
	_, err = f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, &std)
	requireKind(t, err, KindConflict)
}

func TestConfirmIsMonotonicAndIdempotent(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-1")
	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalStandard, By: model.ActorCustomer})
	require.NoError(t, err)

	first, err := f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, nil)
	require.NoError(t, err)
	assert.False(t, first.AlreadyConfirmed)
	assert.Equal(t, model.StatusAwaitingAssignment, first.Session.Status)
	assert.Equal(t, model.RentalStandard, *first.Session.DesiredRentalType)
	lockedAt := *first.Session.SelectionLockedAt

	f.rec.reset()
	f.clock.Advance(time.Minute)
	again, err := f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorEmployee, nil)
	require.NoError(t, err)
	assert.True(t, again.AlreadyConfirmed)
	assert.Equal(t, model.ActorCustomer, *again.Session.SelectionConfirmedBy)
	assert.True(t, lockedAt.Equal(*again.Session.SelectionLockedAt))
	assert.Empty(t, f.rec.seen("lane-1"), "an idempotent confirm broadcasts nothing")

	std := model.RentalStandard
	_, err = f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorEmployee, &std)
	require.NoError(t, err)
	dbl := model.RentalDouble
	_, err = f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorEmployee, &dbl)
	requireKind(t, err, KindConflict)

	_, err = f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalDouble, By: model.ActorEmployee})
	requireKind(t, err, KindConflict)

	_, err = f.svc.Lanes.SetLanguage(f.ctx, sess.ID, "fr")
	require.NoError(t, err)
	got, err := f.svc.Lanes.ActiveSession(f.ctx, "lane-1")
	require.NoError(t, err)
	assert.Equal(t, model.RentalStandard, *got.DesiredRentalType, "lock survives unrelated updates")
}

func TestEmployeeConfirmForcesSelection(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-1")
	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalLocker, By: model.ActorCustomer})
	require.NoError(t, err)

	f.rec.reset()
	_, err = f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorEmployee, nil)
	require.NoError(t, err)

	types := f.rec.types("lane-1")
	require.Equal(t, []realtime.EventType{realtime.SelectionLocked, realtime.SelectionForced, realtime.SessionUpdated}, types)
	var p realtime.SelectionPayload
	require.NoError(t, f.rec.seen("lane-1")[1].Decode(&p))
	assert.Equal(t, model.RentalLocker, p.RentalType)
	assert.Equal(t, model.ActorEmployee, p.By)

	var snap realtime.Snapshot
	require.NoError(t, f.rec.seen("lane-1")[2].Decode(&snap))
	require.NotNil(t, snap.Session)
	assert.True(t, snap.Session.SelectionConfirmed)
	assert.Equal(t, model.StatusAwaitingAssignment, snap.Session.Status)
}

func TestCustomerConfirmDoesNotForce(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-1")
	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: model.RentalLocker, By: model.ActorEmployee})
	require.NoError(t, err)
	f.rec.reset()
	_, err = f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, nil)
	require.NoError(t, err)
	assert.NotContains(t, f.rec.types("lane-1"), realtime.SelectionForced)
	assert.Contains(t, f.rec.types("lane-1"), realtime.SelectionLocked)
}

func TestAcknowledgeAndHighlight(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-1")

	_, err := f.svc.Lanes.Acknowledge(f.ctx, sess.ID, model.ActorCustomer)
	e := requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "selection_confirmed", e.Guard)

	f.rec.reset()
	f.svc.Lanes.HighlightOption(f.ctx, sess.ID, model.RentalDouble)
	f.svc.Lanes.HighlightOption(f.ctx, "missing", model.RentalDouble)
	require.Equal(t, []realtime.EventType{realtime.OptionHighlighted}, f.rec.types("lane-1"))

	locked := f.locked(t, "lane-2", "cust-2", model.RentalStandard)
	f.rec.reset()
	_, err = f.svc.Lanes.Acknowledge(f.ctx, locked.ID, model.ActorCustomer)
	require.NoError(t, err)
	assert.Equal(t, []realtime.EventType{realtime.SelectionAcknowledged}, f.rec.types("lane-2"))
}

func TestWaitlistChoiceValidation(t *testing.T) {
	f := newFixture(t)
	sess := f.identify(t, "lane-1", "cust-1")

	dbl, std := model.RentalDouble, model.RentalStandard
	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{
		SessionID: sess.ID, RentalType: model.RentalLocker, By: model.ActorCustomer,
		WaitlistDesiredType: &dbl, BackupRentalType: &std,
	})
	requireKind(t, err, KindInvalid)

	lock := model.RentalLocker
	_, err = f.svc.Lanes.Propose(f.ctx, ProposeInput{
		SessionID: sess.ID, RentalType: model.RentalDouble, By: model.ActorCustomer, WaitlistDesiredType: &lock,
	})
	requireKind(t, err, KindInvalid)

	out, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{
		SessionID: sess.ID, RentalType: model.RentalStandard, By: model.ActorCustomer, WaitlistDesiredType: &dbl,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RentalStandard, *out.BackupRentalType)
	assert.Equal(t, model.RentalDouble, *out.WaitlistDesiredType)
}
