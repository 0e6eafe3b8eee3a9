package service

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lane-checkin/internal/config"
	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(ev realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// seen returns the events delivered to laneID, including fan-out events.
func (r *recorder) seen(laneID string) []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []realtime.Event
	for _, ev := range r.events {
		if ev.LaneID == laneID || ev.LaneID == realtime.AllLanes {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) types(laneID string) []realtime.EventType {
	var out []realtime.EventType
	for _, ev := range r.seen(laneID) {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx   context.Context
	db    *sql.DB
	svc   *Services
	rec   *recorder
	clock *fakeClock
	inv   *repository.InventoryRepo
}

var (
	standardRooms = []int{101, 102, 103}
	doubleRooms   = []int{216, 218}
)

func roomID(n int) string   { return fmt.Sprintf("room-%d", n) }
func lockerID(n int) string { return fmt.Sprintf("locker-%d", n) }

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "lanes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.SQLite))

	inv := repository.NewInventoryRepo(db, database.SQLite)
	for _, n := range append(append([]int{}, standardRooms...), doubleRooms...) {
		typ := "STANDARD"
		if model.TierForRoomNumber(n) == model.RentalDouble {
			typ = "DELUXE"
		}
		require.NoError(t, inv.CreateRoom(ctx, model.Room{ID: roomID(n), Number: n, Type: typ, Status: model.ResourceClean}))
	}
	require.NoError(t, inv.CreateRoom(ctx, model.Room{ID: roomID(201), Number: 201, Type: "SPECIAL", Status: model.ResourceClean}))
	for n := 1; n <= 4; n++ {
		require.NoError(t, inv.CreateLocker(ctx, model.Locker{ID: lockerID(n), Number: n, Status: model.ResourceClean}))
	}

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	customers := repository.NewCustomerRepo(db)
	birth := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 6; i++ {
		require.NoError(t, customers.Create(ctx, &model.Customer{
			ID: fmt.Sprintf("cust-%d", i), Name: fmt.Sprintf("Guest %d", i), BirthDate: &birth, CreatedAt: clock.Now(),
		}))
	}
	require.NoError(t, customers.Create(ctx, &model.Customer{
		ID: "cust-late", Name: "Late Payer", PastDueBalanceCents: 4200, CreatedAt: clock.Now(),
	}))

	rec := &recorder{}
	deps := Deps{
		DB:          db,
		Dialect:     database.SQLite,
		Broadcaster: rec,
		Now:         clock.Now,
		Lane: config.LaneConfig{
			StayDuration:  6 * time.Hour,
			RenewalWindow: time.Hour,
			OfferTTL:      15 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc := New(deps)
	return &fixture{ctx: ctx, db: db, svc: svc, rec: rec, clock: clock, inv: inv}
}

// identify starts a check-in for customer on lane with the language set.
func (f *fixture) identify(t *testing.T, lane, customer string) *model.LaneSession {
	t.Helper()
	sess, err := f.svc.Lanes.Identify(f.ctx, IdentifyInput{LaneID: lane, StaffID: "staff-1", CustomerID: customer})
	require.NoError(t, err)
	sess, err = f.svc.Lanes.SetLanguage(f.ctx, sess.ID, "en")
	require.NoError(t, err)
	return sess
}

// locked drives a session up to AWAITING_ASSIGNMENT for rt.
func (f *fixture) locked(t *testing.T, lane, customer string, rt model.RentalType) *model.LaneSession {
	t.Helper()
	sess := f.identify(t, lane, customer)
	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{SessionID: sess.ID, RentalType: rt, By: model.ActorCustomer})
	require.NoError(t, err)
	res, err := f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, nil)
	require.NoError(t, err)
	return res.Session
}

// waitlisted locks backup for customer while queueing for desired.
func (f *fixture) waitlisted(t *testing.T, lane, customer string, backup, desired model.RentalType) *model.LaneSession {
	t.Helper()
	sess := f.identify(t, lane, customer)
	_, err := f.svc.Lanes.Propose(f.ctx, ProposeInput{
		SessionID: sess.ID, RentalType: backup, By: model.ActorCustomer, WaitlistDesiredType: &desired,
	})
	require.NoError(t, err)
	res, err := f.svc.Lanes.Confirm(f.ctx, sess.ID, model.ActorCustomer, &backup)
	require.NoError(t, err)
	return res.Session
}

// complete pays and signs for a session.
func (f *fixture) complete(t *testing.T, sessionID string) CommitResult {
	t.Helper()
	_, err := f.svc.Lanes.CreatePaymentIntent(f.ctx, sessionID)
	require.NoError(t, err)
	_, err = f.svc.Lanes.MarkPaid(f.ctx, sessionID, "CASH", nil)
	require.NoError(t, err)
	out, err := f.svc.Reservations.Sign(f.ctx, sessionID, "signed")
	require.NoError(t, err)
	return out
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	e, ok := AsError(err)
	require.True(t, ok, "expected *Error, got %T: %v", err, err)
	require.Equal(t, kind, e.Kind, "error: %v", err)
	return e
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := wrap("x", conflict("x", "taken", "room-1", true))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = wrap("x", sql.ErrConnDone)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Nil(t, wrap("x", nil))
}

func TestOpenLaneIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Lanes.OpenLane(f.ctx, "lane-1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, a.Status)

	b, err := f.svc.Lanes.OpenLane(f.ctx, "lane-1", "staff-2")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	sess := f.identify(t, "lane-1", "cust-1")
	assert.Equal(t, a.ID, sess.ID, "identify reuses the idle session")
	assert.Equal(t, model.StatusActive, sess.Status)
}

func TestIdentifyDifferentCustomerClearsNegotiation(t *testing.T) {
	f := newFixture(t)
	first := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	_, err := f.svc.Reservations.Assign(f.ctx, first.ID, model.ResourceRoom, roomID(101))
	require.NoError(t, err)

	again, err := f.svc.Lanes.Identify(f.ctx, IdentifyInput{LaneID: "lane-1", StaffID: "staff-1", CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.True(t, again.SelectionConfirmed, "same customer keeps the session as is")

	next, err := f.svc.Lanes.Identify(f.ctx, IdentifyInput{LaneID: "lane-1", StaffID: "staff-1", CustomerID: "cust-2"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID)
	assert.Equal(t, model.StatusActive, next.Status)
	assert.False(t, next.SelectionConfirmed)
	assert.Nil(t, next.AssignedResourceID)
	assert.Nil(t, next.CustomerLanguage)

	ok, err := f.inv.Available(f.ctx, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	assert.True(t, ok, "soft reservation released")
}

func TestIdentifyValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Lanes.Identify(f.ctx, IdentifyInput{LaneID: "lane-1", StaffID: "s", CustomerID: "nobody"})
	requireKind(t, err, KindNotFound)

	three := 3
	_, err = f.svc.Lanes.Identify(f.ctx, IdentifyInput{
		LaneID: "lane-1", StaffID: "s", CustomerID: "cust-1", Mode: model.ModeRenewal, RenewalHours: &three,
	})
	requireKind(t, err, KindInvalid)

	two := 2
	_, err = f.svc.Lanes.Identify(f.ctx, IdentifyInput{
		LaneID: "lane-1", StaffID: "s", CustomerID: "cust-1", Mode: model.ModeRenewal, RenewalHours: &two,
	})
	e := requireKind(t, err, KindPreconditionFailed)
	assert.Equal(t, "open_visit", e.Guard)
}

func TestResetReleasesReservationAndCancelsIntent(t *testing.T) {
	f := newFixture(t)
	sess := f.locked(t, "lane-1", "cust-1", model.RentalStandard)
	_, err := f.svc.Reservations.Assign(f.ctx, sess.ID, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	intent, err := f.svc.Lanes.CreatePaymentIntent(f.ctx, sess.ID)
	require.NoError(t, err)

	f.rec.reset()
	out, err := f.svc.Lanes.Reset(f.ctx, "lane-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Status)
	assert.Contains(t, f.rec.types("lane-1"), realtime.InventoryUpdated)

	ok, err := f.inv.Available(f.ctx, model.ResourceRoom, roomID(101))
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := repository.NewPaymentRepo(f.db, database.SQLite).GetByID(f.ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCancelled, p.Status)

	_, err = f.svc.Lanes.Reset(f.ctx, "lane-1")
	requireKind(t, err, KindNotFound)
}
