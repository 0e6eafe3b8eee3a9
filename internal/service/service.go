package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/lane-checkin/internal/config"
	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/log"
	"github.com/iliyamo/lane-checkin/internal/metrics"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// Deps are the collaborators of the engine. Publisher may be nil.
type Deps struct {
	DB          *sql.DB
	Dialect     database.Dialect
	Pricing     Pricing
	Payments    PaymentProvider
	Agreements  AgreementRecorder
	Broadcaster realtime.Broadcaster
	Publisher   DomainPublisher
	Lane        config.LaneConfig
	Now         func() time.Time
}

// Services groups the engine's entry points.
type Services struct {
	Lanes        *LaneService
	Reservations *ReservationService
	Waitlist     *WaitlistService
	Checkout     *CheckoutService
	Snapshots    *SnapshotService
}

type core struct {
	db        *sql.DB
	sessions  *repository.LaneSessionRepo
	inventory *repository.InventoryRepo
	customers *repository.CustomerRepo
	checkins  *repository.CheckinRepo
	waitlist  *repository.WaitlistRepo
	payments  *repository.PaymentRepo

	pricing    Pricing
	pay        PaymentProvider
	agreements AgreementRecorder
	bc         realtime.Broadcaster
	pub        DomainPublisher
	lane       config.LaneConfig
	clock      func() time.Time
	log        zerolog.Logger
}

// New wires the engine.
func New(d Deps) *Services {
	if d.Pricing == nil {
		d.Pricing = DefaultPricing()
	}
	if d.Payments == nil {
		d.Payments = CounterPayments{}
	}
	if d.Agreements == nil {
		d.Agreements = LocalAgreements{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Lane.StayDuration <= 0 {
		d.Lane.StayDuration = 6 * time.Hour
	}
	if d.Lane.OfferTTL <= 0 {
		d.Lane.OfferTTL = 15 * time.Minute
	}
	c := &core{
		db:         d.DB,
		sessions:   repository.NewLaneSessionRepo(d.DB, d.Dialect),
		inventory:  repository.NewInventoryRepo(d.DB, d.Dialect),
		customers:  repository.NewCustomerRepo(d.DB),
		checkins:   repository.NewCheckinRepo(d.DB, d.Dialect),
		waitlist:   repository.NewWaitlistRepo(d.DB, d.Dialect),
		payments:   repository.NewPaymentRepo(d.DB, d.Dialect),
		pricing:    d.Pricing,
		pay:        d.Payments,
		agreements: d.Agreements,
		bc:         d.Broadcaster,
		pub:        d.Publisher,
		lane:       d.Lane,
		clock:      d.Now,
		log:        log.WithComponent("engine"),
	}
	w := &WaitlistService{core: c}
	return &Services{
		Lanes:        &LaneService{core: c},
		Reservations: &ReservationService{core: c},
		Waitlist:     w,
		Checkout:     &CheckoutService{core: c, waitlist: w},
		Snapshots:    &SnapshotService{core: c},
	}
}

// now returns the current time in UTC at the precision both stores keep.
func (c *core) now() time.Time {
	return c.clock().UTC().Truncate(time.Microsecond)
}

// inTx runs fn in a transaction and commits when fn returns nil.
func (c *core) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// lockSession loads and locks a non-terminal session.
func (c *core) lockSession(ctx context.Context, tx *sql.Tx, op, id string) (*model.LaneSession, error) {
	s, err := c.sessions.GetByIDTx(ctx, tx, id, true)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound(op, "no such lane session")
	}
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, notFound(op, "lane session is "+string(s.Status))
	}
	return s, nil
}

// save stamps and persists s, counting a transition when status changed.
func (c *core) save(ctx context.Context, tx *sql.Tx, s *model.LaneSession, prev model.LaneStatus, now time.Time) error {
	s.UpdatedAt = now
	if err := c.sessions.UpdateTx(ctx, tx, s); err != nil {
		return err
	}
	if s.Status != prev {
		metrics.IncTransition(string(s.Status))
	}
	return nil
}

// emit broadcasts events and then the lane's full snapshot. It runs after
// commit and never fails the caller.
func (c *core) emit(ctx context.Context, laneID string, events ...realtime.Event) {
	if c.bc == nil {
		return
	}
	for _, ev := range events {
		c.bc.Publish(ev)
	}
	if laneID == "" {
		return
	}
	snap, err := c.snapshot(ctx, laneID)
	if err != nil {
		c.log.Warn().Err(err).Str("lane_id", laneID).Msg("snapshot for broadcast failed")
		return
	}
	sessionID := ""
	if snap.Session != nil {
		sessionID = snap.Session.ID
	}
	c.bc.Publish(realtime.NewEvent(realtime.SessionUpdated, laneID, sessionID, snap))
}

func (c *core) event(t realtime.EventType, s *model.LaneSession, payload any) realtime.Event {
	return realtime.NewEvent(t, s.LaneID, s.ID, payload)
}

// releaseReservationTx drops a session's soft reservation.
func (c *core) releaseReservationTx(ctx context.Context, tx *sql.Tx, s *model.LaneSession, now time.Time) (bool, error) {
	if s.AssignedResourceID == nil || s.AssignedResourceType == nil {
		s.ClearReservation()
		return false, nil
	}
	if s.CustomerID != nil {
		if err := c.inventory.ClearOwnerTx(ctx, tx, *s.AssignedResourceType, *s.AssignedResourceID, *s.CustomerID, now); err != nil {
			return false, err
		}
	}
	s.ClearReservation()
	return true, nil
}
