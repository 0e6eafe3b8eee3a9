package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/lane-checkin/internal/metrics"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// LaneService drives the lane session state machine and the selection
// negotiation protocol.
type LaneService struct {
	*core
}

// IdentifyInput starts or resumes a lane's transaction for a customer.
type IdentifyInput struct {
	LaneID       string
	StaffID      string
	CustomerID   string
	Mode         model.Mode
	RenewalHours *int
}

// ActiveSession returns the lane's non-terminal session.
func (s *LaneService) ActiveSession(ctx context.Context, laneID string) (*model.LaneSession, error) {
	sess, err := s.sessions.ActiveByLane(ctx, laneID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("lane.active", "no active session on lane")
	}
	return sess, wrap("lane.active", err)
}

// OpenLane gives a lane an IDLE session owned by staffID. An existing
// non-terminal session is returned unchanged.
func (s *LaneService) OpenLane(ctx context.Context, laneID, staffID string) (*model.LaneSession, error) {
	const op = "lane.open"
	if laneID == "" || staffID == "" {
		return nil, invalid(op, "lane and staff are required")
	}
	var (
		out     *model.LaneSession
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := s.sessions.LockLaneTx(ctx, tx, laneID, now); err != nil {
			return err
		}
		existing, err := s.sessions.ActiveByLaneTx(ctx, tx, laneID, true)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		out = &model.LaneSession{
			ID: uuid.NewString(), LaneID: laneID, Status: model.StatusIdle, StaffID: staffID,
			Mode: model.ModeCheckin, CreatedAt: now, UpdatedAt: now,
		}
		created = true
		return s.sessions.CreateTx(ctx, tx, out)
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if created {
		metrics.IncTransition(string(model.StatusIdle))
		s.emit(ctx, laneID)
	}
	return out, nil
}

// Identify binds a customer to the lane. A lane has at most one
// non-terminal session: an existing one is reused, and when it belonged to
// a different customer or mode its negotiation and reservation state is
// discarded first. Renewal requires an open visit whose current checkout
// falls within the renewal window; its selection is pre-locked to the
// tier the customer already holds.
func (s *LaneService) Identify(ctx context.Context, in IdentifyInput) (*model.LaneSession, error) {
	const op = "lane.identify"
	if in.LaneID == "" || in.StaffID == "" || in.CustomerID == "" {
		return nil, invalid(op, "lane, staff and customer are required")
	}
	if in.Mode == "" {
		in.Mode = model.ModeCheckin
	}
	switch in.Mode {
	case model.ModeCheckin:
		in.RenewalHours = nil
	case model.ModeRenewal:
		if in.RenewalHours == nil || (*in.RenewalHours != 2 && *in.RenewalHours != 6) {
			return nil, invalid(op, "renewal hours must be 2 or 6")
		}
	default:
		return nil, invalid(op, "unknown mode "+string(in.Mode))
	}

	var (
		out      *model.LaneSession
		changed  bool
		released bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := s.sessions.LockLaneTx(ctx, tx, in.LaneID, now); err != nil {
			return err
		}
		if _, err := s.customers.GetByIDTx(ctx, tx, in.CustomerID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFound(op, "no such customer")
			}
			return err
		}
		var renewFrom *model.CheckinBlock
		if in.Mode == model.ModeRenewal {
			b, err := s.renewableBlockTx(ctx, tx, op, in.CustomerID, now)
			if err != nil {
				return err
			}
			renewFrom = b
		}

		existing, err := s.sessions.ActiveByLaneTx(ctx, tx, in.LaneID, true)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if existing != nil && sameIdentity(existing, in) {
			out = existing
			return nil
		}

		sess := existing
		prev := model.StatusIdle
		if sess == nil {
			sess = &model.LaneSession{ID: uuid.NewString(), LaneID: in.LaneID, CreatedAt: now}
		} else {
			prev = sess.Status
			if released, err = s.releaseReservationTx(ctx, tx, sess, now); err != nil {
				return err
			}
			if err := s.cancelDueIntentTx(ctx, tx, sess, now); err != nil {
				return err
			}
			sess.ClearNegotiation()
			sess.CustomerLanguage = nil
			sess.VisitID = nil
		}
		sess.Status = model.StatusActive
		sess.StaffID = in.StaffID
		sess.CustomerID = &in.CustomerID
		sess.Mode = in.Mode
		sess.RenewalHours = in.RenewalHours
		sess.RenewalVisitID = nil
		if renewFrom != nil {
			visitID, tier, by := renewFrom.VisitID, renewFrom.RentalType, model.ActorEmployee
			sess.RenewalVisitID = &visitID
			sess.DesiredRentalType = &tier
			sess.ProposedRentalType = &tier
			sess.ProposedBy = &by
			sess.SelectionConfirmed = true
			sess.SelectionConfirmedBy = &by
			sess.SelectionLockedAt = &now
		}
		changed = true
		out = sess
		if existing == nil {
			sess.UpdatedAt = now
			metrics.IncTransition(string(sess.Status))
			return s.sessions.CreateTx(ctx, tx, sess)
		}
		return s.save(ctx, tx, sess, prev, now)
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if changed {
		var events []realtime.Event
		if released {
			events = append(events, realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil))
		}
		s.emit(ctx, in.LaneID, events...)
	}
	return out, nil
}

func sameIdentity(s *model.LaneSession, in IdentifyInput) bool {
	if s.Status == model.StatusIdle || s.CustomerID == nil || *s.CustomerID != in.CustomerID || s.Mode != in.Mode {
		return false
	}
	if (s.RenewalHours == nil) != (in.RenewalHours == nil) {
		return false
	}
	return s.RenewalHours == nil || *s.RenewalHours == *in.RenewalHours
}

// renewableBlockTx returns the latest block of the customer's open visit if
// its checkout is within the renewal window.
func (s *LaneService) renewableBlockTx(ctx context.Context, tx *sql.Tx, op, customerID string, now time.Time) (*model.CheckinBlock, error) {
	visit, err := s.checkins.OpenVisitForCustomerTx(ctx, tx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, precondition(op, "open_visit", "customer has no open visit to renew")
	}
	if err != nil {
		return nil, err
	}
	block, err := s.checkins.LatestBlockTx(ctx, tx, visit.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, precondition(op, "open_visit", "visit has no stay block")
	}
	if err != nil {
		return nil, err
	}
	if !now.Before(block.EndsAt) || block.EndsAt.Sub(now) > s.lane.RenewalWindow {
		return nil, precondition(op, "renewal_window", "renewal is only possible shortly before checkout")
	}
	return block, nil
}

func (c *core) cancelDueIntentTx(ctx context.Context, tx *sql.Tx, s *model.LaneSession, now time.Time) error {
	if s.PaymentIntentID == nil {
		return nil
	}
	return c.payments.CancelTx(ctx, tx, *s.PaymentIntentID, now)
}

// Reset abandons the lane's session: its soft reservation is released,
// a due payment intent is cancelled and the session ends CANCELLED.
// Completed occupancy is never rolled back.
func (s *LaneService) Reset(ctx context.Context, laneID string) (*model.LaneSession, error) {
	const op = "lane.reset"
	var (
		out      *model.LaneSession
		released bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if err := s.sessions.LockLaneTx(ctx, tx, laneID, now); err != nil {
			return err
		}
		sess, err := s.sessions.ActiveByLaneTx(ctx, tx, laneID, true)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound(op, "no active session on lane")
		}
		if err != nil {
			return err
		}
		prev := sess.Status
		if released, err = s.releaseReservationTx(ctx, tx, sess, now); err != nil {
			return err
		}
		if err := s.cancelDueIntentTx(ctx, tx, sess, now); err != nil {
			return err
		}
		sess.ClearNegotiation()
		sess.Status = model.StatusCancelled
		out = sess
		return s.save(ctx, tx, sess, prev, now)
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	var events []realtime.Event
	if released {
		events = append(events, realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil))
	}
	s.emit(ctx, laneID, events...)
	return out, nil
}

// SetLanguage records the customer-facing language of the session.
func (s *LaneService) SetLanguage(ctx context.Context, sessionID, lang string) (*model.LaneSession, error) {
	lang = strings.ToUpper(strings.TrimSpace(lang))
	if lang == "" {
		return nil, invalid("lane.language", "language is required")
	}
	return s.mutate(ctx, "lane.language", sessionID, func(sess *model.LaneSession) error {
		sess.CustomerLanguage = &lang
		return nil
	})
}

// BypassPastDue lets the customer negotiate despite an unpaid balance.
func (s *LaneService) BypassPastDue(ctx context.Context, sessionID string) (*model.LaneSession, error) {
	return s.mutate(ctx, "lane.past_due_bypass", sessionID, func(sess *model.LaneSession) error {
		if sess.CustomerID == nil {
			return precondition("lane.past_due_bypass", "customer", "no customer identified")
		}
		sess.PastDueBypassed = true
		return nil
	})
}

// mutate applies fn to a locked session and broadcasts the new state.
func (s *LaneService) mutate(ctx context.Context, op, sessionID string, fn func(*model.LaneSession) error) (*model.LaneSession, error) {
	var out *model.LaneSession
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.lockSession(ctx, tx, op, sessionID)
		if err != nil {
			return err
		}
		prev := sess.Status
		if err := fn(sess); err != nil {
			return err
		}
		out = sess
		return s.save(ctx, tx, sess, prev, s.now())
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	s.emit(ctx, out.LaneID)
	return out, nil
}
