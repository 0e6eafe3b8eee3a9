package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// ProposeInput is one side's suggestion of a rental type. When
// WaitlistDesiredType is set the customer takes RentalType now as a backup
// and queues for the desired tier.
type ProposeInput struct {
	SessionID           string
	RentalType          model.RentalType
	By                  model.Actor
	WaitlistDesiredType *model.RentalType
	BackupRentalType    *model.RentalType
}

// ConfirmResult reports whether confirm locked the selection or found it
// already locked.
type ConfirmResult struct {
	Session          *model.LaneSession `json:"session"`
	AlreadyConfirmed bool               `json:"already_confirmed"`
}

// negotiationGuard checks what both propose and confirm require: an
// identified customer, a language preference and, for the customer side,
// no unpaid past-due balance unless staff bypassed it.
func (s *LaneService) negotiationGuard(ctx context.Context, tx *sql.Tx, op string, sess *model.LaneSession, by model.Actor) error {
	if sess.CustomerID == nil {
		return precondition(op, "customer", "no customer identified")
	}
	if sess.CustomerLanguage == nil {
		return precondition(op, "customer_language", "customer language must be set first")
	}
	if by == model.ActorEmployee || sess.PastDueBypassed {
		return nil
	}
	cust, err := s.customers.GetByIDTx(ctx, tx, *sess.CustomerID)
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(op, "no such customer")
	}
	if err != nil {
		return err
	}
	if cust.PastDueBalanceCents > 0 {
		return forbidden(op, "past-due balance must be cleared or bypassed by staff")
	}
	return nil
}

func validateWaitlistChoice(op string, in *ProposeInput) error {
	if in.WaitlistDesiredType == nil {
		if in.BackupRentalType != nil {
			return invalid(op, "backup rental type requires a waitlist desired type")
		}
		return nil
	}
	if in.BackupRentalType == nil {
		b := in.RentalType
		in.BackupRentalType = &b
	}
	if *in.BackupRentalType != in.RentalType {
		return invalid(op, "backup rental type must be the proposed rental type")
	}
	if _, ok := model.UpgradeFee(*in.BackupRentalType, *in.WaitlistDesiredType); !ok {
		return invalid(op, "no upgrade path from "+string(*in.BackupRentalType)+" to "+string(*in.WaitlistDesiredType))
	}
	return nil
}

// Propose records a proposal. The last proposal wins until a confirm locks
// the selection; after that every proposal is rejected until reset.
func (s *LaneService) Propose(ctx context.Context, in ProposeInput) (*model.LaneSession, error) {
	const op = "negotiation.propose"
	if !in.RentalType.Valid() {
		return nil, invalid(op, "unknown rental type "+string(in.RentalType))
	}
	if !in.By.Valid() {
		return nil, invalid(op, "unknown actor "+string(in.By))
	}
	if err := validateWaitlistChoice(op, &in); err != nil {
		return nil, err
	}
	var out *model.LaneSession
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.lockSession(ctx, tx, op, in.SessionID)
		if err != nil {
			return err
		}
		if sess.SelectionConfirmed {
			return conflict(op, "selection already locked", "", false)
		}
		if sess.Status != model.StatusActive {
			return precondition(op, "status", "session is "+string(sess.Status))
		}
		if err := s.negotiationGuard(ctx, tx, op, sess, in.By); err != nil {
			return err
		}
		rt, by := in.RentalType, in.By
		sess.ProposedRentalType = &rt
		sess.ProposedBy = &by
		sess.WaitlistDesiredType = in.WaitlistDesiredType
		sess.BackupRentalType = in.BackupRentalType
		out = sess
		return s.save(ctx, tx, sess, sess.Status, s.now())
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	s.emit(ctx, out.LaneID, s.event(realtime.SelectionProposed, out,
		realtime.SelectionPayload{RentalType: in.RentalType, By: in.By}))
	return out, nil
}

// Confirm locks the current proposal. When the selection is already locked
// it returns the current state unchanged, unless rentalType names a
// different tier than the locked one. An EMPLOYEE confirm also emits
// SELECTION_FORCED: staff confirmation overrides pending kiosk negotiation.
func (s *LaneService) Confirm(ctx context.Context, sessionID string, by model.Actor, rentalType *model.RentalType) (ConfirmResult, error) {
	const op = "negotiation.confirm"
	if !by.Valid() {
		return ConfirmResult{}, invalid(op, "unknown actor "+string(by))
	}
	var res ConfirmResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.lockSession(ctx, tx, op, sessionID)
		if err != nil {
			return err
		}
		if sess.SelectionConfirmed {
			if rentalType != nil && sess.DesiredRentalType != nil && *rentalType != *sess.DesiredRentalType {
				return conflict(op, "selection already locked to "+string(*sess.DesiredRentalType), "", false)
			}
			res = ConfirmResult{Session: sess, AlreadyConfirmed: true}
			return nil
		}
		if sess.Status != model.StatusActive {
			return precondition(op, "status", "session is "+string(sess.Status))
		}
		if sess.ProposedRentalType == nil {
			return precondition(op, "proposed_rental_type", "nothing has been proposed")
		}
		if rentalType != nil && *rentalType != *sess.ProposedRentalType {
			return conflict(op, "proposal changed to "+string(*sess.ProposedRentalType), "", false)
		}
		if err := s.negotiationGuard(ctx, tx, op, sess, by); err != nil {
			return err
		}
		now := s.now()
		prev := sess.Status
		desired := *sess.ProposedRentalType
		sess.SelectionConfirmed = true
		sess.SelectionConfirmedBy = &by
		sess.SelectionLockedAt = &now
		sess.DesiredRentalType = &desired
		sess.Status = model.StatusAwaitingAssignment
		res = ConfirmResult{Session: sess}
		return s.save(ctx, tx, sess, prev, now)
	})
	if err != nil {
		return ConfirmResult{}, wrap(op, err)
	}
	if res.AlreadyConfirmed {
		return res, nil
	}
	payload := realtime.SelectionPayload{RentalType: *res.Session.DesiredRentalType, By: by}
	events := []realtime.Event{s.event(realtime.SelectionLocked, res.Session, payload)}
	if by == model.ActorEmployee {
		events = append(events, s.event(realtime.SelectionForced, res.Session, payload))
	}
	s.emit(ctx, res.Session.LaneID, events...)
	return res, nil
}

// Acknowledge tells the other side the locked selection has been seen.
// It changes no state.
func (s *LaneService) Acknowledge(ctx context.Context, sessionID string, by model.Actor) (*model.LaneSession, error) {
	const op = "negotiation.acknowledge"
	if !by.Valid() {
		return nil, invalid(op, "unknown actor "+string(by))
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && sess.Status.Terminal()) {
		return nil, notFound(op, "no active lane session")
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	if !sess.SelectionConfirmed {
		return nil, precondition(op, "selection_confirmed", "selection is not locked")
	}
	if s.bc != nil {
		payload := realtime.SelectionPayload{By: by}
		if sess.DesiredRentalType != nil {
			payload.RentalType = *sess.DesiredRentalType
		}
		s.bc.Publish(s.event(realtime.SelectionAcknowledged, sess, payload))
	}
	return sess, nil
}

// HighlightOption hints the kiosk towards a rental type. It is best-effort:
// failures are logged and never reported to the caller.
func (s *LaneService) HighlightOption(ctx context.Context, sessionID string, rt model.RentalType) {
	if !rt.Valid() || s.bc == nil {
		return
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil || sess.Status.Terminal() {
		s.log.Debug().Err(err).Str("session_id", sessionID).Msg("highlight skipped")
		return
	}
	s.bc.Publish(s.event(realtime.OptionHighlighted, sess, realtime.HighlightPayload{RentalType: rt}))
}
