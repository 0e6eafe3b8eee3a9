package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/lane-checkin/internal/metrics"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/queue"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// ReservationService owns every write to room and locker inventory made on
// behalf of a lane: soft reservations, their release, and the final commit
// that flips a resource to OCCUPIED.
type ReservationService struct {
	*core
}

// AssignResult is the outcome of an explicit selection.
type AssignResult struct {
	Session           *model.LaneSession `json:"session"`
	Resource          *model.Resource    `json:"resource"`
	NeedsConfirmation bool               `json:"needs_confirmation"`
}

// Assign soft-reserves a specific resource for the session. The resource
// row is locked; the call fails with a race-lost Conflict when the resource
// is not CLEAN, already has an owner, is soft-reserved by another
// non-terminal session or held for a waitlist offer. A resource whose tier
// differs from the desired tier must be accepted by the customer before
// payment.
func (s *ReservationService) Assign(ctx context.Context, sessionID string, t model.ResourceType, resourceID string) (AssignResult, error) {
	const op = "reservation.assign"
	if t != model.ResourceRoom && t != model.ResourceLocker {
		return AssignResult{}, invalid(op, "unknown resource type "+string(t))
	}
	var (
		res     AssignResult
		laneID  string
		failure *Error
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.lockSession(ctx, tx, op, sessionID)
		if err != nil {
			return err
		}
		laneID = sess.LaneID
		if sess.Mode != model.ModeCheckin {
			return precondition(op, "mode", "renewals keep their current resource")
		}
		if sess.Status != model.StatusAwaitingAssignment || !sess.SelectionConfirmed || sess.DesiredRentalType == nil {
			return precondition(op, "selection_confirmed", "selection must be locked before assignment")
		}
		r, err := s.inventory.GetTx(ctx, tx, t, resourceID, true)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound(op, "no such "+string(t))
		}
		if err != nil {
			return err
		}
		if sess.AssignedResourceID != nil && *sess.AssignedResourceID == resourceID {
			res = AssignResult{Session: sess, Resource: r, NeedsConfirmation: sess.CustomerConfirmationPending}
			return nil
		}
		if !r.Unowned() {
			failure = conflict(op, string(t)+" is not clean and unassigned", resourceID, true)
			return failure
		}
		if _, err := s.sessions.HolderOfResourceTx(ctx, tx, resourceID, sess.ID); err == nil {
			failure = conflict(op, string(t)+" is reserved by another lane", resourceID, true)
			return failure
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		ok, err := s.inventory.AvailableTx(ctx, tx, t, resourceID, sess.ID)
		if err != nil {
			return err
		}
		if !ok {
			failure = conflict(op, string(t)+" is held for a waitlist offer", resourceID, true)
			return failure
		}

		now := s.now()
		if _, err := s.releaseReservationTx(ctx, tx, sess, now); err != nil {
			return err
		}
		needs := r.Tier != *sess.DesiredRentalType
		sess.AssignedResourceID = &r.ID
		sess.AssignedResourceType = &r.Type
		sess.CustomerConfirmationPending = needs
		res = AssignResult{Session: sess, Resource: r, NeedsConfirmation: needs}
		return s.save(ctx, tx, sess, sess.Status, now)
	})
	if err != nil {
		if failure != nil {
			metrics.IncConflict("assign")
			s.emit(ctx, laneID, realtime.NewEvent(realtime.AssignmentFailed, laneID, sessionID, realtime.AssignmentPayload{
				ResourceID: resourceID, ResourceType: t, Reason: failure.Msg, RaceLost: true,
			}))
		}
		return AssignResult{}, wrap(op, err)
	}
	payload := realtime.AssignmentPayload{
		ResourceID: res.Resource.ID, ResourceType: res.Resource.Type, Tier: res.Resource.Tier,
		NeedsConfirmation: res.NeedsConfirmation,
	}
	events := []realtime.Event{s.event(realtime.AssignmentCreated, res.Session, payload)}
	if res.NeedsConfirmation {
		events = append(events, s.event(realtime.CustomerConfirmationRequired, res.Session, payload))
	}
	events = append(events, realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil))
	s.emit(ctx, laneID, events...)
	return res, nil
}

// CustomerRespond records the customer's answer to a cross-tier
// assignment. Declining releases the soft reservation so staff can pick
// again.
func (s *ReservationService) CustomerRespond(ctx context.Context, sessionID string, accept bool) (*model.LaneSession, error) {
	const op = "reservation.customer_respond"
	var (
		out     *model.LaneSession
		payload realtime.AssignmentPayload
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.lockSession(ctx, tx, op, sessionID)
		if err != nil {
			return err
		}
		if !sess.CustomerConfirmationPending || sess.AssignedResourceID == nil {
			return precondition(op, "customer_confirmation_pending", "no assignment awaits the customer")
		}
		payload = realtime.AssignmentPayload{ResourceID: *sess.AssignedResourceID, ResourceType: *sess.AssignedResourceType}
		now := s.now()
		if accept {
			sess.CustomerConfirmationPending = false
		} else if _, err := s.releaseReservationTx(ctx, tx, sess, now); err != nil {
			return err
		}
		out = sess
		return s.save(ctx, tx, sess, sess.Status, now)
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if accept {
		s.emit(ctx, out.LaneID, s.event(realtime.CustomerConfirmed, out, payload))
	} else {
		s.emit(ctx, out.LaneID, s.event(realtime.CustomerDeclined, out, payload),
			realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil))
	}
	return out, nil
}

// CommitResult is what the final commit produced.
type CommitResult struct {
	Session  *model.LaneSession   `json:"session"`
	Visit    *model.Visit         `json:"visit"`
	Block    *model.CheckinBlock  `json:"block"`
	Resource *model.Resource      `json:"resource"`
	Waitlist *model.WaitlistEntry `json:"waitlist,omitempty"`
}

// Sign records the customer's signature and completes the session.
func (s *ReservationService) Sign(ctx context.Context, sessionID, signature string) (CommitResult, error) {
	if signature == "" {
		return CommitResult{}, invalid("reservation.sign", "signature is required")
	}
	return s.commit(ctx, "reservation.sign", sessionID, signature, false)
}

// BypassAgreement completes the session without a signature, at staff
// discretion.
func (s *ReservationService) BypassAgreement(ctx context.Context, sessionID string) (CommitResult, error) {
	return s.commit(ctx, "reservation.bypass_agreement", sessionID, "", true)
}

func (s *ReservationService) signGuards(ctx context.Context, tx *sql.Tx, op string, sess *model.LaneSession) error {
	if !sess.SelectionConfirmed || sess.SelectionLockedAt == nil || sess.DesiredRentalType == nil {
		return precondition(op, "selection_confirmed", "selection is not locked")
	}
	if sess.Status != model.StatusAwaitingSignature {
		return precondition(op, "status", "session is "+string(sess.Status))
	}
	if sess.CustomerConfirmationPending {
		return precondition(op, "customer_confirmation", "customer has not accepted the assigned tier")
	}
	if sess.PaymentIntentID == nil {
		return precondition(op, "payment_paid", "no payment intent")
	}
	var (
		intent *model.PaymentIntent
		err    error
	)
	if tx != nil {
		intent, err = s.payments.GetByIDTx(ctx, tx, *sess.PaymentIntentID, false)
	} else {
		intent, err = s.payments.GetByID(ctx, *sess.PaymentIntentID)
	}
	if err != nil {
		return err
	}
	if intent.Status != model.PaymentPaid {
		return precondition(op, "payment_paid", "payment intent is "+string(intent.Status))
	}
	return nil
}

// commit is the final step of a check-in. Guards are checked up front, the
// agreement is recorded, and then one transaction re-validates the
// resource under a fresh lock, occupies it, writes the visit and stay
// block, and asserts the result before committing.
func (s *ReservationService) commit(ctx context.Context, op, sessionID, signature string, bypass bool) (CommitResult, error) {
	pre, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && pre.Status.Terminal()) {
		return CommitResult{}, notFound(op, "no active lane session")
	}
	if err != nil {
		return CommitResult{}, wrap(op, err)
	}
	if err := s.signGuards(ctx, nil, op, pre); err != nil {
		return CommitResult{}, wrap(op, err)
	}

	var agreementRef *string
	if !bypass {
		ref, err := s.agreements.Record(ctx, pre.ID, *pre.CustomerID, signature)
		if err != nil {
			return CommitResult{}, internal(op, "agreement could not be recorded", err)
		}
		agreementRef = &ref
	}

	var (
		out     CommitResult
		failure *Error
	)
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.lockSession(ctx, tx, op, sessionID)
		if err != nil {
			return err
		}
		if err := s.signGuards(ctx, tx, op, sess); err != nil {
			return err
		}
		now := s.now()
		if sess.Mode == model.ModeRenewal {
			out, err = s.renewTx(ctx, tx, op, sess, agreementRef, now)
		} else {
			out, err = s.checkinTx(ctx, tx, op, sess, agreementRef, now)
		}
		if err != nil {
			if e, ok := AsError(err); ok && e.Kind == KindConflict {
				failure = e
			}
			return err
		}
		prev := sess.Status
		sess.Status = model.StatusCompleted
		sess.CustomerConfirmationPending = false
		sess.VisitID = &out.Visit.ID
		out.Session = sess
		return s.save(ctx, tx, sess, prev, now)
	})
	if err != nil {
		if failure != nil {
			metrics.IncConflict("commit")
			s.emit(ctx, pre.LaneID, realtime.NewEvent(realtime.AssignmentFailed, pre.LaneID, pre.ID, realtime.AssignmentPayload{
				ResourceID: failure.Resource, Reason: failure.Msg, RaceLost: failure.RaceLost,
			}))
		}
		return CommitResult{}, wrap(op, err)
	}

	s.afterCommit(ctx, out)
	return out, nil
}

func (s *ReservationService) afterCommit(ctx context.Context, out CommitResult) {
	sess := out.Session
	events := []realtime.Event{realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil)}
	if out.Waitlist != nil {
		events = append(events, realtime.NewEvent(realtime.WaitlistUpdated, realtime.AllLanes, "", realtime.WaitlistPayload{
			EntryID: out.Waitlist.ID, Tier: out.Waitlist.DesiredTier, Status: out.Waitlist.Status,
		}))
	}
	s.emit(ctx, sess.LaneID, events...)

	if s.pub == nil {
		return
	}
	ev := queue.CheckinCompletedEvent{
		SessionID:    sess.ID,
		LaneID:       sess.LaneID,
		CustomerID:   *sess.CustomerID,
		VisitID:      out.Visit.ID,
		BlockID:      out.Block.ID,
		Mode:         string(sess.Mode),
		RentalType:   string(out.Block.RentalType),
		ResourceType: string(out.Resource.Type),
		ResourceID:   out.Resource.ID,
		StartsAt:     out.Block.StartsAt.Format(time.RFC3339),
		EndsAt:       out.Block.EndsAt.Format(time.RFC3339),
		AgreementRef: out.Block.AgreementRef,
		CompletedAt:  sess.UpdatedAt.Format(time.RFC3339),
	}
	if err := s.pub.CheckinCompleted(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("checkin.completed publish failed")
	}
	if out.Waitlist != nil {
		s.publishWaitlist(ctx, *out.Waitlist)
	}
}

func (c *core) publishWaitlist(ctx context.Context, e model.WaitlistEntry) {
	if c.pub == nil {
		return
	}
	err := c.pub.WaitlistUpdated(ctx, queue.WaitlistUpdatedEvent{
		EntryID: e.ID, VisitID: e.VisitID, DesiredTier: string(e.DesiredTier), BackupTier: string(e.BackupTier),
		Status: string(e.Status), RoomID: e.RoomID, At: e.UpdatedAt.Format(time.RFC3339),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("entry_id", e.ID).Msg("waitlist.updated publish failed")
	}
}

// pickTx resolves the resource a check-in will occupy: the soft
// reservation if there is one, otherwise an auto-selected one. The result
// is locked.
func (s *ReservationService) pickTx(ctx context.Context, tx *sql.Tx, op string, sess *model.LaneSession) (*model.Resource, error) {
	if sess.AssignedResourceID != nil && sess.AssignedResourceType != nil {
		r, err := s.inventory.GetTx(ctx, tx, *sess.AssignedResourceType, *sess.AssignedResourceID, true)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, conflict(op, "reserved resource no longer exists", *sess.AssignedResourceID, true)
		}
		return r, err
	}
	tier := *sess.DesiredRentalType
	var (
		r   *model.Resource
		err error
	)
	if tier == model.RentalLocker {
		r, err = s.inventory.PickLockerTx(ctx, tx)
	} else {
		skip, cerr := s.waitlist.CountActiveOpenStayTx(ctx, tx, tier)
		if cerr != nil {
			return nil, cerr
		}
		r, err = s.inventory.PickRoomTx(ctx, tx, tier, skip)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, conflict(op, "no "+string(tier)+" available", "", false)
	}
	return r, err
}

func (s *ReservationService) checkinTx(ctx context.Context, tx *sql.Tx, op string, sess *model.LaneSession, agreementRef *string, now time.Time) (CommitResult, error) {
	r, err := s.pickTx(ctx, tx, op, sess)
	if err != nil {
		return CommitResult{}, err
	}
	if !r.Unowned() {
		return CommitResult{}, conflict(op, string(r.Type)+" was taken", r.ID, true)
	}
	if _, err := s.sessions.HolderOfResourceTx(ctx, tx, r.ID, sess.ID); err == nil {
		return CommitResult{}, conflict(op, string(r.Type)+" is reserved by another lane", r.ID, true)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return CommitResult{}, err
	}
	if ok, err := s.inventory.AvailableTx(ctx, tx, r.Type, r.ID, sess.ID); err != nil {
		return CommitResult{}, err
	} else if !ok {
		return CommitResult{}, conflict(op, string(r.Type)+" is held for a waitlist offer", r.ID, true)
	}

	customerID := *sess.CustomerID
	visit := &model.Visit{ID: uuid.NewString(), CustomerID: customerID, StartedAt: now}
	if err := s.checkins.CreateVisitTx(ctx, tx, visit); err != nil {
		return CommitResult{}, err
	}
	block := &model.CheckinBlock{
		ID: uuid.NewString(), VisitID: visit.ID, SessionID: &sess.ID, BlockType: model.BlockInitial,
		RentalType: r.Tier, StartsAt: now, EndsAt: now.Add(s.lane.StayDuration), AgreementRef: agreementRef,
		CreatedAt: now,
	}
	if r.Type == model.ResourceRoom {
		block.RoomID = &r.ID
	} else {
		block.LockerID = &r.ID
	}
	if err := s.checkins.CreateBlockTx(ctx, tx, block); err != nil {
		return CommitResult{}, err
	}
	if err := s.inventory.OccupyTx(ctx, tx, r.Type, r.ID, customerID, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return CommitResult{}, conflict(op, string(r.Type)+" was taken", r.ID, true)
		}
		return CommitResult{}, err
	}

	var entry *model.WaitlistEntry
	if sess.WaitlistDesiredType != nil && sess.BackupRentalType != nil {
		entry = &model.WaitlistEntry{
			ID: uuid.NewString(), VisitID: visit.ID, CheckinBlockID: block.ID,
			DesiredTier: *sess.WaitlistDesiredType, BackupTier: *sess.BackupRentalType,
			Status: model.WaitlistActive, CreatedAt: now, UpdatedAt: now,
		}
		if err := s.waitlist.CreateTx(ctx, tx, entry); err != nil {
			return CommitResult{}, err
		}
	}

	// Session still holds the soft reservation here; the assertion must
	// see the resource as unavailable to everyone, including this session.
	if err := s.assertOccupiedTx(ctx, tx, op, r, customerID); err != nil {
		return CommitResult{}, err
	}
	sess.AssignedResourceID = &r.ID
	sess.AssignedResourceType = &r.Type
	r.Status = model.ResourceOccupied
	r.AssignedToCustomerID = &customerID
	return CommitResult{Visit: visit, Block: block, Resource: r, Waitlist: entry}, nil
}

// renewTx appends a RENEWAL block to the open visit on the resource the
// customer already occupies.
func (s *ReservationService) renewTx(ctx context.Context, tx *sql.Tx, op string, sess *model.LaneSession, agreementRef *string, now time.Time) (CommitResult, error) {
	if sess.RenewalVisitID == nil || sess.RenewalHours == nil {
		return CommitResult{}, precondition(op, "open_visit", "renewal has no visit")
	}
	visit, err := s.checkins.GetVisitTx(ctx, tx, *sess.RenewalVisitID, true)
	if err != nil {
		return CommitResult{}, err
	}
	if visit.EndedAt != nil {
		return CommitResult{}, precondition(op, "open_visit", "visit has ended")
	}
	last, err := s.checkins.LatestBlockTx(ctx, tx, visit.ID)
	if err != nil {
		return CommitResult{}, err
	}
	id, typ := last.ResourceID()
	r, err := s.inventory.GetTx(ctx, tx, typ, id, true)
	if err != nil {
		return CommitResult{}, err
	}
	if r.AssignedToCustomerID == nil || *r.AssignedToCustomerID != visit.CustomerID || r.Status != model.ResourceOccupied {
		return CommitResult{}, conflict(op, "customer no longer occupies "+string(typ), id, false)
	}
	block := &model.CheckinBlock{
		ID: uuid.NewString(), VisitID: visit.ID, SessionID: &sess.ID, BlockType: model.BlockRenewal,
		RentalType: last.RentalType, RoomID: last.RoomID, LockerID: last.LockerID,
		StartsAt: last.EndsAt, EndsAt: last.EndsAt.Add(time.Duration(*sess.RenewalHours) * time.Hour),
		AgreementRef: agreementRef, CreatedAt: now,
	}
	if err := s.checkins.CreateBlockTx(ctx, tx, block); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Visit: visit, Block: block, Resource: r}, nil
}

// assertOccupiedTx re-reads r inside the transaction and fails loudly when
// it is not OCCUPIED by customerID or could still be taken by anyone.
func (c *core) assertOccupiedTx(ctx context.Context, tx *sql.Tx, op string, r *model.Resource, customerID string) error {
	got, err := c.inventory.GetTx(ctx, tx, r.Type, r.ID, false)
	if err != nil {
		return internal(op, "persistence assertion failed: resource vanished", err)
	}
	if got.Status != model.ResourceOccupied || got.AssignedToCustomerID == nil || *got.AssignedToCustomerID != customerID {
		metrics.InvariantViolationsTotal.WithLabelValues("owner").Inc()
		c.log.Error().Str("resource_id", r.ID).Str("status", string(got.Status)).Msg("persistence assertion failed: owner mismatch")
		return internal(op, "persistence assertion failed: resource not occupied by customer", nil)
	}
	available, err := c.inventory.AvailableTx(ctx, tx, r.Type, r.ID, "")
	if err != nil {
		return internal(op, "persistence assertion failed", err)
	}
	if available {
		metrics.InvariantViolationsTotal.WithLabelValues("availability").Inc()
		c.log.Error().Str("resource_id", r.ID).Msg("persistence assertion failed: resource still available")
		return internal(op, "persistence assertion failed: resource still available", nil)
	}
	return nil
}
