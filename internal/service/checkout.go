package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// CheckoutService ends visits and returns their resources to inventory
// through housekeeping.
type CheckoutService struct {
	*core
	waitlist *WaitlistService
}

// CheckoutResult is the outcome of a completed checkout.
type CheckoutResult struct {
	Visit    *model.Visit          `json:"visit"`
	Released []model.Resource      `json:"released"`
	Expired  []model.WaitlistEntry `json:"expired_waitlist"`
}

// Request announces at a lane that a customer wants to check out. It
// changes no state; staff completes the checkout from the register.
func (s *CheckoutService) Request(ctx context.Context, laneID, customerID string) (*model.Visit, error) {
	const op = "checkout.request"
	visit, err := s.checkins.OpenVisitForCustomer(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound(op, "customer has no open visit")
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	if s.bc != nil {
		s.bc.Publish(realtime.NewEvent(realtime.CheckoutRequested, laneID, "",
			realtime.CheckoutPayload{CustomerID: customerID, VisitID: visit.ID}))
	}
	return visit, nil
}

// Complete closes a visit. Every resource it occupied goes to DIRTY with
// no owner, and its open waitlist entries expire, releasing any held room
// to the next customer in line.
func (s *CheckoutService) Complete(ctx context.Context, visitID, laneID string) (CheckoutResult, error) {
	const op = "checkout.complete"
	var out CheckoutResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		v, err := s.checkins.GetVisitTx(ctx, tx, visitID, true)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound(op, "no such visit")
		}
		if err != nil {
			return err
		}
		if v.EndedAt != nil {
			return precondition(op, "visit_open", "visit already checked out")
		}
		blocks, err := s.checkins.BlocksByVisitTx(ctx, tx, v.ID)
		if err != nil {
			return err
		}
		now := s.now()
		seen := make(map[string]bool)
		for _, b := range blocks {
			id, typ := b.ResourceID()
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			r, err := s.inventory.GetTx(ctx, tx, typ, id, true)
			if err != nil {
				return err
			}
			if r.AssignedToCustomerID == nil || *r.AssignedToCustomerID != v.CustomerID {
				continue
			}
			if err := s.inventory.ReleaseTx(ctx, tx, typ, id, v.CustomerID, now); err != nil {
				return err
			}
			r.Status = model.ResourceDirty
			r.AssignedToCustomerID = nil
			out.Released = append(out.Released, *r)
		}
		if err := s.checkins.CloseVisitTx(ctx, tx, v.ID, now); err != nil {
			return err
		}
		expired, err := s.core.waitlist.ExpireByVisitTx(ctx, tx, v.ID, now)
		if err != nil {
			return err
		}
		for i := range expired {
			expired[i].Status = model.WaitlistExpired
			expired[i].UpdatedAt = now
		}
		v.EndedAt = &now
		out.Visit = v
		out.Expired = expired
		return nil
	})
	if err != nil {
		return CheckoutResult{}, wrap(op, err)
	}

	if s.bc != nil && laneID != "" {
		s.bc.Publish(realtime.NewEvent(realtime.CheckoutCompleted, laneID, "",
			realtime.CheckoutPayload{CustomerID: out.Visit.CustomerID, VisitID: out.Visit.ID}))
	}
	s.emit(ctx, "", realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil))
	for _, e := range out.Expired {
		s.waitlistChanged(ctx, e)
		if e.RoomID != nil {
			if _, err := s.waitlist.OfferFreedRoom(ctx, *e.RoomID); err != nil {
				s.log.Warn().Err(err).Str("room_id", *e.RoomID).Msg("re-offer after checkout failed")
			}
		}
	}
	return out, nil
}

// MarkClean returns a DIRTY resource to sale. A cleaned room is offered to
// the oldest waiting customer of its tier first; the offer, if any, is
// returned.
func (s *CheckoutService) MarkClean(ctx context.Context, t model.ResourceType, id string) (*model.WaitlistEntry, error) {
	const op = "checkout.mark_clean"
	if t != model.ResourceRoom && t != model.ResourceLocker {
		return nil, invalid(op, "unknown resource type "+string(t))
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.inventory.GetTx(ctx, tx, t, id, true); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFound(op, "no such "+string(t))
			}
			return err
		}
		err := s.inventory.MarkCleanTx(ctx, tx, t, id, s.now())
		if errors.Is(err, repository.ErrConflict) {
			return precondition(op, "dirty", string(t)+" is not awaiting cleaning")
		}
		return err
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	s.emit(ctx, "", realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil))
	if t != model.ResourceRoom {
		return nil, nil
	}
	return s.waitlist.OfferFreedRoom(ctx, id)
}
