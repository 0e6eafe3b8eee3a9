package service

import (
	"context"
	"errors"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// SnapshotService serves the poll side of lane sync.
type SnapshotService struct {
	*core
}

// ForLane returns the current snapshot of a lane. A lane that never had a
// session yields a snapshot with a nil Session.
func (s *SnapshotService) ForLane(ctx context.Context, laneID string) (realtime.Snapshot, error) {
	snap, err := s.snapshot(ctx, laneID)
	if err != nil {
		return realtime.Snapshot{}, wrap("snapshot.lane", err)
	}
	return snap, nil
}

// Availability counts sellable resources per tier.
func (s *SnapshotService) Availability(ctx context.Context) (map[model.RentalType]int, error) {
	counts, err := s.inventory.AvailableCounts(ctx)
	if err != nil {
		return nil, wrap("snapshot.availability", err)
	}
	return counts, nil
}

// snapshot reads the lane's active session, or its most recent one once
// the lane went terminal, and joins the views the kiosk renders.
func (c *core) snapshot(ctx context.Context, laneID string) (realtime.Snapshot, error) {
	now := c.now()
	snap := realtime.Snapshot{LaneID: laneID, GeneratedAt: now}
	sess, err := c.sessions.ActiveByLane(ctx, laneID)
	if errors.Is(err, repository.ErrNotFound) {
		sess, err = c.sessions.LatestByLane(ctx, laneID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return realtime.Snapshot{}, err
	}
	snap.Session = sess

	if sess.CustomerID != nil {
		cust, err := c.customers.GetByID(ctx, *sess.CustomerID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return realtime.Snapshot{}, err
		}
		if cust != nil {
			lang := sess.CustomerLanguage
			if lang == nil {
				lang = cust.PrimaryLanguage
			}
			snap.Customer = &realtime.CustomerView{
				ID:                  cust.ID,
				Name:                cust.Name,
				Age:                 cust.AgeAt(now),
				Language:            lang,
				MembershipNumber:    cust.MembershipNumber,
				MembershipActive:    cust.MembershipActive(now),
				PastDueBalanceCents: cust.PastDueBalanceCents,
				PastDueBlocked:      cust.PastDueBalanceCents > 0 && !sess.PastDueBypassed,
			}
		}
	}

	if sess.PaymentIntentID != nil {
		p, err := c.payments.GetByID(ctx, *sess.PaymentIntentID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return realtime.Snapshot{}, err
		}
		if p != nil {
			snap.Payment = &realtime.PaymentView{
				IntentID: p.ID, Status: p.Status, AmountCents: p.AmountCents, QuoteJSON: p.QuoteJSON,
			}
		}
	}

	if err := c.assignmentView(ctx, &snap); err != nil {
		return realtime.Snapshot{}, err
	}
	if err := c.waitlistView(ctx, &snap); err != nil {
		return realtime.Snapshot{}, err
	}
	return snap, nil
}

func (c *core) assignmentView(ctx context.Context, snap *realtime.Snapshot) error {
	sess := snap.Session
	if sess.AssignedResourceID != nil && sess.AssignedResourceType != nil {
		r, err := c.inventory.Get(ctx, *sess.AssignedResourceType, *sess.AssignedResourceID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		snap.Assignment = &realtime.AssignmentView{
			ResourceID:        r.ID,
			ResourceType:      r.Type,
			Number:            r.Number,
			Tier:              r.Tier,
			NeedsConfirmation: sess.CustomerConfirmationPending,
			Occupied:          r.Status == model.ResourceOccupied,
		}
		return nil
	}

	// Renewals and completed check-ins show the block they extend or created.
	visitID := sess.VisitID
	if visitID == nil {
		visitID = sess.RenewalVisitID
	}
	if visitID == nil {
		return nil
	}
	b, err := c.checkins.LatestBlock(ctx, *visitID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	id, typ := b.ResourceID()
	if id == "" {
		return nil
	}
	r, err := c.inventory.Get(ctx, typ, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	snap.Assignment = &realtime.AssignmentView{
		ResourceID:   r.ID,
		ResourceType: r.Type,
		Number:       r.Number,
		Tier:         b.RentalType,
		Occupied:     r.Status == model.ResourceOccupied,
	}
	return nil
}

func (c *core) waitlistView(ctx context.Context, snap *realtime.Snapshot) error {
	sess := snap.Session
	if sess.WaitlistDesiredType == nil || sess.BackupRentalType == nil {
		return nil
	}
	view := &realtime.WaitlistView{DesiredTier: *sess.WaitlistDesiredType, BackupTier: *sess.BackupRentalType}
	if sess.VisitID != nil {
		e, err := c.waitlist.OpenByVisit(ctx, *sess.VisitID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if e != nil {
			view.EntryID = &e.ID
			view.Status = &e.Status
		}
		snap.Waitlist = view
		return nil
	}
	info, err := (&WaitlistService{core: c}).Info(ctx, *sess.WaitlistDesiredType)
	if err != nil {
		var se *Error
		if errors.As(err, &se) && se.Kind == KindInvalid {
			snap.Waitlist = view
			return nil
		}
		return err
	}
	view.Position = info.Position
	view.ETA = info.ETA
	snap.Waitlist = view
	return nil
}
