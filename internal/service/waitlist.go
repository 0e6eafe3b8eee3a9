package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/lane-checkin/internal/metrics"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// etaBuffer is added to a stay's checkout time to allow for turnover.
const etaBuffer = 15 * time.Minute

// WaitlistService queues demand for saturated tiers and turns freed rooms
// into time-bounded offers.
type WaitlistService struct {
	*core
}

// Info answers where a new entry for tier would stand: position is one
// behind the ACTIVE entries, and the ETA is the checkout of the
// position-th upcoming stay in that tier plus a turnover buffer. Rooms
// already held by offers are not subtracted.
func (s *WaitlistService) Info(ctx context.Context, tier model.RentalType) (model.WaitlistInfo, error) {
	const op = "waitlist.info"
	if !tier.Valid() || tier == model.RentalLocker {
		return model.WaitlistInfo{}, invalid(op, "waitlist tier must be a room tier")
	}
	active, err := s.waitlist.CountActive(ctx, tier)
	if err != nil {
		return model.WaitlistInfo{}, wrap(op, err)
	}
	info := model.WaitlistInfo{Tier: tier, Position: active + 1}
	blocks, err := s.checkins.UpcomingRoomBlocks(ctx, s.now())
	if err != nil {
		return model.WaitlistInfo{}, wrap(op, err)
	}
	seen := 0
	for _, b := range blocks {
		if model.TierForRoomNumber(b.RoomNumber) != tier {
			continue
		}
		seen++
		if seen == info.Position {
			eta := b.EndsAt.Add(etaBuffer)
			info.ETA = &eta
			break
		}
	}
	return info, nil
}

// OfferFreedRoom offers an available room to the oldest ACTIVE entry of
// its tier. It returns nil when the room is not available or nobody waits.
func (s *WaitlistService) OfferFreedRoom(ctx context.Context, roomID string) (*model.WaitlistEntry, error) {
	const op = "waitlist.offer"
	var offered *model.WaitlistEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		room, err := s.inventory.GetTx(ctx, tx, model.ResourceRoom, roomID, true)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound(op, "no such room")
		}
		if err != nil {
			return err
		}
		ok, err := s.inventory.AvailableTx(ctx, tx, model.ResourceRoom, roomID, "")
		if err != nil || !ok {
			return err
		}
		entry, err := s.waitlist.OldestActiveTx(ctx, tx, room.Tier)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now()
		expires := now.Add(s.lane.OfferTTL)
		if err := s.waitlist.OfferTx(ctx, tx, entry.ID, roomID, now, expires); err != nil {
			return err
		}
		entry.Status = model.WaitlistOffered
		entry.RoomID = &roomID
		entry.OfferedAt = &now
		entry.OfferExpiresAt = &expires
		entry.UpdatedAt = now
		offered = entry
		return nil
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if offered != nil {
		metrics.WaitlistOffersTotal.WithLabelValues(string(model.WaitlistOffered)).Inc()
		s.waitlistChanged(ctx, *offered)
	}
	return offered, nil
}

func (c *core) waitlistChanged(ctx context.Context, e model.WaitlistEntry) {
	c.emit(ctx, "",
		realtime.NewEvent(realtime.WaitlistUpdated, realtime.AllLanes, "", realtime.WaitlistPayload{
			EntryID: e.ID, Tier: e.DesiredTier, Status: e.Status, RoomID: e.RoomID,
		}),
		realtime.NewEvent(realtime.InventoryUpdated, realtime.AllLanes, "", nil))
	c.publishWaitlist(ctx, e)
}

// ExpireOffers expires lapsed offers and re-offers each released room to
// the next entry in line. It returns the number of offers expired.
func (s *WaitlistService) ExpireOffers(ctx context.Context) (int, error) {
	const op = "waitlist.expire"
	var lapsed []model.WaitlistEntry
	now := s.now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		lapsed, err = s.waitlist.ExpireOffersTx(ctx, tx, now)
		return err
	})
	if err != nil {
		return 0, wrap(op, err)
	}
	rooms := make(map[string]struct{})
	for _, e := range lapsed {
		e.Status = model.WaitlistExpired
		e.UpdatedAt = now
		metrics.WaitlistOffersTotal.WithLabelValues(string(model.WaitlistExpired)).Inc()
		s.waitlistChanged(ctx, e)
		if e.RoomID != nil {
			rooms[*e.RoomID] = struct{}{}
		}
	}
	for roomID := range rooms {
		if _, err := s.OfferFreedRoom(ctx, roomID); err != nil {
			s.log.Warn().Err(err).Str("room_id", roomID).Msg("re-offer after expiry failed")
		}
	}
	return len(lapsed), nil
}

// RunSweeper expires lapsed offers every interval until ctx is cancelled.
func (s *WaitlistService) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.ExpireOffers(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("offer sweep failed")
			} else if n > 0 {
				s.log.Info().Int("expired", n).Msg("waitlist offers expired")
			}
		}
	}
}

// UpgradeResult is the outcome of a fulfilled upgrade.
type UpgradeResult struct {
	Entry     *model.WaitlistEntry `json:"entry"`
	Block     *model.CheckinBlock  `json:"block"`
	Room      *model.Resource      `json:"room"`
	FeeCents  int                  `json:"fee_cents"`
	ChargeRef string               `json:"charge_ref"`
}

// FulfillUpgrade charges the upgrade fee for an OFFERED entry and moves
// the customer onto the held room: the old resource is released to
// housekeeping, the held room is occupied and an UPGRADE block runs until
// the stay's current checkout.
//
// The entry is claimed before the charge so concurrent calls charge at
// most once. A charge whose upgrade cannot be applied is refunded.
func (s *WaitlistService) FulfillUpgrade(ctx context.Context, entryID string) (UpgradeResult, error) {
	const op = "waitlist.fulfill"
	entry, err := s.waitlist.GetByID(ctx, entryID)
	if errors.Is(err, repository.ErrNotFound) {
		return UpgradeResult{}, notFound(op, "no such waitlist entry")
	}
	if err != nil {
		return UpgradeResult{}, wrap(op, err)
	}
	if entry.Status != model.WaitlistOffered || entry.RoomID == nil {
		return UpgradeResult{}, precondition(op, "offered", "entry is "+string(entry.Status))
	}
	fee, ok := model.UpgradeFee(entry.BackupTier, entry.DesiredTier)
	if !ok {
		return UpgradeResult{}, invalid(op, "no upgrade path")
	}
	visit, err := s.checkins.GetVisit(ctx, entry.VisitID)
	if err != nil {
		return UpgradeResult{}, wrap(op, err)
	}

	claim := uuid.NewString()
	if err := s.waitlist.Claim(ctx, entryID, claim, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return UpgradeResult{}, conflict(op, "offer is already being fulfilled or has closed", *entry.RoomID, true)
		}
		return UpgradeResult{}, wrap(op, err)
	}
	ref, err := s.pay.Charge(ctx, visit.CustomerID, fee,
		"upgrade "+string(entry.BackupTier)+" to "+string(entry.DesiredTier))
	if err != nil {
		s.releaseClaim(ctx, entryID, claim)
		return UpgradeResult{}, internal(op, "upgrade charge failed", err)
	}

	res, err := s.applyUpgrade(ctx, op, entry, claim, fee, ref)
	if err != nil {
		s.releaseClaim(ctx, entryID, claim)
		s.refund(ctx, entryID, ref, fee)
		return UpgradeResult{}, wrap(op, err)
	}
	metrics.WaitlistOffersTotal.WithLabelValues(string(model.WaitlistFulfilled)).Inc()
	s.waitlistChanged(ctx, *res.Entry)
	return res, nil
}

func (s *WaitlistService) releaseClaim(ctx context.Context, entryID, claim string) {
	if err := s.waitlist.ReleaseClaim(context.WithoutCancel(ctx), entryID, claim, s.now()); err != nil {
		s.log.Warn().Err(err).Str("entry_id", entryID).Msg("release upgrade claim failed")
	}
}

func (s *WaitlistService) refund(ctx context.Context, entryID, ref string, fee int) {
	if err := s.pay.Refund(context.WithoutCancel(ctx), ref, fee); err != nil {
		s.log.Error().Err(err).Str("entry_id", entryID).Str("charge_ref", ref).Int("fee_cents", fee).
			Msg("upgrade refund failed")
		return
	}
	s.log.Info().Str("entry_id", entryID).Str("charge_ref", ref).Msg("upgrade charge refunded")
}

// applyUpgrade moves the customer onto the held room under claim.
func (s *WaitlistService) applyUpgrade(ctx context.Context, op string, entry *model.WaitlistEntry, claim string, fee int, ref string) (UpgradeResult, error) {
	entryID := entry.ID
	res := UpgradeResult{FeeCents: fee, ChargeRef: ref}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		e, err := s.waitlist.GetByIDTx(ctx, tx, entryID, true)
		if err != nil {
			return err
		}
		if e.Status != model.WaitlistOffered || e.RoomID == nil || *e.RoomID != *entry.RoomID {
			return conflict(op, "offer closed while the fee was charged", *entry.RoomID, true)
		}
		v, err := s.checkins.GetVisitTx(ctx, tx, e.VisitID, true)
		if err != nil {
			return err
		}
		if v.EndedAt != nil {
			return precondition(op, "open_visit", "visit has ended")
		}
		room, err := s.inventory.GetTx(ctx, tx, model.ResourceRoom, *e.RoomID, true)
		if err != nil {
			return err
		}
		if !room.Unowned() {
			return conflict(op, "held room is no longer clean", room.ID, true)
		}
		last, err := s.checkins.LatestBlockTx(ctx, tx, v.ID)
		if err != nil {
			return err
		}
		now := s.now()
		oldID, oldType := last.ResourceID()
		if err := s.inventory.ReleaseTx(ctx, tx, oldType, oldID, v.CustomerID, now); err != nil {
			return err
		}
		if err := s.waitlist.FulfillTx(ctx, tx, e.ID, claim, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return conflict(op, "offer is no longer open", room.ID, true)
			}
			return err
		}
		if err := s.inventory.OccupyTx(ctx, tx, model.ResourceRoom, room.ID, v.CustomerID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return conflict(op, "held room was taken", room.ID, true)
			}
			return err
		}
		ends := last.EndsAt
		if ends.Before(now) {
			ends = now
		}
		block := &model.CheckinBlock{
			ID: uuid.NewString(), VisitID: v.ID, BlockType: model.BlockUpgrade, RentalType: room.Tier,
			RoomID: &room.ID, StartsAt: now, EndsAt: ends, CreatedAt: now,
		}
		if err := s.checkins.CreateBlockTx(ctx, tx, block); err != nil {
			return err
		}
		if err := s.assertOccupiedTx(ctx, tx, op, room, v.CustomerID); err != nil {
			return err
		}
		e.Status = model.WaitlistFulfilled
		e.CompletedAt = &now
		e.UpdatedAt = now
		room.Status = model.ResourceOccupied
		room.AssignedToCustomerID = &v.CustomerID
		res.Entry, res.Block, res.Room = e, block, room
		return nil
	})
	if err != nil {
		return UpgradeResult{}, err
	}
	return res, nil
}
