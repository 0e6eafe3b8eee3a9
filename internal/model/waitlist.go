package model

import "time"

// WaitlistEntry queues demand for a saturated tier. The customer is
// checked in on BackupTier and waits for DesiredTier. While OFFERED,
// RoomID is held for this entry and is invisible to other check-ins.
type WaitlistEntry struct {
	ID             string         `json:"id"`
	VisitID        string         `json:"visit_id"`
	CheckinBlockID string         `json:"checkin_block_id"`
	DesiredTier    RentalType     `json:"desired_tier"`
	BackupTier     RentalType     `json:"backup_tier"`
	Status         WaitlistStatus `json:"status"`
	RoomID         *string        `json:"room_id,omitempty"`
	OfferedAt      *time.Time     `json:"offered_at,omitempty"`
	OfferExpiresAt *time.Time     `json:"offer_expires_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// WaitlistInfo is the answer to "where would I be in line?".
type WaitlistInfo struct {
	Tier     RentalType `json:"tier"`
	Position int        `json:"position"`
	ETA      *time.Time `json:"eta"`
}
