package model

import "time"

// Visit groups the stay blocks of one customer presence in the facility.
type Visit struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// CheckinBlock is a contiguous stay period on one resource.
type CheckinBlock struct {
	ID           string     `json:"id"`
	VisitID      string     `json:"visit_id"`
	SessionID    *string    `json:"session_id,omitempty"`
	BlockType    BlockType  `json:"block_type"`
	RentalType   RentalType `json:"rental_type"`
	RoomID       *string    `json:"room_id,omitempty"`
	LockerID     *string    `json:"locker_id,omitempty"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       time.Time  `json:"ends_at"`
	AgreementRef *string    `json:"agreement_ref,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ResourceID returns the room or locker the block occupies.
func (b CheckinBlock) ResourceID() (string, ResourceType) {
	if b.RoomID != nil {
		return *b.RoomID, ResourceRoom
	}
	if b.LockerID != nil {
		return *b.LockerID, ResourceLocker
	}
	return "", ""
}
