package model

import "time"

// Room is a numbered private room. Type is the raw stored category;
// the rental tier is derived from Number via TierForRoomNumber.
type Room struct {
	ID                   string         `json:"id"`
	Number               int            `json:"number"`
	Type                 string         `json:"type"`
	Status               ResourceStatus `json:"status"`
	AssignedToCustomerID *string        `json:"assigned_to_customer_id,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Tier returns the rental tier of the room.
func (r Room) Tier() RentalType { return TierForRoomNumber(r.Number) }

// Locker is a numbered locker; every locker is tier LOCKER.
type Locker struct {
	ID                   string         `json:"id"`
	Number               int            `json:"number"`
	Status               ResourceStatus `json:"status"`
	AssignedToCustomerID *string        `json:"assigned_to_customer_id,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Resource is the kind-agnostic view the reservation engine works with.
type Resource struct {
	ID                   string         `json:"id"`
	Type                 ResourceType   `json:"type"`
	Number               int            `json:"number"`
	Tier                 RentalType     `json:"tier"`
	Status               ResourceStatus `json:"status"`
	AssignedToCustomerID *string        `json:"assigned_to_customer_id,omitempty"`
}

// Unowned reports whether the resource is CLEAN with no assigned customer.
// Soft reservations are checked separately against lane sessions.
func (r Resource) Unowned() bool {
	return r.Status == ResourceClean && r.AssignedToCustomerID == nil
}
