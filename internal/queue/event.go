// Package queue defines message payloads exchanged over the message broker
// and the RabbitMQ publisher and consumer that carry them.
package queue

// Queue names.
const (
	CheckinCompletedQueue = "checkin.completed"
	WaitlistUpdatedQueue  = "waitlist.updated"
	RoomCleanedQueue      = "room.cleaned"
)

// CheckinCompletedEvent is published when a lane session completes and a
// resource is occupied. It carries enough for downstream consumers to
// notify or trigger analytics without querying the primary database.
type CheckinCompletedEvent struct {
	SessionID    string  `json:"session_id"`
	LaneID       string  `json:"lane_id"`
	CustomerID   string  `json:"customer_id"`
	VisitID      string  `json:"visit_id"`
	BlockID      string  `json:"block_id"`
	Mode         string  `json:"mode"`
	RentalType   string  `json:"rental_type"`
	ResourceType string  `json:"resource_type"`
	ResourceID   string  `json:"resource_id"`
	StartsAt     string  `json:"starts_at"`
	EndsAt       string  `json:"ends_at"`
	AgreementRef *string `json:"agreement_ref,omitempty"`
	CompletedAt  string  `json:"completed_at"`
}

// WaitlistUpdatedEvent is published whenever a waitlist entry changes status.
type WaitlistUpdatedEvent struct {
	EntryID     string  `json:"entry_id"`
	VisitID     string  `json:"visit_id"`
	DesiredTier string  `json:"desired_tier"`
	BackupTier  string  `json:"backup_tier"`
	Status      string  `json:"status"`
	RoomID      *string `json:"room_id,omitempty"`
	At          string  `json:"at"`
}

// RoomCleanedEvent is consumed from housekeeping: a released resource has
// been cleaned and may be offered or sold again.
type RoomCleanedEvent struct {
	ResourceType string `json:"resource_type"` // "room" (default) or "locker"
	ResourceID   string `json:"resource_id"`
	CleanedAt    string `json:"cleaned_at"`
}
