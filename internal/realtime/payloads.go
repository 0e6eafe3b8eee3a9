package realtime

import "github.com/iliyamo/lane-checkin/internal/model"

// SelectionPayload accompanies the SELECTION_* events.
type SelectionPayload struct {
	RentalType model.RentalType `json:"rental_type,omitempty"`
	By         model.Actor      `json:"by"`
}

// AssignmentPayload accompanies ASSIGNMENT_* and CUSTOMER_* events.
type AssignmentPayload struct {
	ResourceID        string             `json:"resource_id"`
	ResourceType      model.ResourceType `json:"resource_type"`
	Tier              model.RentalType   `json:"tier,omitempty"`
	NeedsConfirmation bool               `json:"needs_confirmation,omitempty"`
	Reason            string             `json:"reason,omitempty"`
	RaceLost          bool               `json:"race_lost,omitempty"`
}

// HighlightPayload accompanies OPTION_HIGHLIGHTED.
type HighlightPayload struct {
	RentalType model.RentalType `json:"rental_type"`
}

// CheckoutPayload accompanies the CHECKOUT_* events.
type CheckoutPayload struct {
	CustomerID string `json:"customer_id"`
	VisitID    string `json:"visit_id"`
}

// WaitlistPayload accompanies WAITLIST_UPDATED.
type WaitlistPayload struct {
	EntryID string               `json:"entry_id"`
	Tier    model.RentalType     `json:"tier"`
	Status  model.WaitlistStatus `json:"status"`
	RoomID  *string              `json:"room_id,omitempty"`
}
