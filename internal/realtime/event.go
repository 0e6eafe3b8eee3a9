// Package realtime fans lane state changes out to every observer of a lane
// and gives clients a way to converge on the server's view of it.
//
// Delivery is at-most-once. Observers converge because every mutation is
// followed by a full SESSION_UPDATED snapshot, and because clients poll the
// snapshot endpoint while their push channel is down.
package realtime

import (
	"encoding/json"
	"time"
)

// EventType names a lane event.
type EventType string

const (
	SelectionProposed            EventType = "SELECTION_PROPOSED"
	SelectionLocked              EventType = "SELECTION_LOCKED"
	SelectionForced              EventType = "SELECTION_FORCED"
	SelectionAcknowledged        EventType = "SELECTION_ACKNOWLEDGED"
	AssignmentCreated            EventType = "ASSIGNMENT_CREATED"
	AssignmentFailed             EventType = "ASSIGNMENT_FAILED"
	CustomerConfirmationRequired EventType = "CUSTOMER_CONFIRMATION_REQUIRED"
	CustomerConfirmed            EventType = "CUSTOMER_CONFIRMED"
	CustomerDeclined             EventType = "CUSTOMER_DECLINED"
	OptionHighlighted            EventType = "OPTION_HIGHLIGHTED"
	WaitlistUpdated              EventType = "WAITLIST_UPDATED"
	InventoryUpdated             EventType = "INVENTORY_UPDATED"
	SessionUpdated               EventType = "SESSION_UPDATED"
	CheckoutRequested            EventType = "CHECKOUT_REQUESTED"
	CheckoutCompleted            EventType = "CHECKOUT_COMPLETED"
)

// AllLanes as an event's LaneID delivers it to every lane's subscribers.
const AllLanes = ""

// Event is one message on a lane's stream.
type Event struct {
	Type      EventType       `json:"type"`
	LaneID    string          `json:"lane_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event, encoding payload as JSON. A payload that cannot
// be encoded is dropped; the event itself still goes out.
func NewEvent(t EventType, laneID, sessionID string, payload any) Event {
	ev := Event{Type: t, LaneID: laneID, SessionID: sessionID, At: time.Now().UTC()}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	return ev
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Broadcaster accepts events for fan-out. Publish never blocks on slow
// observers.
type Broadcaster interface {
	Publish(ev Event)
}
