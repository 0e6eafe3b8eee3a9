package realtime

import (
	"time"

	"github.com/iliyamo/lane-checkin/internal/model"
)

// Snapshot is the full, denormalized view of a lane. It is the payload of
// SESSION_UPDATED and the body of the snapshot endpoint, so push and poll
// deliver exactly the same shape.
type Snapshot struct {
	LaneID      string             `json:"lane_id"`
	Session     *model.LaneSession `json:"session"`
	Customer    *CustomerView      `json:"customer,omitempty"`
	Payment     *PaymentView       `json:"payment,omitempty"`
	Assignment  *AssignmentView    `json:"assignment,omitempty"`
	Waitlist    *WaitlistView      `json:"waitlist,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// CustomerView holds the display fields of the identified customer.
type CustomerView struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Age                 int     `json:"age"`
	Language            *string `json:"language,omitempty"`
	MembershipNumber    *string `json:"membership_number,omitempty"`
	MembershipActive    bool    `json:"membership_active"`
	PastDueBalanceCents int     `json:"past_due_balance_cents"`
	PastDueBlocked      bool    `json:"past_due_blocked"`
}

// PaymentView summarizes the session's payment intent.
type PaymentView struct {
	IntentID    string              `json:"intent_id"`
	Status      model.PaymentStatus `json:"status"`
	AmountCents int                 `json:"amount_cents"`
	QuoteJSON   string              `json:"quote_json,omitempty"`
}

// AssignmentView describes the resource reserved or occupied for the session.
type AssignmentView struct {
	ResourceID        string             `json:"resource_id"`
	ResourceType      model.ResourceType `json:"resource_type"`
	Number            int                `json:"number"`
	Tier              model.RentalType   `json:"tier"`
	NeedsConfirmation bool               `json:"needs_confirmation"`
	Occupied          bool               `json:"occupied"`
}

// WaitlistView links the session to upgrade demand.
type WaitlistView struct {
	DesiredTier model.RentalType      `json:"desired_tier"`
	BackupTier  model.RentalType      `json:"backup_tier"`
	EntryID     *string               `json:"entry_id,omitempty"`
	Status      *model.WaitlistStatus `json:"status,omitempty"`
	Position    int                   `json:"position,omitempty"`
	ETA         *time.Time            `json:"eta,omitempty"`
}

// NewerThan reports whether s describes a later state than other: a session
// created later wins, otherwise the later update of the same session.
// Equal states count as newer so a repeated snapshot is reapplied.
func (s Snapshot) NewerThan(other Snapshot) bool {
	if other.Session == nil {
		return true
	}
	if s.Session == nil {
		return false
	}
	if !s.Session.CreatedAt.Equal(other.Session.CreatedAt) {
		return s.Session.CreatedAt.After(other.Session.CreatedAt)
	}
	return !s.Session.UpdatedAt.Before(other.Session.UpdatedAt)
}
