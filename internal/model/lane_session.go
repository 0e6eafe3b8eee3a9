package model

import "time"

// LaneSession is the single transaction record of a lane. At most one
// session per lane is non-terminal at any time.
//
// Negotiation fields (ProposedRentalType, ProposedBy, SelectionConfirmed,
// SelectionConfirmedBy, SelectionLockedAt, DesiredRentalType) are frozen
// once SelectionConfirmed is set. AssignedResourceID is a soft reservation:
// the inventory row stays CLEAN until the agreement is signed.
type LaneSession struct {
	ID                          string        `json:"id"`
	LaneID                      string        `json:"lane_id"`
	Status                      LaneStatus    `json:"status"`
	StaffID                     string        `json:"staff_id"`
	CustomerID                  *string       `json:"customer_id,omitempty"`
	Mode                        Mode          `json:"mode"`
	RenewalHours                *int          `json:"renewal_hours,omitempty"`
	RenewalVisitID              *string       `json:"renewal_visit_id,omitempty"`
	CustomerLanguage            *string       `json:"customer_language,omitempty"`
	PastDueBypassed             bool          `json:"past_due_bypassed"`
	DesiredRentalType           *RentalType   `json:"desired_rental_type,omitempty"`
	ProposedRentalType          *RentalType   `json:"proposed_rental_type,omitempty"`
	ProposedBy                  *Actor        `json:"proposed_by,omitempty"`
	SelectionConfirmed          bool          `json:"selection_confirmed"`
	SelectionConfirmedBy        *Actor        `json:"selection_confirmed_by,omitempty"`
	SelectionLockedAt           *time.Time    `json:"selection_locked_at,omitempty"`
	AssignedResourceID          *string       `json:"assigned_resource_id,omitempty"`
	AssignedResourceType        *ResourceType `json:"assigned_resource_type,omitempty"`
	CustomerConfirmationPending bool          `json:"customer_confirmation_pending"`
	WaitlistDesiredType         *RentalType   `json:"waitlist_desired_type,omitempty"`
	BackupRentalType            *RentalType   `json:"backup_rental_type,omitempty"`
	PaymentIntentID             *string       `json:"payment_intent_id,omitempty"`
	PriceQuoteJSON              *string       `json:"price_quote_json,omitempty"`
	VisitID                     *string       `json:"visit_id,omitempty"`
	CreatedAt                   time.Time     `json:"created_at"`
	UpdatedAt                   time.Time     `json:"updated_at"`
}

// ClearNegotiation resets every negotiation, reservation and payment field,
// as done when staff resets the lane or a different customer is identified.
func (s *LaneSession) ClearNegotiation() {
	s.DesiredRentalType = nil
	s.ProposedRentalType = nil
	s.ProposedBy = nil
	s.SelectionConfirmed = false
	s.SelectionConfirmedBy = nil
	s.SelectionLockedAt = nil
	s.AssignedResourceID = nil
	s.AssignedResourceType = nil
	s.CustomerConfirmationPending = false
	s.WaitlistDesiredType = nil
	s.BackupRentalType = nil
	s.PaymentIntentID = nil
	s.PriceQuoteJSON = nil
	s.PastDueBypassed = false
}

// ClearReservation drops the soft reservation.
func (s *LaneSession) ClearReservation() {
	s.AssignedResourceID = nil
	s.AssignedResourceType = nil
	s.CustomerConfirmationPending = false
}
