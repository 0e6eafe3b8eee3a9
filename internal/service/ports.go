package service

import (
	"context"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/queue"
)

// QuoteRequest is what the pricing collaborator needs to price a stay.
type QuoteRequest struct {
	RentalType       model.RentalType
	CustomerAge      int // -1 when unknown
	MembershipActive bool
	Mode             model.Mode
	RenewalHours     *int
}

// LineItem is one priced component of a quote.
type LineItem struct {
	Description string `json:"description"`
	AmountCents int    `json:"amount_cents"`
}

// Quote is the pricing result. It is stored on the session as opaque JSON.
type Quote struct {
	TotalCents int        `json:"total_cents"`
	LineItems  []LineItem `json:"line_items"`
}

// Pricing prices a stay. Implementations must be pure.
type Pricing interface {
	Quote(req QuoteRequest) (Quote, error)
}

// PaymentProvider settles payment intents and charges upgrade fees. Refund
// reverses a Charge by its reference.
type PaymentProvider interface {
	MarkPaid(ctx context.Context, intentID, method string, providerRef *string) (model.PaymentStatus, error)
	Charge(ctx context.Context, customerID string, amountCents int, description string) (ref string, err error)
	Refund(ctx context.Context, ref string, amountCents int) error
}

// AgreementRecorder stores a signed agreement and returns an opaque reference.
type AgreementRecorder interface {
	Record(ctx context.Context, sessionID, customerID, signature string) (ref string, err error)
}

// DomainPublisher emits domain events to the message broker.
type DomainPublisher interface {
	CheckinCompleted(ctx context.Context, ev queue.CheckinCompletedEvent) error
	WaitlistUpdated(ctx context.Context, ev queue.WaitlistUpdatedEvent) error
}
