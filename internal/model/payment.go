package model

import "time"

// PaymentIntent is the amount due for a lane session and its settlement.
type PaymentIntent struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	AmountCents int           `json:"amount_cents"`
	QuoteJSON   string        `json:"quote_json"`
	Status      PaymentStatus `json:"status"`
	Method      *string       `json:"method,omitempty"`
	ProviderRef *string       `json:"provider_ref,omitempty"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
