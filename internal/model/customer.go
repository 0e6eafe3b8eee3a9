package model

import "time"

// Customer holds the facts about a guest that the lane needs for
// negotiation and pricing. Identity extraction happens elsewhere.
type Customer struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	BirthDate           *time.Time `json:"birth_date,omitempty"`
	MembershipNumber    *string    `json:"membership_number,omitempty"`
	MembershipExpiresAt *time.Time `json:"membership_expires_at,omitempty"`
	PastDueBalanceCents int        `json:"past_due_balance_cents"`
	PrimaryLanguage     *string    `json:"primary_language,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// AgeAt returns the customer's age in whole years at t, or -1 if unknown.
func (c Customer) AgeAt(t time.Time) int {
	if c.BirthDate == nil {
		return -1
	}
	b := c.BirthDate.UTC()
	age := t.Year() - b.Year()
	if t.Month() < b.Month() || (t.Month() == b.Month() && t.Day() < b.Day()) {
		age--
	}
	return age
}

// MembershipActive reports whether the membership is valid at t.
func (c Customer) MembershipActive(t time.Time) bool {
	return c.MembershipNumber != nil && c.MembershipExpiresAt != nil && c.MembershipExpiresAt.After(t)
}
