package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/lane-checkin/internal/model"
)

// TablePricing prices stays from a fixed rate card. It is the default
// Pricing used when no external pricing service is configured.
type TablePricing struct {
	Base          map[model.RentalType]int
	Renewal2h     map[model.RentalType]int
	MembershipFee int
}

// DefaultPricing returns the house rate card.
func DefaultPricing() TablePricing {
	return TablePricing{
		Base: map[model.RentalType]int{
			model.RentalLocker: 2500, model.RentalStandard: 4500,
			model.RentalDouble: 6500, model.RentalSpecial: 9000,
		},
		Renewal2h: map[model.RentalType]int{
			model.RentalLocker: 1500, model.RentalStandard: 2500,
			model.RentalDouble: 3500, model.RentalSpecial: 5000,
		},
		MembershipFee: 1300,
	}
}

func (p TablePricing) Quote(req QuoteRequest) (Quote, error) {
	table := p.Base
	label := "6h stay"
	if req.Mode == model.ModeRenewal && req.RenewalHours != nil && *req.RenewalHours == 2 {
		table = p.Renewal2h
		label = "2h renewal"
	} else if req.Mode == model.ModeRenewal {
		label = "6h renewal"
	}
	price, ok := table[req.RentalType]
	if !ok {
		return Quote{}, fmt.Errorf("no rate for %s", req.RentalType)
	}
	q := Quote{LineItems: []LineItem{{Description: string(req.RentalType) + " " + label, AmountCents: price}}}
	if !req.MembershipActive && req.Mode == model.ModeCheckin {
		q.LineItems = append(q.LineItems, LineItem{Description: "day membership", AmountCents: p.MembershipFee})
	}
	for _, li := range q.LineItems {
		q.TotalCents += li.AmountCents
	}
	return q, nil
}

// CounterPayments settles payments taken in person at the register.
type CounterPayments struct{}

func (CounterPayments) MarkPaid(_ context.Context, intentID, method string, _ *string) (model.PaymentStatus, error) {
	if intentID == "" || method == "" {
		return "", errors.New("intent and method are required")
	}
	return model.PaymentPaid, nil
}

func (CounterPayments) Charge(_ context.Context, customerID string, amountCents int, _ string) (string, error) {
	if customerID == "" || amountCents <= 0 {
		return "", errors.New("invalid charge")
	}
	return "counter-" + uuid.NewString(), nil
}

func (CounterPayments) Refund(_ context.Context, ref string, amountCents int) error {
	if ref == "" || amountCents <= 0 {
		return errors.New("invalid refund")
	}
	return nil
}

// LocalAgreements records signatures by reference only; the document
// itself is rendered and stored elsewhere.
type LocalAgreements struct{}

func (LocalAgreements) Record(_ context.Context, sessionID, _ string, signature string) (string, error) {
	if signature == "" {
		return "", errors.New("empty signature")
	}
	return "agreement/" + sessionID + "/" + uuid.NewString(), nil
}
