package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/repository"
)

// CreatePaymentIntent prices the locked selection and moves the session to
// AWAITING_PAYMENT. Calling it again replaces a still-due intent, which is
// how a quote is refreshed after the assignment changes tier.
func (s *LaneService) CreatePaymentIntent(ctx context.Context, sessionID string) (*model.PaymentIntent, error) {
	const op = "payment.create_intent"
	var intent *model.PaymentIntent
	var laneID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := s.lockSession(ctx, tx, op, sessionID)
		if err != nil {
			return err
		}
		if !sess.SelectionConfirmed || sess.SelectionLockedAt == nil || sess.DesiredRentalType == nil {
			return precondition(op, "selection_confirmed", "selection is not locked")
		}
		switch sess.Status {
		case model.StatusActive, model.StatusAwaitingAssignment, model.StatusAwaitingPayment:
		default:
			return precondition(op, "status", "session is "+string(sess.Status))
		}
		if sess.CustomerConfirmationPending {
			return precondition(op, "customer_confirmation", "customer has not accepted the assigned tier")
		}
		cust, err := s.customers.GetByIDTx(ctx, tx, *sess.CustomerID)
		if err != nil {
			return err
		}
		tier := *sess.DesiredRentalType
		if sess.AssignedResourceID != nil && sess.AssignedResourceType != nil {
			res, err := s.inventory.GetTx(ctx, tx, *sess.AssignedResourceType, *sess.AssignedResourceID, false)
			if err != nil {
				return err
			}
			tier = res.Tier
		}
		now := s.now()
		quote, err := s.pricing.Quote(QuoteRequest{
			RentalType:       tier,
			CustomerAge:      cust.AgeAt(now),
			MembershipActive: cust.MembershipActive(now),
			Mode:             sess.Mode,
			RenewalHours:     sess.RenewalHours,
		})
		if err != nil {
			return internal(op, "pricing failed", err)
		}
		body, err := json.Marshal(quote)
		if err != nil {
			return err
		}
		if err := s.cancelDueIntentTx(ctx, tx, sess, now); err != nil {
			return err
		}
		intent = &model.PaymentIntent{
			ID: uuid.NewString(), SessionID: sess.ID, AmountCents: quote.TotalCents, QuoteJSON: string(body),
			Status: model.PaymentDue, CreatedAt: now, UpdatedAt: now,
		}
		if err := s.payments.CreateTx(ctx, tx, intent); err != nil {
			return err
		}
		prev := sess.Status
		quoteJSON := string(body)
		sess.PaymentIntentID = &intent.ID
		sess.PriceQuoteJSON = &quoteJSON
		sess.Status = model.StatusAwaitingPayment
		laneID = sess.LaneID
		return s.save(ctx, tx, sess, prev, now)
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	s.emit(ctx, laneID)
	return intent, nil
}

// MarkPaid settles the session's intent through the payment provider and,
// once it reports PAID, moves the session to AWAITING_SIGNATURE.
func (s *LaneService) MarkPaid(ctx context.Context, sessionID, method string, providerRef *string) (*model.LaneSession, error) {
	const op = "payment.mark_paid"
	if method == "" {
		return nil, invalid(op, "payment method is required")
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && sess.Status.Terminal()) {
		return nil, notFound(op, "no active lane session")
	}
	if err != nil {
		return nil, wrap(op, err)
	}
	if sess.Status != model.StatusAwaitingPayment {
		return nil, precondition(op, "status", "session is "+string(sess.Status))
	}
	if sess.PaymentIntentID == nil {
		return nil, precondition(op, "payment_intent", "no payment intent")
	}
	intentID := *sess.PaymentIntentID

	status, err := s.pay.MarkPaid(ctx, intentID, method, providerRef)
	if err != nil {
		return nil, internal(op, "payment provider failed", err)
	}
	if status != model.PaymentPaid {
		return nil, precondition(op, "payment_paid", "payment provider reported "+string(status))
	}

	var out *model.LaneSession
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		locked, err := s.lockSession(ctx, tx, op, sessionID)
		if err != nil {
			return err
		}
		if locked.Status != model.StatusAwaitingPayment || locked.PaymentIntentID == nil || *locked.PaymentIntentID != intentID {
			return conflict(op, "session changed while payment was processed", "", true)
		}
		now := s.now()
		if err := s.payments.MarkPaidTx(ctx, tx, intentID, method, providerRef, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return conflict(op, "payment intent is no longer due", "", true)
			}
			return err
		}
		prev := locked.Status
		locked.Status = model.StatusAwaitingSignature
		out = locked
		return s.save(ctx, tx, locked, prev, now)
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	s.emit(ctx, out.LaneID)
	return out, nil
}
