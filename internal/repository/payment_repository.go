package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/model"
)

// PaymentRepo stores payment intents created for lane sessions.
type PaymentRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewPaymentRepo(db *sql.DB, d database.Dialect) *PaymentRepo {
	return &PaymentRepo{db: db, dialect: d}
}

const paymentColumns = `id, session_id, amount_cents, quote_json, status, method, provider_ref, paid_at, created_at, updated_at`

func scanPayment(row rowScanner) (*model.PaymentIntent, error) {
	var (
		p                 model.PaymentIntent
		method, reference sql.NullString
		paidAt            sql.NullTime
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.AmountCents, &p.QuoteJSON, &p.Status, &method, &reference,
		&paidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.Method = strPtr[string](method)
	p.ProviderRef = strPtr[string](reference)
	p.PaidAt = timePtr(paidAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// CreateTx inserts a payment intent.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.PaymentIntent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payment_intents (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.AmountCents, p.QuoteJSON, string(p.Status), nullStr(p.Method), nullStr(p.ProviderRef),
		nullTime(p.PaidAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

// GetByIDTx loads a payment intent, locking it when lock is true.
func (r *PaymentRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (*model.PaymentIntent, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE id = ?`
	if lock {
		q += r.dialect.ForUpdate()
	}
	return scanPayment(tx.QueryRowContext(ctx, q, id))
}

// GetByID loads a payment intent through the pool.
func (r *PaymentRepo) GetByID(ctx context.Context, id string) (*model.PaymentIntent, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_intents WHERE id = ?`, id))
}

// MarkPaidTx settles a DUE intent. It returns ErrConflict when the intent
// is no longer DUE.
func (r *PaymentRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, id, method string, providerRef *string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE payment_intents SET status = ?, method = ?, provider_ref = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.PaymentPaid), method, nullStr(providerRef), now.UTC(), now.UTC(), id, string(model.PaymentDue))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return ErrConflict
	}
	return nil
}

// CancelTx cancels a DUE intent. Settled intents are left alone.
func (r *PaymentRepo) CancelTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE payment_intents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.PaymentCancelled), now.UTC(), id, string(model.PaymentDue))
	return err
}
