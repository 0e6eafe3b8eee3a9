package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/lane-checkin/internal/model"
)

// CustomerRepo reads and writes customer records.
type CustomerRepo struct{ db *sql.DB }

func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{db: db} }

const customerColumns = `id, name, birth_date, membership_number, membership_expires_at,
	past_due_balance_cents, primary_language, created_at`

func scanCustomer(row rowScanner) (*model.Customer, error) {
	var (
		c                model.Customer
		birth, expires   sql.NullTime
		membership, lang sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &birth, &membership, &expires, &c.PastDueBalanceCents, &lang, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	c.BirthDate = timePtr(birth)
	c.MembershipNumber = strPtr[string](membership)
	c.MembershipExpiresAt = timePtr(expires)
	c.PrimaryLanguage = strPtr[string](lang)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// Create inserts a customer. CreatedAt must be set.
func (r *CustomerRepo) Create(ctx context.Context, c *model.Customer) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullTime(c.BirthDate), nullStr(c.MembershipNumber), nullTime(c.MembershipExpiresAt),
		c.PastDueBalanceCents, nullStr(c.PrimaryLanguage), c.CreatedAt.UTC())
	return err
}

// GetByID fetches a customer through the pool.
func (r *CustomerRepo) GetByID(ctx context.Context, id string) (*model.Customer, error) {
	return scanCustomer(r.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
}

// GetByIDTx fetches a customer inside a transaction.
func (r *CustomerRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Customer, error) {
	return scanCustomer(tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
}
