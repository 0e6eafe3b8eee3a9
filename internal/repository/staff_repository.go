package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/utils"
)

// StaffRepo mirrors the 'staff' table.
type StaffRepo struct{ DB *sql.DB }

func NewStaffRepo(db *sql.DB) *StaffRepo { return &StaffRepo{DB: db} }

// Create inserts a staff account and returns its ID.
func (r *StaffRepo) Create(ctx context.Context, email, name, password, role string, cost int) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO staff (id, email, name, password_hash, role, is_active, created_at) VALUES (?,?,?,?,?,?,?)",
		id, email, name, hash, role, true, time.Now().UTC())
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "1062") || strings.Contains(msg, "unique constraint") {
			return "", ErrEmailExists
		}
		return "", err
	}
	return id, nil
}

func (r *StaffRepo) scan(row rowScanner) (model.Staff, error) {
	var s model.Staff
	err := row.Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.Role, &s.IsActive, &s.CreatedAt)
	if err != nil {
		return s, notFound(err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

// GetByEmail fetches a staff account by normalized email.
func (r *StaffRepo) GetByEmail(ctx context.Context, email string) (model.Staff, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scan(r.DB.QueryRowContext(ctx,
		"SELECT id,email,name,password_hash,role,is_active,created_at FROM staff WHERE email=? LIMIT 1", email))
}

// GetByID fetches a staff account by id.
func (r *StaffRepo) GetByID(ctx context.Context, id string) (model.Staff, error) {
	return r.scan(r.DB.QueryRowContext(ctx,
		"SELECT id,email,name,password_hash,role,is_active,created_at FROM staff WHERE id=? LIMIT 1", id))
}
