package model

import "time"

// Staff is an operator account allowed to drive the register side of a lane.
// Role is STAFF or ADMIN.
type Staff struct {
	ID           string    // staff.id
	Email        string    // staff.email
	Name         string    // staff.name
	PasswordHash string    // staff.password_hash (bcrypt)
	Role         string    // staff.role
	IsActive     bool      // staff.is_active
	CreatedAt    time.Time // staff.created_at
}

// RefreshToken models an entry in the refresh_tokens table. Only the
// SHA-256 hash of the token value is stored.
type RefreshToken struct {
	ID        string     // refresh_tokens.id
	StaffID   string     // refresh_tokens.staff_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
