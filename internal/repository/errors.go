// Package repository holds the SQL data access layer. Methods with a Tx
// suffix run inside a transaction owned by the caller, who is responsible
// for committing or rolling it back; the rest use the pool directly and
// must not be called while the caller holds a transaction open.
//
// The sentinel errors below let the service layer tell failure
// scenarios apart without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row. sql.ErrNoRows is
// translated to this value at the repository boundary.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// record it does not own.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a guarded update matched no row because
// another transaction changed the row first (e.g. a resource is no longer
// CLEAN and unassigned when we try to occupy it).
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when creating a staff account with a taken email.
var ErrEmailExists = errors.New("email already exists")
