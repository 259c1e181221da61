package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole is the role carried in access tokens
type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleMerchant UserRole = "merchant"
	RoleAdmin    UserRole = "admin"
)

// User is a card holder known to the ledger
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Handle    string    `json:"handle" db:"handle"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
