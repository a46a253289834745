package domain

import "time"

// Role is the authorisation role carried by an authenticated user.
type Role string

const (
	// RoleAdmin grants catalog management and access to any order.
	RoleAdmin Role = "Admin"
	// RoleCustomer is the default role for registered shoppers.
	RoleCustomer Role = "Customer"
)

// IsAdmin reports whether the role grants administrative access.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// User is the subset of account data the order engine relies on.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Role      Role
	CreatedAt time.Time
}
