package domain

import "time"

// StaffMember is a support roster entry
// Maps to CockroachDB support_staff table
type StaffMember struct {
	UserID      string    `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        Role      `json:"role" db:"role"`
	Department  string    `json:"department,omitempty" db:"department"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RouteResult is the staff member chosen for an inbound call or chat
type RouteResult struct {
	Staff    *StaffMember `json:"staff"`
	Load     int64        `json:"load"`
	Fallback bool         `json:"fallback"`
}
