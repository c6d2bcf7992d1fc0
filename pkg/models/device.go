package models

import (
	"time"

	"github.com/google/uuid"
)

// Trusted device states
const (
	DeviceStatusPending  = "pending"
	DeviceStatusApproved = "approved"
	DeviceStatusExpired  = "expired"
)

// TrustedDevice is a browser or phone a user has signed in from.
// New devices need the user's confirmation by email before they are trusted.
type TrustedDevice struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	UserID        string     `json:"user_id" db:"user_id"`
	Fingerprint   string     `json:"fingerprint" db:"fingerprint"`
	Label         string     `json:"label" db:"label"`
	Status        string     `json:"status" db:"status"`
	ApprovalToken *string    `json:"-" db:"approval_token"`
	IPAddress     *string    `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at" db:"expires_at"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	LastSeen      *time.Time `json:"last_seen,omitempty" db:"last_seen"`
}
