package models

import "time"

// Security log actions
const (
	SecurityActionUserApproved     = "user_approved"
	SecurityActionUserRejected     = "user_rejected"
	SecurityActionUserSuspended    = "user_suspended"
	SecurityActionCodeDeactivated  = "access_code_deactivated"
	SecurityActionAccessDenied     = "access_denied"
	SecurityActionEstateAdminAdded = "estate_admin_added"
	SecurityActionEstateAdminGone  = "estate_admin_removed"
	SecurityActionDeviceApproved   = "device_approved"
)

type SecurityLogEntry struct {
	ID        string            `firestore:"id" json:"id"`
	EstateID  string            `firestore:"estate_id" json:"estate_id"`
	ActorID   string            `firestore:"actor_id" json:"actor_id"`
	Action    string            `firestore:"action" json:"action"`
	TargetID  string            `firestore:"target_id,omitempty" json:"target_id,omitempty"`
	Details   map[string]string `firestore:"details,omitempty" json:"details,omitempty"`
	CreatedAt time.Time         `firestore:"created_at" json:"created_at"`
}
