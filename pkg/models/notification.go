package models

// Notification types
const (
	NotificationTypeCodeScanned  = "access_code_scanned"
	NotificationTypeCodeRejected = "access_code_rejected"
)

// Notification is a per-user mailbox entry. Only Read is ever mutated.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Read      bool                   `json:"read"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ScanNotice describes a gate scan that the code owner should hear about.
type ScanNotice struct {
	AccessCode         AccessCode `json:"accessCode"`
	GuardID            string     `json:"guardId"`
	IsValid            bool       `json:"isValid"`
	Message            string     `json:"message"`
	DestinationAddress string     `json:"destinationAddress,omitempty"`
}
