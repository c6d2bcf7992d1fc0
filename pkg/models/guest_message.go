package models

// GuestMessageStatus moves forward only: sent -> delivered -> read.
type GuestMessageStatus string

const (
	GuestMessageSent      GuestMessageStatus = "sent"
	GuestMessageDelivered GuestMessageStatus = "delivered"
	GuestMessageRead      GuestMessageStatus = "read"
)

// Rank orders statuses; unknown statuses rank below sent.
func (s GuestMessageStatus) Rank() int {
	switch s {
	case GuestMessageSent:
		return 1
	case GuestMessageDelivered:
		return 2
	case GuestMessageRead:
		return 3
	}
	return 0
}

// Guest message types
const (
	GuestMessageTypeGeneral  = "general"
	GuestMessageTypeArrival  = "arrival"
	GuestMessageTypeDelivery = "delivery"
)

type GuestMessage struct {
	ID           string             `json:"id"`
	HouseholdID  string             `json:"householdId"`
	GuestName    string             `json:"guestName"`
	Message      string             `json:"message"`
	AccessCodeID string             `json:"accessCodeId,omitempty"`
	Timestamp    int64              `json:"timestamp"`
	Status       GuestMessageStatus `json:"status"`
	Type         string             `json:"type"`
}

// SendGuestMessageInput is what a guest submits.
type SendGuestMessageInput struct {
	HouseholdID  string `json:"householdId"`
	GuestName    string `json:"guestName"`
	Message      string `json:"message"`
	AccessCodeID string `json:"accessCodeId,omitempty"`
	Type         string `json:"type,omitempty"`
}
