package models

// Auth API types
type LoginRequest struct {
	FirebaseToken string `json:"firebase_token"`
	DisplayName   string `json:"display_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Role          Role   `json:"role,omitempty"`
	EstateID      string `json:"estate_id,omitempty"`
	HouseholdID   string `json:"household_id,omitempty"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      *User  `json:"user"`
}

// Access code API types
type CreateAccessCodeRequest struct {
	HouseholdID string `json:"household_id"`
	Description string `json:"description,omitempty"`
	ExpiresAt   *int64 `json:"expires_at,omitempty"`
	// ValidForMinutes is an alternative to ExpiresAt.
	ValidForMinutes int `json:"valid_for_minutes,omitempty"`
}

type ListAccessCodesResponse struct {
	AccessCodes []AccessCode `json:"access_codes"`
	Count       int          `json:"count"`
}

type VerifyCodeRequest struct {
	Code               string `json:"code"`
	DestinationAddress string `json:"destination_address,omitempty"`
}

// Activity API types
type HistoryResponse struct {
	Verifications []GuardVerificationRecord `json:"verifications"`
	Count         int                       `json:"count"`
}

// Notification API types
type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}

type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// Guest message API types
type UpdateMessageStatusRequest struct {
	Status GuestMessageStatus `json:"status"`
}

type ListGuestMessagesResponse struct {
	Messages []GuestMessage `json:"messages"`
	Count    int            `json:"count"`
}

// Device API types
type DeviceCheckRequest struct {
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label,omitempty"`
}

type DeviceCheckResponse struct {
	Status   string `json:"status"`
	DeviceID string `json:"device_id,omitempty"`
}

// Admin API types
type CreateEstateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type CreateHouseholdRequest struct {
	EstateID string `json:"estate_id"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
}

type MemberRequest struct {
	UserID string `json:"user_id"`
}

type ReviewUserRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
