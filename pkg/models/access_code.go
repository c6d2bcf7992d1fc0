package models

// AccessCode is a visitor pass issued by a resident for their household.
// Times are Unix milliseconds so the tree can order and compare them directly.
type AccessCode struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	OwnerID     string `json:"ownerId"`
	HouseholdID string `json:"householdId"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	ExpiresAt   *int64 `json:"expiresAt,omitempty"`
	IsActive    bool   `json:"isActive"`
	UsageCount  int    `json:"usageCount"`
	LastUsed    *int64 `json:"lastUsed,omitempty"`
	QRCode      string `json:"qrCode,omitempty"` // data:image/png;base64,...
}

// IsExpired reports whether the code has an expiry that lies before now.
func (c *AccessCode) IsExpired(now int64) bool {
	return c.ExpiresAt != nil && *c.ExpiresAt < now
}

// CreateAccessCodeInput carries the resident-supplied fields for a new code.
type CreateAccessCodeInput struct {
	HouseholdID string
	Description string
	ExpiresAt   *int64
}

// VerificationResult is the outcome of checking a code at the gate.
// An invalid code is a result, not an error.
type VerificationResult struct {
	IsValid    bool        `json:"isValid"`
	Message    string      `json:"message"`
	AccessCode *AccessCode `json:"accessCode,omitempty"`
}
