package models

// GuardVerificationRecord is written once per gate check and never mutated.
type GuardVerificationRecord struct {
	ID                 string `json:"id"`
	Timestamp          int64  `json:"timestamp"`
	GuardID            string `json:"guardId"`
	Code               string `json:"code"`
	IsValid            bool   `json:"isValid"`
	Message            string `json:"message,omitempty"`
	HouseholdID        string `json:"householdId,omitempty"`
	EstateID           string `json:"estateId,omitempty"`
	DestinationAddress string `json:"destinationAddress,omitempty"`
}

// GuardStats aggregates a guard's verification history.
type GuardStats struct {
	GuardID       string `json:"guardId"`
	Total         int    `json:"totalVerifications"`
	Valid         int    `json:"validVerifications"`
	Invalid       int    `json:"invalidVerifications"`
	Today         int    `json:"todayVerifications"`
	LastTimestamp *int64 `json:"lastVerificationAt,omitempty"`
}
