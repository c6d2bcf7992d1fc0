package services

import "errors"

var (
	ErrForbidden    = errors.New("forbidden")
	ErrNotApproved  = errors.New("account is not approved")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")

	ErrUserNotFound         = errors.New("user not found")
	ErrEstateNotFound       = errors.New("estate not found")
	ErrHouseholdNotFound    = errors.New("household not found")
	ErrAccessCodeNotFound   = errors.New("access code not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrGuestMessageNotFound = errors.New("guest message not found")
	ErrDeviceNotFound       = errors.New("device not found")

	// ErrUnauthorizedCode is shown to residents verbatim.
	ErrUnauthorizedCode        = errors.New("Unauthorized access to this code")
	ErrCodeSpaceExhausted      = errors.New("could not allocate a unique access code")
	ErrInvalidStatusTransition = errors.New("guest message status can only move forward")
	ErrDeviceApprovalExpired   = errors.New("device approval link has expired")
)
