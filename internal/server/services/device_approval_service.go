package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

const (
	DeviceApprovalTTL = 24 * time.Hour
	// DeviceStatusUnknown is reported for fingerprints never seen or whose
	// request expired.
	DeviceStatusUnknown = "unknown"

	maxFingerprintLen = 256
	maxDeviceLabelLen = 100
)

// DeviceStore is satisfied by storage.DeviceRepository.
type DeviceStore interface {
	Create(ctx context.Context, device *models.TrustedDevice) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.TrustedDevice, error)
	GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error)
	GetByApprovalToken(ctx context.Context, token string) (*models.TrustedDevice, error)
	ListByUser(ctx context.Context, userID string) ([]models.TrustedDevice, error)
	Approve(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateLastSeen(ctx context.Context, id uuid.UUID) error
	ExpirePending(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// DeviceApprovalService asks users to confirm sign-ins from new devices.
type DeviceApprovalService struct {
	devices   DeviceStore
	policy    *Policy
	queue     outbox.Queue
	publicURL string
	now       func() time.Time
}

func NewDeviceApprovalService(devices DeviceStore, policy *Policy, queue outbox.Queue, publicURL string) *DeviceApprovalService {
	return &DeviceApprovalService{
		devices:   devices,
		policy:    policy,
		queue:     queue,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// Check reports whether the actor's device is approved, pending or unknown.
func (s *DeviceApprovalService) Check(ctx context.Context, actor models.Actor, fingerprint string) (*models.DeviceCheckResponse, error) {
	fingerprint, err := cleanFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	device, err := s.devices.GetByFingerprint(ctx, actor.UserID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if device == nil || s.lapsed(device) {
		return &models.DeviceCheckResponse{Status: DeviceStatusUnknown}, nil
	}

	if device.Status == models.DeviceStatusApproved {
		if err := s.devices.UpdateLastSeen(ctx, device.ID); err != nil {
			log.Printf("Warning: failed to update last seen for device %s: %v", device.ID, err)
		}
	}
	return &models.DeviceCheckResponse{Status: device.Status, DeviceID: device.ID.String()}, nil
}

// RequestApproval registers the device as pending and emails the user a
// confirmation link. A still-valid pending request is mailed again with its
// original link.
func (s *DeviceApprovalService) RequestApproval(ctx context.Context, actor models.Actor, fingerprint, label, ip string) (*models.TrustedDevice, error) {
	if actor.Email == "" {
		return nil, fmt.Errorf("%w: account has no email address", ErrInvalidInput)
	}
	fingerprint, err := cleanFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if len(label) > maxDeviceLabelLen {
		label = label[:maxDeviceLabelLen]
	}
	if label == "" {
		label = "Unknown device"
	}

	device, err := s.devices.GetByFingerprint(ctx, actor.UserID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if device != nil && device.Status == models.DeviceStatusApproved {
		return device, nil
	}

	if device == nil || s.lapsed(device) || device.ApprovalToken == nil {
		token, err := utils.GenerateToken(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate approval token: %w", err)
		}
		device = &models.TrustedDevice{
			UserID:        actor.UserID,
			Fingerprint:   fingerprint,
			Label:         label,
			Status:        models.DeviceStatusPending,
			ApprovalToken: &token,
			ExpiresAt:     s.now().UTC().Add(DeviceApprovalTTL),
		}
		if ip != "" {
			device.IPAddress = &ip
		}
		if err := s.devices.Create(ctx, device); err != nil {
			return nil, fmt.Errorf("failed to create device: %w", err)
		}
	}

	job := EmailJob{
		Template: EmailDeviceApproval,
		To:       actor.Email,
		Data: map[string]string{
			"device": device.Label,
			"link":   s.publicURL + "/api/devices/approve/" + *device.ApprovalToken,
		},
	}
	if err := outbox.Publish(ctx, s.queue, KindEmail, job); err != nil {
		return nil, fmt.Errorf("failed to queue approval email: %w", err)
	}
	return device, nil
}

// Approve confirms the device behind an emailed token. Tokens work once.
func (s *DeviceApprovalService) Approve(ctx context.Context, token string) (*models.TrustedDevice, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrDeviceNotFound
	}
	device, err := s.devices.GetByApprovalToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if device == nil {
		return nil, ErrDeviceNotFound
	}
	if s.lapsed(device) {
		return nil, ErrDeviceApprovalExpired
	}

	ok, err := s.devices.Approve(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to approve device: %w", err)
	}
	if !ok {
		return nil, ErrDeviceNotFound
	}

	now := s.now().UTC()
	device.Status = models.DeviceStatusApproved
	device.ApprovedAt = &now
	device.ApprovalToken = nil

	s.policy.Audit(ctx, models.SecurityLogEntry{
		ActorID:  device.UserID,
		Action:   models.SecurityActionDeviceApproved,
		TargetID: device.ID.String(),
		Details:  map[string]string{"label": device.Label},
	})
	return device, nil
}

func (s *DeviceApprovalService) List(ctx context.Context, actor models.Actor) ([]models.TrustedDevice, error) {
	devices, err := s.devices.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if devices == nil {
		devices = []models.TrustedDevice{}
	}
	return devices, nil
}

// Remove forgets one of the actor's devices.
func (s *DeviceApprovalService) Remove(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	device, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up device: %w", err)
	}
	if device == nil || device.UserID != actor.UserID {
		return ErrDeviceNotFound
	}
	return s.devices.Delete(ctx, id)
}

// CleanupExpired marks lapsed pending requests expired.
func (s *DeviceApprovalService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.devices.ExpirePending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire device requests: %w", err)
	}
	return n, nil
}

func (s *DeviceApprovalService) lapsed(d *models.TrustedDevice) bool {
	if d.Status == models.DeviceStatusExpired {
		return true
	}
	return d.Status == models.DeviceStatusPending && d.ExpiresAt.Before(s.now())
}

func cleanFingerprint(fp string) (string, error) {
	fp = strings.TrimSpace(fp)
	if fp == "" {
		return "", fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}
	if len(fp) > maxFingerprintLen {
		return "", fmt.Errorf("%w: fingerprint is too long", ErrInvalidInput)
	}
	return fp, nil
}
