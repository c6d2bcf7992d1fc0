package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

// DeviceRepository stores the browsers and phones each user has confirmed.
type DeviceRepository struct {
	db *DB
}

func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) Create(ctx context.Context, device *models.TrustedDevice) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	query := `
		INSERT INTO trusted_devices (id, user_id, fingerprint, label, status, approval_token, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.QueryRowContext(ctx, query,
		device.ID, device.UserID, device.Fingerprint, device.Label, device.Status,
		device.ApprovalToken, device.IPAddress, device.ExpiresAt,
	).Scan(&device.CreatedAt)
}

func (r *DeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TrustedDevice, error) {
	var device models.TrustedDevice
	query := `SELECT * FROM trusted_devices WHERE id = $1`
	err := r.db.GetContext(ctx, &device, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

// GetByFingerprint returns the newest non-expired record for the pair.
func (r *DeviceRepository) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	var device models.TrustedDevice
	query := `
		SELECT * FROM trusted_devices
		WHERE user_id = $1 AND fingerprint = $2 AND status <> $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &device, query, userID, fingerprint, models.DeviceStatusExpired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

func (r *DeviceRepository) GetByApprovalToken(ctx context.Context, token string) (*models.TrustedDevice, error) {
	var device models.TrustedDevice
	query := `SELECT * FROM trusted_devices WHERE approval_token = $1`
	err := r.db.GetContext(ctx, &device, query, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]models.TrustedDevice, error) {
	var devices []models.TrustedDevice
	query := `SELECT * FROM trusted_devices WHERE user_id = $1 AND status <> $2 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &devices, query, userID, models.DeviceStatusExpired)
	return devices, err
}

// Approve marks a pending device approved and burns its token. It reports
// false when the device was not pending.
func (r *DeviceRepository) Approve(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE trusted_devices
		SET status = $1, approved_at = NOW(), approval_token = NULL
		WHERE id = $2 AND status = $3
	`
	result, err := r.db.ExecContext(ctx, query, models.DeviceStatusApproved, id, models.DeviceStatusPending)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE trusted_devices SET last_seen = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ExpirePending flips pending requests past their deadline to expired.
func (r *DeviceRepository) ExpirePending(ctx context.Context) (int64, error) {
	query := `UPDATE trusted_devices SET status = $1, approval_token = NULL WHERE status = $2 AND expires_at < NOW()`
	result, err := r.db.ExecContext(ctx, query, models.DeviceStatusExpired, models.DeviceStatusPending)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *DeviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM trusted_devices WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
