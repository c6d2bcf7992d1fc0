package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
	"github.com/skip2/go-qrcode"
)

// Verification messages shown at the gate.
const (
	MsgInvalidCode     = "Invalid access code"
	MsgExpiredCode     = "Access code has expired"
	MsgDeactivatedCode = "Access code has been deactivated"
	MsgVerifiedCode    = "Access code verified"
)

// MsgWrongEstate is only shown to the code's owner, never at the gate.
const MsgWrongEstate = "Access code was presented at another estate's gate"

const (
	maxCodeAttempts   = 5
	maxDescriptionLen = 200
	qrImageSize       = 256
)

var errCodeTaken = errors.New("code already claimed")

// UsageEvent asks the outbox to retry a usage counter increment. ScanID
// marks the scan on the code once counted, so a redelivered event is a no-op.
type UsageEvent struct {
	AccessCodeID string `json:"accessCodeId"`
	UsedAt       int64  `json:"usedAt"`
	ScanID       string `json:"scanId,omitempty"`
}

// fieldAppliedUsage holds the scan ids already counted by outbox retries.
const fieldAppliedUsage = "appliedUsage"

type AccessCodeService struct {
	tree     rtdb.Tree
	policy   *Policy
	queue    outbox.Queue
	now      func() time.Time
	generate func() (string, error)
}

func NewAccessCodeService(tree rtdb.Tree, policy *Policy, queue outbox.Queue) *AccessCodeService {
	return &AccessCodeService{
		tree:     tree,
		policy:   policy,
		queue:    queue,
		now:      time.Now,
		generate: utils.GenerateAccessCode,
	}
}

// Create issues a new code for a household the actor belongs to. The code
// token is unique across the whole tree.
func (s *AccessCodeService) Create(ctx context.Context, actor models.Actor, in models.CreateAccessCodeInput) (*models.AccessCode, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.HouseholdID == "" {
		return nil, fmt.Errorf("%w: household is required", ErrInvalidInput)
	}
	if len(in.Description) > maxDescriptionLen {
		return nil, fmt.Errorf("%w: description must be at most %d characters", ErrInvalidInput, maxDescriptionLen)
	}

	household, err := loadHousehold(ctx, s.tree, in.HouseholdID)
	if err != nil {
		return nil, err
	}
	if household == nil {
		return nil, ErrHouseholdNotFound
	}
	if err := s.policy.CanUseHousehold(ctx, actor, household); err != nil {
		return nil, err
	}

	now := utils.Millis(s.now())
	if in.ExpiresAt != nil && *in.ExpiresAt <= now {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	id := s.tree.NewKey()
	code, err := s.claimCode(ctx, id)
	if err != nil {
		return nil, err
	}

	qr, err := qrDataURL(code)
	if err != nil {
		s.releaseCode(ctx, code)
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}

	record := &models.AccessCode{
		ID:          id,
		Code:        code,
		OwnerID:     actor.UserID,
		HouseholdID: household.ID,
		Description: in.Description,
		CreatedAt:   now,
		ExpiresAt:   in.ExpiresAt,
		IsActive:    true,
		QRCode:      qr,
	}

	err = s.tree.Update(ctx, "", map[string]interface{}{
		rtdb.Join(pathAccessCodes, id):                          record,
		rtdb.Join(pathAccessCodesByUser, actor.UserID, id):      true,
		rtdb.Join(pathAccessCodesByHousehold, household.ID, id): true,
	})
	if err != nil {
		s.releaseCode(ctx, code)
		return nil, fmt.Errorf("failed to store access code: %w", err)
	}

	log.Printf("Access code %s created for household %s by %s", id, household.ID, actor.UserID)
	return record, nil
}

// claimCode reserves a fresh token in the code index, pointing it at id.
func (s *AccessCodeService) claimCode(ctx context.Context, id string) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate access code: %w", err)
		}

		err = s.tree.Transaction(ctx, rtdb.Join(pathAccessCodesByCode, code), func(current json.RawMessage) (interface{}, error) {
			if !rtdb.IsNull(current) {
				return nil, errCodeTaken
			}
			return id, nil
		})
		if errors.Is(err, errCodeTaken) {
			log.Printf("Access code collision on attempt %d, drawing again", attempt+1)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to claim access code: %w", err)
		}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (s *AccessCodeService) releaseCode(ctx context.Context, code string) {
	if err := s.tree.Delete(ctx, rtdb.Join(pathAccessCodesByCode, code)); err != nil {
		log.Printf("Warning: failed to release access code claim %s: %v", code, err)
	}
}

// Verify checks a code typed or scanned at the gate. An unusable code is a
// result with IsValid=false; errors are reserved for storage failures.
func (s *AccessCodeService) Verify(ctx context.Context, code string) (*models.VerificationResult, error) {
	result, _, err := s.verify(ctx, code, "")
	return result, err
}

// VerifyInEstate is Verify for a gate belonging to estateID. Codes issued
// for households of other estates look exactly like unknown codes.
func (s *AccessCodeService) VerifyInEstate(ctx context.Context, code, estateID string) (*models.VerificationResult, error) {
	result, _, err := s.verify(ctx, code, estateID)
	return result, err
}

// verify returns the caller's result plus the stored record, if any. The
// record is set even when the result hides it, so the owner can still be
// told about a scan at a foreign gate.
func (s *AccessCodeService) verify(ctx context.Context, code, estateID string) (*models.VerificationResult, *models.AccessCode, error) {
	code = utils.NormalizeAccessCode(code)
	invalid := &models.VerificationResult{IsValid: false, Message: MsgInvalidCode}
	if !utils.IsValidAccessCode(code) {
		return invalid, nil, nil
	}

	var id string
	found, err := s.tree.Get(ctx, rtdb.Join(pathAccessCodesByCode, code), &id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up access code: %w", err)
	}
	if !found || id == "" {
		return invalid, nil, nil
	}

	record, err := loadAccessCode(ctx, s.tree, id)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return invalid, nil, nil
	}

	if estateID != "" {
		household, err := loadHousehold(ctx, s.tree, record.HouseholdID)
		if err != nil {
			return nil, nil, err
		}
		if household == nil || household.EstateID != estateID {
			return invalid, record, nil
		}
	}

	now := utils.Millis(s.now())
	if record.IsExpired(now) {
		return &models.VerificationResult{IsValid: false, Message: MsgExpiredCode, AccessCode: record}, record, nil
	}
	if !record.IsActive {
		return &models.VerificationResult{IsValid: false, Message: MsgDeactivatedCode, AccessCode: record}, record, nil
	}

	updated, err := s.IncrementUsage(ctx, record.ID, now)
	if err != nil {
		log.Printf("Warning: failed to record usage of access code %s: %v", record.ID, err)
		if qerr := outbox.Publish(ctx, s.queue, KindUsageIncrement, UsageEvent{AccessCodeID: record.ID, UsedAt: now, ScanID: s.tree.NewKey()}); qerr != nil {
			log.Printf("Warning: failed to queue usage retry for access code %s: %v", record.ID, qerr)
		}
	} else if updated != nil {
		record = updated
	}

	return &models.VerificationResult{IsValid: true, Message: MsgVerifiedCode, AccessCode: record}, record, nil
}

// IncrementUsage bumps the usage counter atomically and returns the updated
// record. A code deleted in the meantime is left alone.
func (s *AccessCodeService) IncrementUsage(ctx context.Context, id string, usedAt int64) (*models.AccessCode, error) {
	return s.applyUsage(ctx, id, "", usedAt)
}

// ApplyUsageEvent counts a retried scan at most once.
func (s *AccessCodeService) ApplyUsageEvent(ctx context.Context, ev UsageEvent) (*models.AccessCode, error) {
	return s.applyUsage(ctx, ev.AccessCodeID, ev.ScanID, ev.UsedAt)
}

// applyUsage rewrites only the usage fields so the retry markers kept on the
// record survive every increment.
func (s *AccessCodeService) applyUsage(ctx context.Context, id, scanID string, usedAt int64) (*models.AccessCode, error) {
	var updated *models.AccessCode
	err := s.tree.Transaction(ctx, rtdb.Join(pathAccessCodes, id), func(current json.RawMessage) (interface{}, error) {
		updated = nil
		if rtdb.IsNull(current) {
			return nil, nil
		}
		var c models.AccessCode
		if err := json.Unmarshal(current, &c); err != nil {
			return nil, err
		}
		var node map[string]json.RawMessage
		if err := json.Unmarshal(current, &node); err != nil {
			return nil, err
		}

		applied := map[string]bool{}
		if raw, ok := node[fieldAppliedUsage]; ok {
			if err := json.Unmarshal(raw, &applied); err != nil {
				return nil, err
			}
		}
		if scanID != "" && applied[scanID] {
			updated = &c
			return node, nil
		}

		c.UsageCount++
		if c.LastUsed == nil || *c.LastUsed < usedAt {
			c.LastUsed = &usedAt
		}
		count, err := json.Marshal(c.UsageCount)
		if err != nil {
			return nil, err
		}
		last, err := json.Marshal(*c.LastUsed)
		if err != nil {
			return nil, err
		}
		node["usageCount"] = count
		node["lastUsed"] = last

		if scanID != "" {
			applied[scanID] = true
			marks, err := json.Marshal(applied)
			if err != nil {
				return nil, err
			}
			node[fieldAppliedUsage] = marks
		}
		updated = &c
		return node, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Deactivate turns a code off. Only its owner may do so. The record is kept.
func (s *AccessCodeService) Deactivate(ctx context.Context, actor models.Actor, id string) (*models.AccessCode, error) {
	record, err := loadAccessCode(ctx, s.tree, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrAccessCodeNotFound
	}
	if err := s.policy.CanDeactivateCode(ctx, actor, record); err != nil {
		return nil, err
	}

	if err := s.tree.Set(ctx, rtdb.Join(pathAccessCodes, id, "isActive"), false); err != nil {
		return nil, fmt.Errorf("failed to deactivate access code: %w", err)
	}
	record.IsActive = false

	s.policy.Audit(ctx, models.SecurityLogEntry{
		EstateID: actor.EstateID,
		ActorID:  actor.UserID,
		Action:   models.SecurityActionCodeDeactivated,
		TargetID: id,
		Details:  map[string]string{"household_id": record.HouseholdID},
	})
	return record, nil
}

func (s *AccessCodeService) Get(ctx context.Context, actor models.Actor, id string) (*models.AccessCode, error) {
	record, err := loadAccessCode(ctx, s.tree, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrAccessCodeNotFound
	}
	household, err := loadHousehold(ctx, s.tree, record.HouseholdID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanReadCode(ctx, actor, record, household); err != nil {
		return nil, err
	}
	return record, nil
}

// QRPNG renders the code as a PNG image for printing or sharing.
func (s *AccessCodeService) QRPNG(ctx context.Context, actor models.Actor, id string, size int) ([]byte, error) {
	record, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if size <= 0 || size > 1024 {
		size = qrImageSize
	}
	return qrcode.Encode(record.Code, qrcode.Medium, size)
}

// ListByOwner returns the owner's codes, newest first.
func (s *AccessCodeService) ListByOwner(ctx context.Context, actor models.Actor, ownerID string) ([]models.AccessCode, error) {
	if err := s.policy.CanListCodesOf(ctx, actor, ownerID); err != nil {
		return nil, err
	}
	return s.listIndex(ctx, rtdb.Join(pathAccessCodesByUser, ownerID))
}

// ListByHousehold returns the household's codes, newest first.
func (s *AccessCodeService) ListByHousehold(ctx context.Context, actor models.Actor, householdID string) ([]models.AccessCode, error) {
	household, err := loadHousehold(ctx, s.tree, householdID)
	if err != nil {
		return nil, err
	}
	if household == nil {
		return nil, ErrHouseholdNotFound
	}
	if err := s.policy.CanUseHousehold(ctx, actor, household); err != nil {
		return nil, err
	}
	return s.listIndex(ctx, rtdb.Join(pathAccessCodesByHousehold, householdID))
}

func (s *AccessCodeService) listIndex(ctx context.Context, indexPath string) ([]models.AccessCode, error) {
	ids, err := indexKeys(ctx, s.tree, indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read access code index: %w", err)
	}
	records, err := fetchAll[models.AccessCode](ctx, s.tree, pathAccessCodes, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load access codes: %w", err)
	}

	codes := make([]models.AccessCode, 0, len(records))
	for _, r := range records {
		codes = append(codes, *r)
	}
	sortNewestFirst(codes, func(c models.AccessCode) int64 { return c.CreatedAt })
	return codes, nil
}

func qrDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
