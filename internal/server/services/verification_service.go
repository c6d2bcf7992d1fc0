package services

import (
	"context"
	"log"

	"github.com/kamikazebr/musa-estate/internal/server/metrics"
	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

// VerificationService runs a gate check end to end: verify the code, log it
// against the guard, and tell the code's owner.
type VerificationService struct {
	codes    *AccessCodeService
	activity *GuardActivityService
	policy   *Policy
	queue    outbox.Queue
}

func NewVerificationService(codes *AccessCodeService, activity *GuardActivityService, policy *Policy, queue outbox.Queue) *VerificationService {
	return &VerificationService{codes: codes, activity: activity, policy: policy, queue: queue}
}

// Verify checks code on behalf of a guard. Logging and notification happen
// after the decision and never change it.
func (s *VerificationService) Verify(ctx context.Context, actor models.Actor, code, destination string) (*models.VerificationResult, error) {
	if err := s.policy.CanVerify(ctx, actor); err != nil {
		return nil, err
	}

	estateID := actor.EstateID
	if actor.PlatformAdmin {
		estateID = ""
	}
	result, record, err := s.codes.verify(ctx, code, estateID)
	if err != nil {
		metrics.GateVerifications.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}

	rec := models.GuardVerificationRecord{
		Code:               utils.NormalizeAccessCode(code),
		IsValid:            result.IsValid,
		Message:            result.Message,
		EstateID:           actor.EstateID,
		DestinationAddress: destination,
	}
	if result.AccessCode != nil {
		rec.HouseholdID = result.AccessCode.HouseholdID
	}
	if _, err := s.activity.Log(ctx, actor.UserID, rec); err != nil {
		log.Printf("Warning: failed to log verification by guard %s: %v", actor.UserID, err)
	}

	if record != nil {
		notice := models.ScanNotice{
			AccessCode:         *record,
			GuardID:            actor.UserID,
			IsValid:            result.IsValid,
			Message:            result.Message,
			DestinationAddress: destination,
		}
		if result.AccessCode == nil {
			notice.Message = MsgWrongEstate
		}
		notice.AccessCode.QRCode = ""
		if err := outbox.Publish(ctx, s.queue, KindScanNotification, notice); err != nil {
			log.Printf("Warning: failed to queue scan notification for code %s: %v", record.ID, err)
		}
	}

	label := metrics.ResultInvalid
	if result.IsValid {
		label = metrics.ResultValid
	}
	metrics.GateVerifications.WithLabelValues(label).Inc()
	return result, nil
}
