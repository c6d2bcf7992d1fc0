package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

// Outbox event kinds
const (
	KindUsageIncrement   = "access_code.usage"
	KindScanNotification = "notification.scan"
	KindEmail            = "email.send"
)

// RegisterOutboxHandlers binds every event kind the services publish.
func RegisterOutboxHandlers(d *outbox.Dispatcher, codes *AccessCodeService, notifications *NotificationService, email *EmailService) {
	d.Handle(KindUsageIncrement, func(ctx context.Context, payload json.RawMessage) error {
		var ev UsageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("bad usage event: %w", err)
		}
		_, err := codes.ApplyUsageEvent(ctx, ev)
		return err
	})

	d.Handle(KindScanNotification, func(ctx context.Context, payload json.RawMessage) error {
		var notice models.ScanNotice
		if err := json.Unmarshal(payload, &notice); err != nil {
			return fmt.Errorf("bad scan notice: %w", err)
		}
		_, err := notifications.NotifyScan(ctx, notice)
		return err
	})

	d.Handle(KindEmail, func(ctx context.Context, payload json.RawMessage) error {
		var job EmailJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("bad email job: %w", err)
		}
		return email.Deliver(job)
	})
}
