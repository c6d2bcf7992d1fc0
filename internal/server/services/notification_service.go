package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

const (
	defaultGuardName         = "Security"
	defaultNotificationLimit = 50
)

// NotificationService manages each user's mailbox of gate events.
type NotificationService struct {
	tree   rtdb.Tree
	policy *Policy
	now    func() time.Time
}

func NewNotificationService(tree rtdb.Tree, policy *Policy) *NotificationService {
	return &NotificationService{tree: tree, policy: policy, now: time.Now}
}

// NotifyScan tells the code's owner that a guard scanned it.
func (s *NotificationService) NotifyScan(ctx context.Context, notice models.ScanNotice) (*models.Notification, error) {
	code := notice.AccessCode
	if code.ID == "" || code.OwnerID == "" {
		return nil, fmt.Errorf("%w: scan notice has no access code owner", ErrInvalidInput)
	}

	guardName := defaultGuardName
	if guard, err := loadUser(ctx, s.tree, notice.GuardID); err == nil && guard != nil && guard.DisplayName != "" {
		guardName = guard.DisplayName
	}

	kind := models.NotificationTypeCodeScanned
	if !notice.IsValid {
		kind = models.NotificationTypeCodeRejected
	}

	data := map[string]interface{}{
		"accessCodeId": code.ID,
		"code":         code.Code,
		"guardId":      notice.GuardID,
		"guardName":    guardName,
		"isValid":      notice.IsValid,
		"message":      notice.Message,
	}
	if code.Description != "" {
		data["description"] = code.Description
	}
	if notice.DestinationAddress != "" {
		data["destinationAddress"] = notice.DestinationAddress
	}

	n := &models.Notification{
		ID:        s.tree.NewKey(),
		UserID:    code.OwnerID,
		Type:      kind,
		Timestamp: utils.Millis(s.now()),
		Read:      false,
		Data:      data,
	}

	err := s.tree.Update(ctx, "", map[string]interface{}{
		rtdb.Join(pathNotifications, code.OwnerID, n.ID):        n,
		rtdb.Join(pathNotificationsByAccessCode, code.ID, n.ID): code.OwnerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}
	return n, nil
}

// List returns the newest notifications in the user's mailbox.
func (s *NotificationService) List(ctx context.Context, actor models.Actor, userID string, limit int) ([]models.Notification, error) {
	if err := s.policy.CanUseMailbox(ctx, actor, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	nodes, err := s.tree.Children(ctx, rtdb.Join(pathNotifications, userID), rtdb.Query{OrderByChild: "timestamp", LimitToLast: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}

	out := make([]models.Notification, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		var n models.Notification
		if err := json.Unmarshal(nodes[i].Value, &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, userID, id string) error {
	if err := s.policy.CanUseMailbox(ctx, actor, userID); err != nil {
		return err
	}
	path := rtdb.Join(pathNotifications, userID, id)
	var n models.Notification
	found, err := s.tree.Get(ctx, path, &n)
	if err != nil {
		return fmt.Errorf("failed to read notification: %w", err)
	}
	if !found {
		return ErrNotificationNotFound
	}
	if n.Read {
		return nil
	}
	if err := s.tree.Set(ctx, rtdb.Join(path, "read"), true); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead flags every unread notification in one write and returns how
// many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor models.Actor, userID string) (int, error) {
	if err := s.policy.CanUseMailbox(ctx, actor, userID); err != nil {
		return 0, err
	}
	unread, err := s.unread(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}

	updates := make(map[string]interface{}, len(unread))
	for _, id := range unread {
		updates[rtdb.Join(id, "read")] = true
	}
	if err := s.tree.Update(ctx, rtdb.Join(pathNotifications, userID), updates); err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return len(unread), nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, actor models.Actor, userID string) (int, error) {
	if err := s.policy.CanUseMailbox(ctx, actor, userID); err != nil {
		return 0, err
	}
	unread, err := s.unread(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

func (s *NotificationService) unread(ctx context.Context, userID string) ([]string, error) {
	nodes, err := s.tree.Children(ctx, rtdb.Join(pathNotifications, userID), rtdb.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	var ids []string
	for _, node := range nodes {
		var n struct {
			Read bool `json:"read"`
		}
		if err := json.Unmarshal(node.Value, &n); err != nil {
			continue
		}
		if !n.Read {
			ids = append(ids, node.Key)
		}
	}
	return ids, nil
}
