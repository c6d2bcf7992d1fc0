package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kamikazebr/musa-estate/internal/server/metrics"
	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

const (
	maxGuestNameLen    = 100
	maxGuestMessageLen = 1000
)

// GuestMessageService carries messages from visitors to a household.
type GuestMessageService struct {
	tree   rtdb.Tree
	policy *Policy
	now    func() time.Time
}

func NewGuestMessageService(tree rtdb.Tree, policy *Policy) *GuestMessageService {
	return &GuestMessageService{tree: tree, policy: policy, now: time.Now}
}

// Send stores a guest's message. Guests are not authenticated, so the
// household and the optional access code are checked against the tree.
func (s *GuestMessageService) Send(ctx context.Context, in models.SendGuestMessageInput) (*models.GuestMessage, error) {
	in.HouseholdID = strings.TrimSpace(in.HouseholdID)
	in.GuestName = strings.TrimSpace(in.GuestName)
	in.Message = strings.TrimSpace(in.Message)
	in.AccessCodeID = strings.TrimSpace(in.AccessCodeID)

	switch {
	case in.HouseholdID == "":
		return nil, fmt.Errorf("%w: household is required", ErrInvalidInput)
	case !utils.IsValidTreeKey(in.HouseholdID):
		return nil, fmt.Errorf("%w: household id is malformed", ErrInvalidInput)
	case in.GuestName == "":
		return nil, fmt.Errorf("%w: guest name is required", ErrInvalidInput)
	case utf8.RuneCountInString(in.GuestName) > maxGuestNameLen:
		return nil, fmt.Errorf("%w: guest name must be at most %d characters", ErrInvalidInput, maxGuestNameLen)
	case in.Message == "":
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	case utf8.RuneCountInString(in.Message) > maxGuestMessageLen:
		return nil, fmt.Errorf("%w: message must be at most %d characters", ErrInvalidInput, maxGuestMessageLen)
	case in.AccessCodeID != "" && !utils.IsValidTreeKey(in.AccessCodeID):
		return nil, fmt.Errorf("%w: access code id is malformed", ErrInvalidInput)
	}

	kind := in.Type
	switch kind {
	case models.GuestMessageTypeGeneral, models.GuestMessageTypeArrival, models.GuestMessageTypeDelivery:
	case "":
		kind = models.GuestMessageTypeGeneral
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, kind)
	}

	household, err := loadHousehold(ctx, s.tree, in.HouseholdID)
	if err != nil {
		return nil, err
	}
	if household == nil {
		return nil, ErrHouseholdNotFound
	}
	if in.AccessCodeID != "" {
		code, err := loadAccessCode(ctx, s.tree, in.AccessCodeID)
		if err != nil {
			return nil, err
		}
		if code == nil {
			return nil, ErrAccessCodeNotFound
		}
		if code.HouseholdID != household.ID {
			return nil, fmt.Errorf("%w: access code does not belong to this household", ErrInvalidInput)
		}
	}

	msg := &models.GuestMessage{
		ID:           s.tree.NewKey(),
		HouseholdID:  household.ID,
		GuestName:    in.GuestName,
		Message:      in.Message,
		AccessCodeID: in.AccessCodeID,
		Timestamp:    utils.Millis(s.now()),
		Status:       models.GuestMessageSent,
		Type:         kind,
	}

	updates := map[string]interface{}{
		rtdb.Join(pathGuestMessages, msg.ID):                          msg,
		rtdb.Join(pathGuestMessagesByHousehold, household.ID, msg.ID): msg.Timestamp,
	}
	if msg.AccessCodeID != "" {
		updates[rtdb.Join(pathGuestMessagesByCode, msg.AccessCodeID, msg.ID)] = true
	}
	if err := s.tree.Update(ctx, "", updates); err != nil {
		return nil, fmt.Errorf("failed to store guest message: %w", err)
	}
	return msg, nil
}

// Subscribe calls fn with the household's messages, newest first, now and
// after every change to the household's message index. Messages still
// marked sent are promoted to delivered before fn sees them.
func (s *GuestMessageService) Subscribe(ctx context.Context, actor models.Actor, householdID string, fn func([]models.GuestMessage)) (func(), error) {
	household, err := s.authorizeHousehold(ctx, actor, householdID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stopWatch, err := s.tree.Watch(ctx, rtdb.Join(pathGuestMessagesByHousehold, household.ID), func(raw json.RawMessage) {
		ids, err := rtdb.Keys(raw)
		if err != nil {
			log.Printf("Warning: bad guest message index for household %s: %v", household.ID, err)
			return
		}
		messages, err := s.load(ctx, ids)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Warning: failed to load guest messages for household %s: %v", household.ID, err)
			}
			return
		}
		for i := range messages {
			if messages[i].Status == models.GuestMessageSent {
				if err := s.promote(ctx, messages[i].ID); err != nil {
					log.Printf("Warning: failed to mark guest message %s delivered: %v", messages[i].ID, err)
					continue
				}
				messages[i].Status = models.GuestMessageDelivered
			}
		}
		if ctx.Err() == nil {
			fn(messages)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch guest messages: %w", err)
	}

	metrics.WatchSubscribers.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			stopWatch()
			cancel()
			metrics.WatchSubscribers.Dec()
		})
	}, nil
}

// promote moves a message from sent to delivered. Any other status is left
// untouched, so concurrent subscribers cannot regress a read message.
func (s *GuestMessageService) promote(ctx context.Context, id string) error {
	return s.tree.Transaction(ctx, rtdb.Join(pathGuestMessages, id, "status"), func(current json.RawMessage) (interface{}, error) {
		var status models.GuestMessageStatus
		if rtdb.IsNull(current) {
			return nil, nil
		}
		if err := json.Unmarshal(current, &status); err != nil {
			return nil, err
		}
		if status == models.GuestMessageSent {
			return models.GuestMessageDelivered, nil
		}
		return status, nil
	})
}

// UpdateStatus moves a message forward. Skipping delivered is allowed;
// moving backwards fails; repeating the current status changes nothing.
func (s *GuestMessageService) UpdateStatus(ctx context.Context, actor models.Actor, id string, status models.GuestMessageStatus) (*models.GuestMessage, error) {
	if status.Rank() == 0 {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	var msg models.GuestMessage
	found, err := s.tree.Get(ctx, rtdb.Join(pathGuestMessages, id), &msg)
	if err != nil {
		return nil, fmt.Errorf("failed to read guest message: %w", err)
	}
	if !found {
		return nil, ErrGuestMessageNotFound
	}
	if _, err := s.authorizeHousehold(ctx, actor, msg.HouseholdID); err != nil {
		return nil, err
	}

	changed := false
	err = s.tree.Transaction(ctx, rtdb.Join(pathGuestMessages, id, "status"), func(current json.RawMessage) (interface{}, error) {
		changed = false
		if rtdb.IsNull(current) {
			return nil, ErrGuestMessageNotFound
		}
		var cur models.GuestMessageStatus
		if err := json.Unmarshal(current, &cur); err != nil {
			return nil, err
		}
		switch {
		case status.Rank() < cur.Rank():
			return nil, ErrInvalidStatusTransition
		case status == cur:
			return cur, nil
		}
		changed = true
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	msg.Status = status

	if changed {
		// Touch the index entry so live subscribers refresh.
		touch := rtdb.Join(pathGuestMessagesByHousehold, msg.HouseholdID, id)
		if err := s.tree.Set(ctx, touch, utils.Millis(s.now())); err != nil {
			log.Printf("Warning: failed to touch guest message index for %s: %v", id, err)
		}
	}
	return &msg, nil
}

// ListByHousehold returns the household's messages, newest first, without
// changing their status.
func (s *GuestMessageService) ListByHousehold(ctx context.Context, actor models.Actor, householdID string) ([]models.GuestMessage, error) {
	household, err := s.authorizeHousehold(ctx, actor, householdID)
	if err != nil {
		return nil, err
	}
	ids, err := indexKeys(ctx, s.tree, rtdb.Join(pathGuestMessagesByHousehold, household.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to read guest message index: %w", err)
	}
	return s.load(ctx, ids)
}

// CanWatch reports whether actor may subscribe to the household's messages,
// without starting a subscription.
func (s *GuestMessageService) CanWatch(ctx context.Context, actor models.Actor, householdID string) error {
	_, err := s.authorizeHousehold(ctx, actor, householdID)
	return err
}

func (s *GuestMessageService) authorizeHousehold(ctx context.Context, actor models.Actor, householdID string) (*models.Household, error) {
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
	return household, nil
}

func (s *GuestMessageService) load(ctx context.Context, ids []string) ([]models.GuestMessage, error) {
	records, err := fetchAll[models.GuestMessage](ctx, s.tree, pathGuestMessages, ids)
	if err != nil {
		return nil, err
	}
	messages := make([]models.GuestMessage, 0, len(records))
	for _, r := range records {
		messages = append(messages, *r)
	}
	sortNewestFirst(messages, func(m models.GuestMessage) int64 { return m.Timestamp })
	return messages, nil
}
