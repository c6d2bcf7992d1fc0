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

const defaultHistoryLimit = 50

// GuardActivityService keeps the append-only record of gate checks, once per
// guard and once estate-wide.
type GuardActivityService struct {
	tree   rtdb.Tree
	policy *Policy
	now    func() time.Time
}

func NewGuardActivityService(tree rtdb.Tree, policy *Policy) *GuardActivityService {
	return &GuardActivityService{tree: tree, policy: policy, now: time.Now}
}

// Log appends rec to the guard's history and the estate feed in a single
// write. ID and Timestamp are assigned here.
func (s *GuardActivityService) Log(ctx context.Context, guardID string, rec models.GuardVerificationRecord) (*models.GuardVerificationRecord, error) {
	if guardID == "" {
		return nil, fmt.Errorf("%w: guard id is required", ErrInvalidInput)
	}
	rec.ID = s.tree.NewKey()
	rec.GuardID = guardID
	rec.Timestamp = utils.Millis(s.now())

	err := s.tree.Update(ctx, "", map[string]interface{}{
		rtdb.Join(pathGuardActivity, guardID, "verifications", rec.ID): rec,
		rtdb.Join(pathEstateActivity, rec.ID):                          rec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to log verification: %w", err)
	}
	return &rec, nil
}

// History returns the guard's latest verifications, newest first.
func (s *GuardActivityService) History(ctx context.Context, actor models.Actor, guardID string, limit int) ([]models.GuardVerificationRecord, error) {
	if err := s.authorizeGuard(ctx, actor, guardID); err != nil {
		return nil, err
	}
	return s.tail(ctx, rtdb.Join(pathGuardActivity, guardID, "verifications"), limit, "")
}

// EstateHistory returns the latest verifications across all gates. Estate
// admins only see their own estate.
func (s *GuardActivityService) EstateHistory(ctx context.Context, actor models.Actor, limit int) ([]models.GuardVerificationRecord, error) {
	if err := s.policy.CanReadEstateActivity(ctx, actor); err != nil {
		return nil, err
	}
	estateID := ""
	if !actor.PlatformAdmin {
		estateID = actor.EstateID
	}
	return s.tail(ctx, pathEstateActivity, limit, estateID)
}

// Stats summarizes the guard's full history. Today is the current UTC day.
func (s *GuardActivityService) Stats(ctx context.Context, actor models.Actor, guardID string) (*models.GuardStats, error) {
	if err := s.authorizeGuard(ctx, actor, guardID); err != nil {
		return nil, err
	}

	nodes, err := s.tree.Children(ctx, rtdb.Join(pathGuardActivity, guardID, "verifications"), rtdb.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to read guard history: %w", err)
	}

	stats := &models.GuardStats{GuardID: guardID}
	startOfDay := utils.StartOfDayMillis(utils.Millis(s.now()))
	for _, n := range nodes {
		var rec models.GuardVerificationRecord
		if err := json.Unmarshal(n.Value, &rec); err != nil {
			continue
		}
		stats.Total++
		if rec.IsValid {
			stats.Valid++
		} else {
			stats.Invalid++
		}
		if rec.Timestamp >= startOfDay {
			stats.Today++
		}
		if stats.LastTimestamp == nil || rec.Timestamp > *stats.LastTimestamp {
			ts := rec.Timestamp
			stats.LastTimestamp = &ts
		}
	}
	return stats, nil
}

func (s *GuardActivityService) authorizeGuard(ctx context.Context, actor models.Actor, guardID string) error {
	guardEstate := ""
	if actor.UserID != guardID {
		guard, err := loadUser(ctx, s.tree, guardID)
		if err != nil {
			return err
		}
		if guard != nil {
			guardEstate = guard.EstateID
		}
	}
	return s.policy.CanReadGuardActivity(ctx, actor, guardID, guardEstate)
}

func (s *GuardActivityService) tail(ctx context.Context, path string, limit int, estateID string) ([]models.GuardVerificationRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	nodes, err := s.tree.Children(ctx, path, rtdb.Query{OrderByChild: "timestamp", LimitToLast: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to read verification history: %w", err)
	}

	records := make([]models.GuardVerificationRecord, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		var rec models.GuardVerificationRecord
		if err := json.Unmarshal(nodes[i].Value, &rec); err != nil {
			continue
		}
		if estateID != "" && rec.EstateID != estateID {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
