package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Tree layout
const (
	pathAccessCodes            = "accessCodes"
	pathAccessCodesByCode      = "accessCodesByCode"
	pathAccessCodesByUser      = "accessCodesByUser"
	pathAccessCodesByHousehold = "accessCodesByHousehold"

	pathGuardActivity  = "guardActivity"
	pathEstateActivity = "estateActivity/verifications"

	pathNotifications             = "notifications"
	pathNotificationsByAccessCode = "notificationsByAccessCode"

	pathGuestMessages            = "guestMessages"
	pathGuestMessagesByHousehold = "guestMessagesByHousehold"
	pathGuestMessagesByCode      = "guestMessagesByAccessCode"

	pathUsers              = "users"
	pathUsersByEstate      = "usersByEstate"
	pathUsersWithoutEstate = "usersWithoutEstate"
	pathHouseholds         = "households"
	pathHouseholdsByEstate = "householdsByEstate"
	pathEstates            = "estates"
)

// fetchParallel bounds fan-out reads after an index scan.
const fetchParallel = 8

func loadUser(ctx context.Context, tree rtdb.Tree, id string) (*models.User, error) {
	if id == "" {
		return nil, nil
	}
	var u models.User
	found, err := tree.Get(ctx, rtdb.Join(pathUsers, id), &u)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &u, nil
}

func loadEstate(ctx context.Context, tree rtdb.Tree, id string) (*models.Estate, error) {
	if id == "" {
		return nil, nil
	}
	var e models.Estate
	found, err := tree.Get(ctx, rtdb.Join(pathEstates, id), &e)
	if err != nil {
		return nil, fmt.Errorf("failed to load estate: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

func loadHousehold(ctx context.Context, tree rtdb.Tree, id string) (*models.Household, error) {
	if id == "" {
		return nil, nil
	}
	var h models.Household
	found, err := tree.Get(ctx, rtdb.Join(pathHouseholds, id), &h)
	if err != nil {
		return nil, fmt.Errorf("failed to load household: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &h, nil
}

func loadAccessCode(ctx context.Context, tree rtdb.Tree, id string) (*models.AccessCode, error) {
	if id == "" {
		return nil, nil
	}
	var c models.AccessCode
	found, err := tree.Get(ctx, rtdb.Join(pathAccessCodes, id), &c)
	if err != nil {
		return nil, fmt.Errorf("failed to load access code: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &c, nil
}

// indexKeys returns the keys stored under an index node.
func indexKeys(ctx context.Context, tree rtdb.Tree, path string) ([]string, error) {
	var raw json.RawMessage
	if _, err := tree.Get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return rtdb.Keys(raw)
}

// fetchAll point-reads every id under base in parallel. Missing records are
// skipped so a dangling index entry never fails a listing.
func fetchAll[T any](ctx context.Context, tree rtdb.Tree, base string, ids []string) ([]*T, error) {
	results := make([]*T, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for i, id := range ids {
		g.Go(func() error {
			var v T
			found, err := tree.Get(gctx, rtdb.Join(base, id), &v)
			if err != nil {
				return err
			}
			if found {
				results[i] = &v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func sortNewestFirst[T any](items []T, ts func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool { return ts(items[i]) > ts(items[j]) })
}

// decodeNodes unmarshals ordered children, dropping any that do not decode.
func decodeNodes[T any](nodes []rtdb.Node) []T {
	out := make([]T, 0, len(nodes))
	for _, n := range nodes {
		var v T
		if err := json.Unmarshal(n.Value, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
