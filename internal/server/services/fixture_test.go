package services

import (
	"context"
	"testing"
	"time"

	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/pkg/models"
)

// fixture is one estate with a household, a resident, a guard and an estate
// admin, all approved, on an in-memory tree.
type fixture struct {
	ctx   context.Context
	tree  *rtdb.MemoryTree
	queue *outbox.MemoryQueue
	clock time.Time

	audit         *SecurityLogService
	policy        *Policy
	codes         *AccessCodeService
	activity      *GuardActivityService
	notifications *NotificationService
	messages      *GuestMessageService
	directory     *DirectoryService
	gate          *VerificationService

	estate    *models.Estate
	household *models.Household

	resident models.Actor
	guard    models.Actor
	admin    models.Actor
	platform models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:   context.Background(),
		tree:  rtdb.NewMemoryTree(),
		queue: outbox.NewMemoryQueue(),
		clock: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }

	f.audit = NewSecurityLogService(nil)
	f.policy = NewPolicy(f.audit)
	f.audit.SetPolicy(f.policy)

	f.codes = NewAccessCodeService(f.tree, f.policy, f.queue)
	f.codes.now = now
	f.activity = NewGuardActivityService(f.tree, f.policy)
	f.activity.now = now
	f.notifications = NewNotificationService(f.tree, f.policy)
	f.notifications.now = now
	f.messages = NewGuestMessageService(f.tree, f.policy)
	f.messages.now = now
	f.directory = NewDirectoryService(f.tree, f.policy, f.queue, []string{"root@musa.estate"})
	f.directory.now = now
	f.gate = NewVerificationService(f.codes, f.activity, f.policy, f.queue)

	f.estate = &models.Estate{ID: "estate1", Name: "Palm Grove", AdminIDs: map[string]bool{"admin1": true}}
	f.household = &models.Household{ID: "house1", EstateID: "estate1", Name: "No. 4", Members: map[string]bool{"res1": true}}
	f.set(t, rtdb.Join(pathEstates, f.estate.ID), f.estate)
	f.set(t, rtdb.Join(pathHouseholds, f.household.ID), f.household)
	f.set(t, rtdb.Join(pathHouseholdsByEstate, "estate1", "house1"), true)

	f.resident = f.addUser(t, "res1", models.RoleResident, "estate1", "house1")
	f.guard = f.addUser(t, "guard1", models.RoleGuard, "estate1", "")
	f.admin = f.addUser(t, "admin1", models.RoleAdmin, "estate1", "")
	f.platform = models.Actor{UserID: "root", Email: "root@musa.estate", Role: models.RoleAdmin, Status: models.UserApproved, PlatformAdmin: true}
	return f
}

func (f *fixture) set(t *testing.T, path string, v interface{}) {
	t.Helper()
	if err := f.tree.Set(f.ctx, path, v); err != nil {
		t.Fatalf("Failed to seed %s: %v", path, err)
	}
}

func (f *fixture) addUser(t *testing.T, id string, role models.Role, estateID, householdID string) models.Actor {
	t.Helper()
	u := &models.User{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: "User " + id,
		Role:        role,
		Status:      models.UserApproved,
		EstateID:    estateID,
		HouseholdID: householdID,
		CreatedAt:   f.clock.UnixMilli(),
	}
	f.set(t, rtdb.Join(pathUsers, id), u)
	if estateID != "" {
		f.set(t, rtdb.Join(pathUsersByEstate, estateID, id), true)
	}
	return models.ActorFromUser(u, false)
}

func (f *fixture) createCode(t *testing.T, actor models.Actor, expiresAt *int64) *models.AccessCode {
	t.Helper()
	code, err := f.codes.Create(f.ctx, actor, models.CreateAccessCodeInput{
		HouseholdID: f.household.ID,
		Description: "Plumber",
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		t.Fatalf("Failed to create access code: %v", err)
	}
	return code
}

func (f *fixture) millisFromNow(d time.Duration) *int64 {
	ms := f.clock.Add(d).UnixMilli()
	return &ms
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
