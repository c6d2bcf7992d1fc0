package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kamikazebr/musa-estate/pkg/models"
)

func queuedEmails(t *testing.T, f *fixture) []EmailJob {
	t.Helper()
	var jobs []EmailJob
	for _, e := range f.queue.List(KindEmail) {
		var job EmailJob
		if err := json.Unmarshal(e.Payload, &job); err != nil {
			t.Fatalf("Bad email payload: %v", err)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func TestRegisterCreatesPendingUser(t *testing.T) {
	f := newFixture(t)

	u, created, err := f.directory.Register(f.ctx, "new1", "New@Example.com", RegisterInput{
		DisplayName: "Newcomer",
		Role:        models.RoleAdmin,
		EstateID:    "estate1",
		HouseholdID: "house1",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !created {
		t.Error("Expected a new user")
	}
	if u.Status != models.UserPending || u.Role != models.RoleResident || u.Email != "new@example.com" {
		t.Errorf("Unexpected user: %+v", u)
	}
	if u.EstateID != "estate1" || u.HouseholdID != "house1" {
		t.Errorf("Expected estate and household to be kept, got %+v", u)
	}

	jobs := queuedEmails(t, f)
	if len(jobs) != 1 || jobs[0].To != "admin1@example.com" || jobs[0].Template != EmailApprovalRequest {
		t.Errorf("Expected one approval request to the estate admin, got %+v", jobs)
	}

	again, created, err := f.directory.Register(f.ctx, "new1", "new@example.com", RegisterInput{DisplayName: "Changed"})
	if err != nil {
		t.Fatalf("Second Register failed: %v", err)
	}
	if created || again.DisplayName != "Newcomer" {
		t.Errorf("Second Register should return the stored profile, got %+v", again)
	}
	if n := len(queuedEmails(t, f)); n != 1 {
		t.Errorf("Second Register must not email again, got %d emails", n)
	}
}

func TestRegisterValidatesEstate(t *testing.T) {
	f := newFixture(t)
	f.set(t, "households/houseX", &models.Household{ID: "houseX", EstateID: "estate2", Name: "Elsewhere"})

	if _, _, err := f.directory.Register(f.ctx, "u1", "u1@example.com", RegisterInput{EstateID: "estate9"}); !errors.Is(err, ErrEstateNotFound) {
		t.Errorf("Expected ErrEstateNotFound, got %v", err)
	}
	if _, _, err := f.directory.Register(f.ctx, "u2", "u2@example.com", RegisterInput{EstateID: "estate1", HouseholdID: "houseX"}); !errors.Is(err, ErrHouseholdNotFound) {
		t.Errorf("Expected ErrHouseholdNotFound, got %v", err)
	}
	if _, _, err := f.directory.Register(f.ctx, "u4", "not-an-email", RegisterInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for malformed email, got %v", err)
	}
	if _, _, err := f.directory.Register(f.ctx, "bad/id", "u3@example.com", RegisterInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisterWithoutEstateEmailsPlatform(t *testing.T) {
	f := newFixture(t)

	u, _, err := f.directory.Register(f.ctx, "drifter", "drifter@example.com", RegisterInput{Role: models.RoleGuard})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.Role != models.RoleGuard || u.DisplayName != "drifter" {
		t.Errorf("Unexpected user: %+v", u)
	}
	jobs := queuedEmails(t, f)
	if len(jobs) != 1 || jobs[0].To != "root@musa.estate" {
		t.Errorf("Expected approval request to platform admin, got %+v", jobs)
	}
}

func TestListPendingWithoutEstate(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.directory.Register(f.ctx, "drifter", "drifter@example.com", RegisterInput{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	pending, err := f.directory.ListPending(f.ctx, f.platform, "")
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "drifter" {
		t.Fatalf("Expected drifter awaiting review, got %+v", pending)
	}

	if _, err := f.directory.ListPending(f.ctx, models.Actor{UserID: "res1", Role: models.RoleResident, Status: models.UserApproved}, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for a resident, got %v", err)
	}

	if _, err := f.directory.AddMember(f.ctx, f.admin, "house1", "drifter"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	pending, err = f.directory.ListPending(f.ctx, f.platform, "")
	if err != nil || len(pending) != 0 {
		t.Errorf("Expected drifter to leave the estate-less list, got %+v, %v", pending, err)
	}
	pending, err = f.directory.ListPending(f.ctx, f.admin, "estate1")
	if err != nil || len(pending) != 1 || pending[0].ID != "drifter" {
		t.Errorf("Expected drifter pending in estate1, got %+v, %v", pending, err)
	}
}

func TestRegisterPlatformAdmin(t *testing.T) {
	f := newFixture(t)

	u, _, err := f.directory.Register(f.ctx, "root", "ROOT@musa.estate", RegisterInput{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.Status != models.UserApproved || u.Role != models.RoleAdmin {
		t.Errorf("Platform admin should be approved admin, got %+v", u)
	}
	if n := len(queuedEmails(t, f)); n != 0 {
		t.Errorf("Platform admin needs no review, got %d emails", n)
	}
}

func TestResolveActor(t *testing.T) {
	f := newFixture(t)

	actor, u, err := f.directory.ResolveActor(f.ctx, "res1", "res1@example.com")
	if err != nil {
		t.Fatalf("ResolveActor failed: %v", err)
	}
	if u == nil || actor.Role != models.RoleResident || actor.HouseholdID != "house1" || actor.PlatformAdmin {
		t.Errorf("Unexpected actor: %+v", actor)
	}

	if _, _, err := f.directory.ResolveActor(f.ctx, "ghost", "ghost@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	actor, u, err = f.directory.ResolveActor(f.ctx, "root", "root@musa.estate")
	if err != nil {
		t.Fatalf("ResolveActor failed: %v", err)
	}
	if u != nil || !actor.PlatformAdmin || !actor.Approved() {
		t.Errorf("Expected platform admin actor, got %+v", actor)
	}
}

func TestApproveUser(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.directory.Register(f.ctx, "new1", "new1@example.com", RegisterInput{EstateID: "estate1", HouseholdID: "house1"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	pending, err := f.directory.ListPending(f.ctx, f.admin, "")
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "new1" {
		t.Fatalf("Expected one pending user, got %+v", pending)
	}

	if _, err := f.directory.ApproveUser(f.ctx, f.guard, "new1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for guard, got %v", err)
	}
	if _, err := f.directory.ApproveUser(f.ctx, f.admin, "admin1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Admins cannot review themselves, got %v", err)
	}

	u, err := f.directory.ApproveUser(f.ctx, f.admin, "new1")
	if err != nil {
		t.Fatalf("ApproveUser failed: %v", err)
	}
	if u.Status != models.UserApproved || u.ApprovedBy != "admin1" || u.ApprovedAt == nil {
		t.Errorf("Unexpected approved user: %+v", u)
	}

	h, err := f.directory.GetHousehold(f.ctx, f.admin, "house1")
	if err != nil {
		t.Fatalf("GetHousehold failed: %v", err)
	}
	if !h.Members["new1"] {
		t.Error("Approved user should join their household")
	}

	jobs := queuedEmails(t, f)
	if last := jobs[len(jobs)-1]; last.Template != EmailAccountApproved || last.To != "new1@example.com" {
		t.Errorf("Expected account approved email, got %+v", last)
	}

	entries, _ := f.audit.List(f.ctx, f.admin, "estate1", 0)
	if len(entries) == 0 || entries[0].Action != models.SecurityActionUserApproved {
		t.Errorf("Expected approval in security log, got %+v", entries)
	}

	pending, _ = f.directory.ListPending(f.ctx, f.admin, "estate1")
	if len(pending) != 0 {
		t.Errorf("Expected no pending users, got %d", len(pending))
	}
}

func TestSuspendUserLeavesHousehold(t *testing.T) {
	f := newFixture(t)

	u, err := f.directory.SuspendUser(f.ctx, f.admin, "res1", "lost phone")
	if err != nil {
		t.Fatalf("SuspendUser failed: %v", err)
	}
	if u.Status != models.UserSuspended {
		t.Errorf("Expected suspended, got %s", u.Status)
	}
	h, _ := f.directory.GetHousehold(f.ctx, f.admin, "house1")
	if h.Members["res1"] {
		t.Error("Suspended user should leave the household")
	}

	actor, _, _ := f.directory.ResolveActor(f.ctx, "res1", "res1@example.com")
	if _, err := f.codes.Create(f.ctx, actor, models.CreateAccessCodeInput{HouseholdID: "house1"}); !errors.Is(err, ErrNotApproved) {
		t.Errorf("Suspended user must not create codes, got %v", err)
	}

	rejected, err := f.directory.RejectUser(f.ctx, f.admin, "guard1", "")
	if err != nil || rejected.Status != models.UserRejected {
		t.Errorf("RejectUser failed: %+v, %v", rejected, err)
	}
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.directory.Register(f.ctx, "new1", "new1@example.com", RegisterInput{EstateID: "estate1"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	pending, _, _ := f.directory.ResolveActor(f.ctx, "new1", "new1@example.com")

	if _, err := f.directory.GetUser(f.ctx, pending, "new1"); err != nil {
		t.Errorf("Pending user should read their own profile: %v", err)
	}
	if _, err := f.directory.GetUser(f.ctx, pending, "res1"); !errors.Is(err, ErrNotApproved) {
		t.Errorf("Expected ErrNotApproved, got %v", err)
	}
	if _, err := f.directory.GetUser(f.ctx, f.admin, "new1"); err != nil {
		t.Errorf("Estate admin should read estate users: %v", err)
	}
	if _, err := f.directory.GetUser(f.ctx, f.admin, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestEstates(t *testing.T) {
	f := newFixture(t)

	if _, err := f.directory.CreateEstate(f.ctx, f.admin, "Nope", ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for estate admin, got %v", err)
	}
	if _, err := f.directory.CreateEstate(f.ctx, f.platform, "  ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	created, err := f.directory.CreateEstate(f.ctx, f.platform, "Acacia Court", "12 Acacia Rd")
	if err != nil {
		t.Fatalf("CreateEstate failed: %v", err)
	}

	all, err := f.directory.ListEstates(f.ctx, f.platform)
	if err != nil {
		t.Fatalf("ListEstates failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != created.ID || all[1].ID != "estate1" {
		t.Errorf("Expected estates ordered by name, got %+v", all)
	}

	own, _ := f.directory.ListEstates(f.ctx, f.resident)
	if len(own) != 1 || own[0].ID != "estate1" {
		t.Errorf("Resident should only see their estate, got %+v", own)
	}

	if _, err := f.directory.GetEstate(f.ctx, f.resident, created.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for foreign estate, got %v", err)
	}
}

func TestEstateAdmins(t *testing.T) {
	f := newFixture(t)

	estate, err := f.directory.AddEstateAdmin(f.ctx, f.admin, "estate1", "guard1")
	if err != nil {
		t.Fatalf("AddEstateAdmin failed: %v", err)
	}
	if !estate.AdminIDs["guard1"] {
		t.Error("Expected guard1 in adminIds")
	}
	actor, _, _ := f.directory.ResolveActor(f.ctx, "guard1", "guard1@example.com")
	if actor.Role != models.RoleAdmin || actor.EstateID != "estate1" {
		t.Errorf("Promoted user should be an estate admin, got %+v", actor)
	}

	outsider := f.addUser(t, "res7", models.RoleResident, "estate2", "")
	if _, err := f.directory.AddEstateAdmin(f.ctx, f.admin, "estate1", outsider.UserID); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for another estate's user, got %v", err)
	}

	estate, err = f.directory.RemoveEstateAdmin(f.ctx, f.admin, "estate1", "guard1")
	if err != nil {
		t.Fatalf("RemoveEstateAdmin failed: %v", err)
	}
	if estate.AdminIDs["guard1"] {
		t.Error("guard1 should no longer be an admin")
	}
	actor, _, _ = f.directory.ResolveActor(f.ctx, "guard1", "guard1@example.com")
	if actor.Role != models.RoleResident {
		t.Errorf("Expected demotion to resident, got %s", actor.Role)
	}
	if _, err := f.directory.RemoveEstateAdmin(f.ctx, f.admin, "estate1", "guard1"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound removing a non-admin, got %v", err)
	}
}

func TestHouseholds(t *testing.T) {
	f := newFixture(t)

	if _, err := f.directory.CreateHousehold(f.ctx, f.resident, "estate1", "No. 8", ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for resident, got %v", err)
	}
	h, err := f.directory.CreateHousehold(f.ctx, f.admin, "estate1", "No. 8", "8 Palm Ave")
	if err != nil {
		t.Fatalf("CreateHousehold failed: %v", err)
	}

	list, err := f.directory.ListHouseholds(f.ctx, f.admin, "estate1")
	if err != nil {
		t.Fatalf("ListHouseholds failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 households, got %d", len(list))
	}

	h, err = f.directory.AddMember(f.ctx, f.admin, h.ID, "res1")
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if !h.Members["res1"] {
		t.Error("Expected res1 in new household")
	}
	old, _ := f.directory.GetHousehold(f.ctx, f.admin, "house1")
	if old.Members["res1"] {
		t.Error("Moving a member should remove them from the old household")
	}
	actor, _, _ := f.directory.ResolveActor(f.ctx, "res1", "res1@example.com")
	if actor.HouseholdID != h.ID {
		t.Errorf("Expected user household %s, got %s", h.ID, actor.HouseholdID)
	}

	h, err = f.directory.RemoveMember(f.ctx, f.admin, h.ID, "res1")
	if err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if h.Members["res1"] {
		t.Error("res1 should be removed")
	}
	actor, _, _ = f.directory.ResolveActor(f.ctx, "res1", "res1@example.com")
	if actor.HouseholdID != "" {
		t.Errorf("Expected no household, got %s", actor.HouseholdID)
	}
}
