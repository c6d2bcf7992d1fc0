package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kamikazebr/musa-estate/internal/server/outbox"
	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"github.com/kamikazebr/musa-estate/pkg/utils"
)

// RegisterInput carries the profile fields a user picks at sign-up.
type RegisterInput struct {
	DisplayName string
	Phone       string
	Role        models.Role
	EstateID    string
	HouseholdID string
}

// DirectoryService owns users, estates and households.
type DirectoryService struct {
	tree            rtdb.Tree
	policy          *Policy
	queue           outbox.Queue
	isPlatformAdmin func(email string) bool
	platformAdmins  []string
	now             func() time.Time
}

func NewDirectoryService(tree rtdb.Tree, policy *Policy, queue outbox.Queue, platformAdmins []string) *DirectoryService {
	admins := make(map[string]bool, len(platformAdmins))
	for _, e := range platformAdmins {
		admins[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &DirectoryService{
		tree:   tree,
		policy: policy,
		queue:  queue,
		isPlatformAdmin: func(email string) bool {
			return admins[strings.ToLower(strings.TrimSpace(email))]
		},
		platformAdmins: platformAdmins,
		now:            time.Now,
	}
}

// ResolveActor loads the caller's current user record. Role and status come
// from the record, never from the token. Platform admins resolve even
// without a record.
func (s *DirectoryService) ResolveActor(ctx context.Context, userID, email string) (models.Actor, *models.User, error) {
	u, err := loadUser(ctx, s.tree, userID)
	if err != nil {
		return models.Actor{}, nil, err
	}
	platform := s.isPlatformAdmin(email)
	if u == nil {
		if !platform {
			return models.Actor{}, nil, ErrUserNotFound
		}
		return models.Actor{UserID: userID, Email: email, Role: models.RoleAdmin, Status: models.UserApproved, PlatformAdmin: true}, nil, nil
	}
	return models.ActorFromUser(u, platform), u, nil
}

// Register creates the caller's profile on first sign-in. Later calls return
// the stored profile unchanged.
func (s *DirectoryService) Register(ctx context.Context, userID, email string, in RegisterInput) (*models.User, bool, error) {
	if userID == "" || !utils.IsValidTreeKey(userID) {
		return nil, false, fmt.Errorf("%w: user id is malformed", ErrInvalidInput)
	}
	if !utils.IsValidEmail(strings.TrimSpace(email)) {
		return nil, false, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	existing, err := loadUser(ctx, s.tree, userID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	platform := s.isPlatformAdmin(email)
	role := in.Role
	if role != models.RoleGuard {
		role = models.RoleResident
	}

	u := &models.User{
		ID:          userID,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		DisplayName: strings.TrimSpace(in.DisplayName),
		Phone:       strings.TrimSpace(in.Phone),
		Role:        role,
		Status:      models.UserPending,
		CreatedAt:   utils.Millis(s.now()),
	}
	if u.DisplayName == "" {
		u.DisplayName = strings.Split(u.Email, "@")[0]
	}
	if platform {
		u.Role = models.RoleAdmin
		u.Status = models.UserApproved
		at := u.CreatedAt
		u.ApprovedAt = &at
		u.ApprovedBy = "platform"
	}

	var estate *models.Estate
	if in.EstateID != "" && !platform {
		estate, err = loadEstate(ctx, s.tree, in.EstateID)
		if err != nil {
			return nil, false, err
		}
		if estate == nil {
			return nil, false, ErrEstateNotFound
		}
		u.EstateID = estate.ID

		if in.HouseholdID != "" && role == models.RoleResident {
			h, err := loadHousehold(ctx, s.tree, in.HouseholdID)
			if err != nil {
				return nil, false, err
			}
			if h == nil || h.EstateID != estate.ID {
				return nil, false, ErrHouseholdNotFound
			}
			u.HouseholdID = h.ID
		}
	}

	updates := map[string]interface{}{rtdb.Join(pathUsers, u.ID): u}
	if u.EstateID != "" {
		updates[rtdb.Join(pathUsersByEstate, u.EstateID, u.ID)] = true
	} else if u.Status == models.UserPending {
		updates[rtdb.Join(pathUsersWithoutEstate, u.ID)] = true
	}
	if err := s.tree.Update(ctx, "", updates); err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	log.Printf("Registered user %s (%s) as %s, status %s", u.ID, u.Email, u.Role, u.Status)

	if u.Status == models.UserPending {
		s.requestReview(ctx, u, estate)
	}
	return u, true, nil
}

// requestReview emails the estate admins, or the platform admins when the
// user picked no estate.
func (s *DirectoryService) requestReview(ctx context.Context, u *models.User, estate *models.Estate) {
	recipients := make([]string, 0)
	estateName := ""
	if estate != nil {
		estateName = estate.Name
		for adminID := range estate.AdminIDs {
			admin, err := loadUser(ctx, s.tree, adminID)
			if err != nil || admin == nil || admin.Email == "" {
				continue
			}
			recipients = append(recipients, admin.Email)
		}
	}
	if len(recipients) == 0 {
		recipients = append(recipients, s.platformAdmins...)
	}

	for _, to := range recipients {
		job := EmailJob{
			Template: EmailApprovalRequest,
			To:       to,
			Data: map[string]string{
				"name":   u.DisplayName,
				"email":  u.Email,
				"role":   string(u.Role),
				"estate": estateName,
			},
		}
		if err := outbox.Publish(ctx, s.queue, KindEmail, job); err != nil {
			log.Printf("Warning: failed to queue approval request email: %v", err)
		}
	}
}

// GetUser returns a profile the actor may see.
func (s *DirectoryService) GetUser(ctx context.Context, actor models.Actor, userID string) (*models.User, error) {
	u, err := loadUser(ctx, s.tree, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if err := s.policy.CanReadUser(ctx, actor, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ApproveUser activates a pending account and adds the user to their
// household.
func (s *DirectoryService) ApproveUser(ctx context.Context, actor models.Actor, userID string) (*models.User, error) {
	u, err := s.reviewable(ctx, actor, userID)
	if err != nil {
		return nil, err
	}

	now := utils.Millis(s.now())
	u.Status = models.UserApproved
	u.ApprovedBy = actor.UserID
	u.ApprovedAt = &now

	updates := map[string]interface{}{
		rtdb.Join(pathUsers, u.ID, "status"):     u.Status,
		rtdb.Join(pathUsers, u.ID, "approvedBy"): u.ApprovedBy,
		rtdb.Join(pathUsers, u.ID, "approvedAt"): now,
	}
	if u.HouseholdID != "" {
		updates[rtdb.Join(pathHouseholds, u.HouseholdID, "members", u.ID)] = true
	}
	if err := s.tree.Update(ctx, "", updates); err != nil {
		return nil, fmt.Errorf("failed to approve user: %w", err)
	}

	s.audit(ctx, actor, u, models.SecurityActionUserApproved, "")
	job := EmailJob{
		Template: EmailAccountApproved,
		To:       u.Email,
		Data:     map[string]string{"name": u.DisplayName},
	}
	if err := outbox.Publish(ctx, s.queue, KindEmail, job); err != nil {
		log.Printf("Warning: failed to queue approval email for %s: %v", u.ID, err)
	}
	return u, nil
}

func (s *DirectoryService) RejectUser(ctx context.Context, actor models.Actor, userID, reason string) (*models.User, error) {
	return s.setStatus(ctx, actor, userID, models.UserRejected, models.SecurityActionUserRejected, reason)
}

// SuspendUser blocks an account and removes it from its household.
func (s *DirectoryService) SuspendUser(ctx context.Context, actor models.Actor, userID, reason string) (*models.User, error) {
	return s.setStatus(ctx, actor, userID, models.UserSuspended, models.SecurityActionUserSuspended, reason)
}

func (s *DirectoryService) setStatus(ctx context.Context, actor models.Actor, userID string, status models.UserStatus, action, reason string) (*models.User, error) {
	u, err := s.reviewable(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	u.Status = status

	updates := map[string]interface{}{rtdb.Join(pathUsers, u.ID, "status"): status}
	if u.HouseholdID != "" {
		updates[rtdb.Join(pathHouseholds, u.HouseholdID, "members", u.ID)] = nil
	}
	if err := s.tree.Update(ctx, "", updates); err != nil {
		return nil, fmt.Errorf("failed to update user status: %w", err)
	}
	s.audit(ctx, actor, u, action, reason)
	return u, nil
}

func (s *DirectoryService) reviewable(ctx context.Context, actor models.Actor, userID string) (*models.User, error) {
	u, err := loadUser(ctx, s.tree, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if err := s.policy.CanReviewUser(ctx, actor, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *DirectoryService) audit(ctx context.Context, actor models.Actor, u *models.User, action, reason string) {
	details := map[string]string{"status": string(u.Status)}
	if reason != "" {
		details["reason"] = reason
	}
	s.policy.Audit(ctx, models.SecurityLogEntry{
		EstateID: u.EstateID,
		ActorID:  actor.UserID,
		Action:   action,
		TargetID: u.ID,
		Details:  details,
	})
}

// ListPending returns accounts awaiting review in an estate, oldest first.
// With no estate, a platform admin gets the accounts that picked none.
func (s *DirectoryService) ListPending(ctx context.Context, actor models.Actor, estateID string) ([]models.User, error) {
	if estateID == "" {
		estateID = actor.EstateID
	}
	if err := s.policy.CanAdministerEstate(ctx, actor, estateID); err != nil {
		return nil, err
	}

	index := rtdb.Join(pathUsersByEstate, estateID)
	if estateID == "" {
		index = pathUsersWithoutEstate
	}
	ids, err := indexKeys(ctx, s.tree, index)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending users: %w", err)
	}
	users, err := fetchAll[models.User](ctx, s.tree, pathUsers, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	pending := make([]models.User, 0)
	for _, u := range users {
		if u.Status == models.UserPending && u.EstateID == estateID {
			pending = append(pending, *u)
		}
	}
	sortNewestFirst(pending, func(u models.User) int64 { return -u.CreatedAt })
	return pending, nil
}

// CreateEstate is reserved to platform admins.
func (s *DirectoryService) CreateEstate(ctx context.Context, actor models.Actor, name, address string) (*models.Estate, error) {
	if err := s.policy.CanCreateEstate(ctx, actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: estate name is required", ErrInvalidInput)
	}
	estate := &models.Estate{
		ID:        s.tree.NewKey(),
		Name:      name,
		Address:   strings.TrimSpace(address),
		CreatedAt: utils.Millis(s.now()),
	}
	if err := s.tree.Set(ctx, rtdb.Join(pathEstates, estate.ID), estate); err != nil {
		return nil, fmt.Errorf("failed to create estate: %w", err)
	}
	log.Printf("Estate %s (%s) created by %s", estate.ID, estate.Name, actor.UserID)
	return estate, nil
}

func (s *DirectoryService) GetEstate(ctx context.Context, actor models.Actor, estateID string) (*models.Estate, error) {
	estate, err := loadEstate(ctx, s.tree, estateID)
	if err != nil {
		return nil, err
	}
	if estate == nil {
		return nil, ErrEstateNotFound
	}
	if !actor.PlatformAdmin && actor.EstateID != estate.ID {
		return nil, s.policy.deny(ctx, actor, "read_estate", estate.ID, ErrForbidden)
	}
	return estate, nil
}

// ListEstates returns every estate to platform admins and the actor's own
// estate to everyone else.
func (s *DirectoryService) ListEstates(ctx context.Context, actor models.Actor) ([]models.Estate, error) {
	if !actor.PlatformAdmin {
		if actor.EstateID == "" {
			return []models.Estate{}, nil
		}
		estate, err := loadEstate(ctx, s.tree, actor.EstateID)
		if err != nil {
			return nil, err
		}
		if estate == nil {
			return []models.Estate{}, nil
		}
		return []models.Estate{*estate}, nil
	}

	nodes, err := s.tree.Children(ctx, pathEstates, rtdb.Query{OrderByChild: "name"})
	if err != nil {
		return nil, fmt.Errorf("failed to list estates: %w", err)
	}
	return decodeNodes[models.Estate](nodes), nil
}

// AddEstateAdmin promotes a user to admin of the estate.
func (s *DirectoryService) AddEstateAdmin(ctx context.Context, actor models.Actor, estateID, userID string) (*models.Estate, error) {
	if err := s.policy.CanAdministerEstate(ctx, actor, estateID); err != nil {
		return nil, err
	}
	estate, err := loadEstate(ctx, s.tree, estateID)
	if err != nil {
		return nil, err
	}
	if estate == nil {
		return nil, ErrEstateNotFound
	}
	u, err := loadUser(ctx, s.tree, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if u.EstateID != "" && u.EstateID != estateID {
		return nil, fmt.Errorf("%w: user belongs to another estate", ErrConflict)
	}

	now := utils.Millis(s.now())
	updates := map[string]interface{}{
		rtdb.Join(pathEstates, estateID, "adminIds", userID): true,
		rtdb.Join(pathUsers, userID, "role"):                 models.RoleAdmin,
		rtdb.Join(pathUsers, userID, "estateId"):             estateID,
		rtdb.Join(pathUsersByEstate, estateID, userID):       true,
		rtdb.Join(pathUsersWithoutEstate, userID):            nil,
	}
	if u.Status != models.UserApproved {
		updates[rtdb.Join(pathUsers, userID, "status")] = models.UserApproved
		updates[rtdb.Join(pathUsers, userID, "approvedBy")] = actor.UserID
		updates[rtdb.Join(pathUsers, userID, "approvedAt")] = now
	}
	if err := s.tree.Update(ctx, "", updates); err != nil {
		return nil, fmt.Errorf("failed to add estate admin: %w", err)
	}

	if estate.AdminIDs == nil {
		estate.AdminIDs = make(map[string]bool)
	}
	estate.AdminIDs[userID] = true
	s.policy.Audit(ctx, models.SecurityLogEntry{
		EstateID: estateID,
		ActorID:  actor.UserID,
		Action:   models.SecurityActionEstateAdminAdded,
		TargetID: userID,
	})
	return estate, nil
}

// RemoveEstateAdmin demotes an estate admin back to resident.
func (s *DirectoryService) RemoveEstateAdmin(ctx context.Context, actor models.Actor, estateID, userID string) (*models.Estate, error) {
	if err := s.policy.CanAdministerEstate(ctx, actor, estateID); err != nil {
		return nil, err
	}
	estate, err := loadEstate(ctx, s.tree, estateID)
	if err != nil {
		return nil, err
	}
	if estate == nil {
		return nil, ErrEstateNotFound
	}
	if !estate.AdminIDs[userID] {
		return nil, ErrUserNotFound
	}

	err = s.tree.Update(ctx, "", map[string]interface{}{
		rtdb.Join(pathEstates, estateID, "adminIds", userID): nil,
		rtdb.Join(pathUsers, userID, "role"):                 models.RoleResident,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove estate admin: %w", err)
	}

	delete(estate.AdminIDs, userID)
	s.policy.Audit(ctx, models.SecurityLogEntry{
		EstateID: estateID,
		ActorID:  actor.UserID,
		Action:   models.SecurityActionEstateAdminGone,
		TargetID: userID,
	})
	return estate, nil
}

func (s *DirectoryService) CreateHousehold(ctx context.Context, actor models.Actor, estateID, name, address string) (*models.Household, error) {
	if err := s.policy.CanAdministerEstate(ctx, actor, estateID); err != nil {
		return nil, err
	}
	estate, err := loadEstate(ctx, s.tree, estateID)
	if err != nil {
		return nil, err
	}
	if estate == nil {
		return nil, ErrEstateNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: household name is required", ErrInvalidInput)
	}

	h := &models.Household{
		ID:        s.tree.NewKey(),
		EstateID:  estate.ID,
		Name:      name,
		Address:   strings.TrimSpace(address),
		CreatedAt: utils.Millis(s.now()),
	}
	err = s.tree.Update(ctx, "", map[string]interface{}{
		rtdb.Join(pathHouseholds, h.ID):                    h,
		rtdb.Join(pathHouseholdsByEstate, estate.ID, h.ID): true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create household: %w", err)
	}
	return h, nil
}

func (s *DirectoryService) GetHousehold(ctx context.Context, actor models.Actor, householdID string) (*models.Household, error) {
	h, err := loadHousehold(ctx, s.tree, householdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrHouseholdNotFound
	}
	if err := s.policy.CanUseHousehold(ctx, actor, h); err != nil {
		return nil, err
	}
	return h, nil
}

// AddMember places a user of the same estate in the household.
func (s *DirectoryService) AddMember(ctx context.Context, actor models.Actor, householdID, userID string) (*models.Household, error) {
	h, err := s.administeredHousehold(ctx, actor, householdID)
	if err != nil {
		return nil, err
	}
	u, err := loadUser(ctx, s.tree, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if u.EstateID != "" && u.EstateID != h.EstateID {
		return nil, fmt.Errorf("%w: user belongs to another estate", ErrConflict)
	}

	updates := map[string]interface{}{
		rtdb.Join(pathHouseholds, h.ID, "members", userID): true,
		rtdb.Join(pathUsers, userID, "householdId"):        h.ID,
		rtdb.Join(pathUsers, userID, "estateId"):           h.EstateID,
		rtdb.Join(pathUsersByEstate, h.EstateID, userID):   true,
		rtdb.Join(pathUsersWithoutEstate, userID):          nil,
	}
	if u.HouseholdID != "" && u.HouseholdID != h.ID {
		updates[rtdb.Join(pathHouseholds, u.HouseholdID, "members", userID)] = nil
	}
	if err := s.tree.Update(ctx, "", updates); err != nil {
		return nil, fmt.Errorf("failed to add household member: %w", err)
	}

	if h.Members == nil {
		h.Members = make(map[string]bool)
	}
	h.Members[userID] = true
	return h, nil
}

func (s *DirectoryService) RemoveMember(ctx context.Context, actor models.Actor, householdID, userID string) (*models.Household, error) {
	h, err := s.administeredHousehold(ctx, actor, householdID)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		rtdb.Join(pathHouseholds, h.ID, "members", userID): nil,
	}
	u, err := loadUser(ctx, s.tree, userID)
	if err != nil {
		return nil, err
	}
	if u != nil && u.HouseholdID == h.ID {
		updates[rtdb.Join(pathUsers, userID, "householdId")] = nil
	}
	if err := s.tree.Update(ctx, "", updates); err != nil {
		return nil, fmt.Errorf("failed to remove household member: %w", err)
	}
	delete(h.Members, userID)
	return h, nil
}

func (s *DirectoryService) ListHouseholds(ctx context.Context, actor models.Actor, estateID string) ([]models.Household, error) {
	if estateID == "" {
		estateID = actor.EstateID
	}
	if err := s.policy.CanAdministerEstate(ctx, actor, estateID); err != nil {
		return nil, err
	}
	ids, err := indexKeys(ctx, s.tree, rtdb.Join(pathHouseholdsByEstate, estateID))
	if err != nil {
		return nil, fmt.Errorf("failed to read estate households: %w", err)
	}
	records, err := fetchAll[models.Household](ctx, s.tree, pathHouseholds, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load households: %w", err)
	}
	out := make([]models.Household, 0, len(records))
	for _, h := range records {
		out = append(out, *h)
	}
	sortNewestFirst(out, func(h models.Household) int64 { return h.CreatedAt })
	return out, nil
}

func (s *DirectoryService) administeredHousehold(ctx context.Context, actor models.Actor, householdID string) (*models.Household, error) {
	h, err := loadHousehold(ctx, s.tree, householdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrHouseholdNotFound
	}
	if err := s.policy.CanAdministerEstate(ctx, actor, h.EstateID); err != nil {
		return nil, err
	}
	return h, nil
}
