package services

import (
	"context"

	"github.com/kamikazebr/musa-estate/pkg/models"
)

// SecurityRecorder receives audit entries. Implementations must not block
// the caller on failure.
type SecurityRecorder interface {
	Record(ctx context.Context, entry models.SecurityLogEntry)
}

// Policy decides who may do what. Every check returns nil or one of
// ErrNotApproved, ErrForbidden, ErrUnauthorizedCode. Denials are recorded
// when a recorder is attached.
type Policy struct {
	audit SecurityRecorder
}

func NewPolicy(audit SecurityRecorder) *Policy {
	return &Policy{audit: audit}
}

// Audit records a sensitive action that was allowed.
func (p *Policy) Audit(ctx context.Context, entry models.SecurityLogEntry) {
	if p != nil && p.audit != nil {
		p.audit.Record(ctx, entry)
	}
}

func (p *Policy) deny(ctx context.Context, actor models.Actor, what, target string, err error) error {
	p.Audit(ctx, models.SecurityLogEntry{
		EstateID: actor.EstateID,
		ActorID:  actor.UserID,
		Action:   models.SecurityActionAccessDenied,
		TargetID: target,
		Details:  map[string]string{"operation": what, "reason": err.Error()},
	})
	return err
}

func (p *Policy) requireApproved(ctx context.Context, actor models.Actor, what, target string) error {
	if actor.UserID == "" || !actor.Approved() {
		return p.deny(ctx, actor, what, target, ErrNotApproved)
	}
	return nil
}

// isEstateAdmin reports whether actor administers estateID. Platform admins
// administer every estate.
func isEstateAdmin(actor models.Actor, estateID string) bool {
	if actor.PlatformAdmin {
		return true
	}
	return actor.Role == models.RoleAdmin && estateID != "" && actor.EstateID == estateID
}

func isHouseholdMember(actor models.Actor, h *models.Household) bool {
	if h == nil {
		return false
	}
	return h.Members[actor.UserID] || (actor.HouseholdID != "" && actor.HouseholdID == h.ID)
}

// CanUseHousehold covers reading a household's codes and messages and
// creating codes for it.
func (p *Policy) CanUseHousehold(ctx context.Context, actor models.Actor, h *models.Household) error {
	if err := p.requireApproved(ctx, actor, "household", h.ID); err != nil {
		return err
	}
	if isHouseholdMember(actor, h) || isEstateAdmin(actor, h.EstateID) {
		return nil
	}
	return p.deny(ctx, actor, "household", h.ID, ErrForbidden)
}

// CanReadCode allows the owner, the owner's household and its estate admins.
func (p *Policy) CanReadCode(ctx context.Context, actor models.Actor, code *models.AccessCode, h *models.Household) error {
	if err := p.requireApproved(ctx, actor, "read_code", code.ID); err != nil {
		return err
	}
	if code.OwnerID == actor.UserID {
		return nil
	}
	if h != nil && (isHouseholdMember(actor, h) || isEstateAdmin(actor, h.EstateID)) {
		return nil
	}
	return p.deny(ctx, actor, "read_code", code.ID, ErrUnauthorizedCode)
}

// CanDeactivateCode allows only the code's owner.
func (p *Policy) CanDeactivateCode(ctx context.Context, actor models.Actor, code *models.AccessCode) error {
	if err := p.requireApproved(ctx, actor, "deactivate_code", code.ID); err != nil {
		return err
	}
	if code.OwnerID != actor.UserID {
		return p.deny(ctx, actor, "deactivate_code", code.ID, ErrUnauthorizedCode)
	}
	return nil
}

func (p *Policy) CanListCodesOf(ctx context.Context, actor models.Actor, ownerID string) error {
	if err := p.requireApproved(ctx, actor, "list_codes", ownerID); err != nil {
		return err
	}
	if actor.UserID == ownerID || actor.PlatformAdmin {
		return nil
	}
	return p.deny(ctx, actor, "list_codes", ownerID, ErrForbidden)
}

// CanVerify allows approved guards and admins.
func (p *Policy) CanVerify(ctx context.Context, actor models.Actor) error {
	if err := p.requireApproved(ctx, actor, "verify", ""); err != nil {
		return err
	}
	if actor.PlatformAdmin || actor.Role == models.RoleGuard || actor.Role == models.RoleAdmin {
		return nil
	}
	return p.deny(ctx, actor, "verify", "", ErrForbidden)
}

// CanReadGuardActivity allows the guard themself and admins of the guard's
// estate.
func (p *Policy) CanReadGuardActivity(ctx context.Context, actor models.Actor, guardID, guardEstateID string) error {
	if err := p.requireApproved(ctx, actor, "guard_activity", guardID); err != nil {
		return err
	}
	if actor.UserID == guardID || isEstateAdmin(actor, guardEstateID) {
		return nil
	}
	return p.deny(ctx, actor, "guard_activity", guardID, ErrForbidden)
}

func (p *Policy) CanReadEstateActivity(ctx context.Context, actor models.Actor) error {
	if err := p.requireApproved(ctx, actor, "estate_activity", actor.EstateID); err != nil {
		return err
	}
	if actor.PlatformAdmin || actor.Role == models.RoleAdmin {
		return nil
	}
	return p.deny(ctx, actor, "estate_activity", actor.EstateID, ErrForbidden)
}

// CanUseMailbox allows a user to touch only their own notifications.
func (p *Policy) CanUseMailbox(ctx context.Context, actor models.Actor, userID string) error {
	if err := p.requireApproved(ctx, actor, "notifications", userID); err != nil {
		return err
	}
	if actor.UserID != userID {
		return p.deny(ctx, actor, "notifications", userID, ErrForbidden)
	}
	return nil
}

// CanReadUser lets unapproved users read only their own profile.
func (p *Policy) CanReadUser(ctx context.Context, actor models.Actor, u *models.User) error {
	if actor.UserID != "" && actor.UserID == u.ID {
		return nil
	}
	if err := p.requireApproved(ctx, actor, "read_user", u.ID); err != nil {
		return err
	}
	if isEstateAdmin(actor, u.EstateID) {
		return nil
	}
	return p.deny(ctx, actor, "read_user", u.ID, ErrForbidden)
}

// CanReviewUser covers approve, reject and suspend.
func (p *Policy) CanReviewUser(ctx context.Context, actor models.Actor, u *models.User) error {
	if err := p.requireApproved(ctx, actor, "review_user", u.ID); err != nil {
		return err
	}
	if actor.UserID == u.ID && !actor.PlatformAdmin {
		return p.deny(ctx, actor, "review_user", u.ID, ErrForbidden)
	}
	if isEstateAdmin(actor, u.EstateID) {
		return nil
	}
	return p.deny(ctx, actor, "review_user", u.ID, ErrForbidden)
}

func (p *Policy) CanCreateEstate(ctx context.Context, actor models.Actor) error {
	if !actor.PlatformAdmin {
		return p.deny(ctx, actor, "create_estate", "", ErrForbidden)
	}
	return nil
}

func (p *Policy) CanAdministerEstate(ctx context.Context, actor models.Actor, estateID string) error {
	if err := p.requireApproved(ctx, actor, "administer_estate", estateID); err != nil {
		return err
	}
	if isEstateAdmin(actor, estateID) {
		return nil
	}
	return p.deny(ctx, actor, "administer_estate", estateID, ErrForbidden)
}
