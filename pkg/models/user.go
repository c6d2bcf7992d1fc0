package models

type Role string

const (
	RoleResident Role = "resident"
	RoleGuard    Role = "guard"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleResident || r == RoleGuard || r == RoleAdmin
}

type UserStatus string

const (
	UserPending   UserStatus = "pending"
	UserApproved  UserStatus = "approved"
	UserRejected  UserStatus = "rejected"
	UserSuspended UserStatus = "suspended"
)

// User is keyed by the Firebase UID.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Phone       string     `json:"phone,omitempty"`
	Role        Role       `json:"role"`
	Status      UserStatus `json:"status"`
	EstateID    string     `json:"estateId,omitempty"`
	HouseholdID string     `json:"householdId,omitempty"`
	CreatedAt   int64      `json:"createdAt"`
	ApprovedBy  string     `json:"approvedBy,omitempty"`
	ApprovedAt  *int64     `json:"approvedAt,omitempty"`
}

type Estate struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Address   string          `json:"address,omitempty"`
	AdminIDs  map[string]bool `json:"adminIds,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

type Household struct {
	ID        string          `json:"id"`
	EstateID  string          `json:"estateId"`
	Name      string          `json:"name"`
	Address   string          `json:"address,omitempty"`
	Members   map[string]bool `json:"members,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

// Actor is the authenticated caller, resolved from the user record on every
// request rather than from token claims.
type Actor struct {
	UserID        string
	Email         string
	DisplayName   string
	Role          Role
	Status        UserStatus
	EstateID      string
	HouseholdID   string
	PlatformAdmin bool
}

// ActorFromUser builds an Actor from a stored user record.
func ActorFromUser(u *User, platformAdmin bool) Actor {
	return Actor{
		UserID:        u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role,
		Status:        u.Status,
		EstateID:      u.EstateID,
		HouseholdID:   u.HouseholdID,
		PlatformAdmin: platformAdmin,
	}
}

func (a Actor) Approved() bool {
	return a.PlatformAdmin || a.Status == UserApproved
}
