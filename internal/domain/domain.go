package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/pkg/database"
)

type Role string

const (
	RoleStaff      Role = "staff"
	RoleDoctor     Role = "doctor"
	RoleClinicHead Role = "clinic_head"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleStaff, RoleDoctor, RoleClinicHead:
		return true
	}
	return false
}

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDoctorNotFound = errors.New("doctor not found")

	// ErrForbidden is returned whenever role, ownership, or timing rules deny
	// an operation to the acting user.
	ErrForbidden = errors.New("forbidden: insufficient permissions")
)

type User struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	Email        string `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;type:varchar(255);not null"`
	FirstName    string `gorm:"column:first_name;type:varchar(100);not null"`
	LastName     string `gorm:"column:last_name;type:varchar(100);not null"`

	// A user may hold several roles at once, e.g. a clinic head who also
	// practices as a doctor.
	Roles []Role `gorm:"column:roles;serializer:json"`

	IsActive          bool       `gorm:"column:is_active;default:true;index"`
	FailedLoginCount  int        `gorm:"column:failed_login_count;default:0"`
	LockedUntil       *time.Time `gorm:"column:locked_until"`
	LastLoginAt       *time.Time `gorm:"column:last_login_at"`
	PasswordChangedAt time.Time  `gorm:"column:password_changed_at"`
}

func (User) TableName() string {
	return "auth.users"
}

// IsLocked returns true if the account is temporarily locked due to failed logins.
func (u *User) IsLocked() bool {
	return u.LockedUntil != nil && time.Now().Before(*u.LockedUntil)
}

func (u *User) HasRole(r Role) bool {
	for _, have := range u.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// Actor is the authorization view of a user: the id plus role predicates
// computed once, so business rules never re-scan the roles slice.
type Actor struct {
	ID uuid.UUID

	doctor     bool
	clinicHead bool
	staff      bool
}

func NewActor(id uuid.UUID, roles []Role) *Actor {
	a := &Actor{ID: id}
	for _, r := range roles {
		switch r {
		case RoleDoctor:
			a.doctor = true
		case RoleClinicHead:
			a.clinicHead = true
		case RoleStaff:
			a.staff = true
		}
	}
	return a
}

func (a *Actor) IsDoctor() bool     { return a.doctor }
func (a *Actor) IsClinicHead() bool { return a.clinicHead }
func (a *Actor) IsStaff() bool      { return a.staff }

// IsDoctorOnly reports a doctor without clinic-head privileges; such actors are
// restricted to their own appointments.
func (a *Actor) IsDoctorOnly() bool { return a.doctor && !a.clinicHead }

// UserRepository resolves users for authentication and for doctor lookups
// inside scheduling transactions.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetDoctorByID loads a user inside the given transaction and verifies the
	// doctor role. Returns ErrDoctorNotFound if absent or not a doctor.
	GetDoctorByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*User, error)

	UpdateLoginAttempt(ctx context.Context, id uuid.UUID, success bool) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionRead   AuditAction = "read"
	ActionUpdate AuditAction = "update"
	ActionDelete AuditAction = "delete"
	ActionLogin  AuditAction = "login"
)

type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	// Who
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	UserRoles []Role    `gorm:"column:user_roles;serializer:json"`
	IPAddress string    `gorm:"column:ip_address;type:varchar(45)"` // Supports IPv6

	// What
	Action       AuditAction `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string      `gorm:"column:resource_id;type:varchar(50);index"`

	RequestID string `gorm:"column:request_id;type:varchar(50);index"`
	Changes   string `gorm:"column:changes;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"` // Always "Bearer"
}

type Claims struct {
	UserID uuid.UUID `json:"sub"`
	Email  string    `json:"email"`
	Roles  []Role    `json:"roles"`
}
