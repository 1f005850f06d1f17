package service

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/domain"
)

// ErrForbidden is re-exported so handlers and tests can match authorization
// failures without importing the domain package.
var ErrForbidden = domain.ErrForbidden

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked due to multiple failed login attempts")
	ErrAccountInactive    = errors.New("account is inactive")
)

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

type AuditEntry struct {
	UserID       uuid.UUID
	UserRoles    []domain.Role
	Action       domain.AuditAction
	ResourceType string
	ResourceID   string
	IPAddress    string
	RequestID    string
	Changes      string
}
