package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/pkg/database"
)

const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) conn(h database.TxHandle) *gorm.DB {
	if h != nil && h.DB() != nil {
		return h.DB()
	}
	return r.db
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, "email = ? AND deleted_at IS NULL", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, "id = ? AND deleted_at IS NULL", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetDoctorByID loads the user inside the caller's transaction and checks the
// doctor role, so doctor existence holds for the rest of the transaction.
func (r *UserRepository) GetDoctorByID(ctx context.Context, h database.TxHandle, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.conn(h).WithContext(ctx).First(&u, "id = ? AND deleted_at IS NULL", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	if !u.HasRole(domain.RoleDoctor) {
		return nil, domain.ErrDoctorNotFound
	}
	return &u, nil
}

func (r *UserRepository) UpdateLoginAttempt(ctx context.Context, id uuid.UUID, success bool) error {
	if success {
		return r.db.WithContext(ctx).Model(&domain.User{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"failed_login_count": 0,
				"locked_until":       nil,
				"last_login_at":      time.Now(),
			}).Error
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.First(&u, "id = ?", id).Error; err != nil {
			return err
		}
		updates := map[string]any{"failed_login_count": u.FailedLoginCount + 1}
		if u.FailedLoginCount+1 >= maxFailedLogins {
			updates["locked_until"] = time.Now().Add(lockoutDuration)
		}
		return tx.Model(&domain.User{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash":       hash,
			"password_changed_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
