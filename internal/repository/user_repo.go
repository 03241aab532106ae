package repository

import (
	"context"
	"errors"

	"pspgateway/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

func (r *UserRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.User, error) {
	var user model.User
	err := r.conn(ctx, tx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*model.User, error) {
	var user model.User
	err := r.conn(ctx, tx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, tx *gorm.DB, user *model.User) error {
	return r.conn(ctx, tx).Create(user).Error
}

func (r *UserRepository) UpdateEmail(ctx context.Context, tx *gorm.DB, id, email string) error {
	return r.conn(ctx, tx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("email", email).Error
}

func (r *UserRepository) GetProfile(ctx context.Context, tx *gorm.DB, userID string) (*model.Profile, error) {
	var profile model.Profile
	err := r.conn(ctx, tx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// UpsertProfile 合并更新：只写入 fields 中出现的列，未提供的字段保持原值
func (r *UserRepository) UpsertProfile(ctx context.Context, tx *gorm.DB, userID string, fields map[string]interface{}) error {
	existing, err := r.GetProfile(ctx, tx, userID)
	if err != nil {
		return err
	}

	if existing == nil {
		profile := &model.Profile{UserID: userID}
		if err := r.conn(ctx, tx).Create(profile).Error; err != nil {
			return err
		}
	}

	if len(fields) == 0 {
		return nil
	}

	return r.conn(ctx, tx).
		Model(&model.Profile{}).
		Where("user_id = ?", userID).
		Updates(fields).Error
}
