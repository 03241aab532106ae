package repository

import (
	"context"
	"errors"

	"pspgateway/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PSPRepository struct {
	db *gorm.DB
}

func NewPSPRepository(db *gorm.DB) *PSPRepository {
	return &PSPRepository{db: db}
}

// ListActive 按 psp_name 升序返回启用中的 PSP
func (r *PSPRepository) ListActive(ctx context.Context) ([]model.PSPCondition, error) {
	var psps []model.PSPCondition
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("psp_name ASC").
		Find(&psps).Error
	return psps, err
}

func (r *PSPRepository) ListAll(ctx context.Context) ([]model.PSPCondition, error) {
	var psps []model.PSPCondition
	err := r.db.WithContext(ctx).Order("psp_name ASC").Find(&psps).Error
	return psps, err
}

func (r *PSPRepository) GetByID(ctx context.Context, id string) (*model.PSPCondition, error) {
	var psp model.PSPCondition
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&psp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPSPNotFound
		}
		return nil, err
	}
	return &psp, nil
}

func (r *PSPRepository) GetByName(ctx context.Context, name string) (*model.PSPCondition, error) {
	var psp model.PSPCondition
	err := r.db.WithContext(ctx).Where("psp_name = ?", name).First(&psp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPSPNotFound
		}
		return nil, err
	}
	return &psp, nil
}

// Upsert 按名称新增或更新目录条目，已停用的条目会被重新启用
func (r *PSPRepository) Upsert(ctx context.Context, psp *model.PSPCondition) error {
	existing, err := r.GetByName(ctx, psp.PSPName)
	if err != nil && !errors.Is(err, ErrPSPNotFound) {
		return err
	}

	if existing == nil {
		if psp.ID == "" {
			psp.ID = uuid.NewString()
		}
		psp.Active = true
		return r.db.WithContext(ctx).Create(psp).Error
	}

	psp.ID = existing.ID
	psp.Active = true
	return r.db.WithContext(ctx).
		Model(&model.PSPCondition{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"fixed_fee":      psp.FixedFee,
			"percentage_fee": psp.PercentageFee,
			"currency":       psp.Currency,
			"active":         true,
		}).Error
}

// Deactivate 软删除，已有的用户开通记录不受影响
//
// MySQL 的 RowsAffected 只统计实际变化的行，已停用的行会得到 0，所以先按名称查存在性。
func (r *PSPRepository) Deactivate(ctx context.Context, name string) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.PSPCondition{}).
		Where("psp_name = ?", name).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrPSPNotFound
	}

	return r.db.WithContext(ctx).
		Model(&model.PSPCondition{}).
		Where("psp_name = ?", name).
		Update("active", false).Error
}
