package repository

import (
	"context"
	"errors"

	"pspgateway/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EnablementRepository 用户开通记录：user_psp、user_psp_conditions、provider_credentials
//
// 所有关联都按 psp_id 连接，不再按 psp_name 做等值匹配。
type EnablementRepository struct {
	db *gorm.DB
}

func NewEnablementRepository(db *gorm.DB) *EnablementRepository {
	return &EnablementRepository{db: db}
}

func (r *EnablementRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

// Exists 命中 ux_user_psp_pair 唯一索引的一次查询
func (r *EnablementRepository) Exists(ctx context.Context, userID, pspID string) (bool, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.UserPSP{}).
		Where("user_id = ? AND psp_id = ?", userID, pspID).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// CircuitExists 卡组织级别的授权校验，只认 active 的记录
func (r *EnablementRepository) CircuitExists(ctx context.Context, userID, pspID, circuit string) (bool, error) {
	_, err := r.GetCondition(ctx, userID, pspID, circuit)
	if err != nil {
		if errors.Is(err, ErrConditionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *EnablementRepository) GetCondition(ctx context.Context, userID, pspID, circuit string) (*model.UserPSPCondition, error) {
	var cond model.UserPSPCondition
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND psp_id = ? AND circuit_name = ? AND active = ?", userID, pspID, circuit, true).
		First(&cond).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConditionNotFound
		}
		return nil, err
	}
	return &cond, nil
}

// EnsureUserPSP 不存在时创建 user_psp 记录，返回是否新建
func (r *EnablementRepository) EnsureUserPSP(ctx context.Context, tx *gorm.DB, userID, pspID string) (bool, error) {
	var existing model.UserPSP
	err := r.conn(ctx, tx).Where("user_id = ? AND psp_id = ?", userID, pspID).First(&existing).Error
	if err == nil {
		if !existing.AcceptedTerms {
			return false, r.conn(ctx, tx).
				Model(&model.UserPSP{}).
				Where("id = ?", existing.ID).
				Update("accepted_terms", true).Error
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	row := &model.UserPSP{
		ID:            uuid.NewString(),
		UserID:        userID,
		PSPID:         pspID,
		AcceptedTerms: true,
	}
	return true, r.conn(ctx, tx).Create(row).Error
}

// ConditionExists 不区分 active，用于唯一性检查
func (r *EnablementRepository) ConditionExists(ctx context.Context, tx *gorm.DB, userID, pspID, circuit string) (bool, error) {
	var ids []string
	err := r.conn(ctx, tx).
		Model(&model.UserPSPCondition{}).
		Where("user_id = ? AND psp_id = ? AND circuit_name = ?", userID, pspID, circuit).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *EnablementRepository) CreateCondition(ctx context.Context, tx *gorm.DB, cond *model.UserPSPCondition) error {
	if cond.ID == "" {
		cond.ID = uuid.NewString()
	}
	return r.conn(ctx, tx).Create(cond).Error
}

// ListConditions 用户所有卡组织授权，按开通时间排序
func (r *EnablementRepository) ListConditions(ctx context.Context, userID string) ([]model.UserPSPCondition, error) {
	var conds []model.UserPSPCondition
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&conds).Error
	return conds, err
}

// GetCredential 用户自有的 PSP 凭证，没有时返回 nil, nil
func (r *EnablementRepository) GetCredential(ctx context.Context, userID, pspID string) (*model.ProviderCredential, error) {
	var cred model.ProviderCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND psp_id = ?", userID, pspID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (r *EnablementRepository) SaveCredential(ctx context.Context, cred *model.ProviderCredential) error {
	existing, err := r.GetCredential(ctx, cred.UserID, cred.PSPID)
	if err != nil {
		return err
	}
	if existing == nil {
		if cred.ID == "" {
			cred.ID = uuid.NewString()
		}
		return r.db.WithContext(ctx).Create(cred).Error
	}
	cred.ID = existing.ID
	return r.db.WithContext(ctx).
		Model(&model.ProviderCredential{}).
		Where("id = ?", existing.ID).
		Update("config", cred.Config).Error
}
