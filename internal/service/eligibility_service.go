package service

import (
	"context"

	"pspgateway/internal/repository"

	"gorm.io/gorm"
)

// EligibilityService 默认拒绝：查不到开通记录即不允许，存储出错直接返回错误
type EligibilityService struct {
	enablementRepo *repository.EnablementRepository
}

func NewEligibilityService(db *gorm.DB) *EligibilityService {
	return &EligibilityService{enablementRepo: repository.NewEnablementRepository(db)}
}

func (s *EligibilityService) IsEnabled(ctx context.Context, userID, pspID string) (bool, error) {
	if userID == "" || pspID == "" {
		return false, nil
	}
	ok, err := s.enablementRepo.Exists(ctx, userID, pspID)
	if err != nil {
		return false, PersistenceError("查询开通记录失败", err)
	}
	return ok, nil
}

func (s *EligibilityService) IsCircuitEnabled(ctx context.Context, userID, pspID, circuit string) (bool, error) {
	if userID == "" || pspID == "" || circuit == "" {
		return false, nil
	}
	ok, err := s.enablementRepo.CircuitExists(ctx, userID, pspID, circuit)
	if err != nil {
		return false, PersistenceError("查询卡组织授权失败", err)
	}
	return ok, nil
}
