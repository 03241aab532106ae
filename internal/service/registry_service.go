package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"pspgateway/internal/model"
	"pspgateway/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const catalogCacheKey = "psp:catalog:active"

// RegistryService PSP 目录
//
// redisClient 为 nil 时不走缓存。缓存只是加速，读写 Redis 出错都回落到数据库。
type RegistryService struct {
	pspRepo     *repository.PSPRepository
	redisClient *redis.Client
	cacheTTL    time.Duration
	log         *zap.Logger
}

func NewRegistryService(db *gorm.DB, redisClient *redis.Client, cacheTTL time.Duration, log *zap.Logger) *RegistryService {
	return &RegistryService{
		pspRepo:     repository.NewPSPRepository(db),
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		log:         log,
	}
}

// ListActive 启用中的 PSP，按名称升序
func (s *RegistryService) ListActive(ctx context.Context) ([]model.PSPCondition, error) {
	if cached, ok := s.readCache(ctx); ok {
		return cached, nil
	}

	psps, err := s.pspRepo.ListActive(ctx)
	if err != nil {
		return nil, PersistenceError("查询 PSP 目录失败", err)
	}

	s.writeCache(ctx, psps)
	return psps, nil
}

func (s *RegistryService) Get(ctx context.Context, id string) (*model.PSPCondition, error) {
	psp, err := s.pspRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPSPNotFound) {
			return nil, NotFoundError("psp not found")
		}
		return nil, PersistenceError("查询 PSP 失败", err)
	}
	return psp, nil
}

func (s *RegistryService) GetByName(ctx context.Context, name string) (*model.PSPCondition, error) {
	psp, err := s.pspRepo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrPSPNotFound) {
			return nil, NotFoundError("psp not found")
		}
		return nil, PersistenceError("查询 PSP 失败", err)
	}
	return psp, nil
}

func (s *RegistryService) ListAll(ctx context.Context) ([]model.PSPCondition, error) {
	psps, err := s.pspRepo.ListAll(ctx)
	if err != nil {
		return nil, PersistenceError("查询 PSP 目录失败", err)
	}
	return psps, nil
}

// Upsert 新增或更新目录条目，费率不能为负
func (s *RegistryService) Upsert(ctx context.Context, name string, fixedFee, percentageFee decimal.Decimal, currency string) (*model.PSPCondition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ValidationError("psp_name required")
	}
	if fixedFee.IsNegative() || percentageFee.IsNegative() {
		return nil, ValidationError("fees must be non-negative")
	}
	if currency == "" {
		currency = model.DefaultCurrency
	}

	psp := &model.PSPCondition{
		PSPName:       name,
		FixedFee:      fixedFee,
		PercentageFee: percentageFee,
		Currency:      strings.ToUpper(currency),
	}
	if err := s.pspRepo.Upsert(ctx, psp); err != nil {
		return nil, PersistenceError("保存 PSP 失败", err)
	}

	s.InvalidateCache(ctx)
	s.log.Info("PSP 目录已更新", zap.String("psp_name", name), zap.String("psp_id", psp.ID))
	return psp, nil
}

// Deactivate 软删除，已开通的用户不受影响
func (s *RegistryService) Deactivate(ctx context.Context, name string) error {
	if err := s.pspRepo.Deactivate(ctx, name); err != nil {
		if errors.Is(err, repository.ErrPSPNotFound) {
			return NotFoundError("psp not found")
		}
		return PersistenceError("停用 PSP 失败", err)
	}

	s.InvalidateCache(ctx)
	s.log.Info("PSP 已停用", zap.String("psp_name", name))
	return nil
}

func (s *RegistryService) InvalidateCache(ctx context.Context) {
	if s.redisClient == nil {
		return
	}
	if err := s.redisClient.Del(ctx, catalogCacheKey).Err(); err != nil {
		s.log.Warn("清除目录缓存失败", zap.Error(err))
	}
}

func (s *RegistryService) readCache(ctx context.Context) ([]model.PSPCondition, bool) {
	if s.redisClient == nil {
		return nil, false
	}

	raw, err := s.redisClient.Get(ctx, catalogCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("读取目录缓存失败", zap.Error(err))
		}
		return nil, false
	}

	var psps []model.PSPCondition
	if err := json.Unmarshal(raw, &psps); err != nil {
		s.log.Warn("目录缓存格式错误", zap.Error(err))
		return nil, false
	}
	return psps, true
}

func (s *RegistryService) writeCache(ctx context.Context, psps []model.PSPCondition) {
	if s.redisClient == nil || s.cacheTTL <= 0 {
		return
	}

	raw, err := json.Marshal(psps)
	if err != nil {
		return
	}
	if err := s.redisClient.Set(ctx, catalogCacheKey, raw, s.cacheTTL).Err(); err != nil {
		s.log.Warn("写入目录缓存失败", zap.Error(err))
	}
}
