package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pspgateway/internal/model"
	"pspgateway/internal/provider"
	"pspgateway/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Identity 身份提供方 token 中的用户信息
type Identity struct {
	Subject string
	Email   string
}

type ProfileInput struct {
	Name         string `json:"name"`
	Surname      string `json:"surname"`
	BusinessName string `json:"business_name"`
	VATID        string `json:"vat_id"`
	Phone        string `json:"phone"`
}

// fields 只包含非空字段，合并更新时不会清空已有资料
func (p ProfileInput) fields() map[string]interface{} {
	fields := map[string]interface{}{}
	set := func(col, val string) {
		if v := strings.TrimSpace(val); v != "" {
			fields[col] = v
		}
	}
	set("name", p.Name)
	set("surname", p.Surname)
	set("business_name", p.BusinessName)
	set("vat_id", p.VATID)
	set("phone", p.Phone)
	return fields
}

type Selection struct {
	PSPID   string `json:"psp_id"`
	Circuit string `json:"circuit"`
}

type ActivateRequest struct {
	Profile    ProfileInput `json:"profile"`
	Selections []Selection  `json:"selections"`
}

// EnabledCircuit 用户已开通的卡组织及快照费率
type EnabledCircuit struct {
	PSPID         string `json:"psp_id"`
	PSPName       string `json:"psp_name"`
	Circuit       string `json:"circuit"`
	FixedFee      string `json:"fixed_fee"`
	PercentageFee string `json:"percentage_fee"`
	Currency      string `json:"currency"`
	Active        bool   `json:"active"`
}

type ActivationService struct {
	db             *gorm.DB
	userRepo       *repository.UserRepository
	pspRepo        *repository.PSPRepository
	enablementRepo *repository.EnablementRepository
	log            *zap.Logger
}

func NewActivationService(db *gorm.DB, log *zap.Logger) *ActivationService {
	return &ActivationService{
		db:             db,
		userRepo:       repository.NewUserRepository(db),
		pspRepo:        repository.NewPSPRepository(db),
		enablementRepo: repository.NewEnablementRepository(db),
		log:            log,
	}
}

// Activate 镜像用户、合并资料、开通所选 PSP/卡组织
//
// 整个激活在一个数据库事务里完成，任一选择不合法则全部回滚。
// 费率在开通时从目录快照，之后目录调价不影响已开通的用户。
func (s *ActivationService) Activate(ctx context.Context, identity Identity, req *ActivateRequest) error {
	if identity.Subject == "" {
		return AuthError("missing subject")
	}
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		return ValidationError("email required")
	}

	// 事务外先做校验，减少持锁时间
	seen := make(map[string]bool, len(req.Selections))
	psps := make(map[string]*model.PSPCondition)
	for _, sel := range req.Selections {
		if sel.PSPID == "" || sel.Circuit == "" {
			return ValidationError("psp_id and circuit required")
		}
		if !model.IsKnownCircuit(sel.Circuit) {
			return ValidationError(fmt.Sprintf("unknown circuit %q", sel.Circuit))
		}
		key := sel.PSPID + "|" + sel.Circuit
		if seen[key] {
			return ConflictError(fmt.Sprintf("circuit %s selected twice", sel.Circuit))
		}
		seen[key] = true

		if _, ok := psps[sel.PSPID]; ok {
			continue
		}
		psp, err := s.pspRepo.GetByID(ctx, sel.PSPID)
		if err != nil {
			if errors.Is(err, repository.ErrPSPNotFound) {
				return ValidationError("unknown psp " + sel.PSPID)
			}
			return PersistenceError("查询 PSP 失败", err)
		}
		if !psp.Active {
			return ValidationError("psp " + psp.PSPName + " is not active")
		}
		psps[sel.PSPID] = psp
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.mirrorUser(ctx, tx, identity.Subject, email); err != nil {
			return err
		}
		if err := s.userRepo.UpsertProfile(ctx, tx, identity.Subject, req.Profile.fields()); err != nil {
			return PersistenceError("保存商户资料失败", err)
		}

		for _, sel := range req.Selections {
			psp := psps[sel.PSPID]
			if _, err := s.enablementRepo.EnsureUserPSP(ctx, tx, identity.Subject, psp.ID); err != nil {
				return PersistenceError("开通 PSP 失败", err)
			}

			exists, err := s.enablementRepo.ConditionExists(ctx, tx, identity.Subject, psp.ID, sel.Circuit)
			if err != nil {
				return PersistenceError("查询卡组织授权失败", err)
			}
			if exists {
				return ConflictError(fmt.Sprintf("%s %s already enabled", psp.PSPName, sel.Circuit))
			}

			cond := &model.UserPSPCondition{
				UserID:        identity.Subject,
				PSPID:         psp.ID,
				CircuitName:   sel.Circuit,
				FixedFee:      psp.FixedFee,
				PercentageFee: psp.PercentageFee,
				Currency:      psp.Currency,
				Active:        true,
			}
			if err := s.enablementRepo.CreateCondition(ctx, tx, cond); err != nil {
				return PersistenceError("保存卡组织授权失败", err)
			}
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindPersistence {
			s.log.Error("激活失败", zap.String("user_id", identity.Subject), zap.Error(err))
		}
		return err
	}

	s.log.Info("用户激活成功",
		zap.String("user_id", identity.Subject),
		zap.Int("selections", len(req.Selections)),
	)
	return nil
}

// mirrorUser 首次激活时在本地创建用户，邮箱变更时更正
func (s *ActivationService) mirrorUser(ctx context.Context, tx *gorm.DB, subject, email string) error {
	owner, err := s.userRepo.GetByEmail(ctx, tx, email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return PersistenceError("查询用户失败", err)
	}
	if owner != nil && owner.ID != subject {
		return ConflictError("email already registered")
	}

	user, err := s.userRepo.GetByID(ctx, tx, subject)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return PersistenceError("查询用户失败", err)
		}
		if err := s.userRepo.Create(ctx, tx, &model.User{ID: subject, Email: email}); err != nil {
			return PersistenceError("创建用户失败", err)
		}
		return nil
	}

	if user.Email != email {
		if err := s.userRepo.UpdateEmail(ctx, tx, subject, email); err != nil {
			return PersistenceError("更新邮箱失败", err)
		}
	}
	return nil
}

// ListEnabled 用户已开通的卡组织，停用的 PSP 也会列出
func (s *ActivationService) ListEnabled(ctx context.Context, userID string) ([]EnabledCircuit, error) {
	conds, err := s.enablementRepo.ListConditions(ctx, userID)
	if err != nil {
		return nil, PersistenceError("查询开通记录失败", err)
	}

	names := make(map[string]string)
	result := make([]EnabledCircuit, 0, len(conds))
	for _, cond := range conds {
		name, ok := names[cond.PSPID]
		if !ok {
			psp, err := s.pspRepo.GetByID(ctx, cond.PSPID)
			if err != nil && !errors.Is(err, repository.ErrPSPNotFound) {
				return nil, PersistenceError("查询 PSP 失败", err)
			}
			if psp != nil {
				name = psp.PSPName
			}
			names[cond.PSPID] = name
		}

		result = append(result, EnabledCircuit{
			PSPID:         cond.PSPID,
			PSPName:       name,
			Circuit:       cond.CircuitName,
			FixedFee:      cond.FixedFee.StringFixed(2),
			PercentageFee: cond.PercentageFee.String(),
			Currency:      cond.Currency,
			Active:        cond.Active,
		})
	}
	return result, nil
}

// CredentialInput 用户自有的渠道凭证，未填写的字段使用全局配置
type CredentialInput struct {
	SecretKey    string `json:"secret_key"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Mode         string `json:"mode"`
}

// SaveCredentials 保存用户在某个已开通 PSP 上的凭证
func (s *ActivationService) SaveCredentials(ctx context.Context, userID, pspID string, in *CredentialInput) error {
	if userID == "" {
		return AuthError("missing subject")
	}
	if in.SecretKey == "" && in.ClientID == "" && in.ClientSecret == "" {
		return ValidationError("credentials required")
	}
	if in.ClientSecret != "" && in.ClientID == "" {
		return ValidationError("client_id required with client_secret")
	}
	if in.Mode != "" && in.Mode != "sandbox" && in.Mode != "live" {
		return ValidationError("mode must be sandbox or live")
	}

	enabled, err := s.enablementRepo.Exists(ctx, userID, pspID)
	if err != nil {
		return PersistenceError("查询开通记录失败", err)
	}
	if !enabled {
		return ValidationError("psp not enabled for user")
	}

	// api_base 只允许全局配置
	raw, err := json.Marshal(provider.Credentials{
		SecretKey:    strings.TrimSpace(in.SecretKey),
		ClientID:     strings.TrimSpace(in.ClientID),
		ClientSecret: strings.TrimSpace(in.ClientSecret),
		Mode:         in.Mode,
	})
	if err != nil {
		return PersistenceError("序列化凭证失败", err)
	}

	if err := s.enablementRepo.SaveCredential(ctx, &model.ProviderCredential{
		UserID: userID,
		PSPID:  pspID,
		Config: datatypes.JSON(raw),
	}); err != nil {
		return PersistenceError("保存凭证失败", err)
	}

	s.log.Info("用户凭证已更新", zap.String("user_id", userID), zap.String("psp_id", pspID))
	return nil
}
