package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pspgateway/internal/model"
	"pspgateway/pkg/idgen"

	"gorm.io/gorm"
)

// UpdateOutcome 状态更新的结果
type UpdateOutcome int

const (
	UpdateApplied   UpdateOutcome = iota // 状态已向前推进
	UpdateUnchanged                      // 已经是目标状态，幂等
	UpdateRejected                       // 当前状态不能迁移到目标状态
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateApplied:
		return "applied"
	case UpdateUnchanged:
		return "unchanged"
	default:
		return "rejected"
	}
}

type StatusChange struct {
	Transaction *model.Transaction // 更新后的交易
	From        string
	To          string
	Outcome     UpdateOutcome
}

// TransactionRepository 交易账本
//
// 只有账本可以写 transactions 表。状态更新都是单行条件更新，
// 状态变更事件与该行写入在同一个数据库事务里写入 outbox。
type TransactionRepository struct {
	db         *gorm.DB
	outboxRepo *OutboxRepository
	topic      string

	mu             sync.RWMutex
	schemaChecked  bool
	supportsStatus bool
}

func NewTransactionRepository(db *gorm.DB, topic string) *TransactionRepository {
	return &TransactionRepository{
		db:         db,
		outboxRepo: NewOutboxRepository(db),
		topic:      topic,
	}
}

// SupportsStatusTracking 探测 transactions 表是否有 status 列，结果会被缓存
func (r *TransactionRepository) SupportsStatusTracking(ctx context.Context) bool {
	r.mu.RLock()
	if r.schemaChecked {
		supported := r.supportsStatus
		r.mu.RUnlock()
		return supported
	}
	r.mu.RUnlock()
	return r.RecheckSchema(ctx)
}

// RecheckSchema 重新探测库表结构（例如在线补列之后）
func (r *TransactionRepository) RecheckSchema(ctx context.Context) bool {
	supported := r.db.WithContext(ctx).Migrator().HasColumn(&model.Transaction{}, "status")

	r.mu.Lock()
	r.schemaChecked = true
	r.supportsStatus = supported
	r.mu.Unlock()
	return supported
}

// Create 生成交易号并落库，初始状态由调用方决定
func (r *TransactionRepository) Create(ctx context.Context, trans *model.Transaction) (string, error) {
	if trans.ID == "" {
		trans.ID = idgen.GenerateTransactionID()
	}
	if trans.CreatedAt.IsZero() {
		trans.CreatedAt = time.Now().UTC()
	}
	supported := r.SupportsStatusTracking(ctx)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if !supported {
			q = q.Omit("status")
		}
		if err := q.Create(trans).Error; err != nil {
			return fmt.Errorf("写入交易失败: %w", err)
		}
		return r.writeEvent(ctx, tx, trans, "", trans.Status)
	})
	if err != nil {
		return "", err
	}
	if !supported {
		trans.Status = ""
	}
	return trans.ID, nil
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// UpdateStatus 状态只能向前推进
//
// UPDATE transactions SET status = ? WHERE id = ? AND status IN (<可迁移到目标状态的状态>)
// 并发下最后一个合法写入生效，终态不会被改回去。
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id, toStatus string) (*StatusChange, error) {
	if !r.SupportsStatusTracking(ctx) {
		return nil, ErrStatusUnsupported
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	change := &StatusChange{Transaction: current, From: current.Status, To: toStatus}
	if current.Status == toStatus {
		change.Outcome = UpdateUnchanged
		return change, nil
	}
	if !model.CanTransitionTo(current.Status, toStatus) {
		change.Outcome = UpdateRejected
		return change, nil
	}

	var affected int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Transaction{}).
			Where("id = ? AND status IN ?", id, model.SourcesFor(toStatus)).
			Update("status", toStatus)
		if result.Error != nil {
			return fmt.Errorf("更新交易状态失败: %w", result.Error)
		}
		affected = result.RowsAffected
		if affected == 0 {
			return nil
		}

		updated := *current
		updated.Status = toStatus
		return r.writeEvent(ctx, tx, &updated, current.Status, toStatus)
	})
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		// 与其他写入并发，读最新状态判断是幂等还是被拒绝
		latest, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		change.Transaction = latest
		change.From = latest.Status
		if latest.Status == toStatus {
			change.Outcome = UpdateUnchanged
		} else {
			change.Outcome = UpdateRejected
		}
		return change, nil
	}

	current.Status = toStatus
	change.Outcome = UpdateApplied
	return change, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

func (r *TransactionRepository) writeEvent(ctx context.Context, tx *gorm.DB, trans *model.Transaction, from, to string) error {
	if r.topic == "" {
		return nil
	}

	payload, err := json.Marshal(model.TransactionEvent{
		EventID:       idgen.GenerateEventKey("EVT"),
		Event:         model.EventTransactionStatusChanged,
		TransactionID: trans.ID,
		UserID:        trans.UserID,
		PSPID:         trans.PSPID,
		Amount:        trans.Amount.StringFixed(2),
		Currency:      trans.Currency,
		FromStatus:    from,
		Status:        to,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	msg := &model.OutboxMessage{
		MessageKey: trans.ID,
		Topic:      r.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := r.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
