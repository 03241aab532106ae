package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusOK        = "ok"
	TransactionStatusFailed    = "failed"
	TransactionStatusCompleted = "completed"
)

// ValidStatusTransitions 交易状态只能向前推进
//
// completed 和 failed 为终态；重复写入当前状态视为幂等，不算迁移。
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending: {TransactionStatusOK, TransactionStatusFailed, TransactionStatusCompleted},
	TransactionStatusOK:      {TransactionStatusCompleted},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// SourcesFor 返回可以迁移到 targetStatus 的所有状态
func SourcesFor(targetStatus string) []string {
	var sources []string
	for from, targets := range ValidStatusTransitions {
		for _, t := range targets {
			if t == targetStatus {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

func IsTerminal(status string) bool {
	return status == TransactionStatusCompleted || status == TransactionStatusFailed
}

// Transaction 交易表
//
// 只追加不删除：失败的尝试同样落库用于审计。创建后只有 status 会变化。
type Transaction struct {
	ID          string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserID      string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	PSPID       string          `gorm:"column:psp_id;type:varchar(36);index;not null" json:"psp_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency    string          `gorm:"type:varchar(3);not null;default:EUR" json:"currency"`
	Description string          `gorm:"type:varchar(255)" json:"description,omitempty"`
	Status      string          `gorm:"type:varchar(20);index" json:"status,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
