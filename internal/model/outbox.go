package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const EventTransactionStatusChanged = "transaction.status_changed"

type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// TransactionEvent 交易状态变更事件，经 outbox 投递到 Kafka
type TransactionEvent struct {
	EventID       string `json:"event_id"` // 消费端去重用
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	PSPID         string `json:"psp_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	FromStatus    string `json:"from_status,omitempty"`
	Status        string `json:"status"`
	OccurredAt    string `json:"occurred_at"`
}

// AllModels 自动迁移的表
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Profile{},
		&PSPCondition{},
		&UserPSP{},
		&UserPSPCondition{},
		&ProviderCredential{},
		&Transaction{},
		&OutboxMessage{},
	}
}
