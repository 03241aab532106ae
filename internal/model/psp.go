package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "EUR"

// Circuits 可启用的卡组织
var Circuits = []string{"Visa", "Mastercard", "Amex", "Diners"}

func IsKnownCircuit(name string) bool {
	for _, c := range Circuits {
		if c == name {
			return true
		}
	}
	return false
}

// PSPCondition PSP 目录条目，记录默认费率
//
// 只做软删除：停用后不再出现在列表中，也不能被新开通，
// 但已有的 UserPSPCondition 快照继续有效。
type PSPCondition struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	PSPName       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"psp_name"`
	FixedFee      decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"fixed_fee"`
	PercentageFee decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"percentage_fee"`
	Currency      string          `gorm:"type:varchar(3);not null;default:EUR" json:"currency"`
	Active        bool            `gorm:"not null;default:true;index" json:"active"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PSPCondition) TableName() string {
	return "psp_conditions"
}

// UserPSP 用户已开通的 PSP（粗粒度授权）
type UserPSP struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID        string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_psp_pair,priority:1" json:"user_id"`
	PSPID         string    `gorm:"column:psp_id;type:varchar(36);not null;uniqueIndex:ux_user_psp_pair,priority:2" json:"psp_id"`
	AcceptedTerms bool      `gorm:"not null;default:false" json:"accepted_terms"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UserPSP) TableName() string {
	return "user_psp"
}

// UserPSPCondition 按卡组织开通的细粒度授权，费率为开通时的快照
type UserPSPCondition struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID        string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_psp_circuit,priority:1" json:"user_id"`
	PSPID         string          `gorm:"column:psp_id;type:varchar(36);not null;uniqueIndex:ux_user_psp_circuit,priority:2" json:"psp_id"`
	CircuitName   string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_user_psp_circuit,priority:3" json:"circuit_name"`
	FixedFee      decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"fixed_fee"`
	PercentageFee decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"percentage_fee"`
	Currency      string          `gorm:"type:varchar(3);not null;default:EUR" json:"currency"`
	Active        bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (UserPSPCondition) TableName() string {
	return "user_psp_conditions"
}

// Fee 按开通时的费率快照计算手续费
func (c *UserPSPCondition) Fee(amount decimal.Decimal) decimal.Decimal {
	pct := amount.Mul(c.PercentageFee).Div(decimal.NewFromInt(100))
	return c.FixedFee.Add(pct).Round(2)
}
