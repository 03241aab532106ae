package model

import (
	"time"

	"gorm.io/datatypes"
)

// User 由外部身份提供方创建，首次激活时在本地镜像
type User struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"` // identity provider subject
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Profile 商户资料，1:1 对应 User
type Profile struct {
	UserID       string    `gorm:"type:varchar(64);primaryKey" json:"user_id"`
	Name         string    `gorm:"type:varchar(128)" json:"name"`
	Surname      string    `gorm:"type:varchar(128)" json:"surname"`
	BusinessName string    `gorm:"type:varchar(255)" json:"business_name"`
	VATID        string    `gorm:"column:vat_id;type:varchar(32)" json:"vat_id"`
	Phone        string    `gorm:"type:varchar(32)" json:"phone"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// ProviderCredential 用户自有的 PSP 接入凭证
type ProviderCredential struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_provider_credential,priority:1" json:"user_id"`
	PSPID     string         `gorm:"column:psp_id;type:varchar(36);not null;uniqueIndex:ux_provider_credential,priority:2" json:"psp_id"`
	Config    datatypes.JSON `gorm:"type:json;not null" json:"-"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProviderCredential) TableName() string {
	return "provider_credentials"
}
