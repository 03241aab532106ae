// Package testutil 测试用的数据库、Redis 与种子数据
package testutil

import (
	"testing"

	"pspgateway/internal/infrastructure/database"
	"pspgateway/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB 内存 SQLite，只开一个连接，保证所有查询看到同一个库
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := OpenEmptyDB(t)
	require.NoError(t, database.Migrate(db))
	return db
}

// OpenEmptyDB 不建表，用于模拟旧版库表结构
func OpenEmptyDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

// CreateLegacyTransactionsTable 没有 status 列的 transactions 表
func CreateLegacyTransactionsTable(t *testing.T, db *gorm.DB) {
	t.Helper()

	require.NoError(t, db.Exec(`CREATE TABLE transactions (
		id varchar(64) PRIMARY KEY,
		user_id varchar(64) NOT NULL,
		psp_id varchar(36) NOT NULL,
		amount decimal(20,2) NOT NULL,
		currency varchar(3) NOT NULL DEFAULT 'EUR',
		description varchar(255),
		created_at datetime
	)`).Error)
	require.NoError(t, db.AutoMigrate(&model.OutboxMessage{}))
}

// NewLegacyTestDB 完整库表，但 transactions 表是旧结构
func NewLegacyTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := OpenEmptyDB(t)
	for _, m := range model.AllModels() {
		if _, ok := m.(*model.Transaction); ok {
			continue
		}
		require.NoError(t, db.AutoMigrate(m))
	}
	CreateLegacyTransactionsTable(t, db)
	return db
}

func NewTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func SeedPSP(t *testing.T, db *gorm.DB, name, fixedFee, percentageFee string) *model.PSPCondition {
	t.Helper()

	psp := &model.PSPCondition{
		ID:            uuid.NewString(),
		PSPName:       name,
		FixedFee:      decimal.RequireFromString(fixedFee),
		PercentageFee: decimal.RequireFromString(percentageFee),
		Currency:      model.DefaultCurrency,
		Active:        true,
	}
	require.NoError(t, db.Create(psp).Error)
	return psp
}

func SeedUser(t *testing.T, db *gorm.DB, id, email string) *model.User {
	t.Helper()

	user := &model.User{ID: id, Email: email}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedEnablement 开通 PSP 及其卡组织，费率从目录快照
func SeedEnablement(t *testing.T, db *gorm.DB, userID string, psp *model.PSPCondition, circuit string) *model.UserPSPCondition {
	t.Helper()

	var existing int64
	require.NoError(t, db.Model(&model.UserPSP{}).
		Where("user_id = ? AND psp_id = ?", userID, psp.ID).
		Count(&existing).Error)
	if existing == 0 {
		require.NoError(t, db.Create(&model.UserPSP{
			ID:            uuid.NewString(),
			UserID:        userID,
			PSPID:         psp.ID,
			AcceptedTerms: true,
		}).Error)
	}

	cond := &model.UserPSPCondition{
		ID:            uuid.NewString(),
		UserID:        userID,
		PSPID:         psp.ID,
		CircuitName:   circuit,
		FixedFee:      psp.FixedFee,
		PercentageFee: psp.PercentageFee,
		Currency:      psp.Currency,
		Active:        true,
	}
	require.NoError(t, db.Create(cond).Error)
	return cond
}

func CountTransactions(t *testing.T, db *gorm.DB, where string, args ...interface{}) int64 {
	t.Helper()

	var count int64
	q := db.Model(&model.Transaction{})
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&count).Error)
	return count
}
