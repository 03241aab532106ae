package repository

import "errors"

var (
	ErrPSPNotFound         = errors.New("psp not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrConditionNotFound   = errors.New("psp condition not enabled for user")

	// ErrStatusUnsupported 当前库表没有 status 列，状态跟踪降级为 no-op
	ErrStatusUnsupported = errors.New("status tracking unsupported by transactions schema")
)
