package service

import (
	"errors"
	"fmt"
)

// ErrorKind 业务错误分类，由 handler 映射为 HTTP 状态码
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuth          ErrorKind = "auth"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindConfiguration ErrorKind = "configuration"
	KindProvider      ErrorKind = "provider"
	KindPersistence   ErrorKind = "persistence"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, msg string, err error) *AppError {
	return &AppError{Kind: kind, Message: msg, Err: err}
}

func ValidationError(msg string) *AppError {
	return newError(KindValidation, msg, nil)
}

func AuthError(msg string) *AppError {
	return newError(KindAuth, msg, nil)
}

func NotFoundError(msg string) *AppError {
	return newError(KindNotFound, msg, nil)
}

func ConflictError(msg string) *AppError {
	return newError(KindConflict, msg, nil)
}

func ConfigurationError(msg string, err error) *AppError {
	return newError(KindConfiguration, msg, err)
}

func ProviderError(msg string, err error) *AppError {
	return newError(KindProvider, msg, err)
}

func PersistenceError(msg string, err error) *AppError {
	return newError(KindPersistence, msg, err)
}

// KindOf 非 AppError 一律视为存储故障
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindPersistence
}

func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
