package service

import (
	"errors"
	"fmt"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrNotFound           = errors.New("not found")
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrRoomNotFound       = fmt.Errorf("room %w", ErrNotFound)
	ErrMessageNotFound    = fmt.Errorf("message %w", ErrNotFound)
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("not allowed")
	ErrValidation         = errors.New("validation failed")
)

// ValidationError 描述单个表单字段的校验失败，errors.Is(err, ErrValidation) 为真。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var (
	ErrEmailTaken    error = &ValidationError{Field: "email", Message: "a user with this email already exists"}
	ErrUsernameTaken error = &ValidationError{Field: "username", Message: "a user with this username already exists"}
)
