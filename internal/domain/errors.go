package domain

import (
	"errors"
	"fmt"
)

// ErrSiloNotFound 未知的筒仓编号（区别于空结果集）
var ErrSiloNotFound = errors.New("silo not found")

// ErrNoReadings 筒仓存在但没有任何读数
var ErrNoReadings = errors.New("no readings for silo")

// ValidationError 调用方参数不合法（过滤条件、分页、时间窗口等），
// 在访问存储之前返回。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError 判断是否为参数校验错误
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
