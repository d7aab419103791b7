package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）、消息（Message）和出错的列（Column，可选）
//   - 相同 Code 的 DomainError 之间 errors.Is 成立，哨兵错误可直接用于判断
//
// 使用场景：
//   - Encoder 错误：INVALID_TRAINING_DATA, ENCODER_NOT_FITTED, MISSING_COLUMN, UNKNOWN_CATEGORY
//   - Bundle 错误：INCOMPATIBLE_BUNDLE
//   - Store 错误：NOT_FOUND, NOT_SUPPORTED
type DomainError struct {
	Code    string // 错误代码（如 "MISSING_COLUMN"）
	Message string // 错误消息
	Module  string // 模块名称（如 "encoder", "store", "bundle"）
	Column  string // 相关列名（可选）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 按 Code 比较，使 errors.Is(err, ErrMissingColumn) 对带列名的具体错误同样成立。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsDomainError 检查错误链中是否存在 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// NewColumnError 创建与某一列相关的领域错误
func NewColumnError(module, code, column, format string, args ...any) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Column:  column,
		Message: fmt.Sprintf(format, args...),
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// 编码器错误代码
	ErrorCodeInvalidTrainingData = "INVALID_TRAINING_DATA" // 训练数据不合法
	ErrorCodeEncoderNotFitted    = "ENCODER_NOT_FITTED"    // 编码器尚未 fit
	ErrorCodeAlreadyFitted       = "ALREADY_FITTED"        // 编码器状态只能写一次
	ErrorCodeMissingColumn       = "MISSING_COLUMN"        // 推理行缺少必需列
	ErrorCodeUnknownCategory     = "UNKNOWN_CATEGORY"      // Label 编码遇到未见过的类别
	ErrorCodeInvalidValue        = "INVALID_VALUE"         // 数值列无法转换为数值

	// 准入规则错误代码
	ErrorCodeRuleViolation = "RULE_VIOLATION" // 输入行未通过准入规则

	// Bundle 错误代码
	ErrorCodeIncompatibleBundle = "INCOMPATIBLE_BUNDLE" // 模型与编码器不匹配
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 存储模块
	ModuleEncoder = "encoder" // 特征编码模块
	ModuleModel   = "model"   // 模型模块
	ModuleBundle  = "bundle"  // 模型包模块
)

// 哨兵错误，仅用于 errors.Is 判断（按 Code 匹配）
var (
	ErrInvalidTrainingData = NewDomainError(ModuleEncoder, ErrorCodeInvalidTrainingData, "encoder: invalid training data")
	ErrEncoderNotFitted    = NewDomainError(ModuleEncoder, ErrorCodeEncoderNotFitted, "encoder: not fitted")
	ErrAlreadyFitted       = NewDomainError(ModuleEncoder, ErrorCodeAlreadyFitted, "encoder: already fitted")
	ErrMissingColumn       = NewDomainError(ModuleEncoder, ErrorCodeMissingColumn, "encoder: missing column")
	ErrUnknownCategory     = NewDomainError(ModuleEncoder, ErrorCodeUnknownCategory, "encoder: unknown category")
	ErrInvalidValue        = NewDomainError(ModuleEncoder, ErrorCodeInvalidValue, "encoder: invalid value")
	ErrIncompatibleBundle  = NewDomainError(ModuleBundle, ErrorCodeIncompatibleBundle, "bundle: model and encoders are incompatible")
)

// 通用错误检查函数

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	return hasCode(err, ErrorCodeUnavailable)
}

// IsEncodingError 检查错误是否由输入数据引起（调用方修正输入后可重试）
func IsEncodingError(err error) bool {
	domainErr := GetDomainError(err)
	if domainErr == nil {
		return false
	}
	switch domainErr.Code {
	case ErrorCodeMissingColumn, ErrorCodeUnknownCategory, ErrorCodeInvalidValue, ErrorCodeRuleViolation:
		return true
	}
	return false
}

// ErrorCode 返回错误链中 DomainError 的 Code，不存在时返回空字符串
func ErrorCode(err error) string {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code
	}
	return ""
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}
