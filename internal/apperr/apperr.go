package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindValidation             Kind = "validation"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindPreconditionFailed     Kind = "precondition_failed"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindGateway                Kind = "gateway"
)

// 校验错误码
const (
	CodeWeightSumInvalid   = "weight_sum_invalid"
	CodeRatingOutOfRange   = "rating_out_of_range"
	CodeAmountInvalid      = "amount_invalid"
	CodeDueDateInvalid     = "due_date_invalid"
	CodeCompletionInvalid  = "completion_invalid"
	CodeFieldInvalid       = "field_invalid"
	CodeGatewayUnavailable = "gateway_unavailable"
	CodeGatewayRejected    = "gateway_rejected"
)

// Error 业务错误
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 校验错误
func Validation(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition 非法状态流转，消息中包含当前状态与目标状态
func InvalidTransition(entity string, from, to interface{}) *Error {
	return &Error{
		Kind:    KindInvalidStateTransition,
		Code:    "invalid_state_transition",
		Message: fmt.Sprintf("%s cannot move from %v to %v", entity, from, to),
	}
}

// InvalidState 当前状态不允许该操作
func InvalidState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidStateTransition, Code: "invalid_state_transition", Message: fmt.Sprintf(format, args...)}
}

// PreconditionFailed 前置条件不满足
func PreconditionFailed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPreconditionFailed, Code: "precondition_failed", Message: fmt.Sprintf(format, args...)}
}

// NotFound 资源不存在或无权访问，两者对外表现一致
func NotFound(entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: fmt.Sprintf("%s %d not found", entity, id)}
}

// Conflict 冲突
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Code: "conflict", Message: fmt.Sprintf(format, args...)}
}

// Gateway 支付网关错误
func Gateway(code string, err error) *Error {
	return &Error{Kind: KindGateway, Code: code, Message: "payment gateway error", Err: err}
}

// KindOf 返回错误类别，非业务错误返回空字符串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf 返回错误码
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is 判断错误是否属于某个类别
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
