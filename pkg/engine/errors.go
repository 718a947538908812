// 文件: pkg/engine/errors.go
// 引擎错误口径
//
// 【约定】
// 码值对外稳定, 调用方按码分支; 文案仅用于日志排查。
// 1xx 请求校验   2xx 业务拒绝   3xx 一致性故障
// 4xx 协作方故障 5xx 生命周期
//
// 2xx 可由调用方修正后重试; 3xx 意味着账本或映射已经与
// 事实不符, 引擎不自动修复, 人工介入前不应继续报单。

package engine

import (
	"errors"
	"fmt"

	"tcore.com/pkg/clearing"
	"tcore.com/pkg/idmap"
)

const (
	CodeInvalidRequest     = 101
	CodeInstrumentNotFound = 102
	CodeDuplicateOrderID   = 103
	CodeDuplicateTraderID  = 111
	CodeTraderNotFound     = 112
	CodeTraderNotEnabled   = 113
	CodeNoTraderAvailable  = 114
	CodeOrderIDNotFound    = 115

	CodeInsufficientMoney    = 201
	CodeInsufficientPosition = 202

	CodeInconsistentFrozenInfo = 301
	CodeCountDown              = 302

	CodePersistence = 401
	CodeGateway     = 402

	CodeInvalidState = 501
)

// Error 带稳定码值的引擎错误
type Error struct {
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code int, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// classify 将下层错误折算为引擎码
func classify(err error, fallbackCode int, message string) *Error {
	switch {
	case errors.Is(err, clearing.ErrInsufficientMoney):
		return wrapError(CodeInsufficientMoney, err, "%s", message)
	case errors.Is(err, clearing.ErrInsufficientPosition):
		return wrapError(CodeInsufficientPosition, err, "%s", message)
	case errors.Is(err, clearing.ErrInconsistentFrozenInfo):
		return wrapError(CodeInconsistentFrozenInfo, err, "%s", message)
	case errors.Is(err, idmap.ErrCountDownNotFound), errors.Is(err, idmap.ErrCountDownUnderflow):
		return wrapError(CodeCountDown, err, "%s", message)
	default:
		return wrapError(fallbackCode, err, "%s", message)
	}
}
