// 文件: pkg/gateway/gateway.go
// 执行网关契约
//
// 引擎对每个注册的 traderId 持有一个 Gateway 实例;
// 网关通过 Handler 回调向引擎推送成交/回报/异常/状态变化。
// 回调可能来自网关自身线程, 与调用方线程并发。

package gateway

import (
	"fmt"

	"tcore.com/pkg/ledger"
)

// =============================================================================
// 状态
// =============================================================================

type Status int8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReady
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusReady:
		return "READY"
	case StatusStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// =============================================================================
// 错误
// =============================================================================

// Error 网关错误 (码 + 描述), 引擎包装后向订阅者透出
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// =============================================================================
// 契约
// =============================================================================

// Handler 引擎实现的回调接口
type Handler interface {
	OnTrade(trade *ledger.Trade)
	OnResponse(resp *ledger.Response)
	OnError(err *Error)
	OnRequestError(req *ledger.Request, err *Error, requestID int64)
	OnStatusChange(status Status)
}

// Gateway 执行网关
//
// Insert 中的 req.OrderID 是网关层目的编号 (引擎经 IdTranslator 改写),
// 回调中的编号同样是目的编号, 由引擎负责还原。
type Gateway interface {
	Start(props map[string]string, handler Handler) error
	Stop() error
	Insert(req *ledger.Request, requestID int64) error
}
