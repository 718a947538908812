// 文件: pkg/algo/model.go
// 派生视图: 持仓快照与报单状态 (只读, 不落库)

package algo

import "tcore.com/pkg/ledger"

// =============================================================================
// Position - 持仓快照
//
// 按 (品种, 方向) 聚合, 每次估值/结算从合约集合全量重算,
// 从不增量更新
// =============================================================================

type Position struct {
	InstrumentID string
	Direction    ledger.Direction
	TradingDay   string

	// 今仓
	Volume         int64
	Amount         float64
	Margin         float64
	Commission     float64
	PositionProfit float64
	CloseProfit    float64

	// 冻结
	FrozenOpenVolume  int64
	FrozenCloseVolume int64
	FrozenMargin      float64
	FrozenCommission  float64

	// 昨仓 (已结算部分)
	PreVolume int64
	PreAmount float64
	PreMargin float64

	// 今日新开
	TodayOpenVolume int64
}

// =============================================================================
// OrderStatus / Order - 报单状态视图
// =============================================================================

type OrderStatus int8

const (
	OrderUnqueued OrderStatus = iota + 1 // 未入队
	OrderAccepted                        // 已接受未成交
	OrderQueued                          // 部分成交排队中
	OrderAllTraded                       // 全部成交 (终态)
	OrderDeleted                         // 已撤销 (终态)
)

func (s OrderStatus) String() string {
	switch s {
	case OrderUnqueued:
		return "UNQUEUED"
	case OrderAccepted:
		return "ACCEPTED"
	case OrderQueued:
		return "QUEUED"
	case OrderAllTraded:
		return "ALL_TRADED"
	case OrderDeleted:
		return "DELETED"
	}
	return "UNKNOWN"
}

// IsTerminal 是否终态 (结算时非终态报单会被本地强制撤销)
func (s OrderStatus) IsTerminal() bool {
	return s == OrderAllTraded || s == OrderDeleted
}

type Order struct {
	OrderID      int64
	InstrumentID string
	Direction    ledger.Direction
	Offset       ledger.Offset
	Price        float64
	Quantity     int64

	TradedVolume  int64
	TradedAmount  float64
	AvgTradePrice float64

	Status OrderStatus
}
