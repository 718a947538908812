// 文件: pkg/journal/journal.go
// 清算流水记录类型
//
// 成交与结算落 Kafka 作审计流水, 下游 (风控、对账) 消费。
// key 统一用 traderId, 同一网关的流水保序。

package journal

import (
	"encoding/json"
	"strconv"

	"tcore.com/pkg/ledger"
)

const (
	TopicFill       = "clearing.fill"
	TopicSettlement = "clearing.settlement"
)

// Record 流水消息
type Record interface {
	Topic() string
	Key() string
	Value() ([]byte, error)
}

// =============================================================================
// 成交流水
// =============================================================================

type FillRecord struct {
	TraderID     int64            `json:"trader_id"`
	OrderID      int64            `json:"order_id"`
	TradeID      int64            `json:"trade_id"`
	InstrumentID string           `json:"instrument_id"`
	Direction    ledger.Direction `json:"direction"`
	Offset       ledger.Offset    `json:"offset"`
	Price        float64          `json:"price"`
	Quantity     int64            `json:"quantity"`
	TradingDay   string           `json:"trading_day"`
	Timestamp    int64            `json:"timestamp"`
}

func (r *FillRecord) Topic() string { return TopicFill }

func (r *FillRecord) Key() string { return strconv.FormatInt(r.TraderID, 10) }

func (r *FillRecord) Value() ([]byte, error) { return json.Marshal(r) }

// =============================================================================
// 结算流水
// =============================================================================

type SettlementRecord struct {
	TradingDay     string  `json:"trading_day"`
	NextTradingDay string  `json:"next_trading_day"`
	Balance        float64 `json:"balance"`
	Margin         float64 `json:"margin"`
	Commission     float64 `json:"commission"`
	CloseProfit    float64 `json:"close_profit"`
	PositionProfit float64 `json:"position_profit"`
	Deposit        float64 `json:"deposit"`
	Withdraw       float64 `json:"withdraw"`
	DeletedOrders  int     `json:"deleted_orders"`
	Timestamp      int64   `json:"timestamp"`
}

func (r *SettlementRecord) Topic() string { return TopicSettlement }

func (r *SettlementRecord) Key() string { return r.TradingDay }

func (r *SettlementRecord) Value() ([]byte, error) { return json.Marshal(r) }
