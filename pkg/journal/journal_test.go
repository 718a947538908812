// 文件: pkg/journal/journal_test.go
// 流水记录的 topic/key/载荷口径

package journal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcore.com/pkg/ledger"
)

func TestFillRecord(t *testing.T) {
	r := &FillRecord{
		TraderID:     7,
		OrderID:      1001,
		TradeID:      42,
		InstrumentID: "cu2610",
		Direction:    ledger.DirectionBuy,
		Offset:       ledger.OffsetOpen,
		Price:        100,
		Quantity:     2,
		TradingDay:   "20260830",
		Timestamp:    1234,
	}

	assert.Equal(t, TopicFill, r.Topic())
	// key 用 traderId, 同网关流水进同分区保序
	assert.Equal(t, "7", r.Key())

	data, err := r.Value()
	require.NoError(t, err)
	var got FillRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *r, got)
}

func TestSettlementRecord(t *testing.T) {
	r := &SettlementRecord{
		TradingDay:     "20260830",
		NextTradingDay: "20260831",
		Balance:        100149.05,
		Commission:     0.95,
		CloseProfit:    100,
		PositionProfit: 50,
		Deposit:        100000,
		DeletedOrders:  1,
		Timestamp:      1234,
	}

	assert.Equal(t, TopicSettlement, r.Topic())
	// key 用交易日, 一日一条
	assert.Equal(t, "20260830", r.Key())

	data, err := r.Value()
	require.NoError(t, err)
	var got SettlementRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *r, got)
}
