package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcore.com/pkg/ledger"
)

// recorder 收集回调
type recorder struct {
	mu        sync.Mutex
	trades    []*ledger.Trade
	responses []*ledger.Response
	statuses  []Status
}

func (r *recorder) OnTrade(t *ledger.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
}

func (r *recorder) OnResponse(resp *ledger.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

func (r *recorder) OnError(err *Error) {}

func (r *recorder) OnRequestError(req *ledger.Request, err *Error, requestID int64) {}

func (r *recorder) OnStatusChange(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func newOrder(orderID, quantity int64) *ledger.Request {
	return &ledger.Request{
		OrderID:      orderID,
		Action:       ledger.ActionNew,
		Direction:    ledger.DirectionBuy,
		Offset:       ledger.OffsetOpen,
		InstrumentID: "cu2610",
		Price:        100,
		Quantity:     quantity,
	}
}

func TestSimLifecycle(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	rec := &recorder{}

	require.NoError(t, sim.Start(map[string]string{"trading_day": "20260830"}, rec))
	assert.Error(t, sim.Start(nil, rec)) // 重复启动

	require.NoError(t, sim.Stop())
	assert.Error(t, sim.Stop())

	// 停止后拒单
	err := sim.Insert(newOrder(1, 1), 1)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
}

func TestSimAutoFill(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	rec := &recorder{}
	require.NoError(t, sim.Start(map[string]string{"trading_day": "20260830"}, rec))

	require.NoError(t, sim.Insert(newOrder(1, 3), 1))

	// 同步回报: 先 ACCEPTED 再一笔全量成交
	require.Len(t, rec.responses, 1)
	assert.Equal(t, ledger.ResponseAccepted, rec.responses[0].Status)
	require.Len(t, rec.trades, 1)
	assert.Equal(t, int64(3), rec.trades[0].Quantity)
	assert.Equal(t, "20260830", rec.trades[0].TradingDay)
}

func TestSimPartialFills(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.FillQuantity = 1
	sim := NewSim(cfg)
	rec := &recorder{}
	require.NoError(t, sim.Start(map[string]string{"trading_day": "20260830"}, rec))

	require.NoError(t, sim.Insert(newOrder(1, 3), 1))

	// 分笔回报直到全部成交
	require.Len(t, rec.trades, 3)
	for _, trade := range rec.trades {
		assert.Equal(t, int64(1), trade.Quantity)
	}
}

func TestSimManualFillAndDelete(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.AutoFill = false
	sim := NewSim(cfg)
	rec := &recorder{}
	require.NoError(t, sim.Start(map[string]string{"trading_day": "20260830"}, rec))

	require.NoError(t, sim.Insert(newOrder(1, 2), 1))
	assert.Empty(t, rec.trades)

	sim.Fill(1, 101, 1)
	require.Len(t, rec.trades, 1)
	assert.InDelta(t, 101.0, rec.trades[0].Price, 1e-9)

	// 撤掉剩余量
	del := &ledger.Request{OrderID: 1, Action: ledger.ActionDelete}
	require.NoError(t, sim.Insert(del, 2))
	require.Len(t, rec.responses, 2)
	assert.Equal(t, ledger.ResponseDeleted, rec.responses[1].Status)

	// 已了结的单不可再撤
	assert.Error(t, sim.Insert(del, 3))
}
