// 文件: pkg/clearing/clearing_test.go
// 清算器测试 (内存账本)

package clearing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcore.com/pkg/ledger"
)

const testDay = "20260830"

// 测试品种: 乘数 10, 保证金 10%, 手续费万二 (平今万五)
func testInstrument() *ledger.Instrument {
	return &ledger.Instrument{
		InstrumentID:              "cu2610",
		Multiplier:                10,
		MarginRatio:               0.1,
		MarginType:                ledger.RatioByMoney,
		CommissionOpenRatio:       0.0002,
		CommissionCloseRatio:      0.0002,
		CommissionCloseTodayRatio: 0.0005,
		CommissionType:            ledger.RatioByMoney,
	}
}

func setup(t *testing.T, balance float64) (*Clearer, ledger.Repository) {
	ctx := context.Background()
	repo := ledger.NewMemoryRepository()
	require.NoError(t, repo.AddInstrument(ctx, testInstrument()))
	require.NoError(t, repo.AddAccount(ctx, &ledger.Account{AccountID: 1, Balance: balance, TradingDay: testDay}))
	require.NoError(t, repo.SetTradingDay(ctx, testDay))
	return NewClearer(repo), repo
}

func openRequest(orderID, quantity int64) *ledger.Request {
	return &ledger.Request{
		OrderID:      orderID,
		Action:       ledger.ActionNew,
		Direction:    ledger.DirectionBuy,
		Offset:       ledger.OffsetOpen,
		InstrumentID: "cu2610",
		Price:        100,
		Quantity:     quantity,
		TraderID:     1,
	}
}

func closeRequest(orderID, quantity int64) *ledger.Request {
	return &ledger.Request{
		OrderID:      orderID,
		Action:       ledger.ActionNew,
		Direction:    ledger.DirectionSell,
		Offset:       ledger.OffsetClose,
		InstrumentID: "cu2610",
		Price:        100,
		Quantity:     quantity,
		TraderID:     1,
	}
}

func tradeOf(req *ledger.Request, tradeID, quantity int64) *ledger.Trade {
	return &ledger.Trade{
		TradeID:      tradeID,
		OrderID:      req.OrderID,
		InstrumentID: req.InstrumentID,
		Direction:    req.Direction,
		Offset:       req.Offset,
		Price:        req.Price,
		Quantity:     quantity,
		TradingDay:   testDay,
	}
}

// =============================================================================
// 开仓准入与冻结
// =============================================================================

func TestFreezeOpen(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	req := openRequest(100, 2)
	require.NoError(t, c.CheckOpen(ctx, req, inst))
	require.NoError(t, c.FreezeOpen(ctx, req, inst))

	contracts, err := repo.GetContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	for _, ct := range contracts {
		assert.Equal(t, ledger.ContractOpening, ct.Status)
		assert.Equal(t, testDay, ct.OpenTradingDay)
	}

	// 每手冻结 100 保证金 + 0.2 手续费
	available, err := c.Available(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000-2*(100+0.2), available, 1e-9)
}

// 第二笔报单必须看见第一笔的冻结
func TestCheckOpenSeesEarlierFreeze(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 250)
	inst := testInstrument()

	first := openRequest(100, 2)
	require.NoError(t, c.CheckOpen(ctx, first, inst))
	require.NoError(t, c.FreezeOpen(ctx, first, inst))

	// 余 49.6, 再开一手要 100.2
	second := openRequest(101, 1)
	err := c.CheckOpen(ctx, second, inst)
	assert.ErrorIs(t, err, ErrInsufficientMoney)

	// 拒绝不落任何行
	commissions, _ := repo.GetCommissions(ctx)
	for _, cm := range commissions {
		assert.NotEqual(t, int64(101), cm.OrderID)
	}
}

func TestInsufficientMoneyLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 50)
	inst := testInstrument()

	err := c.CheckOpen(ctx, openRequest(100, 1), inst)
	assert.ErrorIs(t, err, ErrInsufficientMoney)

	contracts, _ := repo.GetContracts(ctx)
	assert.Empty(t, contracts)
	commissions, _ := repo.GetCommissions(ctx)
	assert.Empty(t, commissions)
	margins, _ := repo.GetMargins(ctx)
	assert.Empty(t, margins)
}

// =============================================================================
// 成交
// =============================================================================

func TestOpenTrade(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	req := openRequest(100, 2)
	require.NoError(t, c.FreezeOpen(ctx, req, inst))
	require.NoError(t, c.OpenTrade(ctx, tradeOf(req, 1, 2), inst))

	contracts, err := repo.GetContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	for _, ct := range contracts {
		assert.Equal(t, ledger.ContractOpen, ct.Status)
		assert.InDelta(t, 1000.0, ct.OpenAmount, 1e-9)
		assert.Equal(t, int64(1), ct.TradeID)
	}

	// 费用条目全部转 DEALT
	commissions, _ := repo.GetCommissionsByOrderID(ctx, 100)
	for _, cm := range commissions {
		assert.Equal(t, ledger.FeeDealt, cm.Status)
	}

	// 冻结转占用, 可用不变 (手续费已扣)
	available, err := c.Available(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000-2*100-2*0.2, available, 1e-9)
}

func TestPartialOpenTradeFIFO(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	req := openRequest(100, 3)
	require.NoError(t, c.FreezeOpen(ctx, req, inst))
	require.NoError(t, c.OpenTrade(ctx, tradeOf(req, 1, 2), inst))

	contracts, err := repo.GetContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 3)

	// 升序前两张成交, 末张仍冻结
	assert.Equal(t, ledger.ContractOpen, contracts[0].Status)
	assert.Equal(t, ledger.ContractOpen, contracts[1].Status)
	assert.Equal(t, ledger.ContractOpening, contracts[2].Status)
}

// 成交量超过冻结量是一致性错误, 事务整体回滚
func TestOverfillRollsBack(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	req := openRequest(100, 1)
	require.NoError(t, c.FreezeOpen(ctx, req, inst))

	err := c.OpenTrade(ctx, tradeOf(req, 1, 2), inst)
	assert.ErrorIs(t, err, ErrInconsistentFrozenInfo)

	contracts, _ := repo.GetContracts(ctx)
	require.Len(t, contracts, 1)
	assert.Equal(t, ledger.ContractOpening, contracts[0].Status)
}

// 重复成交回报: 三元组已不在前置状态, 不会重放
func TestDuplicateTradeRejected(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t, 10000)
	inst := testInstrument()

	req := openRequest(100, 1)
	require.NoError(t, c.FreezeOpen(ctx, req, inst))
	require.NoError(t, c.OpenTrade(ctx, tradeOf(req, 1, 1), inst))

	err := c.OpenTrade(ctx, tradeOf(req, 2, 1), inst)
	assert.ErrorIs(t, err, ErrInconsistentFrozenInfo)
}

// =============================================================================
// 平仓
// =============================================================================

func openPosition(t *testing.T, c *Clearer, orderID, quantity int64) {
	ctx := context.Background()
	inst := testInstrument()
	req := openRequest(orderID, quantity)
	require.NoError(t, c.FreezeOpen(ctx, req, inst))
	require.NoError(t, c.OpenTrade(ctx, tradeOf(req, orderID*10, quantity), inst))
}

func TestFreezeClose(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	openPosition(t, c, 100, 3)

	req := closeRequest(200, 2)
	groups, err := c.FreezeClose(ctx, req, inst)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, int64(1), groups[0].TraderID)
	// 今日开的仓按平今计
	assert.Equal(t, ledger.OffsetCloseToday, groups[0].Offset)
	assert.Equal(t, int64(2), groups[0].Quantity)

	// FIFO: ContractID 最小的两张转 CLOSING
	contracts, _ := repo.GetContracts(ctx)
	require.Len(t, contracts, 3)
	assert.Equal(t, ledger.ContractClosing, contracts[0].Status)
	assert.Equal(t, ledger.ContractClosing, contracts[1].Status)
	assert.Equal(t, ledger.ContractOpen, contracts[2].Status)

	// 平今手续费冻结: 每手 0.5
	available, err := c.Available(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000-3*100-3*0.2-2*0.5, available, 1e-9)
}

func TestFreezeCloseInsufficientPosition(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	openPosition(t, c, 100, 1)

	_, err := c.FreezeClose(ctx, closeRequest(200, 2), inst)
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	// 整体回滚, 持仓不动
	contracts, _ := repo.GetContracts(ctx)
	require.Len(t, contracts, 1)
	assert.Equal(t, ledger.ContractOpen, contracts[0].Status)
	commissions, _ := repo.GetCommissionsByOrderID(ctx, 200)
	assert.Empty(t, commissions)
}

// 方向相同的持仓不可平
func TestFreezeCloseRequiresOppositeDirection(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t, 10000)
	inst := testInstrument()

	openPosition(t, c, 100, 2)

	sameSide := closeRequest(200, 1)
	sameSide.Direction = ledger.DirectionBuy
	_, err := c.FreezeClose(ctx, sameSide, inst)
	assert.ErrorIs(t, err, ErrInsufficientPosition)
}

func TestCloseTrade(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	openPosition(t, c, 100, 1)

	req := closeRequest(200, 1)
	_, err := c.FreezeClose(ctx, req, inst)
	require.NoError(t, err)

	trade := tradeOf(req, 99, 1)
	trade.Price = 110
	require.NoError(t, c.CloseTrade(ctx, trade, inst))

	contracts, _ := repo.GetContracts(ctx)
	require.Len(t, contracts, 1)
	assert.Equal(t, ledger.ContractClosed, contracts[0].Status)
	assert.InDelta(t, 1100.0, contracts[0].CloseAmount, 1e-9)
	assert.Equal(t, testDay, contracts[0].CloseTradingDay)
}

// =============================================================================
// 撤销
// =============================================================================

// 开仓撤销: 三元组物理删除
func TestOpenDelete(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	req := openRequest(100, 2)
	require.NoError(t, c.FreezeOpen(ctx, req, inst))
	require.NoError(t, c.OpenDelete(ctx, 100))

	contracts, _ := repo.GetContracts(ctx)
	assert.Empty(t, contracts)
	commissions, _ := repo.GetCommissions(ctx)
	assert.Empty(t, commissions)
	margins, _ := repo.GetMargins(ctx)
	assert.Empty(t, margins)

	available, err := c.Available(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, available, 1e-9)
}

// 部分成交后的撤销只删冻结中的三元组
func TestOpenDeleteAfterPartialFill(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	req := openRequest(100, 3)
	require.NoError(t, c.FreezeOpen(ctx, req, inst))
	require.NoError(t, c.OpenTrade(ctx, tradeOf(req, 1, 1), inst))
	require.NoError(t, c.OpenDelete(ctx, 100))

	contracts, _ := repo.GetContracts(ctx)
	require.Len(t, contracts, 1)
	assert.Equal(t, ledger.ContractOpen, contracts[0].Status)
}

// 平仓撤销: 合约回到 OPEN, 手续费条目保留为 REMOVED
func TestCloseDelete(t *testing.T) {
	ctx := context.Background()
	c, repo := setup(t, 10000)
	inst := testInstrument()

	openPosition(t, c, 100, 1)
	_, err := c.FreezeClose(ctx, closeRequest(200, 1), inst)
	require.NoError(t, err)

	require.NoError(t, c.CloseDelete(ctx, 200))

	contracts, _ := repo.GetContracts(ctx)
	require.Len(t, contracts, 1)
	assert.Equal(t, ledger.ContractOpen, contracts[0].Status)

	commissions, _ := repo.GetCommissionsByOrderID(ctx, 200)
	require.Len(t, commissions, 1)
	assert.Equal(t, ledger.FeeRemoved, commissions[0].Status)

	// REMOVED 条目不再占用可用资金
	available, err := c.Available(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000-100-0.2, available, 1e-9)
}

// =============================================================================
// 状态迁移守卫
// =============================================================================

func TestTransitionGuards(t *testing.T) {
	ctx := context.Background()
	_, repo := setup(t, 10000)
	inst := testInstrument()

	b := &bundle{
		contract:   &ledger.Contract{ContractID: 1, Status: ledger.ContractOpen},
		commission: &ledger.Commission{CommissionID: 2, Status: ledger.FeeDealt},
		margin:     &ledger.Margin{MarginID: 3, Status: ledger.FeeDealt},
	}
	trade := &ledger.Trade{TradeID: 1, Price: 100, Quantity: 1}

	// OPEN 合约不可再 dealOpen / deleteOpen
	assert.ErrorIs(t, dealOpen(ctx, repo, b, trade, inst), ErrInvalidState)
	assert.ErrorIs(t, deleteOpen(ctx, repo, b), ErrInvalidState)

	// OPEN 合约不可 dealClose / deleteClose
	assert.ErrorIs(t, dealClose(ctx, repo, b, trade, inst), ErrInvalidState)
	assert.ErrorIs(t, deleteClose(ctx, repo, b), ErrInvalidState)
}
