// 文件: pkg/algo/algo.go
// 资金与持仓纯计算
//
// 【设计】
// 所有函数无 I/O、无共享状态, 输入相同输出必相同。
// 引用数据缺失 (品种/价格/保证金/手续费找不到) 是一致性错误,
// 一律返回错误而不是跳过。

package algo

import (
	"errors"
	"fmt"
	"math"

	"tcore.com/pkg/ledger"
)

var (
	ErrMissingMultiplier = errors.New("algo: instrument multiplier unset")
	ErrMissingRatio      = errors.New("algo: margin/commission ratio unset")
	ErrMissingInstrument = errors.New("algo: instrument not found")
	ErrMissingPrice      = errors.New("algo: price not found")
	ErrMissingMargin     = errors.New("algo: margin entry not found")
	ErrMissingCommission = errors.New("algo: commission entry not found")
	ErrVolumeExceeded    = errors.New("algo: traded volume exceeds requested quantity")
	ErrCorruptPosition   = errors.New("algo: position carries non-finite field")
)

// =============================================================================
// 单位计算
// =============================================================================

// Amount 一手合约价值: price * multiplier
func Amount(price float64, inst *ledger.Instrument) (float64, error) {
	if inst == nil {
		return 0, ErrMissingInstrument
	}
	if inst.Multiplier <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrMissingMultiplier, inst.InstrumentID)
	}
	return price * inst.Multiplier, nil
}

// MarginOf 一手保证金
func MarginOf(price float64, inst *ledger.Instrument) (float64, error) {
	if inst == nil {
		return 0, ErrMissingInstrument
	}
	switch inst.MarginType {
	case ledger.RatioByMoney:
		amount, err := Amount(price, inst)
		if err != nil {
			return 0, err
		}
		return amount * inst.MarginRatio, nil
	case ledger.RatioByVolume:
		return inst.MarginRatio, nil
	default:
		return 0, fmt.Errorf("%w: margin type of %s", ErrMissingRatio, inst.InstrumentID)
	}
}

// CommissionOf 一手手续费 (按开平选择费率)
func CommissionOf(price float64, inst *ledger.Instrument, direction ledger.Direction, offset ledger.Offset) (float64, error) {
	if inst == nil {
		return 0, ErrMissingInstrument
	}

	var ratio float64
	switch offset {
	case ledger.OffsetOpen:
		ratio = inst.CommissionOpenRatio
	case ledger.OffsetClose:
		ratio = inst.CommissionCloseRatio
	case ledger.OffsetCloseToday:
		ratio = inst.CommissionCloseTodayRatio
	default:
		return 0, fmt.Errorf("%w: offset %v of %s", ErrMissingRatio, offset, inst.InstrumentID)
	}

	switch inst.CommissionType {
	case ledger.RatioByMoney:
		amount, err := Amount(price, inst)
		if err != nil {
			return 0, err
		}
		return amount * ratio, nil
	case ledger.RatioByVolume:
		return ratio, nil
	default:
		return 0, fmt.Errorf("%w: commission type of %s", ErrMissingRatio, inst.InstrumentID)
	}
}

// ProperProfit 按方向计算盈亏
// 买方向: current - open; 卖方向: open - current
func ProperProfit(openAmount, currentAmount float64, d ledger.Direction) float64 {
	if d == ledger.DirectionBuy {
		return currentAmount - openAmount
	}
	return openAmount - currentAmount
}

// =============================================================================
// 持仓聚合
// =============================================================================

type positionKey struct {
	instrumentID string
	direction    ledger.Direction
}

// Positions 从合约/手续费/保证金全量重算持仓快照
//
// commissions/margins 按 ContractID 检索; prices/instruments 按 InstrumentID。
// 任何合约引用了缺失的条目都是硬一致性错误。
func Positions(
	contracts []*ledger.Contract,
	commissions map[int64][]*ledger.Commission,
	margins map[int64]*ledger.Margin,
	prices map[string]float64,
	instruments map[string]*ledger.Instrument,
	tradingDay string,
) ([]*Position, error) {
	byKey := make(map[positionKey]*Position)

	for _, c := range contracts {
		inst, ok := instruments[c.InstrumentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s (contract %d)", ErrMissingInstrument, c.InstrumentID, c.ContractID)
		}
		price, ok := prices[c.InstrumentID]
		if !ok {
			return nil, fmt.Errorf("%w: %s (contract %d)", ErrMissingPrice, c.InstrumentID, c.ContractID)
		}
		margin, ok := margins[c.ContractID]
		if !ok {
			return nil, fmt.Errorf("%w: contract %d", ErrMissingMargin, c.ContractID)
		}
		// 冻结态合约必须带着冻结费用条目; 已结算的持仓合约
		// 费用条目可能已被结算归档, 允许为空
		fees := commissions[c.ContractID]
		if len(fees) == 0 && (c.Status == ledger.ContractOpening || c.Status == ledger.ContractClosing) {
			return nil, fmt.Errorf("%w: contract %d", ErrMissingCommission, c.ContractID)
		}

		key := positionKey{c.InstrumentID, c.Direction}
		p, ok := byKey[key]
		if !ok {
			p = &Position{
				InstrumentID: c.InstrumentID,
				Direction:    c.Direction,
				TradingDay:   tradingDay,
			}
			byKey[key] = p
		}

		currentAmount, err := Amount(price, inst)
		if err != nil {
			return nil, err
		}

		switch c.Status {
		case ledger.ContractOpening:
			// 仅计入冻结桶
			p.FrozenOpenVolume++
			p.FrozenMargin += margin.Amount
			p.FrozenCommission += sumFees(fees, ledger.FeeFrozen)

		case ledger.ContractOpen:
			p.Volume++
			p.Amount += c.OpenAmount
			p.Margin += margin.Amount
			p.Commission += sumFees(fees, ledger.FeeDealt)
			p.PositionProfit += ProperProfit(c.OpenAmount, currentAmount, c.Direction)

		case ledger.ContractClosing:
			// 等待平仓期间仍是持仓, 同时计入平仓冻结
			p.Volume++
			p.Amount += c.OpenAmount
			p.Margin += margin.Amount
			p.Commission += sumFees(fees, ledger.FeeDealt)
			p.PositionProfit += ProperProfit(c.OpenAmount, currentAmount, c.Direction)
			p.FrozenCloseVolume++
			p.FrozenCommission += sumFees(fees, ledger.FeeFrozen)

		case ledger.ContractClosed:
			p.CloseProfit += ProperProfit(c.OpenAmount, c.CloseAmount, c.Direction)
			p.Commission += sumFees(fees, ledger.FeeDealt)
		}

		// 昨仓/今仓分桶, 与状态分摊无关
		if c.OpenTradingDay != "" && c.OpenTradingDay < tradingDay {
			p.PreVolume++
			p.PreAmount += c.OpenAmount
			p.PreMargin += margin.Amount
		} else if c.Status != ledger.ContractOpening {
			p.TodayOpenVolume++
		}
	}

	out := make([]*Position, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	return out, nil
}

// sumFees 累计指定状态的费用, REMOVED 条目永远忽略
func sumFees(fees []*ledger.Commission, status ledger.FeeStatus) float64 {
	var total float64
	for _, f := range fees {
		if f.Status == status {
			total += f.Amount
		}
	}
	return total
}

// =============================================================================
// 账户结算
// =============================================================================

// AccountOf 从昨日账户 + 出入金 + 持仓快照推导结算后账户
//
// 不变式: Balance == PreBalance + Deposit - Withdraw
//                  + CloseProfit + PositionProfit - Commission
func AccountOf(
	pre *ledger.Account,
	deposits []*ledger.Deposit,
	withdraws []*ledger.Withdraw,
	positions []*Position,
) (*ledger.Account, error) {
	if pre == nil {
		return nil, errors.New("algo: pre account is nil")
	}

	var deposit, withdraw float64
	for _, d := range deposits {
		deposit += d.Amount
	}
	for _, w := range withdraws {
		withdraw += w.Amount
	}

	a := &ledger.Account{
		AccountID:   pre.AccountID,
		PreBalance:  pre.Balance,
		PreDeposit:  pre.Deposit,
		PreWithdraw: pre.Withdraw,
		PreMargin:   pre.Margin,
		Deposit:     deposit,
		Withdraw:    withdraw,
	}

	for _, p := range positions {
		if !finitePosition(p) {
			return nil, fmt.Errorf("%w: %s %v", ErrCorruptPosition, p.InstrumentID, p.Direction)
		}
		a.CloseProfit += p.CloseProfit
		a.PositionProfit += p.PositionProfit
		a.Commission += p.Commission
		a.Margin += p.Margin
		a.FrozenMargin += p.FrozenMargin
		a.FrozenCommission += p.FrozenCommission
	}

	a.Balance = a.PreBalance + a.Deposit - a.Withdraw +
		a.CloseProfit + a.PositionProfit - a.Commission
	return a, nil
}

// Available 可用资金
func Available(a *ledger.Account) float64 {
	return a.Balance - a.Margin - a.FrozenMargin - a.FrozenCommission
}

func finitePosition(p *Position) bool {
	for _, v := range []float64{
		p.Amount, p.Margin, p.Commission, p.PositionProfit, p.CloseProfit,
		p.FrozenMargin, p.FrozenCommission, p.PreAmount, p.PreMargin,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// =============================================================================
// 报单状态视图
// =============================================================================

// OrderOf 从合约/成交/回报推导报单只读视图
//
// contracts 应为该报单冻结过的合约集合; 成交量由合约状态统计,
// trades 仅用于成交均价。成交量超过申报量是一致性错误。
func OrderOf(
	request *ledger.Request,
	contracts []*ledger.Contract,
	trades []*ledger.Trade,
	responses []*ledger.Response,
) (*Order, error) {
	if request == nil {
		return nil, errors.New("algo: request is nil")
	}

	o := &Order{
		OrderID:      request.OrderID,
		InstrumentID: request.InstrumentID,
		Direction:    request.Direction,
		Offset:       request.Offset,
		Price:        request.Price,
		Quantity:     request.Quantity,
	}

	for _, c := range contracts {
		if request.Offset == ledger.OffsetOpen {
			// 开仓单: OPENING 尚未成交, 其余状态都经过了开仓成交
			if c.Status != ledger.ContractOpening {
				o.TradedVolume++
				o.TradedAmount += c.OpenAmount
			}
		} else {
			if c.Status == ledger.ContractClosed {
				o.TradedVolume++
				o.TradedAmount += c.CloseAmount
			}
		}
	}

	if o.TradedVolume > request.Quantity {
		return nil, fmt.Errorf("%w: order %d traded %d requested %d",
			ErrVolumeExceeded, request.OrderID, o.TradedVolume, request.Quantity)
	}

	var tradedQty int64
	var tradedValue float64
	for _, t := range trades {
		tradedQty += t.Quantity
		tradedValue += t.Price * float64(t.Quantity)
	}
	if tradedQty > 0 {
		o.AvgTradePrice = tradedValue / float64(tradedQty)
	}

	o.Status = deriveStatus(o.TradedVolume, request.Quantity, responses)
	return o, nil
}

func deriveStatus(traded, requested int64, responses []*ledger.Response) OrderStatus {
	if traded == requested {
		return OrderAllTraded
	}
	// 扫描回报, 第一条 DELETED 即短路
	for _, r := range responses {
		if r.Status == ledger.ResponseDeleted {
			return OrderDeleted
		}
	}
	if traded > 0 {
		return OrderQueued
	}
	return OrderAccepted
}
