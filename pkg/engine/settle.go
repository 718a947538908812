// 文件: pkg/engine/settle.go
// 日终结算
//
// 【流程】(单事务, 任一步失败整体回滚并置 SETTLE_FAILED)
// 1. 未了结报单本地强制撤销: 合成 DELETED 回报 + 应用撤销迁移
// 2. 从合约/手续费/保证金全量重算持仓, 按结算价估值
// 3. 推导结算后账户并落库, 滚动交易日
// 4. 归档: 删除 CLOSED 合约及其费用行; 存续合约 OpenAmount
//    改写为结算价值 (盈亏已实现进余额), 已成交手续费行删除
//
// 结算期间引擎置 SETTLING, 新报单会被拒; 回调路径不查引擎状态,
// 调用方必须先静默网关 (Stop 或收盘后) 再结算。

package engine

import (
	"context"
	"fmt"
	"log"

	"tcore.com/pkg/algo"
	"tcore.com/pkg/clearing"
	"tcore.com/pkg/events"
	"tcore.com/pkg/journal"
	"tcore.com/pkg/ledger"
)

// Settle 结算并滚动到 nextDay
// prices 为各品种结算价, 持仓品种缺价即失败
func (e *Engine) Settle(ctx context.Context, prices map[string]float64, nextDay string) error {
	e.mu.Lock()
	if e.state != StateWorking && e.state != StateStopped {
		state := e.state
		e.mu.Unlock()
		return newError(CodeInvalidState, "settle in state %v", state)
	}
	e.state = StateSettling
	instruments := make(map[string]*ledger.Instrument, len(e.instruments))
	for k, v := range e.instruments {
		instruments[k] = v
	}
	e.mu.Unlock()
	e.publisher.Publish(events.TypeStatus, StateSettling.String(), ledger.NowMilli())

	var record *journal.SettlementRecord
	err := e.repo.Transaction(ctx, func(tx ledger.Repository) error {
		r, err := settleInTx(ctx, tx, instruments, prices, nextDay)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		log.Printf("[Settle] failed: %v", err)
		e.setState(StateSettleFailed)
		return classify(err, CodePersistence, "settlement")
	}

	// 结算完成后编号映射全部作废
	e.mu.Lock()
	for _, tc := range e.traders {
		tc.translator.Clear()
	}
	e.orderTraders = make(map[int64]map[int64]struct{})
	p := e.journal
	e.mu.Unlock()

	if p != nil {
		if jerr := p.Append(record); jerr != nil {
			log.Printf("[Settle] append settlement record failed: %v", jerr)
		}
	}

	e.setState(StateWorking)
	log.Printf("[Settle] done: day=%s -> %s, balance=%.4f, deleted_orders=%d",
		record.TradingDay, nextDay, record.Balance, record.DeletedOrders)
	return nil
}

func settleInTx(
	ctx context.Context,
	tx ledger.Repository,
	instruments map[string]*ledger.Instrument,
	prices map[string]float64,
	nextDay string,
) (*journal.SettlementRecord, error) {
	day, err := tx.GetTradingDay(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: fetch trading day: %w", err)
	}
	clearer := clearing.NewClearer(tx)

	deleted, err := forceDeleteOpenOrders(ctx, tx, clearer, day)
	if err != nil {
		return nil, err
	}

	positions, err := recomputePositions(ctx, tx, instruments, prices, day)
	if err != nil {
		return nil, err
	}

	pre, err := tx.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: fetch account: %w", err)
	}
	deposits, err := dayDeposits(ctx, tx, day)
	if err != nil {
		return nil, err
	}
	withdraws, err := dayWithdraws(ctx, tx, day)
	if err != nil {
		return nil, err
	}

	account, err := algo.AccountOf(pre, deposits, withdraws, positions)
	if err != nil {
		return nil, err
	}
	account.ID = pre.ID
	account.TradingDay = nextDay
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("settle: persist account: %w", err)
	}

	if err := archiveContracts(ctx, tx, instruments, prices); err != nil {
		return nil, err
	}
	if err := tx.SetTradingDay(ctx, nextDay); err != nil {
		return nil, fmt.Errorf("settle: roll trading day: %w", err)
	}

	return &journal.SettlementRecord{
		TradingDay:     day,
		NextTradingDay: nextDay,
		Balance:        account.Balance,
		Margin:         account.Margin,
		Commission:     account.Commission,
		CloseProfit:    account.CloseProfit,
		PositionProfit: account.PositionProfit,
		Deposit:        account.Deposit,
		Withdraw:       account.Withdraw,
		DeletedOrders:  deleted,
		Timestamp:      ledger.NowMilli(),
	}, nil
}

// forceDeleteOpenOrders 对非终态报单合成本地 DELETED 回报并应用撤销迁移
func forceDeleteOpenOrders(ctx context.Context, tx ledger.Repository, clearer *clearing.Clearer, day string) (int, error) {
	requests, err := tx.GetRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("settle: fetch requests: %w", err)
	}

	var deleted int
	for _, req := range requests {
		// 历史交易日的报单在当日结算时已了结
		if req.Action != ledger.ActionNew || req.TradingDay != day {
			continue
		}
		contracts, err := clearer.ContractsOfOrder(ctx, req.OrderID)
		if err != nil {
			return 0, fmt.Errorf("settle: contracts of order %d: %w", req.OrderID, err)
		}
		trades, err := tx.GetTradesByOrderID(ctx, req.OrderID)
		if err != nil {
			return 0, fmt.Errorf("settle: trades of order %d: %w", req.OrderID, err)
		}
		responses, err := tx.GetResponsesByOrderID(ctx, req.OrderID)
		if err != nil {
			return 0, fmt.Errorf("settle: responses of order %d: %w", req.OrderID, err)
		}

		order, err := algo.OrderOf(req, contracts, trades, responses)
		if err != nil {
			return 0, err
		}
		if order.Status.IsTerminal() {
			continue
		}

		// 本地合成, 与网关回报走同一迁移
		resp := &ledger.Response{
			ResponseID: ledger.NextID(),
			OrderID:    req.OrderID,
			Status:     ledger.ResponseDeleted,
			Message:    "deleted by settlement",
			TradingDay: day,
			Timestamp:  ledger.NowMilli(),
		}
		if err := tx.AddResponse(ctx, resp); err != nil {
			return 0, fmt.Errorf("settle: persist synthesized response of order %d: %w", req.OrderID, err)
		}

		if req.Offset == ledger.OffsetOpen {
			err = clearer.OpenDelete(ctx, req.OrderID)
		} else {
			err = clearer.CloseDelete(ctx, req.OrderID)
		}
		if err != nil {
			return 0, err
		}
		deleted++
	}
	return deleted, nil
}

// recomputePositions 全量重算持仓快照
func recomputePositions(
	ctx context.Context,
	tx ledger.Repository,
	instruments map[string]*ledger.Instrument,
	prices map[string]float64,
	day string,
) ([]*algo.Position, error) {
	contracts, err := tx.GetContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: fetch contracts: %w", err)
	}
	commissions, err := tx.GetCommissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: fetch commissions: %w", err)
	}
	margins, err := tx.GetMargins(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: fetch margins: %w", err)
	}

	feesByContract := make(map[int64][]*ledger.Commission)
	for _, cm := range commissions {
		feesByContract[cm.ContractID] = append(feesByContract[cm.ContractID], cm)
	}
	marginByContract := make(map[int64]*ledger.Margin, len(margins))
	for _, m := range margins {
		marginByContract[m.ContractID] = m
	}

	return algo.Positions(contracts, feesByContract, marginByContract, prices, instruments, day)
}

// archiveContracts 账户落库后的归档
//
// CLOSED 合约连同费用行删除 (盈亏与手续费已实现进余额);
// 存续合约改写 OpenAmount 为结算价值, 其已成交手续费行删除。
func archiveContracts(
	ctx context.Context,
	tx ledger.Repository,
	instruments map[string]*ledger.Instrument,
	prices map[string]float64,
) error {
	contracts, err := tx.GetContracts(ctx)
	if err != nil {
		return fmt.Errorf("settle: fetch contracts: %w", err)
	}
	commissions, err := tx.GetCommissions(ctx)
	if err != nil {
		return fmt.Errorf("settle: fetch commissions: %w", err)
	}
	margins, err := tx.GetMargins(ctx)
	if err != nil {
		return fmt.Errorf("settle: fetch margins: %w", err)
	}

	closed := make(map[int64]struct{})
	for _, c := range contracts {
		switch c.Status {
		case ledger.ContractClosed:
			closed[c.ContractID] = struct{}{}
			if err := tx.RemoveContract(ctx, c.ContractID); err != nil {
				return fmt.Errorf("settle: archive contract %d: %w", c.ContractID, err)
			}
		default:
			inst, ok := instruments[c.InstrumentID]
			if !ok {
				return fmt.Errorf("%w: %s", algo.ErrMissingInstrument, c.InstrumentID)
			}
			price, ok := prices[c.InstrumentID]
			if !ok {
				return fmt.Errorf("%w: %s", algo.ErrMissingPrice, c.InstrumentID)
			}
			amount, err := algo.Amount(price, inst)
			if err != nil {
				return err
			}
			c.OpenAmount = amount
			if err := tx.UpdateContract(ctx, c); err != nil {
				return fmt.Errorf("settle: mark contract %d: %w", c.ContractID, err)
			}
		}
	}

	for _, cm := range commissions {
		_, ofClosed := closed[cm.ContractID]
		if ofClosed || cm.Status == ledger.FeeDealt || cm.Status == ledger.FeeRemoved {
			if err := tx.RemoveCommission(ctx, cm.CommissionID); err != nil {
				return fmt.Errorf("settle: archive commission %d: %w", cm.CommissionID, err)
			}
		}
	}
	for _, m := range margins {
		if _, ok := closed[m.ContractID]; ok {
			if err := tx.RemoveMargin(ctx, m.MarginID); err != nil {
				return fmt.Errorf("settle: archive margin %d: %w", m.MarginID, err)
			}
		}
	}
	return nil
}

func dayDeposits(ctx context.Context, tx ledger.Repository, day string) ([]*ledger.Deposit, error) {
	all, err := tx.GetDeposits(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: fetch deposits: %w", err)
	}
	var out []*ledger.Deposit
	for _, d := range all {
		if d.TradingDay == day {
			out = append(out, d)
		}
	}
	return out, nil
}

func dayWithdraws(ctx context.Context, tx ledger.Repository, day string) ([]*ledger.Withdraw, error) {
	all, err := tx.GetWithdraws(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle: fetch withdraws: %w", err)
	}
	var out []*ledger.Withdraw
	for _, w := range all {
		if w.TradingDay == day {
			out = append(out, w)
		}
	}
	return out, nil
}
