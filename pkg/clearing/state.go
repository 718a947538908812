// 文件: pkg/clearing/state.go
// 三元组状态迁移
//
// 每个迁移前置守卫都显式校验, 违反即 ErrInvalidState;
// 对已迁移过的三元组重复应用必然触发守卫, 不会静默重放。

package clearing

import (
	"context"
	"fmt"

	"tcore.com/pkg/algo"
	"tcore.com/pkg/ledger"
)

// dealOpen 开仓成交: OPENING -> OPEN, 手续费/保证金 FROZEN -> DEALT
func dealOpen(ctx context.Context, tx ledger.Repository, b *bundle, trade *ledger.Trade, inst *ledger.Instrument) error {
	if b.contract.Status != ledger.ContractOpening ||
		b.commission.Status != ledger.FeeFrozen ||
		b.margin.Status != ledger.FeeFrozen {
		return fmt.Errorf("%w: dealOpen contract %d (%v/%v/%v)",
			ErrInvalidState, b.contract.ContractID,
			b.contract.Status, b.commission.Status, b.margin.Status)
	}

	amount, err := algo.Amount(trade.Price, inst)
	if err != nil {
		return err
	}

	b.contract.Status = ledger.ContractOpen
	b.contract.OpenAmount = amount
	b.contract.TradeID = trade.TradeID
	b.contract.OpenTradingDay = trade.TradingDay
	if err := tx.UpdateContract(ctx, b.contract); err != nil {
		return fmt.Errorf("clearing: update contract %d: %w", b.contract.ContractID, err)
	}

	b.commission.Status = ledger.FeeDealt
	if err := tx.UpdateCommission(ctx, b.commission); err != nil {
		return fmt.Errorf("clearing: update commission %d: %w", b.commission.CommissionID, err)
	}

	b.margin.Status = ledger.FeeDealt
	if err := tx.UpdateMargin(ctx, b.margin); err != nil {
		return fmt.Errorf("clearing: update margin %d: %w", b.margin.MarginID, err)
	}
	return nil
}

// dealClose 平仓成交: CLOSING -> CLOSED, 平仓手续费 FROZEN -> DEALT
// 保证金此前已 DEALT, 保持不变
func dealClose(ctx context.Context, tx ledger.Repository, b *bundle, trade *ledger.Trade, inst *ledger.Instrument) error {
	if b.contract.Status != ledger.ContractClosing ||
		b.commission.Status != ledger.FeeFrozen ||
		b.margin.Status != ledger.FeeDealt {
		return fmt.Errorf("%w: dealClose contract %d (%v/%v/%v)",
			ErrInvalidState, b.contract.ContractID,
			b.contract.Status, b.commission.Status, b.margin.Status)
	}

	amount, err := algo.Amount(trade.Price, inst)
	if err != nil {
		return err
	}

	b.contract.Status = ledger.ContractClosed
	b.contract.CloseAmount = amount
	b.contract.CloseTradingDay = trade.TradingDay
	if err := tx.UpdateContract(ctx, b.contract); err != nil {
		return fmt.Errorf("clearing: update contract %d: %w", b.contract.ContractID, err)
	}

	b.commission.Status = ledger.FeeDealt
	if err := tx.UpdateCommission(ctx, b.commission); err != nil {
		return fmt.Errorf("clearing: update commission %d: %w", b.commission.CommissionID, err)
	}
	return nil
}

// deleteOpen 成交前撤销开仓: 三元组整体删除
// 守卫与 dealOpen 相同
func deleteOpen(ctx context.Context, tx ledger.Repository, b *bundle) error {
	if b.contract.Status != ledger.ContractOpening ||
		b.commission.Status != ledger.FeeFrozen ||
		b.margin.Status != ledger.FeeFrozen {
		return fmt.Errorf("%w: deleteOpen contract %d (%v/%v/%v)",
			ErrInvalidState, b.contract.ContractID,
			b.contract.Status, b.commission.Status, b.margin.Status)
	}

	if err := tx.RemoveContract(ctx, b.contract.ContractID); err != nil {
		return fmt.Errorf("clearing: remove contract %d: %w", b.contract.ContractID, err)
	}
	if err := tx.RemoveCommission(ctx, b.commission.CommissionID); err != nil {
		return fmt.Errorf("clearing: remove commission %d: %w", b.commission.CommissionID, err)
	}
	if err := tx.RemoveMargin(ctx, b.margin.MarginID); err != nil {
		return fmt.Errorf("clearing: remove margin %d: %w", b.margin.MarginID, err)
	}
	return nil
}

// deleteClose 成交前撤销平仓: CLOSING -> OPEN
// 平仓手续费 FROZEN -> REMOVED, 条目保留作审计; 保证金不动
func deleteClose(ctx context.Context, tx ledger.Repository, b *bundle) error {
	if b.contract.Status != ledger.ContractClosing {
		return fmt.Errorf("%w: deleteClose contract %d (%v)",
			ErrInvalidState, b.contract.ContractID, b.contract.Status)
	}

	b.contract.Status = ledger.ContractOpen
	if err := tx.UpdateContract(ctx, b.contract); err != nil {
		return fmt.Errorf("clearing: update contract %d: %w", b.contract.ContractID, err)
	}

	b.commission.Status = ledger.FeeRemoved
	if err := tx.UpdateCommission(ctx, b.commission); err != nil {
		return fmt.Errorf("clearing: update commission %d: %w", b.commission.CommissionID, err)
	}
	return nil
}
