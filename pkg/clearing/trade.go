// 文件: pkg/clearing/trade.go
// 成交与撤销的撮合应用
//
// 【撮合规则】
// - 成交: 取报单下全部冻结三元组, 过滤到期望前置状态,
//   按 ContractID 升序恰好应用 N 笔 (N = 成交量)。
//   合格三元组不足 N 是致命一致性错误 ErrInconsistentFrozenInfo。
// - 撤销: 对期望前置状态的全部三元组应用删除迁移 (不限 N),
//   一条撤销回报了结该报单所有未成交子量。

package clearing

import (
	"context"
	"fmt"

	"tcore.com/pkg/ledger"
)

// OpenTrade 应用开仓成交 (单事务)
func (c *Clearer) OpenTrade(ctx context.Context, trade *ledger.Trade, inst *ledger.Instrument) error {
	return c.repo.Transaction(ctx, func(tx ledger.Repository) error {
		return applyTrade(ctx, tx, trade, inst, ledger.ContractOpening, dealOpen)
	})
}

// CloseTrade 应用平仓成交 (单事务)
func (c *Clearer) CloseTrade(ctx context.Context, trade *ledger.Trade, inst *ledger.Instrument) error {
	return c.repo.Transaction(ctx, func(tx ledger.Repository) error {
		return applyTrade(ctx, tx, trade, inst, ledger.ContractClosing, dealClose)
	})
}

func applyTrade(
	ctx context.Context,
	tx ledger.Repository,
	trade *ledger.Trade,
	inst *ledger.Instrument,
	want ledger.ContractStatus,
	deal func(context.Context, ledger.Repository, *bundle, *ledger.Trade, *ledger.Instrument) error,
) error {
	bundles, err := frozenBundles(ctx, tx, trade.OrderID)
	if err != nil {
		return err
	}

	var eligible []*bundle
	for _, b := range bundles {
		if b.contract.Status == want {
			eligible = append(eligible, b)
		}
	}

	if int64(len(eligible)) < trade.Quantity {
		return fmt.Errorf("%w: order %d has %d eligible bundles, trade quantity %d",
			ErrInconsistentFrozenInfo, trade.OrderID, len(eligible), trade.Quantity)
	}

	for _, b := range eligible[:trade.Quantity] {
		if err := deal(ctx, tx, b, trade, inst); err != nil {
			return err
		}
	}
	return nil
}

// OpenDelete 应用开仓撤销 (单事务)
func (c *Clearer) OpenDelete(ctx context.Context, orderID int64) error {
	return c.repo.Transaction(ctx, func(tx ledger.Repository) error {
		bundles, err := frozenBundles(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, b := range bundles {
			if b.contract.Status != ledger.ContractOpening {
				continue
			}
			if err := deleteOpen(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

// CloseDelete 应用平仓撤销 (单事务)
func (c *Clearer) CloseDelete(ctx context.Context, orderID int64) error {
	return c.repo.Transaction(ctx, func(tx ledger.Repository) error {
		bundles, err := frozenBundles(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, b := range bundles {
			if b.contract.Status != ledger.ContractClosing {
				continue
			}
			if err := deleteClose(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
}
