// 文件: pkg/clearing/admission.go
// 报单准入: 资金检查与冻结
//
// 【流程】
// 开仓: 可用资金 >= 数量 * (单位保证金 + 单位手续费), 否则拒绝;
//       通过后每手同步建一张 OPENING 合约 + FROZEN 手续费 + FROZEN 保证金。
// 平仓: 按 FIFO 选出足量 OPEN 合约 (方向与请求相反), 不足即拒绝;
//       通过后合约转 CLOSING 并各建一条 FROZEN 平仓手续费,
//       再按 (网关, 平今/平昨) 分组供引擎拆成子单。
// 两类冻结各在一个事务内完成, 拒绝不落任何行。

package clearing

import (
	"context"
	"errors"
	"fmt"

	"tcore.com/pkg/algo"
	"tcore.com/pkg/ledger"
)

// CheckOpen 开仓资金检查 (只读)
func (c *Clearer) CheckOpen(ctx context.Context, req *ledger.Request, inst *ledger.Instrument) error {
	unitMargin, err := algo.MarginOf(req.Price, inst)
	if err != nil {
		return err
	}
	unitCommission, err := algo.CommissionOf(req.Price, inst, req.Direction, ledger.OffsetOpen)
	if err != nil {
		return err
	}

	required := float64(req.Quantity) * (unitMargin + unitCommission)
	available, err := c.Available(ctx)
	if err != nil {
		return err
	}
	if available < required {
		return fmt.Errorf("%w: available %.4f required %.4f",
			ErrInsufficientMoney, available, required)
	}
	return nil
}

// FreezeOpen 开仓冻结 (单事务)
// 每手一张 OPENING 合约 + FROZEN 手续费 + FROZEN 保证金
func (c *Clearer) FreezeOpen(ctx context.Context, req *ledger.Request, inst *ledger.Instrument) error {
	unitMargin, err := algo.MarginOf(req.Price, inst)
	if err != nil {
		return err
	}
	unitCommission, err := algo.CommissionOf(req.Price, inst, req.Direction, ledger.OffsetOpen)
	if err != nil {
		return err
	}

	return c.repo.Transaction(ctx, func(tx ledger.Repository) error {
		day, err := tx.GetTradingDay(ctx)
		if err != nil {
			return fmt.Errorf("clearing: fetch trading day: %w", err)
		}

		for i := int64(0); i < req.Quantity; i++ {
			contractID := ledger.NextID()

			contract := &ledger.Contract{
				ContractID:     contractID,
				TraderID:       req.TraderID,
				InstrumentID:   req.InstrumentID,
				Direction:      req.Direction,
				Status:         ledger.ContractOpening,
				OpenTradingDay: day,
			}
			if err := tx.AddContract(ctx, contract); err != nil {
				return fmt.Errorf("clearing: add contract %d: %w", contractID, err)
			}

			commission := &ledger.Commission{
				CommissionID: ledger.NextID(),
				ContractID:   contractID,
				OrderID:      req.OrderID,
				Status:       ledger.FeeFrozen,
				Amount:       unitCommission,
				Offset:       ledger.OffsetOpen,
				TradingDay:   day,
			}
			if err := tx.AddCommission(ctx, commission); err != nil {
				return fmt.Errorf("clearing: add commission of contract %d: %w", contractID, err)
			}

			margin := &ledger.Margin{
				MarginID:   ledger.NextID(),
				ContractID: contractID,
				OrderID:    req.OrderID,
				Status:     ledger.FeeFrozen,
				Amount:     unitMargin,
				TradingDay: day,
			}
			if err := tx.AddMargin(ctx, margin); err != nil {
				return fmt.Errorf("clearing: add margin of contract %d: %w", contractID, err)
			}
		}
		return nil
	})
}

// =============================================================================
// 平仓冻结
// =============================================================================

// CloseGroup 平仓子单分组
//
// 每个网关只认识自己开出的合约, 且平今/平昨费率可能不同,
// 因此平仓请求按 (网关, 日桶) 拆成子单转发。
type CloseGroup struct {
	TraderID  int64
	Offset    ledger.Offset // CLOSE (昨仓) 或 CLOSE_TODAY (今仓)
	Quantity  int64
	Contracts []int64
}

type closeGroupKey struct {
	traderID int64
	offset   ledger.Offset
}

// FreezeClose 平仓冻结 (单事务)
//
// FIFO 选仓: OPEN 状态、品种匹配、方向与请求相反, 按 ContractID 升序。
// 可平合约不足即 ErrInsufficientPosition, 不落任何行。
func (c *Clearer) FreezeClose(ctx context.Context, req *ledger.Request, inst *ledger.Instrument) ([]*CloseGroup, error) {
	var groups []*CloseGroup

	err := c.repo.Transaction(ctx, func(tx ledger.Repository) error {
		day, err := tx.GetTradingDay(ctx)
		if err != nil {
			return fmt.Errorf("clearing: fetch trading day: %w", err)
		}

		contracts, err := tx.GetContractsByInstrumentID(ctx, req.InstrumentID)
		if err != nil {
			return fmt.Errorf("clearing: fetch contracts of %s: %w", req.InstrumentID, err)
		}

		// GetContractsByInstrumentID 已按 ContractID 升序, 即开仓先后
		var eligible []*ledger.Contract
		for _, ct := range contracts {
			if ct.Status == ledger.ContractOpen && ct.Direction == req.Direction.Opposite() {
				eligible = append(eligible, ct)
			}
		}
		if int64(len(eligible)) < req.Quantity {
			return fmt.Errorf("%w: %s has %d open contracts, requested %d",
				ErrInsufficientPosition, req.InstrumentID, len(eligible), req.Quantity)
		}

		byKey := make(map[closeGroupKey]*CloseGroup)
		for _, ct := range eligible[:req.Quantity] {
			offset := ledger.OffsetClose
			if ct.OpenTradingDay >= day {
				offset = ledger.OffsetCloseToday
			}

			unitCommission, err := algo.CommissionOf(req.Price, inst, req.Direction, offset)
			if err != nil {
				return err
			}

			ct.Status = ledger.ContractClosing
			if err := tx.UpdateContract(ctx, ct); err != nil {
				return fmt.Errorf("clearing: update contract %d: %w", ct.ContractID, err)
			}

			commission := &ledger.Commission{
				CommissionID: ledger.NextID(),
				ContractID:   ct.ContractID,
				OrderID:      req.OrderID,
				Status:       ledger.FeeFrozen,
				Amount:       unitCommission,
				Offset:       offset,
				TradingDay:   day,
			}
			if err := tx.AddCommission(ctx, commission); err != nil {
				return fmt.Errorf("clearing: add close commission of contract %d: %w", ct.ContractID, err)
			}

			key := closeGroupKey{ct.TraderID, offset}
			g, ok := byKey[key]
			if !ok {
				g = &CloseGroup{TraderID: ct.TraderID, Offset: offset}
				byKey[key] = g
				groups = append(groups, g)
			}
			g.Quantity++
			g.Contracts = append(g.Contracts, ct.ContractID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// =============================================================================
// 查询
// =============================================================================

// ContractsOfOrder 报单冻结过的合约集合 (任意费用状态, 去重)
// 结算推导报单状态视图时使用
func (c *Clearer) ContractsOfOrder(ctx context.Context, orderID int64) ([]*ledger.Contract, error) {
	commissions, err := c.repo.GetCommissionsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var out []*ledger.Contract
	for _, cm := range commissions {
		if _, ok := seen[cm.ContractID]; ok {
			continue
		}
		seen[cm.ContractID] = struct{}{}

		contract, err := c.repo.GetContractByID(ctx, cm.ContractID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, contract)
	}
	return out, nil
}
