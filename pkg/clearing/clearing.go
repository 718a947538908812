// 文件: pkg/clearing/clearing.go
// 清算器: 合约/手续费/保证金三元组的生命周期管理
//
// 【状态机】
//
//	OPENING --成交--> OPEN          (dealOpen)
//	OPENING --撤销--> 删除           (deleteOpen)
//	OPEN    --平仓冻结--> CLOSING    (FreezeClose)
//	CLOSING --成交--> CLOSED         (dealClose)
//	CLOSING --撤销--> OPEN           (deleteClose)
//
// 每次成交/撤销回调在一个 ACID 事务内完成:
// 取数 -> 校验 -> 变更 -> 落库, 任何守卫失败或存储失败整体回滚。

package clearing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tcore.com/pkg/ledger"
)

var (
	// ErrInvalidState 三元组处于迁移不允许的状态, 属于致命一致性错误
	ErrInvalidState = errors.New("clearing: invalid state for transition")

	// ErrInconsistentFrozenInfo 合格冻结三元组少于成交量。
	// 意味着准入阶段的冻结少于网关回报的成交, 只上报不自动纠正。
	ErrInconsistentFrozenInfo = errors.New("clearing: inconsistent frozen info")

	// 业务拒绝 (可由调用方恢复, 不是缺陷)
	ErrInsufficientMoney    = errors.New("clearing: insufficient money")
	ErrInsufficientPosition = errors.New("clearing: insufficient position")
)

type Clearer struct {
	repo ledger.Repository
}

func NewClearer(repo ledger.Repository) *Clearer {
	return &Clearer{repo: repo}
}

// =============================================================================
// 冻结三元组
// =============================================================================

// bundle 以 ContractID 关联起来的 手续费+保证金+合约
type bundle struct {
	contract   *ledger.Contract
	commission *ledger.Commission
	margin     *ledger.Margin
}

// frozenBundles 取报单下全部冻结三元组, 按 ContractID 升序 (确定性 FIFO)
func frozenBundles(ctx context.Context, tx ledger.Repository, orderID int64) ([]*bundle, error) {
	commissions, err := tx.GetCommissionsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("clearing: fetch commissions of order %d: %w", orderID, err)
	}

	var bundles []*bundle
	for _, cm := range commissions {
		if cm.Status != ledger.FeeFrozen {
			continue
		}
		contract, err := tx.GetContractByID(ctx, cm.ContractID)
		if err != nil {
			return nil, fmt.Errorf("clearing: fetch contract %d: %w", cm.ContractID, err)
		}
		margin, err := tx.GetMarginByContractID(ctx, cm.ContractID)
		if err != nil {
			return nil, fmt.Errorf("clearing: fetch margin of contract %d: %w", cm.ContractID, err)
		}
		bundles = append(bundles, &bundle{contract: contract, commission: cm, margin: margin})
	}

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].contract.ContractID < bundles[j].contract.ContractID
	})
	return bundles, nil
}

// =============================================================================
// 资金占用
// =============================================================================

// Available 当前可用资金
//
// balance 取最近一次结算的账户余额加当日出入金;
// 占用与冻结从当前保证金/手续费条目实时累计。
func (c *Clearer) Available(ctx context.Context) (float64, error) {
	account, err := c.repo.GetAccount(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing: fetch account: %w", err)
	}
	day, err := c.repo.GetTradingDay(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing: fetch trading day: %w", err)
	}

	balance := account.Balance
	deposits, err := c.repo.GetDeposits(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range deposits {
		if d.TradingDay == day {
			balance += d.Amount
		}
	}
	withdraws, err := c.repo.GetWithdraws(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range withdraws {
		if w.TradingDay == day {
			balance -= w.Amount
		}
	}

	contracts, err := c.repo.GetContracts(ctx)
	if err != nil {
		return 0, err
	}
	statusByID := make(map[int64]ledger.ContractStatus, len(contracts))
	for _, ct := range contracts {
		statusByID[ct.ContractID] = ct.Status
	}

	var margin, frozenMargin float64
	margins, err := c.repo.GetMargins(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range margins {
		switch statusByID[m.ContractID] {
		case ledger.ContractOpening:
			frozenMargin += m.Amount
		case ledger.ContractOpen, ledger.ContractClosing:
			margin += m.Amount
		}
	}

	// 已成交手续费当日即扣减可用, 结算时才归并进余额
	var commission, frozenCommission float64
	commissions, err := c.repo.GetCommissions(ctx)
	if err != nil {
		return 0, err
	}
	for _, cm := range commissions {
		switch cm.Status {
		case ledger.FeeFrozen:
			frozenCommission += cm.Amount
		case ledger.FeeDealt:
			commission += cm.Amount
		}
	}

	return balance - margin - frozenMargin - commission - frozenCommission, nil
}
